// Package refresh implements C4: the single-owner task that serialises
// upstream metadata refreshes per provider key and owns the in-memory
// refresh ledger. It is grounded on the single-task-behind-a-channel
// pattern spec.md §9 calls out explicitly, shaped after the actor-style
// goroutine-plus-channel constructs used throughout martian-cloud-tharsis-api's
// job and run services.
package refresh

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/observability"
)

var tracer = otel.Tracer("provider-mirror/refresh")

// channelCapacity is the refresh request channel's fixed size (spec.md §5).
const channelCapacity = 10000

// dispatchTimeout bounds how long Request will wait to enqueue a message
// before giving up (spec.md §5). Hint never waits.
const dispatchTimeout = 1 * time.Second

// Result is what a demand refresh resolves to.
type Result struct {
	// Performed is true when an upstream fetch was attempted (success or
	// failure); false when the ledger entry was still fresh.
	Performed bool
	Versions  []core.UpstreamVersion
	Err       error
}

// NotStale is the zero-cost sentinel Result for "no fetch was necessary".
var NotStale = Result{Performed: false}

type request struct {
	key     core.ProviderKey
	respond chan Result // nil for hints
	ctx     context.Context
	spanCtx trace.SpanContext
}

// Fetcher is the capability the coordinator needs from C2+C3: fetch
// upstream versions and persist them. Kept narrow and consumed as an
// interface so tests can supply a fake without standing up a database.
type Fetcher interface {
	ListVersions(ctx context.Context, key core.ProviderKey) ([]core.UpstreamVersion, error)
	UpsertProviderAndVersions(ctx context.Context, key core.ProviderKey, versions []core.UpstreamVersion) ([]core.VersionRecord, error)
}

// Coordinator is the sole mutator of the refresh ledger (spec.md §4.4).
// It must be started with Run in its own goroutine and stopped by
// cancelling the context passed to Run, which closes the channel's
// consumer side cleanly once drained.
type Coordinator struct {
	fetcher  Fetcher
	interval time.Duration
	inbound  chan request
	metrics  *observability.RefreshMetrics

	// ledger is owned exclusively by the goroutine running Run; it must
	// never be touched from any other goroutine.
	ledger map[core.ProviderKey]time.Time
}

// New builds a Coordinator. interval is the refresh window: an entry
// younger than interval is considered fresh and is skipped.
func New(fetcher Fetcher, interval time.Duration, metrics *observability.RefreshMetrics) *Coordinator {
	return &Coordinator{
		fetcher:  fetcher,
		interval: interval,
		inbound:  make(chan request, channelCapacity),
		metrics:  metrics,
		ledger:   make(map[core.ProviderKey]time.Time),
	}
}

// Run processes inbound messages in arrival order until ctx is cancelled,
// at which point it drains the channel of anything already queued and
// returns. It must run in exactly one goroutine for the single-owner
// property to hold.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case req, ok := <-c.inbound:
			if !ok {
				return
			}
			c.handle(req)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

// drain empties anything left in the channel without performing upstream
// work, so shutdown does not hang waiting for a slow fetch to start.
func (c *Coordinator) drain() {
	for {
		select {
		case req, ok := <-c.inbound:
			if !ok {
				return
			}
			if req.respond != nil {
				close(req.respond)
			}
		default:
			return
		}
	}
}

func (c *Coordinator) handle(req request) {
	if c.metrics != nil {
		c.metrics.ChannelDepth.Set(float64(len(c.inbound)))
	}

	var span trace.Span
	if req.respond != nil {
		// A demand carries the caller's own context: the refresh is part
		// of the request's critical path, so the span is a child.
		req.ctx, span = tracer.Start(req.ctx, "refresh.handle")
	} else {
		// A hint must not hold the originating request's trace open: start
		// a new root span that only links back to the caller (follows-from),
		// with no parent/child edge between the two.
		req.ctx, span = tracer.Start(context.Background(), "refresh.handle",
			trace.WithNewRoot(), trace.WithLinks(trace.Link{SpanContext: req.spanCtx}))
	}
	defer span.End()

	lastRefreshed, known := c.ledger[req.key]
	stale := !known || time.Since(lastRefreshed) > c.interval

	if !stale {
		c.recordDecision("not-stale")
		c.respond(req, NotStale)
		return
	}

	c.recordDecision(decisionLabel(known))

	versions, err := c.fetcher.ListVersions(req.ctx, req.key)
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(string(core.KindOf(err))).Inc()
		}
		// Vacant branch: a transient failure must not poison a provider
		// that has never been seen, so the ledger is left untouched.
		// Occupied-and-stale branch: update unconditionally, so a
		// persistently broken upstream does not retry every request
		// (spec.md §4.4, deliberately asymmetric).
		if known {
			c.ledger[req.key] = time.Now()
		}
		c.respond(req, Result{Performed: true, Err: err})
		return
	}

	if _, err := c.fetcher.UpsertProviderAndVersions(req.ctx, req.key, versions); err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(string(core.KindOf(err))).Inc()
		}
		if known {
			c.ledger[req.key] = time.Now()
		}
		c.respond(req, Result{Performed: true, Err: err})
		return
	}

	c.ledger[req.key] = time.Now()
	c.respond(req, Result{Performed: true, Versions: versions})
}

func (c *Coordinator) respond(req request, res Result) {
	if req.respond == nil {
		return
	}
	req.respond <- res
	close(req.respond)
}

func (c *Coordinator) recordDecision(label string) {
	if c.metrics != nil {
		c.metrics.Decisions.WithLabelValues(label).Inc()
	}
}

func decisionLabel(knownButStale bool) string {
	if knownButStale {
		return "stale"
	}
	return "unknown"
}

// Hint enqueues a best-effort, response-less refresh request. It never
// blocks: if the channel is full the hint is dropped and counted, never
// surfaced to the caller (spec.md §4.4).
func (c *Coordinator) Hint(ctx context.Context, key core.ProviderKey) {
	req := request{key: key, ctx: ctx}
	if span := trace.SpanFromContext(ctx); span != nil {
		req.spanCtx = span.SpanContext()
	}
	select {
	case c.inbound <- req:
	default:
		if c.metrics != nil {
			c.metrics.HintsDropped.Inc()
		}
	}
}

// Request sends a blocking demand and waits for its result, subject to a
// bounded send timeout. A send that cannot complete within dispatchTimeout
// yields TooManyRequestsInChannel; a channel that turns out to be closed
// (shutdown raced the caller) yields BrokenRefresherChannel.
func (c *Coordinator) Request(ctx context.Context, key core.ProviderKey) Result {
	respond := make(chan Result, 1)
	req := request{key: key, ctx: ctx, respond: respond}

	timer := time.NewTimer(dispatchTimeout)
	defer timer.Stop()

	select {
	case c.inbound <- req:
	case <-timer.C:
		return Result{Err: core.NewError(core.KindTooManyRequestsInChannel, "refresh channel send timed out", nil)}
	case <-ctx.Done():
		return Result{Err: core.NewError(core.KindTooManyRequestsInChannel, "request cancelled while enqueueing refresh", ctx.Err())}
	}

	res, ok := <-respond
	if !ok {
		return Result{Err: core.NewError(core.KindBrokenRefresherChannel, "refresh coordinator closed without responding", nil)}
	}
	return res
}
