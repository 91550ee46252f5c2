// Package artifact implements C5: the streaming multi-part upload
// pipeline that turns an upstream archive into a bound, presignable
// object-store artifact.
//
// Grounded on boring-registry's cmd/server.go use of
// golang.org/x/sync/errgroup for concurrent fan-out (here: concurrent id
// allocation and upstream stream open), extended with the buffer-until
// 10MiB-then-flush discipline and the abort-and-combine-errors contract
// spec.md §4.5 specifies.
package artifact

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/objectstore"
	"github.com/tfproviders/provider-mirror/pkg/observability"
)

// MetadataStore is the slice of C3 the pipeline needs.
type MetadataStore interface {
	ResolveVersion(ctx context.Context, versionID int64) (*core.ArtifactDetails, error)
	AllocateArtifactID(ctx context.Context) (int64, error)
	BindArtifact(ctx context.Context, versionID, artifactID int64) error
}

// UpstreamClient is the slice of C2 the pipeline needs.
type UpstreamClient interface {
	OpenArchive(ctx context.Context, key core.ProviderKey, version string, platform core.Platform) (io.ReadCloser, error)
}

// ObjectStore is the slice of the object store the pipeline drives.
type ObjectStore interface {
	ArtifactKey(artifactID int64) string
	BeginUpload(ctx context.Context, key string) (*objectstore.Upload, error)
	PresignedURL(ctx context.Context, key string) (string, error)
}

// Pipeline runs the end-to-end artifact retrieval algorithm (spec.md
// §4.5).
type Pipeline struct {
	metadata MetadataStore
	upstream UpstreamClient
	store    ObjectStore
	metrics  *observability.ArtifactMetrics
}

func New(metadata MetadataStore, upstream UpstreamClient, store ObjectStore, metrics *observability.ArtifactMetrics) *Pipeline {
	return &Pipeline{metadata: metadata, upstream: upstream, store: store, metrics: metrics}
}

// Result is what Retrieve returns: a presigned URL to 307 the client to.
type Result struct {
	PresignedURL string
}

// Retrieve resolves versionID, uploads the archive if it is not already
// bound, and returns a presigned URL. A nil, nil return means the version
// id does not exist.
func (p *Pipeline) Retrieve(ctx context.Context, versionID int64) (*Result, error) {
	details, err := p.metadata.ResolveVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, nil
	}

	artifactID := details.ArtifactID
	if artifactID == nil {
		id, err := p.upload(ctx, details)
		if err != nil {
			return nil, err
		}
		artifactID = &id
	} else if p.metrics != nil {
		p.metrics.WarmHits.Inc()
	}

	key := p.store.ArtifactKey(*artifactID)
	url, err := p.store.PresignedURL(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Result{PresignedURL: url}, nil
}

// upload performs steps 3-6 of spec.md §4.5: concurrently allocate an
// artifact id and open the upstream stream, then drive a buffered
// multi-part upload, then bind.
func (p *Pipeline) upload(ctx context.Context, details *core.ArtifactDetails) (int64, error) {
	if p.metrics != nil {
		p.metrics.ColdUploads.Inc()
	}
	start := time.Now()
	uploadID := uuid.NewString()
	log := slog.With(slog.String("upload_id", uploadID), slog.String("provider", details.Provider.String()), slog.String("version", details.Version))
	log.Info("cold artifact upload starting")

	var artifactID int64
	var body io.ReadCloser

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		id, err := p.metadata.AllocateArtifactID(gctx)
		if err != nil {
			return err
		}
		artifactID = id
		return nil
	})
	group.Go(func() error {
		rc, err := p.upstream.OpenArchive(gctx, details.Provider, details.Version, details.Platform)
		if err != nil {
			return err
		}
		body = rc
		return nil
	})
	if err := group.Wait(); err != nil {
		if body != nil {
			_ = body.Close()
		}
		log.Warn("cold artifact upload failed before streaming", slog.Any("error", err))
		return 0, err
	}
	defer body.Close()
	log = log.With(slog.Int64("artifact_id", artifactID))

	key := p.store.ArtifactKey(artifactID)
	uploaded, uploadErr := p.streamUpload(ctx, key, body)
	if uploadErr != nil {
		log.Warn("cold artifact upload aborted", slog.Any("error", uploadErr))
		return 0, uploadErr
	}

	if p.metrics != nil {
		p.metrics.UploadDuration.Observe(time.Since(start).Seconds())
		p.metrics.UploadBytes.Observe(float64(uploaded))
	}

	if err := p.metadata.BindArtifact(ctx, details.VersionID, artifactID); err != nil {
		// Orphan upload: bytes now exist unbound (spec.md §3, invariant
		// 4). No cleanup is attempted; this is the accepted failure mode.
		log.Error("bind failed after successful upload, artifact orphaned", slog.Any("error", err))
		return 0, err
	}
	log.Info("cold artifact upload complete", slog.Int64("bytes", uploaded))
	return artifactID, nil
}

// streamUpload copies body into a multi-part upload, flushing a part
// whenever the in-memory buffer reaches objectstore.MinPartSize, and
// returns the total number of bytes uploaded.
func (p *Pipeline) streamUpload(ctx context.Context, key string, body io.Reader) (int64, error) {
	upload, err := p.store.BeginUpload(ctx, key)
	if err != nil {
		return 0, err
	}

	var total int64
	var parts int
	buf := make([]byte, 0, objectstore.MinPartSize)

	abort := func(cause error) error {
		if p.metrics != nil {
			p.metrics.AbortedUploads.Inc()
		}
		return upload.Abort(ctx, cause)
	}

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := upload.FlushPart(ctx, buf); err != nil {
			return err
		}
		parts++
		buf = make([]byte, 0, objectstore.MinPartSize)
		return nil
	}

	chunk := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return total, abort(ctx.Err())
		default:
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			total += int64(n)
			if len(buf) >= objectstore.MinPartSize {
				if err := flush(); err != nil {
					return total, abort(err)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, abort(readErr)
		}
	}

	if err := flush(); err != nil {
		return total, abort(err)
	}
	if err := upload.Complete(ctx); err != nil {
		return total, abort(err)
	}
	if p.metrics != nil {
		p.metrics.UploadedPartsTo.Observe(float64(parts))
	}
	return total, nil
}
