package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfproviders/provider-mirror/pkg/core"
)

type fakeFetcher struct {
	mu        sync.Mutex
	calls     int32
	listErr   error
	versions  []core.UpstreamVersion
	upsertErr error
}

func (f *fakeFetcher) ListVersions(_ context.Context, _ core.ProviderKey) ([]core.UpstreamVersion, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.versions, nil
}

func (f *fakeFetcher) UpsertProviderAndVersions(_ context.Context, _ core.ProviderKey, _ []core.UpstreamVersion) ([]core.VersionRecord, error) {
	return nil, f.upsertErr
}

func startCoordinator(t *testing.T, c *Coordinator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return cancel
}

func TestCoordinator_FirstContactFetches(t *testing.T) {
	fetcher := &fakeFetcher{versions: []core.UpstreamVersion{{Version: "1.0.0"}}}
	c := New(fetcher, time.Minute, nil)
	cancel := startCoordinator(t, c)
	defer cancel()

	key := core.ProviderKey{Hostname: "example.com", Namespace: "acme", Kind: "widget"}
	res := c.Request(context.Background(), key)

	require.NoError(t, res.Err)
	assert.True(t, res.Performed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCoordinator_WarmEntrySkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{versions: []core.UpstreamVersion{{Version: "1.0.0"}}}
	c := New(fetcher, time.Hour, nil)
	cancel := startCoordinator(t, c)
	defer cancel()

	key := core.ProviderKey{Hostname: "example.com", Namespace: "acme", Kind: "widget"}
	first := c.Request(context.Background(), key)
	require.NoError(t, first.Err)
	require.True(t, first.Performed)

	second := c.Request(context.Background(), key)
	require.NoError(t, second.Err)
	assert.False(t, second.Performed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCoordinator_VacantFailureDoesNotPoisonLedger(t *testing.T) {
	fetcher := &fakeFetcher{listErr: errors.New("upstream down")}
	c := New(fetcher, time.Hour, nil)
	cancel := startCoordinator(t, c)
	defer cancel()

	key := core.ProviderKey{Hostname: "example.com", Namespace: "acme", Kind: "widget"}
	first := c.Request(context.Background(), key)
	require.Error(t, first.Err)

	fetcher.mu.Lock()
	fetcher.listErr = nil
	fetcher.versions = []core.UpstreamVersion{{Version: "2.0.0"}}
	fetcher.mu.Unlock()

	second := c.Request(context.Background(), key)
	require.NoError(t, second.Err)
	assert.True(t, second.Performed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls))
}

func TestCoordinator_Hint_NeverBlocksCaller(t *testing.T) {
	fetcher := &fakeFetcher{versions: []core.UpstreamVersion{{Version: "1.0.0"}}}
	c := New(fetcher, time.Hour, nil)
	cancel := startCoordinator(t, c)
	defer cancel()

	key := core.ProviderKey{Hostname: "example.com", Namespace: "acme", Kind: "widget"}
	c.Hint(context.Background(), key)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetcher.calls) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_ShutdownDrainsWithoutHanging(t *testing.T) {
	fetcher := &fakeFetcher{versions: []core.UpstreamVersion{{Version: "1.0.0"}}}
	c := New(fetcher, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not shut down")
	}
}
