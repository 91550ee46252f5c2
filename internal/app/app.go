// Package app is the composition root (C8): it builds every collaborator
// from a resolved Config and runs the public mirror listener, the
// telemetry listener, and the refresh coordinator's goroutine under one
// errgroup, following boring-registry's cmd/server.go shutdown pattern.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tfproviders/provider-mirror/pkg/artifact"
	"github.com/tfproviders/provider-mirror/pkg/audit"
	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/credentials"
	"github.com/tfproviders/provider-mirror/pkg/metadata"
	"github.com/tfproviders/provider-mirror/pkg/mirror"
	"github.com/tfproviders/provider-mirror/pkg/objectstore"
	"github.com/tfproviders/provider-mirror/pkg/observability"
	"github.com/tfproviders/provider-mirror/pkg/refresh"
	"github.com/tfproviders/provider-mirror/pkg/upstream"
)

// refreshFetcher joins the upstream client (C2) and the metadata store
// (C3) into the single capability the refresh coordinator (C4) needs:
// fetch upstream versions, then persist them.
type refreshFetcher struct {
	upstream *upstream.Client
	metadata *metadata.Store
}

func (f refreshFetcher) ListVersions(ctx context.Context, key core.ProviderKey) ([]core.UpstreamVersion, error) {
	return f.upstream.ListVersions(ctx, key)
}

func (f refreshFetcher) UpsertProviderAndVersions(ctx context.Context, key core.ProviderKey, versions []core.UpstreamVersion) ([]core.VersionRecord, error) {
	return f.metadata.UpsertProviderAndVersions(ctx, key, versions)
}

// Config is the fully-resolved set of knobs the CLI's server subcommand
// collects from flags/env before calling Run.
type Config struct {
	ListenAddress          string
	ListenTelemetryAddress string

	RedirectBase string

	DatabaseDSN      string
	DatabasePoolSize int
	AutoMigrate      bool

	ObjectStoreBucket    string
	ObjectStorePrefix    string
	ObjectStoreRegion    string
	ObjectStoreEndpoint  string
	ObjectStorePathStyle bool

	RefreshInterval time.Duration

	UpstreamPort    int
	UpstreamProxy   *url.URL
	UpstreamNoProxy string

	OTLPEndpoint string

	AuditLogEnabled bool
	AuditLogBucket  string
	AuditLogPrefix  string
	AuditLogRegion  string
}

// Run builds the dependency graph from cfg and blocks until ctx is
// cancelled or a listener fails, mirroring the teacher's signal
// handler/shutdown-handler/listener goroutine quartet.
func Run(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.AutoMigrate {
		slog.Info("running pending migrations")
		if err := metadata.Migrate(cfg.DatabaseDSN); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	store, err := metadata.New(metadata.Config{DSN: cfg.DatabaseDSN, PoolSize: cfg.DatabasePoolSize})
	if err != nil {
		return fmt.Errorf("connect metadata store: %w", err)
	}
	defer store.Close()

	objStore, err := objectstore.New(ctx, cfg.ObjectStoreBucket, cfg.ObjectStoreRegion, cfg.ObjectStoreEndpoint,
		objectstore.WithKeyPrefix(cfg.ObjectStorePrefix),
		objectstore.WithPathStyle(cfg.ObjectStorePathStyle),
	)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	credStore := credentials.NewDBStore(store)

	upstreamOpts := []upstream.Option{upstream.WithPort(cfg.UpstreamPort)}
	if cfg.UpstreamProxy != nil {
		upstreamOpts = append(upstreamOpts, upstream.WithProxy(upstream.ProxyConfig{
			ProxyURL: cfg.UpstreamProxy,
			NoProxy:  cfg.UpstreamNoProxy,
		}))
	}
	upstreamClient := upstream.NewClient(credStore, upstreamOpts...)
	fetcher := refreshFetcher{upstream: upstreamClient, metadata: store}

	shutdownTracing, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:      cfg.OTLPEndpoint != "",
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("build tracer provider: %w", err)
	}
	defer shutdownTracing(context.Background())

	metrics := observability.NewMetrics(nil)
	instrumentation := observability.NewMiddleware(metrics.Http)

	refreshCoordinator := refresh.New(fetcher, cfg.RefreshInterval, metrics.Refresh)
	pipeline := artifact.New(store, upstreamClient, objStore, metrics.Artifact)

	auditLogger, err := buildAuditLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}
	if closer, ok := auditLogger.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	svc := mirror.New(mirror.Config{
		Metadata:     store,
		Refresh:      refreshCoordinator,
		Pipeline:     pipeline,
		RedirectBase: cfg.RedirectBase,
		Metrics:      metrics.Mirror,
	})

	mux := newMux(svc, credStore, auditLogger, store, instrumentation)

	telemetryMux := http.NewServeMux()
	registerMetrics(telemetryMux)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Handler:      mux,
	}
	telemetryServer := &http.Server{
		Addr:         cfg.ListenTelemetryAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Handler:      telemetryMux,
	}

	group, ctx := errgroup.WithContext(ctx)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	group.Go(func() error {
		select {
		case <-sigint:
			cancel()
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	group.Go(func() error {
		refreshCoordinator.Run(ctx)
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil && err != context.Canceled {
			slog.Error("failed to terminate server", slog.String("error", err.Error()))
		}
		if err := telemetryServer.Shutdown(shutdownCtx); err != nil && err != context.Canceled {
			slog.Error("failed to terminate telemetry server", slog.String("error", err.Error()))
		}
		return nil
	})

	group.Go(func() error {
		logger := slog.Default().With(slog.String("listen", cfg.ListenAddress))
		logger.Info("starting mirror server")
		defer logger.Info("shutting down mirror server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger := slog.Default().With(slog.String("listen", cfg.ListenTelemetryAddress))
		logger.Info("starting telemetry server")
		defer logger.Info("shutting down telemetry server")

		if err := telemetryServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return group.Wait()
}

// buildAuditLogger returns a no-op logger when audit logging is
// disabled, otherwise a batched S3 logger addressing its own bucket,
// prefix and region (the AuditLog* settings).
func buildAuditLogger(ctx context.Context, cfg Config) (audit.Logger, error) {
	if !cfg.AuditLogEnabled {
		return audit.NoOpLogger{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AuditLogRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return audit.NewLogger(ctx, s3.NewFromConfig(awsCfg), audit.Config{
		Enabled: true,
		S3: audit.S3AuditConfig{
			Bucket: cfg.AuditLogBucket,
			Region: cfg.AuditLogRegion,
			Prefix: cfg.AuditLogPrefix,
		},
	})
}

// newMux composes the public mirror listener's routes. The mirror
// protocol handler is mounted under /mirror/v1/ and stripped back to
// the root-relative paths transport.go registers (spec.md §6).
func newMux(svc *mirror.Service, credStore credentials.Store, auditLogger audit.Logger, lister mirror.ProviderLister, instrumentation observability.Middleware) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mirror/v1/", instrumentation.WrapHandler(http.StripPrefix("/mirror/v1", mirror.MakeHandler(svc))))
	mux.Handle("/api/v1/credentials/", instrumentation.WrapHandler(mirror.MakeAdminHandler(credStore, auditLogger)))
	mux.Handle("/healthcheck", instrumentation.WrapHandler(mirror.MakeHealthHandler()))
	mux.Handle("/ui/providers", instrumentation.WrapHandler(mirror.MakeUIHandler(lister)))
	return mux
}

func registerMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
}
