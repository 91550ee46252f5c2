package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfproviders/provider-mirror/internal/app"
)

var (
	flagListenAddr          string
	flagTelemetryListenAddr string

	flagRedirectBase string

	flagDatabaseDSN      string
	flagDatabasePoolSize int
	flagAutoMigrate      bool

	flagObjectStoreBucket    string
	flagObjectStorePrefix    string
	flagObjectStoreRegion    string
	flagObjectStoreEndpoint  string
	flagObjectStorePathStyle bool

	flagRefreshInterval time.Duration

	flagUpstreamPort    int
	flagUpstreamProxy   string
	flagUpstreamNoProxy string

	flagOTLPEndpoint string

	flagAuditLogEnabled bool
	flagAuditLogBucket  string
	flagAuditLogPrefix  string
	flagAuditLogRegion  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the provider network mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveServerConfig()
		if err != nil {
			return err
		}
		return app.Run(context.Background(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&flagListenAddr, "listen-address", "[::1]:9543", "Address the mirror protocol listens on")
	serverCmd.Flags().StringVar(&flagTelemetryListenAddr, "listen-telemetry-address", "[::1]:9544", "Address serving /metrics and pprof debug routes")

	serverCmd.Flags().StringVar(&flagRedirectBase, "redirect-base-url", "", "Absolute URL, ending in /, used to build archive download URLs returned to Terraform/OpenTofu")

	serverCmd.Flags().StringVar(&flagDatabaseDSN, "database-url", "", "PostgreSQL connection string for the metadata store")
	serverCmd.Flags().IntVar(&flagDatabasePoolSize, "database-pool-size", 5, "Maximum number of pooled metadata store connections")
	serverCmd.Flags().BoolVar(&flagAutoMigrate, "auto-migrate", true, "Run pending metadata store migrations before accepting connections")

	serverCmd.Flags().StringVar(&flagObjectStoreBucket, "object-store-bucket", "", "S3-compatible bucket backing the artifact cache")
	serverCmd.Flags().StringVar(&flagObjectStorePrefix, "object-store-prefix", "", "Key prefix within the artifact bucket")
	serverCmd.Flags().StringVar(&flagObjectStoreRegion, "object-store-region", "us-east-1", "Region of the artifact bucket")
	serverCmd.Flags().StringVar(&flagObjectStoreEndpoint, "object-store-endpoint", "", "Endpoint override, for MinIO or other S3-compatible stores")
	serverCmd.Flags().BoolVar(&flagObjectStorePathStyle, "object-store-path-style", false, "Use path-style bucket addressing (required for most MinIO deployments)")

	serverCmd.Flags().DurationVar(&flagRefreshInterval, "refresh-interval", 15*time.Minute, "Window within which a known provider's versions are considered fresh")

	serverCmd.Flags().IntVar(&flagUpstreamPort, "upstream-port", 443, "Port used to reach upstream provider registries")
	serverCmd.Flags().MarkHidden("upstream-port")
	serverCmd.Flags().StringVar(&flagUpstreamProxy, "upstream-proxy-url", "", "HTTP proxy URL for upstream requests")
	serverCmd.Flags().StringVar(&flagUpstreamNoProxy, "upstream-no-proxy", "", "Comma-separated hostname suffixes excluded from the proxy")

	serverCmd.Flags().StringVar(&flagOTLPEndpoint, "otel-endpoint", "", "OTLP collector address; tracing is a no-op when unset")

	serverCmd.Flags().BoolVar(&flagAuditLogEnabled, "audit-log-enabled", false, "Record credential admin API mutations to the audit log bucket")
	serverCmd.Flags().StringVar(&flagAuditLogBucket, "audit-log-bucket", "", "S3-compatible bucket audit events are batched to")
	serverCmd.Flags().StringVar(&flagAuditLogPrefix, "audit-log-prefix", "audit-logs/", "Key prefix within the audit log bucket")
	serverCmd.Flags().StringVar(&flagAuditLogRegion, "audit-log-region", "us-east-1", "Region of the audit log bucket")
}

func resolveServerConfig() (app.Config, error) {
	if flagRedirectBase == "" {
		return app.Config{}, fmt.Errorf("--redirect-base-url is required")
	}
	redirectBase, err := url.Parse(flagRedirectBase)
	if err != nil || !redirectBase.IsAbs() {
		return app.Config{}, fmt.Errorf("--redirect-base-url must be an absolute URL")
	}
	if !strings.HasSuffix(flagRedirectBase, "/") {
		return app.Config{}, fmt.Errorf("--redirect-base-url must end with /")
	}
	if flagDatabaseDSN == "" {
		return app.Config{}, fmt.Errorf("--database-url is required")
	}
	if flagObjectStoreBucket == "" {
		return app.Config{}, fmt.Errorf("--object-store-bucket is required")
	}
	if flagAuditLogEnabled && flagAuditLogBucket == "" {
		return app.Config{}, fmt.Errorf("--audit-log-bucket is required when --audit-log-enabled is set")
	}

	cfg := app.Config{
		ListenAddress:          flagListenAddr,
		ListenTelemetryAddress: flagTelemetryListenAddr,
		RedirectBase:           flagRedirectBase,
		DatabaseDSN:            flagDatabaseDSN,
		DatabasePoolSize:       flagDatabasePoolSize,
		AutoMigrate:            flagAutoMigrate,
		ObjectStoreBucket:      flagObjectStoreBucket,
		ObjectStorePrefix:      flagObjectStorePrefix,
		ObjectStoreRegion:      flagObjectStoreRegion,
		ObjectStoreEndpoint:    flagObjectStoreEndpoint,
		ObjectStorePathStyle:   flagObjectStorePathStyle,
		RefreshInterval:        flagRefreshInterval,
		UpstreamPort:           flagUpstreamPort,
		UpstreamNoProxy:        flagUpstreamNoProxy,
		OTLPEndpoint:           flagOTLPEndpoint,
		AuditLogEnabled:        flagAuditLogEnabled,
		AuditLogBucket:         flagAuditLogBucket,
		AuditLogPrefix:         flagAuditLogPrefix,
		AuditLogRegion:         flagAuditLogRegion,
	}

	if flagUpstreamProxy != "" {
		u, err := url.Parse(flagUpstreamProxy)
		if err != nil {
			return app.Config{}, fmt.Errorf("invalid --upstream-proxy-url: %w", err)
		}
		cfg.UpstreamProxy = u
	}

	return cfg, nil
}
