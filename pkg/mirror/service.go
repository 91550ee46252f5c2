// Package mirror implements C6: the three public mirror-protocol
// endpoints plus the credentials admin API and healthcheck, composed
// from the metadata store (C3), refresh coordinator (C4), and artifact
// pipeline (C5).
//
// Grounded on boring-registry's pkg/mirror service/endpoint/transport
// split, reworked to call through to this module's own components
// instead of boring-registry's per-request upstream-merge logic.
package mirror

import (
	"context"
	"strconv"

	"github.com/tfproviders/provider-mirror/pkg/artifact"
	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/metadata"
	"github.com/tfproviders/provider-mirror/pkg/observability"
	"github.com/tfproviders/provider-mirror/pkg/refresh"
)

// MetadataStore is the slice of C3 the mirror handlers consume.
type MetadataStore interface {
	GetVersions(ctx context.Context, key core.ProviderKey) (metadata.VersionsResult, error)
	ListDownloads(ctx context.Context, key core.ProviderKey, version string) ([]core.VersionRecord, error)
}

// RefreshCoordinator is the slice of C4 the index handler consumes.
type RefreshCoordinator interface {
	Hint(ctx context.Context, key core.ProviderKey)
	Request(ctx context.Context, key core.ProviderKey) refresh.Result
}

// ArtifactPipeline is the slice of C5 the artifact handler consumes.
type ArtifactPipeline interface {
	Retrieve(ctx context.Context, versionID int64) (*artifact.Result, error)
}

// Service implements the mirror protocol's three public documents.
type Service struct {
	metadata     MetadataStore
	refresh      RefreshCoordinator
	pipeline     ArtifactPipeline
	redirectBase string
	metrics      *observability.MirrorMetrics
}

// Config wires a Service's collaborators. RedirectBase must be an
// absolute URL ending with "/" (spec.md §6); the composition root
// validates this before constructing the service.
type Config struct {
	Metadata     MetadataStore
	Refresh      RefreshCoordinator
	Pipeline     ArtifactPipeline
	RedirectBase string
	Metrics      *observability.MirrorMetrics
}

func New(cfg Config) *Service {
	return &Service{
		metadata:     cfg.Metadata,
		refresh:      cfg.Refresh,
		pipeline:     cfg.Pipeline,
		redirectBase: cfg.RedirectBase,
		metrics:      cfg.Metrics,
	}
}

// IndexResponse is the index.json document body.
type IndexResponse struct {
	Versions map[string]struct{} `json:"versions"`
}

// Index answers GET .../index.json (spec.md §4.6).
func (s *Service) Index(ctx context.Context, key core.ProviderKey) (IndexResponse, error) {
	result, err := s.metadata.GetVersions(ctx, key)
	if err != nil {
		return IndexResponse{}, err
	}

	if result.Known {
		if s.metrics != nil {
			s.metrics.IndexRequests.WithLabelValues(key.Hostname, key.Namespace, key.Kind).Inc()
			s.metrics.IndexCacheHit.WithLabelValues(key.Hostname, key.Namespace, key.Kind).Inc()
		}
		s.refresh.Hint(ctx, key)
		return buildIndexResponse(result.Versions), nil
	}

	if s.metrics != nil {
		s.metrics.IndexRequests.WithLabelValues(key.Hostname, key.Namespace, key.Kind).Inc()
	}

	res := s.refresh.Request(ctx, key)
	if res.Err != nil {
		return IndexResponse{}, res.Err
	}
	if !res.Performed {
		return IndexResponse{}, core.NewError(core.KindConcurrentProviderFetch, "refresher reported not-stale for an unknown provider", nil)
	}

	versions := make([]string, 0, len(res.Versions))
	for _, v := range res.Versions {
		versions = append(versions, v.Version)
	}
	return buildIndexResponse(versions), nil
}

func buildIndexResponse(versions []string) IndexResponse {
	out := IndexResponse{Versions: make(map[string]struct{}, len(versions))}
	for _, v := range versions {
		out.Versions[v] = struct{}{}
	}
	return out
}

// ArchiveEntry is one {os}_{arch} entry of a versions document.
type ArchiveEntry struct {
	URL string `json:"url"`
}

// VersionsResponse is the {version}.json document body.
type VersionsResponse struct {
	Archives map[string]ArchiveEntry `json:"archives"`
}

// Versions answers GET .../{version}.json (spec.md §4.6). No cache
// header is attached by the handler: a replica racing a fresh index
// entry may not yet have rows for a newly discovered version.
func (s *Service) Versions(ctx context.Context, key core.ProviderKey, version string) (VersionsResponse, error) {
	if s.metrics != nil {
		s.metrics.VersionsRequests.WithLabelValues(key.Hostname, key.Namespace, key.Kind).Inc()
	}

	records, err := s.metadata.ListDownloads(ctx, key, version)
	if err != nil {
		return VersionsResponse{}, err
	}

	archives := make(map[string]ArchiveEntry, len(records))
	for _, r := range records {
		archives[r.Platform.String()] = ArchiveEntry{
			URL: s.redirectBase + "artifacts/" + strconv.FormatInt(r.ID, 10),
		}
	}
	return VersionsResponse{Archives: archives}, nil
}

// Artifact answers GET /mirror/v1/artifacts/{version-id} by running the
// artifact pipeline (C5) and returning a presigned URL to redirect to.
// A nil result with a nil error means the version id does not exist.
func (s *Service) Artifact(ctx context.Context, versionID int64) (*artifact.Result, error) {
	result, err := s.pipeline.Retrieve(ctx, versionID)
	if s.metrics != nil {
		switch {
		case err != nil:
			s.metrics.ArtifactRequests.WithLabelValues("error").Inc()
		case result == nil:
			s.metrics.ArtifactRequests.WithLabelValues("not-found").Inc()
		default:
			s.metrics.ArtifactRequests.WithLabelValues("ok").Inc()
		}
	}
	return result, err
}
