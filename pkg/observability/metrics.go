package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	HostnameLabel  = "hostname"
	NamespaceLabel = "namespace"
	KindLabel      = "kind"
	ResultLabel    = "result"
)

// ServerMetrics groups every Prometheus collector the mirror registers.
type ServerMetrics struct {
	Mirror   *MirrorMetrics
	Refresh  *RefreshMetrics
	Artifact *ArtifactMetrics
	Http     *HttpMetrics
}

// MirrorMetrics counts traffic at the three public mirror endpoints (C6).
type MirrorMetrics struct {
	IndexRequests    *prometheus.CounterVec
	IndexCacheHit    *prometheus.CounterVec
	VersionsRequests *prometheus.CounterVec
	ArtifactRequests *prometheus.CounterVec
}

// RefreshMetrics instruments the refresh coordinator (C4): how deep its
// inbound channel runs, how often hints are dropped, and how the decision
// table resolves.
type RefreshMetrics struct {
	ChannelDepth   prometheus.Gauge
	HintsDropped   prometheus.Counter
	Decisions      *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
}

// ArtifactMetrics instruments the artifact pipeline (C5): whether a
// request was served warm (already bound) or cold (required an upload),
// and how long a cold upload took.
type ArtifactMetrics struct {
	ColdUploads     prometheus.Counter
	WarmHits        prometheus.Counter
	UploadDuration  prometheus.Histogram
	UploadBytes     prometheus.Histogram
	UploadedPartsTo prometheus.Histogram
	AbortedUploads  prometheus.Counter
}

// HttpMetrics is the generic HTTP instrumentation wired into every route
// via promhttp, regardless of which mirror endpoint handled the request.
type HttpMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.SummaryVec
	ResponseSize    *prometheus.SummaryVec
}

func NewMetrics(buckets []float64) *ServerMetrics {
	mirrorNamespace := "provider_mirror"
	httpNamespace := "http"

	mirrorSubsystem := "mirror"
	refreshSubsystem := "refresh"
	artifactSubsystem := "artifact"
	requestSubsystem := "request"
	responseSubsystem := "response"

	if buckets == nil {
		buckets = prometheus.ExponentialBuckets(0.05, 1.6, 10)
	}

	return &ServerMetrics{
		Mirror: &MirrorMetrics{
			IndexRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: mirrorNamespace,
					Subsystem: mirrorSubsystem,
					Name:      "index_requests_total",
					Help:      "Total index.json requests handled by the mirror",
				},
				[]string{HostnameLabel, NamespaceLabel, KindLabel},
			),
			IndexCacheHit: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: mirrorNamespace,
					Subsystem: mirrorSubsystem,
					Name:      "index_cache_hit_total",
					Help:      "Total index.json requests answered from the metadata store without a synchronous upstream fetch",
				},
				[]string{HostnameLabel, NamespaceLabel, KindLabel},
			),
			VersionsRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: mirrorNamespace,
					Subsystem: mirrorSubsystem,
					Name:      "versions_requests_total",
					Help:      "Total {version}.json requests handled by the mirror",
				},
				[]string{HostnameLabel, NamespaceLabel, KindLabel},
			),
			ArtifactRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: mirrorNamespace,
					Subsystem: mirrorSubsystem,
					Name:      "artifact_requests_total",
					Help:      "Total artifact redirect requests handled by the mirror",
				},
				[]string{ResultLabel},
			),
		},
		Refresh: &RefreshMetrics{
			ChannelDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: mirrorNamespace,
				Subsystem: refreshSubsystem,
				Name:      "channel_depth",
				Help:      "Current number of messages queued for the refresh coordinator",
			}),
			HintsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: mirrorNamespace,
				Subsystem: refreshSubsystem,
				Name:      "hints_dropped_total",
				Help:      "Total best-effort refresh hints dropped because the channel was full",
			}),
			Decisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: mirrorNamespace,
					Subsystem: refreshSubsystem,
					Name:      "decisions_total",
					Help:      "Total refresh coordinator decisions, by outcome",
				},
				[]string{ResultLabel},
			),
			UpstreamErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: mirrorNamespace,
					Subsystem: refreshSubsystem,
					Name:      "upstream_errors_total",
					Help:      "Total upstream refresh failures, by error kind",
				},
				[]string{KindLabel},
			),
		},
		Artifact: &ArtifactMetrics{
			ColdUploads: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: mirrorNamespace,
				Subsystem: artifactSubsystem,
				Name:      "cold_uploads_total",
				Help:      "Total artifact requests that required streaming a fresh upload",
			}),
			WarmHits: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: mirrorNamespace,
				Subsystem: artifactSubsystem,
				Name:      "warm_hits_total",
				Help:      "Total artifact requests served from an existing binding",
			}),
			UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: mirrorNamespace,
				Subsystem: artifactSubsystem,
				Name:      "upload_duration_seconds",
				Help:      "Duration of a cold artifact upload to the object store",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			}),
			UploadBytes: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: mirrorNamespace,
				Subsystem: artifactSubsystem,
				Name:      "upload_bytes",
				Help:      "Size of uploaded artifact archives in bytes",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
			}),
			UploadedPartsTo: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: mirrorNamespace,
				Subsystem: artifactSubsystem,
				Name:      "upload_parts",
				Help:      "Number of multi-part upload parts flushed per artifact",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			}),
			AbortedUploads: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: mirrorNamespace,
				Subsystem: artifactSubsystem,
				Name:      "aborted_uploads_total",
				Help:      "Total multi-part uploads aborted after a streaming failure",
			}),
		},
		Http: &HttpMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: httpNamespace,
					Subsystem: requestSubsystem,
					Name:      "total",
					Help:      "The total number of HTTP requests",
				}, []string{"method", "code"},
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: httpNamespace,
					Subsystem: requestSubsystem,
					Name:      "duration_seconds",
					Help:      "The HTTP request latencies in seconds",
					Buckets:   buckets,
				},
				[]string{"method", "code"},
			),
			RequestSize: promauto.NewSummaryVec(
				prometheus.SummaryOpts{
					Namespace: httpNamespace,
					Subsystem: requestSubsystem,
					Name:      "size_bytes",
					Help:      "The HTTP request sizes in bytes",
				},
				[]string{"method", "code"},
			),
			ResponseSize: promauto.NewSummaryVec(
				prometheus.SummaryOpts{
					Namespace: httpNamespace,
					Subsystem: responseSubsystem,
					Name:      "size_bytes",
					Help:      "The HTTP response sizes in bytes",
				},
				[]string{"method", "code"},
			),
		},
	}
}
