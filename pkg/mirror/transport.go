package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"

	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/observability"
)

type muxVar string

const (
	varHostname  muxVar = "hostname"
	varNamespace muxVar = "namespace"
	varKind      muxVar = "kind"
	varVersion   muxVar = "version"
	varVersionID muxVar = "version-id"
)

// MakeHandler returns the mux router serving the three mirror-protocol
// endpoints (spec.md §4.6). Credentials admin and healthcheck are wired
// by MakeAdminHandler and MakeHealthHandler respectively, since they
// live under a different path prefix in the composition root.
func MakeHandler(svc *Service, options ...httptransport.ServerOption) http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	options = append(options, httptransport.ServerErrorEncoder(ErrorEncoder))

	r.Methods("GET").Path(`/{hostname}/{namespace}/{kind}/index.json`).Handler(
		httptransport.NewServer(
			indexEndpoint(svc),
			decodeIndexRequest,
			encodeIndexResponse,
			append(options, httptransport.ServerBefore(extractMuxVars(varHostname, varNamespace, varKind)))...,
		),
	)

	r.Methods("GET").Path(`/{hostname}/{namespace}/{kind}/{version}.json`).Handler(
		httptransport.NewServer(
			versionsEndpoint(svc),
			decodeVersionsRequest,
			encodeVersionsResponse,
			append(options, httptransport.ServerBefore(extractMuxVars(varHostname, varNamespace, varKind, varVersion)))...,
		),
	)

	r.Methods("GET").Path(`/artifacts/{version-id}`).Handler(
		httptransport.NewServer(
			artifactEndpoint(svc),
			decodeArtifactRequest,
			encodeArtifactResponse,
			append(options, httptransport.ServerBefore(extractMuxVars(varVersionID)))...,
		),
	)

	return observability.RequestID(r)
}

func decodeIndexRequest(ctx context.Context, _ *http.Request) (interface{}, error) {
	hostname, ok := ctx.Value(varHostname).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	namespace, ok := ctx.Value(varNamespace).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	kind, ok := ctx.Value(varKind).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	return indexRequest{Key: core.ProviderKey{Hostname: hostname, Namespace: namespace, Kind: kind}}, nil
}

func decodeVersionsRequest(ctx context.Context, _ *http.Request) (interface{}, error) {
	hostname, ok := ctx.Value(varHostname).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	namespace, ok := ctx.Value(varNamespace).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	kind, ok := ctx.Value(varKind).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	version, ok := ctx.Value(varVersion).(string)
	if !ok || version == "" {
		return nil, ErrVarMissing
	}
	return versionsRequest{Key: core.ProviderKey{Hostname: hostname, Namespace: namespace, Kind: kind}, Version: version}, nil
}

func decodeArtifactRequest(ctx context.Context, _ *http.Request) (interface{}, error) {
	raw, ok := ctx.Value(varVersionID).(string)
	if !ok {
		return nil, ErrVarMissing
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, core.NewError(core.KindInvalidRequest, "version id must be an integer", err)
	}
	return artifactRequest{VersionID: id}, nil
}

// encodeIndexResponse writes the index.json document with the 60s cache
// header spec.md §4.6 prescribes for first-contact responses.
func encodeIndexResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(response)
}

// encodeVersionsResponse deliberately carries no cache header: a replica
// racing a fresh index entry may not yet have rows for a newly
// discovered version (spec.md §4.6).
func encodeVersionsResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(response)
}

func encodeArtifactResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	res, ok := response.(artifactResponse)
	if !ok || !res.found {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}
	w.Header().Set("Location", res.presignedURL)
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusTemporaryRedirect)
	return nil
}

// ErrorEncoder translates the mirror's typed errors (C7) to their
// protocol status codes.
func ErrorEncoder(_ context.Context, err error, w http.ResponseWriter) {
	status := http.StatusInternalServerError
	switch err {
	case ErrVarMissing, ErrInvalidPath:
		status = http.StatusBadRequest
	default:
		status = core.StatusCode(err)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Errors []string `json:"errors"`
	}{Errors: []string{err.Error()}})
}

func extractMuxVars(keys ...muxVar) httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		for _, k := range keys {
			if v, ok := mux.Vars(r)[string(k)]; ok {
				ctx = context.WithValue(ctx, k, v)
			}
		}
		return ctx
	}
}

