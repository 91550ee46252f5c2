package mirror

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tfproviders/provider-mirror/pkg/audit"
	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/credentials"
)

// credentialsEnvelope matches the admin API's {"data": {...}} wire shape.
type credentialsEnvelope struct {
	Data credentialsData `json:"data"`
}

type credentialsData struct {
	Token  string `json:"token,omitempty"`
	Exists *bool  `json:"exists,omitempty"`
}

// MakeAdminHandler serves the credentials admin API at
// /api/v1/credentials/{hostname} (spec.md §6). It is kept separate from
// MakeHandler since it lives under /api/v1/credentials/ rather than the
// /mirror/v1/ prefix; the composition root mounts it on the same listener
// as the mirror, with no authentication. Every mutating call is recorded
// through auditLogger; pass audit.NoOpLogger{} to disable this.
func MakeAdminHandler(store credentials.Store, auditLogger audit.Logger) http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	h := &credentialsHandler{store: store, audit: auditLogger}

	r.Methods("GET").Path("/api/v1/credentials/{hostname}").HandlerFunc(h.get)
	r.Methods("POST").Path("/api/v1/credentials/{hostname}").HandlerFunc(h.put)
	r.Methods("DELETE").Path("/api/v1/credentials/{hostname}").HandlerFunc(h.delete)

	return r
}

type credentialsHandler struct {
	store credentials.Store
	audit audit.Logger
}

func (h *credentialsHandler) get(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hostname := mux.Vars(r)["hostname"]
	sourceIP, userAgent, requestID := audit.ExtractRequestInfo(r)

	entry, err := h.store.Get(r.Context(), hostname)
	audit.LogCredentialMutation(r.Context(), h.audit, audit.EventCredentialGet, hostname, sourceIP, userAgent, requestID, err, time.Since(start))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	exists := entry.Found
	w.Header().Set("Content-Type", "application/json")
	if !exists {
		w.WriteHeader(http.StatusNotFound)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(credentialsEnvelope{Data: credentialsData{Exists: &exists}})
}

func (h *credentialsHandler) put(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hostname := mux.Vars(r)["hostname"]
	sourceIP, userAgent, requestID := audit.ExtractRequestInfo(r)

	var body credentialsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err := h.store.Store(r.Context(), hostname, body.Data.Token)
	audit.LogCredentialMutation(r.Context(), h.audit, audit.EventCredentialStore, hostname, sourceIP, userAgent, requestID, err, time.Since(start))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(credentialsEnvelope{})
}

func (h *credentialsHandler) delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hostname := mux.Vars(r)["hostname"]
	sourceIP, userAgent, requestID := audit.ExtractRequestInfo(r)

	err := h.store.Forget(r.Context(), hostname)
	audit.LogCredentialMutation(r.Context(), h.audit, audit.EventCredentialForget, hostname, sourceIP, userAgent, requestID, err, time.Since(start))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(credentialsEnvelope{})
}

func writeAdminError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(core.StatusCode(err))
	_ = json.NewEncoder(w).Encode(struct {
		Errors []string `json:"errors"`
	}{Errors: []string{err.Error()}})
}
