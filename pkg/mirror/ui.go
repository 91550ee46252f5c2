package mirror

import (
	"context"
	"html/template"
	"net/http"

	"github.com/tfproviders/provider-mirror/pkg/metadata"
)

// ProviderLister is the slice of C3 the admin UI needs. It is read-only
// and outside the mirror protocol's core budget (SPEC_FULL.md §4.6).
type ProviderLister interface {
	ListProviders(ctx context.Context) ([]metadata.ProviderSummary, error)
}

var providersTemplate = template.Must(template.New("providers").Parse(`<!DOCTYPE html>
<html>
<head><title>terrashine — cached providers</title></head>
<body>
<h1>Cached providers</h1>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Hostname</th><th>Namespace</th><th>Kind</th><th>Last refreshed</th></tr>
{{range .}}<tr><td>{{.Hostname}}</td><td>{{.Namespace}}</td><td>{{.Kind}}</td><td>{{.LastRefreshed}}</td></tr>
{{else}}<tr><td colspan="4">No providers cached yet.</td></tr>
{{end}}
</table>
</body>
</html>
`))

// MakeUIHandler serves the read-only admin page at /ui/providers,
// listing every provider the metadata store has seen. It has no write
// operations and is not part of the mirror protocol.
func MakeUIHandler(store ProviderLister) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ui/providers", func(w http.ResponseWriter, r *http.Request) {
		providers, err := store.ListProviders(r.Context())
		if err != nil {
			http.Error(w, "failed to list providers", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = providersTemplate.Execute(w, providers)
	})
	return mux
}
