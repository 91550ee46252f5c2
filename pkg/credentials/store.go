// Package credentials implements C1: the per-host bearer-token store used
// by the upstream registry client to authenticate outbound requests.
package credentials

import (
	"context"
	"net/http"
)

// Entry is the tri-state result of a lookup. Found distinguishes "no
// entry at all" from "entry present, token possibly empty" — the two
// are indistinguishable on the wire but not in the store.
type Entry struct {
	Found bool
	Token *string
}

// NotFound is the zero value: Found is false, Token is nil.
var NotFound = Entry{}

// Store is the capability set every credential backend implements.
// Handlers and the upstream client consume this interface, never a
// concrete type, so the in-memory and durable flavours are swappable in
// tests (spec.md §9, "trait with dynamic dispatch").
type Store interface {
	Get(ctx context.Context, hostname string) (Entry, error)
	Store(ctx context.Context, hostname string, token string) error
	Forget(ctx context.Context, hostname string) error
}

// Decorate attaches a bearer-auth header to req when the store holds a
// token for hostname. NotFound and Entry(None) both leave req untouched.
func Decorate(ctx context.Context, store Store, hostname string, req *http.Request) (*http.Request, error) {
	entry, err := store.Get(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if entry.Found && entry.Token != nil {
		req.Header.Set("Authorization", "Bearer "+*entry.Token)
	}
	return req, nil
}
