package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	entry Entry
	err   error
}

func (f fakeStore) Get(_ context.Context, _ string) (Entry, error)    { return f.entry, f.err }
func (f fakeStore) Store(_ context.Context, _ string, _ string) error { return nil }
func (f fakeStore) Forget(_ context.Context, _ string) error          { return nil }

func TestDecorate_NotFoundLeavesRequestUntouched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	decorated, err := Decorate(context.Background(), fakeStore{entry: NotFound}, "example.com", req)

	require.NoError(t, err)
	assert.Empty(t, decorated.Header.Get("Authorization"))
}

func TestDecorate_EntryNoneLeavesRequestUntouched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	decorated, err := Decorate(context.Background(), fakeStore{entry: Entry{Found: true, Token: nil}}, "example.com", req)

	require.NoError(t, err)
	assert.Empty(t, decorated.Header.Get("Authorization"))
}

func TestDecorate_EntrySomeTokenSetsBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	token := "s3cr3t"

	decorated, err := Decorate(context.Background(), fakeStore{entry: Entry{Found: true, Token: &token}}, "example.com", req)

	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cr3t", decorated.Header.Get("Authorization"))
}

// An explicit empty-string token is still Entry(Some("")) and must
// decorate the request; only a nil Token (Entry(None)) skips it.
func TestDecorate_EntrySomeEmptyTokenStillSetsBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	empty := ""

	decorated, err := Decorate(context.Background(), fakeStore{entry: Entry{Found: true, Token: &empty}}, "example.com", req)

	require.NoError(t, err)
	assert.Equal(t, "Bearer ", decorated.Header.Get("Authorization"))
}
