package mirror

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfproviders/provider-mirror/pkg/audit"
	"github.com/tfproviders/provider-mirror/pkg/credentials"
)

func TestAdminHandler_PutThenGetThenDelete(t *testing.T) {
	store := credentials.NewMemoryStore()
	handler := MakeAdminHandler(store, audit.NoOpLogger{})

	put := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/registry.example.com", bytes.NewBufferString(`{"data":{"token":"secret"}}`))
	putRec := httptest.NewRecorder()
	handler.ServeHTTP(putRec, put)
	require.Equal(t, http.StatusOK, putRec.Code)

	get := httptest.NewRequest(http.MethodGet, "/api/v1/credentials/registry.example.com", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, get)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), `"exists":true`)

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/credentials/registry.example.com", nil)
	delRec := httptest.NewRecorder()
	handler.ServeHTTP(delRec, del)
	require.Equal(t, http.StatusOK, delRec.Code)

	getAfter := httptest.NewRequest(http.MethodGet, "/api/v1/credentials/registry.example.com", nil)
	getAfterRec := httptest.NewRecorder()
	handler.ServeHTTP(getAfterRec, getAfter)
	assert.Equal(t, http.StatusNotFound, getAfterRec.Code)
	assert.Contains(t, getAfterRec.Body.String(), `"exists":false`)
}

func TestAdminHandler_GetUnknownHostIsNotFound(t *testing.T) {
	store := credentials.NewMemoryStore()
	handler := MakeAdminHandler(store, audit.NoOpLogger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credentials/never-seen.example.com", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandler_ReturnsOK(t *testing.T) {
	handler := MakeHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
