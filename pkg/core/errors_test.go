package core

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_StatusCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindDatabaseError, http.StatusInternalServerError},
		{KindProviderResponseTooLarge, http.StatusBadGateway},
		{KindProviderResponseFailure, http.StatusBadGateway},
		{KindProviderDeserializationError, http.StatusBadGateway},
		{KindTerraformServiceNotSupported, http.StatusBadGateway},
		{KindProviderGetBuildUrlFailure, http.StatusInternalServerError},
		{KindConcurrentProviderFetch, http.StatusTooManyRequests},
		{KindTooManyRequestsInChannel, http.StatusInternalServerError},
		{KindBrokenRefresherChannel, http.StatusInternalServerError},
		{KindNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := NewError(tt.kind, "boom", nil)
			assert.Equal(t, tt.want, err.StatusCode())
			assert.Equal(t, tt.want, StatusCode(err))
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindDatabaseError, "query failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestStatusCode_UntypedError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
