package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCode(t *testing.T) {
	tests := []struct {
		code   int
		status int
	}{
		{Success, http.StatusOK},
		{ErrInvalidParams, http.StatusBadRequest},
		{ErrUploadInvalidTransition, http.StatusConflict},
		{ErrUploadNotFound, http.StatusNotFound},
		{ErrUploadOperationFailed, http.StatusInternalServerError},
		{ErrUploadChunkTooLarge, http.StatusRequestEntityTooLarge},
		{424242, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, GetHTTPStatus(tt.code))
		})
	}

	assert.True(t, IsClientError(ErrUploadInvalidTransition))
	assert.False(t, IsServerError(ErrUploadInvalidTransition))
	assert.True(t, IsServerError(ErrUploadOperationFailed))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrInternalServer))

	cause := errors.New("redis: connection refused")
	err := Wrap(cause, ErrUploadOperationFailed, "ledger set")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrUploadOperationFailed, ExtractCode(err))
	assert.Equal(t, "ledger set", GetDetails(err))
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())

	// an AppError keeps its original code when wrapped again
	again := Wrap(fmt.Errorf("drive: %w", err), ErrInternalServer, "retry")
	assert.Equal(t, ErrUploadOperationFailed, again.Code)
	assert.Equal(t, "retry", again.Details)
	assert.True(t, Is(again, ErrUploadOperationFailed))
}

func TestGetDetails(t *testing.T) {
	assert.Empty(t, GetDetails(nil))
	assert.Equal(t, "plain", GetDetails(errors.New("plain")))
	assert.Equal(t, "boom", GetDetails(Wrap(errors.New("boom"), ErrInternalServer)))
	assert.Equal(t, ErrInternalServer, ExtractCode(errors.New("plain")))

	assert.Equal(t, "Upload not found: a,1,b", FormatError(ErrUploadNotFound, "a,1,b"))
}
