package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/resumable-upload/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h(c)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) { Success(c, nil) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, apperrors.Success, resp.Code)
	assert.Equal(t, map[string]any{}, resp.Data)

	w, resp = serve(t, func(c *gin.Context) {
		SuccessWithMessage(c, "Current: idle, try to_receiving", gin.H{"state": "receiving"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Current: idle, try to_receiving", resp.Message)
}

func TestHandleError(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) {
		HandleError(c, apperrors.Wrap(errors.New("merged -> receiving"), apperrors.ErrUploadInvalidTransition))
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.ErrUploadInvalidTransition, resp.Code)
	assert.Equal(t, "Invalid upload state transition: merged -> receiving", resp.Message)

	w, resp = serve(t, func(c *gin.Context) { HandleError(c, errors.New("boom")) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.ErrInternalServer, resp.Code)

	w, _ = serve(t, func(c *gin.Context) {
		ErrorWithCode(c, apperrors.ErrUploadChunkTooLarge, "limit 64MiB")
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
