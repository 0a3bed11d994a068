package consult

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "healthnexus-backend/pkg/errors"
	"healthnexus-backend/pkg/response"
)

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteError_SessionNotFound(t *testing.T) {
	c, rec := testContext(t)

	writeError(c, apperrors.SessionNotFoundError())

	body := decodeResponse(t, rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "SESSION_NOT_FOUND", body.Error.Code)
	assert.False(t, body.Success)
}

func TestWriteError_WrappedAppErrorKeepsStatus(t *testing.T) {
	c, rec := testContext(t)

	writeError(c, fmt.Errorf("loading session: %w", apperrors.SessionNotFoundError()))

	body := decodeResponse(t, rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "SESSION_NOT_FOUND", body.Error.Code)
}

func TestWriteError_UnknownErrorIsInternal(t *testing.T) {
	c, rec := testContext(t)

	writeError(c, errors.New("connection reset"))

	body := decodeResponse(t, rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	// Raw causes never leak to the client
	assert.NotContains(t, body.Error.Message, "connection reset")
}
