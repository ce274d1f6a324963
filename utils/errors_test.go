package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMatchesByStatus(t *testing.T) {
	err := errors.Wrap(NotFound("Dialog missing"), "load")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAccessDenied)

	appErr := AsAppError(err)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
	assert.Equal(t, "Dialog missing", appErr.Message)
	assert.Equal(t, 4040, appErr.CloseCode())

	assert.Equal(t, "Access denied", AsAppError(AccessDenied()).Message)
}

func TestAsAppErrorHidesUnknownErrors(t *testing.T) {
	appErr := AsAppError(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, "Internal server error", appErr.Message)
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondError(c, AlreadyExists("Username already exists"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["message"])
	assert.Equal(t, map[string]interface{}{"type": "message", "content": "Username already exists"}, body["error"])
}

func TestErrorFrame(t *testing.T) {
	frame := ErrorFrame(BadRequest())
	require.NotNil(t, frame.Error)
	assert.Equal(t, 4000, frame.Error.Code)
	assert.Equal(t, "Bad request", frame.Error.Content)
}
