package utils

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the error part of every response envelope.
type ErrorBody struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Code    int    `json:"code,omitempty"`
}

// Envelope wraps every JSON response.
type Envelope struct {
	Message interface{} `json:"message"`
	Error   *ErrorBody  `json:"error"`
}

// RespondSuccess writes data with status 200.
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Message: data})
}

// RespondStatus writes data with the given status.
func RespondStatus(c *gin.Context, status int, data interface{}) {
	if status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, Envelope{Message: data})
}

// RespondError maps err onto its status and aborts the chain.
func RespondError(c *gin.Context, err error) {
	appErr := AsAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"err", err)
	}
	c.AbortWithStatusJSON(appErr.Status, Envelope{
		Error: &ErrorBody{Type: "message", Content: appErr.Message},
	})
}

// ErrorFrame is sent over a live connection for errors that do not close it.
func ErrorFrame(err error) Envelope {
	appErr := AsAppError(err)
	return Envelope{Error: &ErrorBody{Type: "message", Content: appErr.Message, Code: appErr.CloseCode()}}
}
