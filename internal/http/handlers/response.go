package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookworm-backend/internal/http/middleware"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// One of the ErrCode constants
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"chat not found"`
}

// fail aborts with an ErrorResponse. Server errors are logged together with
// whatever the handler attached through c.Error; those details never reach
// the client.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("route", c.FullPath()).
			Str("code", code)
		if len(c.Errors) > 0 {
			ev = ev.Strs("errors", c.Errors.Errors())
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer NoRoute and NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
