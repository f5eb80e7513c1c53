package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithUnavailable sends a 503 Service Unavailable response and aborts
// the request. Used when a guard cannot run because its configuration is
// missing.
func AbortWithUnavailable(c *gin.Context, message string, details map[string]any) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, NewAPIError(message, details))
}
