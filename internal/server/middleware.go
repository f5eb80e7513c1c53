package server

import (
	"crypto/subtle"
	"strings"

	"github.com/freshcart/push-engine/internal/errors"
	"github.com/freshcart/push-engine/internal/logger"
	"github.com/gin-gonic/gin"
)

// RequireTriggerSecret guards the scheduler and admin routes with the
// shared secret the external cron/admin surface is configured with.
func RequireTriggerSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			errors.AbortWithUnavailable(c, "trigger secret not configured", nil)
			return
		}

		provided := c.GetHeader("X-Trigger-Secret")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			errors.AbortWithUnauthorized(c, "invalid trigger secret", nil)
			return
		}

		c.Next()
	}
}

// CORSMiddleware mirrors the storefront origins allowed to hit the
// subscription endpoints.
func CORSMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Trigger-Secret")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware stamps each request with an id for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
