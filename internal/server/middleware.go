package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"newsletter/internal/logger"
	"newsletter/internal/metrics"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog logs each request and records its latency.
func AccessLog(log *logger.Logger, obs *metrics.Observer) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		elapsed := time.Since(started)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		obs.RecordRequest(c.Request.Method, route, status, elapsed)

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", c.GetString(requestIDKey),
		}
		if status >= http.StatusInternalServerError {
			log.Error("request failed", args...)
			return
		}
		log.Debug("request", args...)
	}
}

// JSONMiddleware rejects request bodies that are not JSON.
func JSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
			contentType := c.ContentType()
			if contentType != "" && contentType != gin.MIMEJSON {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, APIResponse{
					Success: false,
					Error:   "Content-Type must be application/json",
				})
				return
			}
		}
		c.Next()
	}
}
