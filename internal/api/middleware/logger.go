package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID returns the ID assigned to the request by Logger, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger tags the request with an ID, taken from X-Request-ID or generated,
// echoes it back and logs the finished request. 5xx responses log at error
// level.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		event := log.WithLevel(level).
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.RequestURI()).
			Str("ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start))
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("http: request processed")
	}
}

// Recovery turns a panic into a 500 carrying the request ID.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("request_id", RequestID(c)).
					Str("path", c.Request.URL.Path).
					Msg("http: recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": RequestID(c),
				})
			}
		}()
		c.Next()
	}
}
