package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/supplybalance/internal/api/middleware"
	"github.com/andresuchdata/supplybalance/internal/domain"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOutOfOrder),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrRunInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoSnapshot):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRunTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Unmapped errors are logged
// and reported with a generic message.
func respondError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", middleware.RequestID(c)).
			Str("path", c.Request.URL.Path).
			Msg(message)
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

func badRequest(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": details})
}
