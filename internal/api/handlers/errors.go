package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/receiptd/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps queue and printer errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidJob):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_job", Message: err.Error()})
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, core.ErrPrinterNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "printer_not_found", Message: err.Error()})
	case errors.Is(err, core.ErrQueueStopped):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "queue_stopped", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}
