package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer     = "Internal server error"
	errBatchNotFound      = "Batch not found"
	errTimerNotFound      = "Timer not found"
	errStepNotFound       = "Step not found"
	errBatchArchived      = "This batch has already ended"
	errInvalidDirection   = "Direction must be next or prev"
	errInvalidSchedule    = "Invalid brew schedule"
	errNotCalendarStep    = "The current step is not a calendar step"
	errCalendarNotStarted = "The calendar step has not been started"

	// recovery action for not-found toasts: send the user back to the root view
	actionRoot = "root"
)

// respondError maps domain errors to a fixed set of client messages. Anything
// unrecognised is logged and reported as a 500.
func respondError(ctx *gin.Context, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrBatchNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errBatchNotFound, "action": actionRoot})
	case errors.Is(err, domain.ErrTimerNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errTimerNotFound, "action": actionRoot})
	case errors.Is(err, domain.ErrStepNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errStepNotFound, "action": actionRoot})
	case errors.Is(err, domain.ErrInvalidDirection):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidDirection})
	case errors.Is(err, domain.ErrInvalidSchedule):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSchedule, "detail": err.Error()})
	case errors.Is(err, domain.ErrBatchArchived):
		ctx.JSON(http.StatusConflict, gin.H{"error": errBatchArchived})
	case errors.Is(err, domain.ErrNotCalendarStep):
		ctx.JSON(http.StatusConflict, gin.H{"error": errNotCalendarStep})
	case errors.Is(err, domain.ErrCalendarNotStarted):
		ctx.JSON(http.StatusConflict, gin.H{"error": errCalendarNotStarted})
	default:
		logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
