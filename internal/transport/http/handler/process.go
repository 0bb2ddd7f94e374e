package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	ctxlog "github.com/ErlanBelekov/brew-scheduler/internal/log"
	"github.com/ErlanBelekov/brew-scheduler/internal/process"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

// navigators is the part of process.Manager the HTTP layer uses.
type navigators interface {
	Open(ctx context.Context, batchID, userID string) (*process.Navigator, error)
	Get(batchID, userID string) (*process.Navigator, error)
	Close(batchID, userID string) error
}

type ProcessHandler struct {
	navs   navigators
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessHandler(navs navigators, logger *slog.Logger) *ProcessHandler {
	return &ProcessHandler{
		navs:   navs,
		logger: logger.With("component", "process_handler"),
		now:    time.Now,
	}
}

type changeStepRequest struct {
	Direction string `json:"direction" binding:"required"`
}

type startCalendarRequest struct {
	Start  *time.Time  `json:"start"`
	Alerts []time.Time `json:"alerts" binding:"max=50"`
}

// requestContext tags the request context with the batch in the path.
func requestContext(ctx *gin.Context) context.Context {
	return ctxlog.WithBatchID(ctx.Request.Context(), ctx.Param("id"))
}

// navigator resolves the open navigator for the batch in the path, writing
// the error response itself when it cannot.
func (h *ProcessHandler) navigator(ctx *gin.Context, op string) (*process.Navigator, bool) {
	nav, err := h.navs.Get(ctx.Param("id"), middleware.UserID(ctx))
	if err != nil {
		respondError(ctx, h.logger, op, err)
		return nil, false
	}
	return nav, true
}

func (h *ProcessHandler) Open(ctx *gin.Context) {
	nav, err := h.navs.Open(requestContext(ctx), ctx.Param("id"), middleware.UserID(ctx))
	if err != nil {
		respondError(ctx, h.logger, "open batch", err)
		return
	}
	ctx.JSON(http.StatusOK, nav.View())
}

func (h *ProcessHandler) Close(ctx *gin.Context) {
	if err := h.navs.Close(ctx.Param("id"), middleware.UserID(ctx)); err != nil {
		respondError(ctx, h.logger, "close batch", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ProcessHandler) View(ctx *gin.Context) {
	nav, ok := h.navigator(ctx, "get view")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, nav.UpdateViewData())
}

func (h *ProcessHandler) ChangeStep(ctx *gin.Context) {
	var req changeStepRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir, err := process.ParseDirection(req.Direction)
	if err != nil {
		h.logger.WarnContext(requestContext(ctx), "rejected step change", "direction", req.Direction)
		respondError(ctx, h.logger, "change step", err)
		return
	}

	nav, ok := h.navigator(ctx, "change step")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, nav.ChangeStep(dir))
}

func (h *ProcessHandler) GoToActiveStep(ctx *gin.Context) {
	nav, ok := h.navigator(ctx, "go to active step")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, nav.GoToActiveStep())
}

func (h *ProcessHandler) CompleteStep(ctx *gin.Context) {
	nav, ok := h.navigator(ctx, "complete step")
	if !ok {
		return
	}
	view, err := nav.CompleteStep(requestContext(ctx))
	if err != nil {
		respondError(ctx, h.logger, "complete step", err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (h *ProcessHandler) StartCalendar(ctx *gin.Context) {
	var req startCalendarRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := h.now()
	if req.Start != nil {
		start = *req.Start
	}

	nav, ok := h.navigator(ctx, "start calendar")
	if !ok {
		return
	}
	view, err := nav.StartCalendar(requestContext(ctx), start, req.Alerts)
	if err != nil {
		respondError(ctx, h.logger, "start calendar", err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (h *ProcessHandler) ChangeDate(ctx *gin.Context) {
	nav, ok := h.navigator(ctx, "change date")
	if !ok {
		return
	}
	view, err := nav.ChangeDate(requestContext(ctx))
	if err != nil {
		respondError(ctx, h.logger, "change date", err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (h *ProcessHandler) Alerts(ctx *gin.Context) {
	nav, ok := h.navigator(ctx, "get alerts")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"alerts": nav.GetAlerts()})
}

func (h *ProcessHandler) ClearAlerts(ctx *gin.Context) {
	nav, ok := h.navigator(ctx, "clear alerts")
	if !ok {
		return
	}
	removed, err := nav.ClearAlertsForCurrentStep(requestContext(ctx))
	if err != nil {
		respondError(ctx, h.logger, "clear alerts", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"removed": removed})
}
