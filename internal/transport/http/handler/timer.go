package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

type timerControl interface {
	Timer(id string) (domain.Timer, error)
	BatchTimer(batchID string) ([]domain.Timer, bool)
	StartTimer(id string) error
	StopTimer(id string) error
	ResetTimer(id string, duration int) error
	AddTimeToTimer(id string) error
}

type TimerHandler struct {
	timers timerControl
	navs   navigators
	logger *slog.Logger
}

func NewTimerHandler(timers timerControl, navs navigators, logger *slog.Logger) *TimerHandler {
	return &TimerHandler{timers: timers, navs: navs, logger: logger.With("component", "timer_handler")}
}

type resetTimerRequest struct {
	Duration int `json:"duration" binding:"required,min=1"`
}

// List returns every timer of an open batch.
func (h *TimerHandler) List(ctx *gin.Context) {
	batchID := ctx.Param("id")
	if _, err := h.navs.Get(batchID, middleware.UserID(ctx)); err != nil {
		respondError(ctx, h.logger, "list timers", err)
		return
	}
	timers, ok := h.timers.BatchTimer(batchID)
	if !ok {
		// the batch ended and its timers are gone
		timers = []domain.Timer{}
	}
	ctx.JSON(http.StatusOK, gin.H{"timers": timers})
}

func (h *TimerHandler) Start(ctx *gin.Context) {
	h.control(ctx, "start timer", h.timers.StartTimer)
}

func (h *TimerHandler) Stop(ctx *gin.Context) {
	h.control(ctx, "stop timer", h.timers.StopTimer)
}

func (h *TimerHandler) AddTime(ctx *gin.Context) {
	h.control(ctx, "add time", h.timers.AddTimeToTimer)
}

func (h *TimerHandler) Reset(ctx *gin.Context) {
	var req resetTimerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.control(ctx, "reset timer", func(id string) error {
		return h.timers.ResetTimer(id, req.Duration)
	})
}

// control applies fn to the timer in the path once the caller is known to own
// its batch, then returns the timer's new state.
func (h *TimerHandler) control(ctx *gin.Context, op string, fn func(id string) error) {
	id := ctx.Param("id")
	t, err := h.timers.Timer(id)
	if err != nil {
		respondError(ctx, h.logger, op, err)
		return
	}
	if _, err := h.navs.Get(t.BatchID, middleware.UserID(ctx)); err != nil {
		respondError(ctx, h.logger, op, fmt.Errorf("%s %s: %w", op, id, domain.ErrTimerNotFound))
		return
	}

	if err := fn(id); err != nil {
		respondError(ctx, h.logger, op, err)
		return
	}
	t, err = h.timers.Timer(id)
	if err != nil {
		respondError(ctx, h.logger, op, err)
		return
	}
	ctx.JSON(http.StatusOK, t)
}
