package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/middleware"
	"github.com/ErlanBelekov/brew-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
)

type batchStarter interface {
	StartBatch(ctx context.Context, input usecase.StartBatchInput) (*domain.Batch, error)
}

type BatchHandler struct {
	batches batchStarter
	logger  *slog.Logger
}

func NewBatchHandler(batches batchStarter, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{batches: batches, logger: logger.With("component", "batch_handler")}
}

type startBatchRequest struct {
	RecipeName string        `json:"recipe_name" binding:"max=200"`
	Steps      []domain.Step `json:"steps"       binding:"required,min=1"`
}

type startBatchResponse struct {
	ID        string    `json:"id"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *BatchHandler) Start(ctx *gin.Context) {
	var req startBatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.batches.StartBatch(ctx.Request.Context(), usecase.StartBatchInput{
		UserID:     middleware.UserID(ctx),
		RecipeName: req.RecipeName,
		Steps:      req.Steps,
	})
	if err != nil {
		respondError(ctx, h.logger, "start batch", err)
		return
	}

	ctx.JSON(http.StatusCreated, startBatchResponse{
		ID:        b.ID,
		Steps:     len(b.Process.Schedule),
		CreatedAt: b.CreatedAt,
	})
}
