package repository

import (
	"context"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
)

// BatchRepository stores batches. Postgres backs it in deployed
// environments; the in-memory implementation serves local runs and tests.
type BatchRepository interface {
	Create(ctx context.Context, batch *domain.Batch) (*domain.Batch, error)
	GetByID(ctx context.Context, id string) (*domain.Batch, error)

	// Update writes the process and alerts of an active batch. It fails with
	// domain.ErrBatchArchived once the batch has ended.
	Update(ctx context.Context, batch *domain.Batch) error
	// End archives a batch. A batch ends exactly once.
	End(ctx context.Context, id string) error
	PatchStep(ctx context.Context, batchID, stepID string, patch domain.StepPatch) error

	// alert sweep
	ListActive(ctx context.Context) ([]*domain.Batch, error)
	MarkAlertsNotified(ctx context.Context, batchID string, alertIDs []string) error
}
