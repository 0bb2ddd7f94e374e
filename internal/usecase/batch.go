package usecase

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/repository"
	"github.com/google/uuid"
)

// BatchUsecase is the orchestration service the navigator persists
// through. It also creates batches and feeds the alert sweep.
type BatchUsecase struct {
	repo repository.BatchRepository
}

func NewBatchUsecase(repo repository.BatchRepository) *BatchUsecase {
	return &BatchUsecase{repo: repo}
}

type StartBatchInput struct {
	UserID     string
	RecipeName string
	Steps      []domain.Step
}

// StartBatch instantiates a recipe's steps into a new batch positioned on
// its first step. Steps without an id get one.
func (u *BatchUsecase) StartBatch(ctx context.Context, input StartBatchInput) (*domain.Batch, error) {
	steps := make([]domain.Step, len(input.Steps))
	copy(steps, input.Steps)
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		steps[i].StartDatetime = nil
	}

	b := &domain.Batch{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		RecipeName: input.RecipeName,
		Process:    domain.Process{Schedule: steps},
		Alerts:     []domain.Alert{},
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}

	created, err := u.repo.Create(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}
	return created, nil
}

func (u *BatchUsecase) GetBatchByID(ctx context.Context, id string) (*domain.Batch, error) {
	b, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (u *BatchUsecase) UpdateBatch(ctx context.Context, b *domain.Batch) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if err := u.repo.Update(ctx, b); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

func (u *BatchUsecase) EndBatchByID(ctx context.Context, id string) error {
	if err := u.repo.End(ctx, id); err != nil {
		return fmt.Errorf("end batch: %w", err)
	}
	return nil
}

func (u *BatchUsecase) PatchStepByID(ctx context.Context, batchID, stepID string, patch domain.StepPatch) error {
	if err := u.repo.PatchStep(ctx, batchID, stepID, patch); err != nil {
		return fmt.Errorf("patch step: %w", err)
	}
	return nil
}

func (u *BatchUsecase) ListActive(ctx context.Context) ([]*domain.Batch, error) {
	batches, err := u.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active batches: %w", err)
	}
	return batches, nil
}

func (u *BatchUsecase) MarkAlertsNotified(ctx context.Context, batchID string, alertIDs []string) error {
	if err := u.repo.MarkAlertsNotified(ctx, batchID, alertIDs); err != nil {
		return fmt.Errorf("mark alerts notified: %w", err)
	}
	return nil
}
