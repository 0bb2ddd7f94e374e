// Package memory is a process-local batch store for STORE=memory and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
)

// BatchRepository keeps deep copies, so callers can never mutate stored
// state through a pointer they were handed.
type BatchRepository struct {
	mu      sync.RWMutex
	batches map[string]*domain.Batch
	now     func() time.Time
}

func NewBatchRepository() *BatchRepository {
	return &BatchRepository{
		batches: make(map[string]*domain.Batch),
		now:     time.Now,
	}
}

func (r *BatchRepository) Create(_ context.Context, b *domain.Batch) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[b.ID]; ok {
		return nil, fmt.Errorf("%w: duplicate batch id %s", domain.ErrInvalidSchedule, b.ID)
	}
	stored := b.Clone()
	if stored.Alerts == nil {
		stored.Alerts = []domain.Alert{}
	}
	now := r.now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.batches[b.ID] = stored
	return stored.Clone(), nil
}

func (r *BatchRepository) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return b.Clone(), nil
}

func (r *BatchRepository) Update(_ context.Context, b *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.activeLocked(b.ID)
	if err != nil {
		return err
	}
	next := b.Clone()
	stored.Process = next.Process
	stored.Alerts = domain.MergeNotified(stored.Alerts, next.Alerts)
	stored.UpdatedAt = r.now().UTC()
	return nil
}

func (r *BatchRepository) End(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.activeLocked(id)
	if err != nil {
		return err
	}
	stored.Archived = true
	stored.UpdatedAt = r.now().UTC()
	return nil
}

func (r *BatchRepository) PatchStep(_ context.Context, batchID, stepID string, patch domain.StepPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.activeLocked(batchID)
	if err != nil {
		return err
	}
	idx := stored.StepIndex(stepID)
	if idx == -1 {
		return fmt.Errorf("patch step %s: %w", stepID, domain.ErrStepNotFound)
	}
	patch.Apply(&stored.Process.Schedule[idx])
	stored.UpdatedAt = r.now().UTC()
	return nil
}

func (r *BatchRepository) ListActive(_ context.Context) ([]*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Batch
	for _, b := range r.batches {
		if !b.Archived {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *BatchRepository) MarkAlertsNotified(_ context.Context, batchID string, alertIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[batchID]
	if !ok {
		return domain.ErrBatchNotFound
	}
	for i := range stored.Alerts {
		if slices.Contains(alertIDs, stored.Alerts[i].ID) {
			stored.Alerts[i].Notified = true
		}
	}
	return nil
}

func (r *BatchRepository) activeLocked(id string) (*domain.Batch, error) {
	stored, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	if stored.Archived {
		return nil, domain.ErrBatchArchived
	}
	return stored, nil
}
