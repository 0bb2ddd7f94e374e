package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
)

// Manager keeps one navigator per open batch.
type Manager struct {
	orch   Orchestrator
	timers Timers
	writer Committer
	sink   notify.Sink
	logger *slog.Logger

	mu   sync.Mutex
	navs map[string]*Navigator
}

func NewManager(orch Orchestrator, timers Timers, writer Committer, sink notify.Sink, logger *slog.Logger) *Manager {
	return &Manager{
		orch:   orch,
		timers: timers,
		writer: writer,
		sink:   sink,
		logger: logger,
		navs:   make(map[string]*Navigator),
	}
}

// Open loads a batch into the scheduler and registers its timers. Opening an
// already open batch returns the existing navigator. A batch owned by another
// user is reported as not found.
func (m *Manager) Open(ctx context.Context, batchID, userID string) (*Navigator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if nav, ok := m.navs[batchID]; ok {
		if !owns(nav.UserID(), userID) {
			return nil, fmt.Errorf("open batch %s: %w", batchID, domain.ErrBatchNotFound)
		}
		return nav, nil
	}

	batch, err := m.orch.GetBatchByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("open batch %s: %w", batchID, err)
	}
	if !owns(batch.UserID, userID) {
		return nil, fmt.Errorf("open batch %s: %w", batchID, domain.ErrBatchNotFound)
	}
	if batch.Archived {
		return nil, fmt.Errorf("open batch %s: %w", batchID, domain.ErrBatchArchived)
	}
	if err := m.timers.AddBatchTimer(batch); err != nil {
		return nil, fmt.Errorf("open batch %s: %w", batchID, err)
	}

	nav := newNavigator(batch, m.orch, m.timers, m.writer, m.sink, m.logger)
	m.navs[batchID] = nav
	m.logger.InfoContext(ctx, "batch opened", "batch_id", batchID, "open_batches", len(m.navs))
	return nav, nil
}

// Get returns the navigator of an open batch.
func (m *Manager) Get(batchID, userID string) (*Navigator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nav, ok := m.navs[batchID]
	if !ok || !owns(nav.UserID(), userID) {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrBatchNotFound)
	}
	return nav, nil
}

// Close tears down a batch's timers and its navigator.
func (m *Manager) Close(batchID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nav, ok := m.navs[batchID]
	if !ok || !owns(nav.UserID(), userID) {
		return fmt.Errorf("close batch %s: %w", batchID, domain.ErrBatchNotFound)
	}
	m.timers.RemoveBatchTimer(batchID)
	nav.close()
	delete(m.navs, batchID)
	m.logger.Info("batch closed", "batch_id", batchID, "open_batches", len(m.navs))
	return nil
}

// CloseAll releases every open batch. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, nav := range m.navs {
		m.timers.RemoveBatchTimer(id)
		nav.close()
		delete(m.navs, id)
	}
}

// owns treats an empty caller as trusted, which is how internal callers and
// tests without auth reach the manager.
func owns(owner, caller string) bool {
	return caller == "" || owner == caller
}
