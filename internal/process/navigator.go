// Package process walks a batch through its schedule. It keeps the step a
// client is looking at separate from the step the batch has committed to,
// and moves over runs of concurrent steps as a single unit.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/ErlanBelekov/brew-scheduler/internal/observe"
	"github.com/google/uuid"
)

type Direction string

const (
	Next Direction = "next"
	Prev Direction = "prev"
)

// ParseDirection validates a direction received from a client.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Next, Prev:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidDirection, s)
	}
}

// Orchestrator persists batches. The navigator only ever calls it from the
// write-behind queue, never inline with a user action.
type Orchestrator interface {
	GetBatchByID(ctx context.Context, id string) (*domain.Batch, error)
	UpdateBatch(ctx context.Context, batch *domain.Batch) error
	EndBatchByID(ctx context.Context, id string) error
	PatchStepByID(ctx context.Context, batchID, stepID string, patch domain.StepPatch) error
}

// Committer runs persistence work in the background, in submission order.
type Committer interface {
	Submit(op string, fn func(ctx context.Context) error)
}

// Timers is the part of the timer engine the navigator drives.
type Timers interface {
	AddBatchTimer(batch *domain.Batch) error
	RemoveBatchTimer(batchID string)
	TimersByFirst(batchID, firstStepID string) []domain.Timer
}

// View is what the hosting view layer renders for a batch.
type View struct {
	BatchID       string          `json:"batch_id"`
	StepType      domain.StepType `json:"step_type"`
	StepData      []domain.Step   `json:"step_data"`
	Timers        []domain.Timer  `json:"timers,omitempty"`
	AtViewStart   bool            `json:"at_view_start"`
	AtViewEnd     bool            `json:"at_view_end"`
	Alerts        []domain.Alert  `json:"alerts"`
	ViewStepIndex int             `json:"view_step_index"`
	CurrentStep   int             `json:"current_step"`
	IsCurrent     bool            `json:"is_current"`
	Archived      bool            `json:"archived"`
}

// Navigator holds the navigation state of one open batch.
//
// Two cursors exist and must not be confused:
//   - viewStepIndex is the step being shown. ChangeStep, GoToActiveStep and
//     CompleteStep write it.
//   - batch.Process.CurrentStep is the committed position. Only CompleteStep
//     writes it; alerts and calendar operations read it.
type Navigator struct {
	orch   Orchestrator
	timers Timers
	writer Committer
	sink   notify.Sink
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	batch         *domain.Batch
	viewStepIndex int
	view          *observe.Value[View]
}

func newNavigator(batch *domain.Batch, orch Orchestrator, timers Timers, writer Committer, sink notify.Sink, logger *slog.Logger) *Navigator {
	n := &Navigator{
		orch:          orch,
		timers:        timers,
		writer:        writer,
		sink:          sink,
		logger:        logger.With("component", "navigator", "batch_id", batch.ID),
		now:           time.Now,
		batch:         batch,
		viewStepIndex: batch.Process.CurrentStep,
		view:          observe.NewValue[View](),
	}
	n.publishLocked()
	return n
}

// BatchID returns the id of the batch being navigated.
func (n *Navigator) BatchID() string { return n.batch.ID }

// UserID returns the owner of the batch.
func (n *Navigator) UserID() string { return n.batch.UserID }

// Batch returns a copy of the navigator's batch.
func (n *Navigator) Batch() *domain.Batch {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.batch.Clone()
}

// GetStep resolves the index a move in direction would land on, pivoting on
// the committed step when onComplete is set and on the viewed step otherwise.
// It returns -1 when there is nowhere to go.
func (n *Navigator) GetStep(onComplete bool, direction Direction) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.getStepLocked(onComplete, direction)
}

func (n *Navigator) getStepLocked(onComplete bool, direction Direction) int {
	schedule := n.batch.Process.Schedule
	pivot := n.viewStepIndex
	if onComplete {
		pivot = n.batch.Process.CurrentStep
	}

	switch direction {
	case Next:
		if pivot >= len(schedule)-1 {
			return -1
		}
		if schedule[pivot].Concurrent {
			return n.indexAfterSkippingConcurrentLocked(Next, pivot)
		}
		return pivot + 1
	case Prev:
		if pivot <= 0 {
			return -1
		}
		if schedule[pivot-1].Concurrent {
			return n.indexAfterSkippingConcurrentLocked(Prev, pivot-1)
		}
		return pivot - 1
	default:
		n.logger.Error("unknown step direction", "direction", direction)
		return -1
	}
}

// IndexAfterSkippingConcurrent scans from start until it meets a step that is
// not concurrent. Going forward it returns that step's index; going backward
// it returns the index just after it, which is the first step of the block
// being left. It returns -1 if the block runs to the edge of the schedule.
func (n *Navigator) IndexAfterSkippingConcurrent(direction Direction, start int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.indexAfterSkippingConcurrentLocked(direction, start)
}

func (n *Navigator) indexAfterSkippingConcurrentLocked(direction Direction, start int) int {
	schedule := n.batch.Process.Schedule
	switch direction {
	case Next:
		for i := max(start, 0); i < len(schedule); i++ {
			if !schedule[i].Concurrent {
				return i
			}
		}
	case Prev:
		for i := min(start, len(schedule)-1); i >= 0; i-- {
			if !schedule[i].Concurrent {
				return i + 1
			}
		}
	default:
		n.logger.Error("unknown step direction", "direction", direction)
	}
	return -1
}

// View returns the current view model.
func (n *Navigator) View() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.buildViewLocked()
}

// Subscribe streams view models, starting with the current one.
func (n *Navigator) Subscribe(ctx context.Context) <-chan View {
	return n.view.Subscribe(ctx)
}

// UpdateViewData recomputes and publishes the view for the current cursor.
func (n *Navigator) UpdateViewData() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.publishLocked()
}

func (n *Navigator) publishLocked() View {
	v := n.buildViewLocked()
	n.view.Set(v)
	return v
}

func (n *Navigator) buildViewLocked() View {
	b := n.batch
	v := View{
		BatchID:       b.ID,
		ViewStepIndex: n.viewStepIndex,
		CurrentStep:   b.Process.CurrentStep,
		IsCurrent:     n.viewStepIndex == b.Process.CurrentStep,
		Archived:      b.Archived,
		AtViewStart:   n.getStepLocked(false, Prev) == -1,
		AtViewEnd:     n.getStepLocked(false, Next) == -1,
		Alerts:        n.alertsLocked(),
	}

	step, ok := b.StepAt(n.viewStepIndex)
	if !ok {
		n.logger.Error("view cursor outside schedule", "view_step_index", n.viewStepIndex)
		return v
	}
	v.StepType = step.Type
	if !step.IsTimer() {
		v.StepData = []domain.Step{step}
		return v
	}

	v.StepData = n.timerBlockLocked(n.viewStepIndex)
	if !b.Archived {
		v.Timers = n.timers.TimersByFirst(b.ID, step.ID)
	}
	return v
}

// timerBlockLocked returns the timer step at idx together with the
// concurrent timer steps that directly follow it when it opens a block.
func (n *Navigator) timerBlockLocked(idx int) []domain.Step {
	schedule := n.batch.Process.Schedule
	block := []domain.Step{schedule[idx]}
	if !schedule[idx].Concurrent {
		return block
	}
	for i := idx + 1; i < len(schedule); i++ {
		s := schedule[i]
		if !s.IsTimer() || !s.Concurrent {
			break
		}
		block = append(block, s)
	}
	return block
}

// ChangeStep moves the view cursor. The committed step is untouched; a move
// with nowhere to go leaves the view as it is.
func (n *Navigator) ChangeStep(direction Direction) View {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx := n.getStepLocked(false, direction)
	if idx == -1 {
		n.logger.Debug("no step in direction", "direction", direction, "view_step_index", n.viewStepIndex)
		return n.buildViewLocked()
	}
	n.viewStepIndex = idx
	return n.publishLocked()
}

// GoToActiveStep points the view back at the committed step.
func (n *Navigator) GoToActiveStep() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.viewStepIndex = n.batch.Process.CurrentStep
	return n.publishLocked()
}

// CompleteStep commits the step after the current one. Completing the last
// step ends the batch. The local state changes immediately; persistence is
// queued and a failure there is reported without rolling anything back.
func (n *Navigator) CompleteStep(ctx context.Context) (View, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	b := n.batch
	if b.Archived {
		return n.buildViewLocked(), fmt.Errorf("complete step %s: %w", b.ID, domain.ErrBatchArchived)
	}

	next := n.getStepLocked(true, Next)
	if next == -1 {
		n.endLocked()
		return n.publishLocked(), nil
	}

	b.Process.CurrentStep = next
	b.UpdatedAt = n.now().UTC()
	n.viewStepIndex = next
	metrics.StepTransitionsTotal.WithLabelValues("complete").Inc()
	n.logger.InfoContext(ctx, "step completed", "current_step", next)

	snapshot := b.Clone()
	n.writer.Submit("update_batch", func(ctx context.Context) error {
		return n.orch.UpdateBatch(ctx, snapshot)
	})
	return n.publishLocked(), nil
}

func (n *Navigator) endLocked() {
	b := n.batch
	n.timers.RemoveBatchTimer(b.ID)
	b.Archived = true
	b.UpdatedAt = n.now().UTC()
	metrics.StepTransitionsTotal.WithLabelValues("end").Inc()
	n.logger.Info("batch ended")

	n.sink.SetLocalNotification(fmt.Sprintf("%s is complete. Record your final measurements.", batchLabel(b)))
	id := b.ID
	n.writer.Submit("end_batch", func(ctx context.Context) error {
		return n.orch.EndBatchByID(ctx, id)
	})
}

// GetAlerts returns the alerts of the committed step. Alerts are tied to a
// step by its name, so two steps sharing a name share alerts.
func (n *Navigator) GetAlerts() []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alertsLocked()
}

func (n *Navigator) alertsLocked() []domain.Alert {
	step, ok := n.batch.StepAt(n.batch.Process.CurrentStep)
	if !ok {
		return nil
	}
	return n.batch.AlertsFor(step.Name)
}

// ClearAlertsForCurrentStep permanently removes the committed step's alerts
// and returns how many were dropped.
func (n *Navigator) ClearAlertsForCurrentStep(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	b := n.batch
	if b.Archived {
		return 0, fmt.Errorf("clear alerts %s: %w", b.ID, domain.ErrBatchArchived)
	}
	step, ok := b.StepAt(b.Process.CurrentStep)
	if !ok {
		return 0, fmt.Errorf("clear alerts %s: %w", b.ID, domain.ErrStepNotFound)
	}

	removed := b.RemoveAlertsFor(step.Name)
	if removed > 0 {
		n.logger.InfoContext(ctx, "alerts cleared", "step", step.Name, "removed", removed)
		n.persistLocked()
	}
	n.publishLocked()
	return removed, nil
}

// StartCalendar begins the waiting period of the committed calendar step and
// schedules its alerts. With no alert times given, a single alert fires when
// the period ends.
func (n *Navigator) StartCalendar(ctx context.Context, start time.Time, alertTimes []time.Time) (View, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	step, err := n.calendarStepLocked("start calendar")
	if err != nil {
		return n.buildViewLocked(), err
	}

	if len(alertTimes) == 0 {
		alertTimes = []time.Time{start.AddDate(0, 0, step.Duration)}
	}

	b := n.batch
	start = start.UTC()
	b.Process.Schedule[b.Process.CurrentStep].StartDatetime = &start
	b.RemoveAlertsFor(step.Name)
	for _, at := range alertTimes {
		b.Alerts = append(b.Alerts, domain.Alert{
			ID:          uuid.NewString(),
			Title:       step.Name,
			Description: step.Description,
			Datetime:    at.UTC(),
		})
	}
	metrics.StepTransitionsTotal.WithLabelValues("calendar_start").Inc()
	n.logger.InfoContext(ctx, "calendar started", "step", step.Name, "alerts", len(alertTimes))

	batchID, stepID := b.ID, step.ID
	n.writer.Submit("patch_step", func(ctx context.Context) error {
		return n.orch.PatchStepByID(ctx, batchID, stepID, domain.StepPatch{StartDatetime: &start})
	})
	n.persistLocked()
	return n.publishLocked(), nil
}

// ChangeDate abandons the running waiting period of the committed calendar
// step so new dates can be chosen. Its alerts are dropped.
func (n *Navigator) ChangeDate(ctx context.Context) (View, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	step, err := n.calendarStepLocked("change date")
	if err != nil {
		return n.buildViewLocked(), err
	}
	if !step.CalendarInProgress() {
		return n.buildViewLocked(), fmt.Errorf("change date %s: %w", n.batch.ID, domain.ErrCalendarNotStarted)
	}

	b := n.batch
	b.Process.Schedule[b.Process.CurrentStep].StartDatetime = nil
	removed := b.RemoveAlertsFor(step.Name)
	metrics.StepTransitionsTotal.WithLabelValues("calendar_reset").Inc()
	n.logger.InfoContext(ctx, "calendar dates cleared", "step", step.Name, "alerts_removed", removed)
	n.sink.SetLocalNotification(fmt.Sprintf("Select new dates for %s", step.Name))

	batchID, stepID := b.ID, step.ID
	n.writer.Submit("patch_step", func(ctx context.Context) error {
		return n.orch.PatchStepByID(ctx, batchID, stepID, domain.StepPatch{ClearStart: true})
	})
	n.persistLocked()
	return n.publishLocked(), nil
}

func (n *Navigator) calendarStepLocked(op string) (domain.Step, error) {
	b := n.batch
	if b.Archived {
		return domain.Step{}, fmt.Errorf("%s %s: %w", op, b.ID, domain.ErrBatchArchived)
	}
	step, ok := b.StepAt(b.Process.CurrentStep)
	if !ok {
		return domain.Step{}, fmt.Errorf("%s %s: %w", op, b.ID, domain.ErrStepNotFound)
	}
	if !step.IsCalendar() {
		return domain.Step{}, fmt.Errorf("%s %s: %w", op, b.ID, domain.ErrNotCalendarStep)
	}
	return step, nil
}

func (n *Navigator) persistLocked() {
	n.batch.UpdatedAt = n.now().UTC()
	snapshot := n.batch.Clone()
	n.writer.Submit("update_batch", func(ctx context.Context) error {
		return n.orch.UpdateBatch(ctx, snapshot)
	})
}

func (n *Navigator) close() {
	n.view.Close()
}

func batchLabel(b *domain.Batch) string {
	if b.RecipeName != "" {
		return b.RecipeName
	}
	return "Batch " + b.ID
}
