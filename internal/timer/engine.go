// Package timer owns every live countdown timer of every loaded batch and
// advances them on the global clock.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/ErlanBelekov/brew-scheduler/internal/observe"
	"github.com/google/uuid"
)

const defaultCircleDiameter = 240

// Option configures the engine.
type Option func(*Engine)

// WithCircleDiameter sets the pixel size of the progress circles.
func WithCircleDiameter(d int) Option {
	return func(e *Engine) {
		if d > 0 {
			e.diameter = d
		}
	}
}

// Engine is the single owner of the batch-timer registry. One mutex guards
// the registry, so ticks, structural changes and timer controls never
// interleave. Notifications are queued while the lock is held and delivered
// after it is released.
type Engine struct {
	sink     notify.Sink
	logger   *slog.Logger
	diameter int

	mu       sync.Mutex
	groups   map[string]*domain.BatchTimer
	byID     map[string]*domain.Timer
	feeds    map[string]*observe.Value[[]domain.Timer]
	lastTick time.Time
}

// New creates a timer engine that reports through sink.
func New(sink notify.Sink, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		sink:     sink,
		logger:   logger.With("component", "timer_engine"),
		diameter: defaultCircleDiameter,
		groups:   make(map[string]*domain.BatchTimer),
		byID:     make(map[string]*domain.Timer),
		feeds:    make(map[string]*observe.Value[[]domain.Timer]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddBatchTimer builds the timer group for a batch: one timer per timer step.
// Contiguous concurrent timer steps share First, the id of the run's first
// step. Calling it again for a batch that already has a group is a no-op.
func (e *Engine) AddBatchTimer(batch *domain.Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("add batch timer %s: %w", batch.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.groups[batch.ID]; ok {
		return nil
	}

	group := &domain.BatchTimer{BatchID: batch.ID}
	first := ""
	for _, step := range batch.Process.Schedule {
		if !step.IsTimer() {
			first = ""
			continue
		}
		if !step.Concurrent {
			first = ""
		}
		if first == "" {
			first = step.ID
		}
		group.Timers = append(group.Timers, e.newTimer(batch.ID, first, step))
		if !step.Concurrent {
			first = ""
		}
	}

	e.groups[batch.ID] = group
	for _, t := range group.Timers {
		e.byID[t.ID] = t
	}
	feed := observe.NewValue[[]domain.Timer]()
	feed.Set(snapshot(group))
	e.feeds[batch.ID] = feed

	metrics.TimerGroups.Set(float64(len(e.groups)))
	e.logger.Info("batch timers loaded", "batch_id", batch.ID, "timers", len(group.Timers))
	return nil
}

func (e *Engine) newTimer(batchID, first string, step domain.Step) *domain.Timer {
	t := &domain.Timer{
		ID:            uuid.NewString(),
		BatchID:       batchID,
		StepID:        step.ID,
		Name:          step.Name,
		First:         first,
		Duration:      step.Duration,
		SplitInterval: step.SplitInterval,
		TimeRemaining: step.Duration * secondsPerMinute,
	}
	t.Settings = Settings(t, e.diameter)
	return t
}

// RemoveBatchTimer stops every timer of the batch, closes its observers and
// drops the group. Unknown batch ids are ignored.
func (e *Engine) RemoveBatchTimer(batchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	group, ok := e.groups[batchID]
	if !ok {
		return
	}
	for _, t := range group.Timers {
		t.IsRunning = false
		delete(e.byID, t.ID)
	}
	delete(e.groups, batchID)
	if feed, ok := e.feeds[batchID]; ok {
		feed.Set(snapshot(group))
		feed.Close()
		delete(e.feeds, batchID)
	}

	metrics.TimerGroups.Set(float64(len(e.groups)))
	metrics.TimersRunning.Set(float64(e.runningLocked()))
	e.logger.Info("batch timers removed", "batch_id", batchID, "timers", len(group.Timers))
}

// HasBatchTimer reports whether a group is loaded for the batch.
func (e *Engine) HasBatchTimer(batchID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.groups[batchID]
	return ok
}

// BatchTimer returns a copy of the batch's timers in schedule order.
func (e *Engine) BatchTimer(batchID string) ([]domain.Timer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	group, ok := e.groups[batchID]
	if !ok {
		return nil, false
	}
	return snapshot(group), true
}

// TimersByFirst returns copies of the timers belonging to the concurrent
// block that starts at step firstStepID.
func (e *Engine) TimersByFirst(batchID, firstStepID string) []domain.Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	group, ok := e.groups[batchID]
	if !ok {
		return nil
	}
	var out []domain.Timer
	for _, t := range group.Timers {
		if t.First == firstStepID {
			out = append(out, *t)
		}
	}
	return out
}

// Timer returns a copy of a single timer.
func (e *Engine) Timer(id string) (domain.Timer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.byID[id]
	if !ok {
		return domain.Timer{}, e.notFound(id)
	}
	return *t, nil
}

// Subscribe streams snapshots of a batch's timers, starting with the current
// state. The channel closes when ctx ends or the group is removed.
func (e *Engine) Subscribe(ctx context.Context, batchID string) (<-chan []domain.Timer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	feed, ok := e.feeds[batchID]
	if !ok {
		return nil, fmt.Errorf("subscribe timers %s: %w", batchID, domain.ErrBatchNotFound)
	}
	return feed.Subscribe(ctx), nil
}

func (e *Engine) StartTimer(id string) error {
	err := e.mutate(id, func(t *domain.Timer) {
		t.IsRunning = true
	})
	if err != nil {
		return err
	}
	e.sink.EnableBackgroundKeepalive()
	return nil
}

func (e *Engine) StopTimer(id string) error {
	return e.mutate(id, func(t *domain.Timer) {
		t.IsRunning = false
	})
}

// ResetTimer stops the timer and rewinds it to duration minutes.
func (e *Engine) ResetTimer(id string, duration int) error {
	if duration <= 0 {
		return fmt.Errorf("reset timer %s: %w: duration must be positive", id, domain.ErrInvalidSchedule)
	}
	return e.mutate(id, func(t *domain.Timer) {
		t.IsRunning = false
		t.Duration = duration
		t.TimeRemaining = duration * secondsPerMinute
	})
}

// AddTimeToTimer extends both the nominal duration and the remaining time by
// one minute. It is allowed on stopped and on already expired timers.
func (e *Engine) AddTimeToTimer(id string) error {
	return e.mutate(id, func(t *domain.Timer) {
		t.Duration++
		t.TimeRemaining += secondsPerMinute
	})
}

func (e *Engine) mutate(id string, fn func(*domain.Timer)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.byID[id]
	if !ok {
		return e.notFound(id)
	}
	fn(t)
	t.Settings = Settings(t, e.diameter)
	e.publishLocked(t.BatchID)
	metrics.TimersRunning.Set(float64(e.runningLocked()))
	return nil
}

func (e *Engine) notFound(id string) error {
	e.logger.Warn("timer not found", "timer_id", id)
	return fmt.Errorf("timer %s: %w", id, domain.ErrTimerNotFound)
}

// Tick advances every running timer by one second. It is driven by the
// single global clock and must not be called concurrently with itself.
func (e *Engine) Tick() {
	start := time.Now()

	for _, n := range e.tickLocked(start) {
		n()
	}

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// tickLocked runs the pass under the registry lock and returns the
// notifications to deliver once it is released.
func (e *Engine) tickLocked(start time.Time) []func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var notes []func()
	for batchID, group := range e.groups {
		changed := false
		for _, t := range group.Timers {
			if !t.IsRunning {
				continue
			}
			notes = append(notes, e.advance(t)...)
			changed = true
		}
		if !changed {
			continue
		}
		for _, t := range group.Timers {
			t.Settings = Settings(t, e.diameter)
		}
		e.publishLocked(batchID)
	}
	notes = append(notes, e.summaryLocked())
	e.lastTick = start
	return notes
}

// advance decrements one running timer and returns the notifications it
// raised.
func (e *Engine) advance(t *domain.Timer) []func() {
	wasPositive := t.TimeRemaining > 0
	if wasPositive {
		t.TimeRemaining--
	}

	if t.TimeRemaining == 0 {
		t.IsRunning = false
		if !wasPositive {
			return nil
		}
		metrics.TimerNotificationsTotal.WithLabelValues("complete").Inc()
		e.logger.Info("timer complete", "batch_id", t.BatchID, "timer_id", t.ID, "name", t.Name)
		msg := fmt.Sprintf("%s complete!", t.Name)
		return []func(){func() { e.sink.SetLocalNotification(msg) }}
	}

	if t.SplitInterval > 1 {
		interval := t.TotalSeconds() / t.SplitInterval
		elapsed := t.TotalSeconds() - t.TimeRemaining
		if interval > 0 && elapsed > 0 && elapsed%interval == 0 {
			metrics.TimerNotificationsTotal.WithLabelValues("interval").Inc()
			msg := fmt.Sprintf("%s interval %d of %d complete", t.Name, elapsed/interval, t.SplitInterval)
			return []func(){func() { e.sink.SetLocalNotification(msg) }}
		}
	}
	return nil
}

// summaryLocked picks the running timer closest to expiry and prepares the
// consolidated background notice.
func (e *Engine) summaryLocked() func() {
	var running []*domain.Timer
	for _, group := range e.groups {
		for _, t := range group.Timers {
			if t.IsRunning {
				running = append(running, t)
			}
		}
	}
	metrics.TimersRunning.Set(float64(len(running)))

	if len(running) == 0 {
		return e.sink.DisableBackgroundKeepalive
	}

	sort.Slice(running, func(i, j int) bool {
		if running[i].TimeRemaining != running[j].TimeRemaining {
			return running[i].TimeRemaining < running[j].TimeRemaining
		}
		return running[i].ID < running[j].ID
	})
	nearest := running[0]
	title := nearest.Name
	body := FormatProgressCircleText(nearest.TimeRemaining) + " remaining"
	if others := len(running) - 1; others > 0 {
		body += fmt.Sprintf(" (+%d more running)", others)
	}
	return func() { e.sink.SetBackgroundNotification(title, body) }
}

// LastTick returns the start time of the most recent tick.
func (e *Engine) LastTick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTick
}

func (e *Engine) runningLocked() int {
	n := 0
	for _, group := range e.groups {
		for _, t := range group.Timers {
			if t.IsRunning {
				n++
			}
		}
	}
	return n
}

func (e *Engine) publishLocked(batchID string) {
	group, ok := e.groups[batchID]
	if !ok {
		return
	}
	if feed, ok := e.feeds[batchID]; ok {
		feed.Set(snapshot(group))
	}
}

func snapshot(group *domain.BatchTimer) []domain.Timer {
	out := make([]domain.Timer, len(group.Timers))
	for i, t := range group.Timers {
		out[i] = *t
	}
	return out
}
