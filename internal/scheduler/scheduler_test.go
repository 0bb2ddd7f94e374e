package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/process"
	"github.com/ErlanBelekov/brew-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/brew-scheduler/internal/timer"
	"github.com/ErlanBelekov/brew-scheduler/internal/usecase"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---- fakes ----

type fakeSink struct {
	mu         sync.Mutex
	local      []string
	background []string
}

func (s *fakeSink) SetLocalNotification(m string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, m)
}

func (s *fakeSink) SetBackgroundNotification(title, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.background = append(s.background, title)
}

func (s *fakeSink) EnableBackgroundKeepalive()  {}
func (s *fakeSink) DisableBackgroundKeepalive() {}

func (s *fakeSink) localCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local)
}

type countingTicker struct {
	n         atomic.Int32
	panicOnce atomic.Bool
}

func (t *countingTicker) Tick() {
	t.n.Add(1)
	if t.panicOnce.CompareAndSwap(true, false) {
		panic("boom")
	}
}

type fakeAlertSource struct {
	batches []*domain.Batch
	marked  map[string][]string
	markErr error
}

func (s *fakeAlertSource) ListActive(context.Context) ([]*domain.Batch, error) {
	return s.batches, nil
}

func (s *fakeAlertSource) MarkAlertsNotified(_ context.Context, batchID string, ids []string) error {
	if s.markErr != nil {
		return s.markErr
	}
	if s.marked == nil {
		s.marked = make(map[string][]string)
	}
	s.marked[batchID] = append(s.marked[batchID], ids...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ---- Clock ----

func TestClock_TicksAndSurvivesPanic(t *testing.T) {
	ticker := &countingTicker{}
	ticker.panicOnce.Store(true)
	clock := scheduler.NewClock(ticker, discardLogger(), 5*time.Millisecond)

	if err := clock.Ping(context.Background()); err == nil {
		t.Error("Ping before first tick returned nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		clock.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return ticker.n.Load() >= 3 })
	if err := clock.Ping(context.Background()); err != nil {
		t.Errorf("Ping while ticking: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("clock did not stop")
	}
}

// ---- WriteBehind ----

func TestWriteBehind_AppliesInOrder(t *testing.T) {
	w := scheduler.NewWriteBehind(16, &fakeSink{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	var mu sync.Mutex
	var got []int
	for i := range 10 {
		w.Submit("update_batch", func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
			return nil
		})
	}

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 10 {
		t.Errorf("applied %d tasks, want 10", len(got))
	}
}

func TestWriteBehind_FailureRaisesToast(t *testing.T) {
	sink := &fakeSink{}
	w := scheduler.NewWriteBehind(4, sink, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	before := testutil.ToFloat64(metrics.PersistFailuresTotal.WithLabelValues("end_batch"))

	w.Submit("end_batch", func(context.Context) error { return errors.New("db down") })
	w.Submit("end_batch", func(context.Context) error { panic("driver bug") })

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if sink.localCount() != 2 {
		t.Errorf("toasts = %d, want 2", sink.localCount())
	}
	after := testutil.ToFloat64(metrics.PersistFailuresTotal.WithLabelValues("end_batch"))
	if after-before != 2 {
		t.Errorf("failure counter moved by %v, want 2", after-before)
	}
}

func TestWriteBehind_DrainsOnShutdown(t *testing.T) {
	w := scheduler.NewWriteBehind(8, &fakeSink{}, discardLogger())
	var applied atomic.Int32
	for range 3 {
		w.Submit("update_batch", func(context.Context) error {
			applied.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	if applied.Load() != 3 {
		t.Errorf("applied = %d before shutdown, want 3", applied.Load())
	}

	w.Submit("update_batch", func(context.Context) error {
		applied.Add(1)
		return nil
	})
	if applied.Load() != 4 {
		t.Error("submit after shutdown did not run inline")
	}
}

func TestWriteBehind_FullQueueDropsWithoutBlocking(t *testing.T) {
	sink := &fakeSink{}
	w := scheduler.NewWriteBehind(1, sink, discardLogger())
	before := testutil.ToFloat64(metrics.PersistFailuresTotal.WithLabelValues("update_batch"))

	var applied atomic.Int32
	submitted := make(chan struct{})
	go func() {
		for range 3 {
			w.Submit("update_batch", func(context.Context) error {
				applied.Add(1)
				return nil
			})
		}
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	if sink.localCount() != 2 {
		t.Errorf("toasts = %d, want 2", sink.localCount())
	}
	after := testutil.ToFloat64(metrics.PersistFailuresTotal.WithLabelValues("update_batch"))
	if after-before != 2 {
		t.Errorf("failure counter moved by %v, want 2", after-before)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if applied.Load() != 1 {
		t.Errorf("applied = %d, want the one queued task", applied.Load())
	}
}

func TestWriteBehind_SubmitDuringShutdownIsApplied(t *testing.T) {
	w := scheduler.NewWriteBehind(64, &fakeSink{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(stopped)
	}()

	var applied atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				w.Submit("update_batch", func(context.Context) error {
					applied.Add(1)
					return nil
				})
			}
		}()
	}
	cancel()
	wg.Wait()
	<-stopped

	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Second)
	defer flushCancel()
	if err := w.Flush(flushCtx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if applied.Load() != 40 {
		t.Errorf("applied = %d, want 40", applied.Load())
	}
}

// ---- AlertDispatcher ----

func TestNewAlertDispatcher_RejectsBadSchedule(t *testing.T) {
	if _, err := scheduler.NewAlertDispatcher(&fakeAlertSource{}, &fakeSink{}, discardLogger(), "every minute"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestSweep_DeliversDueAlertsOnce(t *testing.T) {
	now := time.Now()
	source := &fakeAlertSource{batches: []*domain.Batch{
		{
			ID:         "b1",
			RecipeName: "Saison",
			Alerts: []domain.Alert{
				{ID: "due", Title: "Ferment", Datetime: now.Add(-time.Minute)},
				{ID: "future", Title: "Ferment", Datetime: now.Add(time.Hour)},
				{ID: "done", Title: "Ferment", Datetime: now.Add(-time.Hour), Notified: true},
			},
		},
		{ID: "b2"},
	}}
	sink := &fakeSink{}
	d, err := scheduler.NewAlertDispatcher(source, sink, discardLogger(), "* * * * *")
	if err != nil {
		t.Fatalf("NewAlertDispatcher: %v", err)
	}

	sent, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if got := source.marked["b1"]; len(got) != 1 || got[0] != "due" {
		t.Errorf("marked = %v, want [due]", got)
	}
	if len(sink.background) != 1 || sink.background[0] != "Ferment" {
		t.Errorf("background = %v", sink.background)
	}
	if sink.localCount() != 1 {
		t.Errorf("local = %d, want 1", sink.localCount())
	}
}

func TestSweep_MarkFailureIsNotCounted(t *testing.T) {
	source := &fakeAlertSource{
		batches: []*domain.Batch{{
			ID:     "b1",
			Alerts: []domain.Alert{{ID: "a", Title: "Dry hop", Datetime: time.Now().Add(-time.Minute)}},
		}},
		markErr: errors.New("db down"),
	}
	d, _ := scheduler.NewAlertDispatcher(source, &fakeSink{}, discardLogger(), "@every 1m")

	sent, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d, want 0 when marking fails", sent)
	}
}

func TestSweep_NavigatorWriteKeepsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := discardLogger()
	sink := &fakeSink{}
	batches := usecase.NewBatchUsecase(memory.NewBatchRepository())
	b, err := batches.StartBatch(ctx, usecase.StartBatchInput{
		UserID:     "user-1",
		RecipeName: "Saison",
		Steps: []domain.Step{
			{Name: "Ferment", Type: domain.StepCalendar, Duration: 14},
			{Name: "Bottle", Type: domain.StepManual},
		},
	})
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	writer := scheduler.NewWriteBehind(16, sink, logger)
	go writer.Start(ctx)
	manager := process.NewManager(batches, timer.New(sink, logger), writer, sink, logger)
	nav, err := manager.Open(ctx, b.ID, "user-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	start := time.Now().AddDate(0, 0, -14)
	if _, err := nav.StartCalendar(ctx, start, []time.Time{time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("StartCalendar: %v", err)
	}
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	d, err := scheduler.NewAlertDispatcher(batches, sink, logger, "@every 1m")
	if err != nil {
		t.Fatalf("NewAlertDispatcher: %v", err)
	}
	if sent, err := d.Sweep(ctx); err != nil || sent != 1 {
		t.Fatalf("first sweep = %d, %v; want 1", sent, err)
	}

	// the navigator still holds the alert as undelivered
	if _, err := nav.CompleteStep(ctx); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if sent, err := d.Sweep(ctx); err != nil || sent != 0 {
		t.Errorf("second sweep = %d, %v; want 0", sent, err)
	}
}
