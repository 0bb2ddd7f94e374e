package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
)

const writeTimeout = 10 * time.Second

type writeTask struct {
	op string
	fn func(ctx context.Context) error
}

// WriteBehind applies persistence work on a single goroutine in the order it
// was submitted. Callers never wait for the result; a failure is logged,
// counted and surfaced to the user, and nothing is rolled back.
type WriteBehind struct {
	queue   chan writeTask
	sink    notify.Sink
	logger  *slog.Logger
	pending sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewWriteBehind(size int, sink notify.Sink, logger *slog.Logger) *WriteBehind {
	if size <= 0 {
		size = 1
	}
	return &WriteBehind{
		queue:  make(chan writeTask, size),
		sink:   sink,
		logger: logger.With("component", "write_behind"),
	}
}

// Submit queues fn and never blocks on a full queue: when the queue is full
// the task is dropped, counted as a failure of op and surfaced to the user.
// The next batch snapshot carries the dropped state. After the writer has
// stopped, fn runs inline so late writes during shutdown are not lost.
func (w *WriteBehind) Submit(op string, fn func(ctx context.Context) error) {
	t := writeTask{op: op, fn: fn}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.run(t)
		return
	}
	w.pending.Add(1)
	select {
	case w.queue <- t:
		metrics.WriteQueueDepth.Inc()
		w.mu.Unlock()
		return
	default:
		w.pending.Done()
		w.mu.Unlock()
	}

	metrics.PersistFailuresTotal.WithLabelValues(op).Inc()
	w.logger.Error("write queue full, change dropped", "op", op, "capacity", cap(w.queue))
	w.sink.SetLocalNotification("Too many changes are waiting to be saved. Your latest change is kept on this device.")
}

func (w *WriteBehind) Start(ctx context.Context) {
	w.logger.Info("write-behind started", "capacity", cap(w.queue))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			w.drain()
			w.logger.Info("write-behind shut down")
			return
		case t := <-w.queue:
			w.runQueued(t)
		}
	}
}

// drain applies everything still queued at shutdown.
func (w *WriteBehind) drain() {
	for {
		select {
		case t := <-w.queue:
			w.runQueued(t)
		default:
			return
		}
	}
}

func (w *WriteBehind) runQueued(t writeTask) {
	defer w.pending.Done()
	metrics.WriteQueueDepth.Dec()
	w.run(t)
}

func (w *WriteBehind) run(t writeTask) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(ctx)
	}()
	if err == nil {
		return
	}

	metrics.PersistFailuresTotal.WithLabelValues(t.op).Inc()
	w.logger.Error("persist failed", "op", t.op, "error", err)
	w.sink.SetLocalNotification("Your latest changes could not be saved. They are kept on this device.")
}

// Flush waits until every task submitted so far has been applied.
func (w *WriteBehind) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
