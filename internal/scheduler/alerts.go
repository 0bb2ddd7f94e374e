package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/robfig/cron/v3"
)

// AlertSource is what the sweep needs from the orchestration service.
type AlertSource interface {
	ListActive(ctx context.Context) ([]*domain.Batch, error)
	MarkAlertsNotified(ctx context.Context, batchID string, alertIDs []string) error
}

// AlertDispatcher delivers calendar alerts once their fire time has passed.
type AlertDispatcher struct {
	source AlertSource
	sink   notify.Sink
	logger *slog.Logger
	spec   string
	now    func() time.Time
}

// NewAlertDispatcher validates spec, a standard five-field cron expression.
func NewAlertDispatcher(source AlertSource, sink notify.Sink, logger *slog.Logger, spec string) (*AlertDispatcher, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("alert sweep schedule %q: %w", spec, err)
	}
	return &AlertDispatcher{
		source: source,
		sink:   sink,
		logger: logger.With("component", "alert_dispatcher"),
		spec:   spec,
		now:    time.Now,
	}, nil
}

// Start runs the sweep on its cron schedule until ctx is done. A sweep still
// running when the next one is due causes that one to be skipped.
func (d *AlertDispatcher) Start(ctx context.Context) error {
	l := cronLogger{d.logger}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(d.spec, func() {
		if _, err := d.Sweep(ctx); err != nil {
			d.logger.Error("alert sweep", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule alert sweep: %w", err)
	}

	c.Start()
	d.logger.Info("alert dispatcher started", "schedule", d.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	d.logger.Info("alert dispatcher shut down")
	return nil
}

// Sweep delivers every due, undelivered alert of every active batch and
// returns how many went out.
func (d *AlertDispatcher) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.AlertSweepDuration.Observe(time.Since(start).Seconds())
	}()

	batches, err := d.source.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active batches: %w", err)
	}

	now := d.now()
	sent := 0
	for _, b := range batches {
		var due []string
		for _, a := range b.Alerts {
			if a.Notified || a.Datetime.After(now) {
				continue
			}
			d.deliver(b, a)
			due = append(due, a.ID)
		}
		if len(due) == 0 {
			continue
		}
		if err := d.source.MarkAlertsNotified(ctx, b.ID, due); err != nil {
			// delivered but not marked: they go out again on the next sweep
			d.logger.Error("mark alerts notified", "batch_id", b.ID, "error", err)
			continue
		}
		sent += len(due)
	}

	if sent > 0 {
		metrics.AlertsDispatchedTotal.Add(float64(sent))
		d.logger.Info("alerts dispatched", "count", sent)
	}
	return sent, nil
}

func (d *AlertDispatcher) deliver(b *domain.Batch, a domain.Alert) {
	body := a.Description
	if body == "" {
		body = fmt.Sprintf("%s is due for %s", a.Title, batchLabel(b))
	}
	d.sink.SetBackgroundNotification(a.Title, body)
	d.sink.SetLocalNotification(fmt.Sprintf("%s: %s", a.Title, body))
}

func batchLabel(b *domain.Batch) string {
	if b.RecipeName != "" {
		return b.RecipeName
	}
	return "batch " + b.ID
}

// cronLogger routes cron's internal logging into slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
