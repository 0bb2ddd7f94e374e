package notify

import (
	"log/slog"
	"sync"
)

// LogSink writes notifications to the structured log. Background updates
// arrive once per tick, so they are logged at debug level and keepalive is
// only logged when it changes.
type LogSink struct {
	logger *slog.Logger

	mu        sync.Mutex
	keepalive bool
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

func (s *LogSink) SetLocalNotification(message string) {
	s.logger.Info("local notification", "message", message)
}

func (s *LogSink) SetBackgroundNotification(title, body string) {
	s.logger.Debug("background notification", "title", title, "body", body)
}

func (s *LogSink) EnableBackgroundKeepalive() {
	s.setKeepalive(true)
}

func (s *LogSink) DisableBackgroundKeepalive() {
	s.setKeepalive(false)
}

func (s *LogSink) setKeepalive(on bool) {
	s.mu.Lock()
	changed := s.keepalive != on
	s.keepalive = on
	s.mu.Unlock()
	if changed {
		s.logger.Info("background keepalive", "enabled", on)
	}
}
