package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/email"
)

const defaultSendTimeout = 10 * time.Second

// EmailSink mails local notifications to a single recipient. Background
// notices and keepalive changes are too frequent for email and are dropped.
type EmailSink struct {
	mailer  email.Mailer
	to      string
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewEmailSink(mailer email.Mailer, to string, logger *slog.Logger) *EmailSink {
	return &EmailSink{
		mailer:  mailer,
		to:      to,
		logger:  logger.With("component", "email_sink"),
		timeout: defaultSendTimeout,
		now:     time.Now,
	}
}

func (s *EmailSink) SetLocalNotification(message string) {
	n := email.Notice{To: s.to, Message: message, At: s.now()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.mailer.Deliver(ctx, n); err != nil {
			s.logger.Error("mail notification", "to", s.to, "error", err)
		}
	}()
}

func (s *EmailSink) SetBackgroundNotification(string, string) {}
func (s *EmailSink) EnableBackgroundKeepalive()                {}
func (s *EmailSink) DisableBackgroundKeepalive()               {}
