// Package email mails brew notifications to the brewer.
package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/resend/resend-go/v2"
)

const (
	subjectPrefix = "[Brew] "
	subjectRunes  = 60
)

// Notice is a single brew notification addressed to one brewer.
type Notice struct {
	To      string
	Message string
	At      time.Time
}

// Subject is the first line of the message, shortened to fit an inbox list.
func (n Notice) Subject() string {
	line, _, _ := strings.Cut(strings.TrimSpace(n.Message), "\n")
	if line == "" {
		line = "Brew update"
	}
	if utf8.RuneCountInString(line) > subjectRunes {
		line = string([]rune(line)[:subjectRunes-1]) + "…"
	}
	return subjectPrefix + line
}

func (n Notice) HTML() string {
	return fmt.Sprintf("<p>%s</p><p><small>Brew scheduler, %s</small></p>",
		strings.ReplaceAll(html.EscapeString(n.Message), "\n", "<br>"),
		n.At.Format("Mon 2 Jan 15:04"))
}

func (n Notice) Text() string {
	return fmt.Sprintf("%s\n\nBrew scheduler, %s\n", n.Message, n.At.Format("Mon 2 Jan 15:04"))
}

type Mailer interface {
	Deliver(ctx context.Context, n Notice) error
}

// LogMailer logs notices instead of mailing them. Used in ENV=local.
type LogMailer struct {
	logger *slog.Logger
}

func (m *LogMailer) Deliver(_ context.Context, n Notice) error {
	m.logger.Info("brew notice", "to", n.To, "subject", n.Subject(), "message", n.Message)
	return nil
}

// ResendMailer mails notices through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
	logger *slog.Logger
}

func (m *ResendMailer) Deliver(ctx context.Context, n Notice) error {
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{n.To},
		Subject: n.Subject(),
		Html:    n.HTML(),
		Text:    n.Text(),
	})
	if err != nil {
		return fmt.Errorf("mail brew notice to %s: %w", n.To, err)
	}
	m.logger.Debug("brew notice mailed", "to", n.To, "email_id", sent.Id)
	return nil
}

// NewMailer returns a LogMailer for ENV=local and a ResendMailer otherwise.
func NewMailer(env, apiKey, from string, logger *slog.Logger) Mailer {
	logger = logger.With("component", "mailer")
	if env == "local" {
		return &LogMailer{logger: logger}
	}
	return &ResendMailer{client: resend.NewClient(apiKey), from: from, logger: logger}
}
