package notify

import (
	"context"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/observe"
)

type Kind string

const (
	KindLocal      Kind = "local"
	KindBackground Kind = "background"
)

type Notification struct {
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Feed exposes notifications to live observers such as the SSE stream.
// Notifications are events: a subscriber sees each one published after it
// subscribed, and nothing older. Keepalive is state and is kept current.
type Feed struct {
	local      *observe.Stream[Notification]
	background *observe.Stream[Notification]
	keepalive  *observe.Value[bool]
	now        func() time.Time
}

func NewFeed() *Feed {
	return &Feed{
		local:      observe.NewStream[Notification](),
		background: observe.NewStream[Notification](),
		keepalive:  observe.NewValue[bool](),
		now:        time.Now,
	}
}

func (f *Feed) SetLocalNotification(message string) {
	f.local.Publish(Notification{Kind: KindLocal, Message: message, At: f.now()})
}

func (f *Feed) SetBackgroundNotification(title, body string) {
	f.background.Publish(Notification{Kind: KindBackground, Title: title, Message: body, At: f.now()})
}

func (f *Feed) EnableBackgroundKeepalive() { f.keepalive.Set(true) }
func (f *Feed) DisableBackgroundKeepalive() { f.keepalive.Set(false) }

// Local streams one-off notifications.
func (f *Feed) Local(ctx context.Context) <-chan Notification {
	return f.local.Subscribe(ctx)
}

// Background streams the running-timer summary.
func (f *Feed) Background(ctx context.Context) <-chan Notification {
	return f.background.Subscribe(ctx)
}

// Keepalive reports the current keepalive state.
func (f *Feed) Keepalive() bool {
	on, _ := f.keepalive.Get()
	return on
}
