// Package notify delivers timer and step notifications. All sinks are
// fire-and-forget: callers never wait on delivery and never see an error.
package notify

// Sink receives notifications raised by the timer engine, the navigator and
// the alert dispatcher.
type Sink interface {
	// SetLocalNotification raises a one-off user-visible message (timer
	// finished, persistence failed, alert due).
	SetLocalNotification(message string)
	// SetBackgroundNotification replaces the single persistent notice that
	// summarises running timers.
	SetBackgroundNotification(title, body string)
	EnableBackgroundKeepalive()
	DisableBackgroundKeepalive()
}

// Multi fans every call out to each sink in order.
type Multi []Sink

func (m Multi) SetLocalNotification(message string) {
	for _, s := range m {
		s.SetLocalNotification(message)
	}
}

func (m Multi) SetBackgroundNotification(title, body string) {
	for _, s := range m {
		s.SetBackgroundNotification(title, body)
	}
}

func (m Multi) EnableBackgroundKeepalive() {
	for _, s := range m {
		s.EnableBackgroundKeepalive()
	}
}

func (m Multi) DisableBackgroundKeepalive() {
	for _, s := range m {
		s.DisableBackgroundKeepalive()
	}
}
