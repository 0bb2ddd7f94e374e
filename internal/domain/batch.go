package domain

import (
	"time"
)

// Process is the ordered schedule of a batch plus the committed position in
// it. CurrentStep is what the batch has completed up to; the step a client is
// merely viewing lives in the navigator, never here.
type Process struct {
	Schedule    []Step `json:"schedule"     validate:"required,min=1,unique=ID,dive"`
	CurrentStep int    `json:"current_step" validate:"gte=0"`
}

type Alert struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"` // name of the step the alert concerns
	Description string    `json:"description,omitempty"`
	Datetime    time.Time `json:"datetime"`
	Notified    bool      `json:"notified"`
}

type Batch struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RecipeName string    `json:"recipe_name"`
	Process    Process   `json:"process"`
	Alerts     []Alert   `json:"alerts"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StepAt returns the step at idx, or false when idx is out of range.
func (b *Batch) StepAt(idx int) (Step, bool) {
	if idx < 0 || idx >= len(b.Process.Schedule) {
		return Step{}, false
	}
	return b.Process.Schedule[idx], true
}

// StepIndex returns the schedule index of the step with the given id, or -1.
func (b *Batch) StepIndex(stepID string) int {
	for i, s := range b.Process.Schedule {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// AlertsFor returns the alerts whose title matches name.
func (b *Batch) AlertsFor(name string) []Alert {
	var out []Alert
	for _, a := range b.Alerts {
		if a.Title == name {
			out = append(out, a)
		}
	}
	return out
}

// RemoveAlertsFor drops every alert titled name and returns how many were removed.
func (b *Batch) RemoveAlertsFor(name string) int {
	kept := b.Alerts[:0]
	removed := 0
	for _, a := range b.Alerts {
		if a.Title == name {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	b.Alerts = kept
	return removed
}

// MergeNotified returns incoming with Notified set on every alert that is
// already marked delivered in stored. Delivery is only ever recorded by the
// sweep, so a snapshot written later must not clear it.
func MergeNotified(stored, incoming []Alert) []Alert {
	delivered := make(map[string]bool, len(stored))
	for _, a := range stored {
		if a.Notified {
			delivered[a.ID] = true
		}
	}
	out := make([]Alert, len(incoming))
	for i, a := range incoming {
		a.Notified = a.Notified || delivered[a.ID]
		out[i] = a
	}
	return out
}

// Clone returns a deep copy so a snapshot can be handed to another goroutine.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	c := *b
	c.Process.Schedule = make([]Step, len(b.Process.Schedule))
	for i, s := range b.Process.Schedule {
		if s.StartDatetime != nil {
			t := *s.StartDatetime
			s.StartDatetime = &t
		}
		c.Process.Schedule[i] = s
	}
	if b.Alerts != nil {
		c.Alerts = make([]Alert, len(b.Alerts))
		copy(c.Alerts, b.Alerts)
	}
	return &c
}
