package domain

import "time"

type StepType string

const (
	StepManual   StepType = "manual"
	StepTimer    StepType = "timer"
	StepCalendar StepType = "calendar"
)

// Step is one entry of a batch schedule. Type selects which of the
// variant fields are meaningful:
//   - manual: none, the user acknowledges completion
//   - timer: Duration (minutes) and SplitInterval
//   - calendar: Duration (days) and StartDatetime
type Step struct {
	ID          string   `json:"id"          validate:"required"`
	Name        string   `json:"name"        validate:"required"`
	Type        StepType `json:"type"        validate:"required,oneof=manual timer calendar"`
	Description string   `json:"description,omitempty"`
	Concurrent  bool     `json:"concurrent"`

	Duration      int `json:"duration,omitempty"       validate:"required_if=Type timer,gte=0"`
	SplitInterval int `json:"split_interval,omitempty" validate:"gte=0"`

	StartDatetime *time.Time `json:"start_datetime,omitempty"`
}

func (s Step) IsTimer() bool    { return s.Type == StepTimer }
func (s Step) IsCalendar() bool { return s.Type == StepCalendar }

// CalendarInProgress reports whether the waiting period of a calendar step
// has been started.
func (s Step) CalendarInProgress() bool {
	return s.Type == StepCalendar && s.StartDatetime != nil
}

// StepPatch carries the fields PatchStepByID may change. A nil
// StartDatetime with ClearStart unset leaves the step untouched.
type StepPatch struct {
	StartDatetime *time.Time
	ClearStart    bool
}

// Apply writes the patch onto s.
func (p StepPatch) Apply(s *Step) {
	switch {
	case p.ClearStart:
		s.StartDatetime = nil
	case p.StartDatetime != nil:
		t := *p.StartDatetime
		s.StartDatetime = &t
	}
}
