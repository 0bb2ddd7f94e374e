package domain

import "errors"

var (
	ErrBatchNotFound      = errors.New("batch not found")
	ErrTimerNotFound      = errors.New("timer not found")
	ErrStepNotFound       = errors.New("step not found")
	ErrBatchArchived      = errors.New("batch has already ended")
	ErrInvalidDirection   = errors.New("invalid step direction")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrNotCalendarStep    = errors.New("current step is not a calendar step")
	ErrCalendarNotStarted = errors.New("calendar step has not been started")
)
