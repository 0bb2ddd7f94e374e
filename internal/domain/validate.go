package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the structural invariants a batch must satisfy before the
// scheduler accepts it: a non-empty schedule of unique step ids, a positive
// duration on every timer step, and a committed step inside the schedule.
func (b *Batch) Validate() error {
	if err := validate.Struct(b.Process); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if b.Process.CurrentStep >= len(b.Process.Schedule) {
		return fmt.Errorf("%w: current step %d outside schedule of %d steps",
			ErrInvalidSchedule, b.Process.CurrentStep, len(b.Process.Schedule))
	}
	return nil
}
