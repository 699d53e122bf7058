// Package timing converts a step's declarative timing into the delay the
// external queue waits before dispatching the job.
package timing

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/careflow/pkg/models"
)

// ErrInvalidTimingValue is returned when a delay or date cannot be parsed.
var ErrInvalidTimingValue = errors.New("invalid timing value")

// TimingError wraps ErrInvalidTimingValue with the offending timing.
type TimingError struct {
	Type  models.TimingType
	Value string
	Err   error
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%s timing %q: %v", e.Type, e.Value, e.Err)
}

func (e *TimingError) Unwrap() error {
	return e.Err
}

func (e *TimingError) Is(target error) bool {
	return target == ErrInvalidTimingValue
}

// Delay is a resolved dispatch delay. A queue-resolved delay carries no
// duration: the queue evaluates the cron expression itself.
type Delay struct {
	Duration      time.Duration
	QueueResolved bool
	Expression    string
}

// Milliseconds returns the delay in milliseconds, or nil when the queue
// resolves it.
func (d Delay) Milliseconds() *int64 {
	if d.QueueResolved {
		return nil
	}

	ms := d.Duration.Milliseconds()

	return &ms
}

// ResolveDelay converts timing into a non-negative delay measured from now.
// It is a pure function of its arguments.
func ResolveDelay(timing models.Timing, now time.Time) (Delay, error) {
	switch timing.Type {
	case models.TimingTypeDelay:
		duration, err := models.ParseDelay(timing.Value)
		if err != nil {
			return Delay{}, &TimingError{Type: timing.Type, Value: timing.Value, Err: err}
		}

		return Delay{Duration: duration}, nil

	case models.TimingTypeFixedTime:
		date, err := models.ParseDate(timing.Date)
		if err != nil {
			return Delay{}, &TimingError{Type: timing.Type, Value: timing.Date, Err: err}
		}

		// past dates dispatch immediately
		return Delay{Duration: max(date.Sub(now), 0)}, nil

	case models.TimingTypeCron:
		return Delay{QueueResolved: true, Expression: timing.Expression}, nil

	default:
		return Delay{}, &TimingError{
			Type:  timing.Type,
			Value: timing.Value,
			Err:   fmt.Errorf("unknown timing type %q", timing.Type),
		}
	}
}
