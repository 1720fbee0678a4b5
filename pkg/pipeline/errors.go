package pipeline

import (
	"fmt"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

// Stage names, used in labels, logs, metrics and spans.
const (
	StageLaunch       = "launch"
	StageMode         = "mode"
	StageQueue        = "queue"
	StageAvailability = "availability"
	StageCodeGate     = "code gate"
	StageCart         = "cart"
	StageCheckout     = "checkout"
	StageCompletion   = "completion"
)

// SoldOutError ends a session as sold_out. It is an expected outcome, not a
// failure.
type SoldOutError struct {
	Stage    string
	Attempts int
	Max      int
}

func (e *SoldOutError) Error() string {
	return fmt.Sprintf("sold out during %s after %d/%d attempts", e.Stage, e.Attempts, e.Max)
}

// Label is the action shown to observers, with the retry count that triggered it.
func (e *SoldOutError) Label() string {
	return fmt.Sprintf("Sold out (%s %d/%d)", e.Stage, e.Attempts, e.Max)
}

// StageError ends a session as failed. Label is the short diagnostic shown to
// observers; Err carries the detail that only goes to the log.
type StageError struct {
	Stage string
	Label string
	Err   error
}

func newStageError(stage, label string, err error) *StageError {
	var wrapped *apperrors.Error
	if err != nil {
		wrapped = apperrors.Wrap(err, apperrors.ErrCodeStageFailed, label)
	} else {
		wrapped = apperrors.New(apperrors.ErrCodeStageFailed, label)
	}
	return &StageError{Stage: stage, Label: label, Err: wrapped.WithContext("stage", stage)}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
