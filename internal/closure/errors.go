package closure

import (
	"fmt"

	"github.com/psantueno/ovif-backend-sub000/internal/calendar"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
)

// Re-exported so callers do not import the repo layer just to classify errors.
var (
	ErrNotFound = repo.ErrNotFound
	ErrConflict = repo.ErrConflict
)

// ValidationError rejects a request before any side effect happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// RenderError marks a failure of the artifact renderer so batch accounting
// can tell it apart from storage errors.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render artifact: %v", e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// DeadlineElapsedError rejects a write against a slot whose resolved deadline
// has already passed. It carries the deadline so callers can tell the user
// which date was missed, extension override included.
type DeadlineElapsedError struct {
	Deadline calendar.Deadline
}

func (e *DeadlineElapsedError) Error() string {
	return fmt.Sprintf("deadline elapsed on %s", e.Deadline.End.Format(calendar.DateLayout))
}
