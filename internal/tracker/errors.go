package tracker

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/motiontrack/internal/backend"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRetryNotAllowed   = errors.New("job cannot be retried")
	ErrInvalidSubmission = errors.New("invalid submission")
)

// SubmitError is returned when a submission could not be placed with the
// backend. Attempts counts the requests actually sent.
type SubmitError struct {
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("analysis submission failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Reason turns a submission failure into the message shown on a failed job.
func Reason(err error) string {
	var se *SubmitError
	if errors.As(err, &se) {
		err = se.Err
	}

	switch {
	case errors.Is(err, backend.ErrNotFound):
		return "Video not found on the analysis server"
	case errors.Is(err, backend.ErrBackendOverloaded):
		return "Analysis server is overloaded, please try again later"
	case errors.Is(err, backend.ErrBackendTimeout):
		return "Analysis server did not respond in time"
	case errors.Is(err, backend.ErrBackendUnreachable):
		return "Analysis server is unreachable"
	default:
		return err.Error()
	}
}
