package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyRunning is returned by StartRun while another run is active.
var ErrAlreadyRunning = errors.New("a load test is already running")

// ErrNoActiveRun is returned by StopRun when no run is active.
var ErrNoActiveRun = errors.New("no load test is running")

// FatalError marks a transport-level condition that invalidates continuing
// the run, as opposed to a single message's failure.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal transport error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so the engine treats it as non-recoverable. Publishers
// call this for conditions like lost broker connectivity.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ValidationError aggregates the reasons a run configuration was rejected.
type ValidationError struct {
	issues []string
}

func (e *ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "invalid run config"
	}
	return fmt.Sprintf("invalid run config: %s", strings.Join(e.issues, "; "))
}

// Issues returns the individual validation failures.
func (e *ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}
