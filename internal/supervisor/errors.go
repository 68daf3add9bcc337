package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by Poll before Start.
	ErrNotStarted = errors.New("supervisor: worker not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("supervisor: worker already started")

	// ErrForceKilled is returned by Shutdown when the worker ignored SIGTERM
	// for the whole grace period.
	ErrForceKilled = errors.New("supervisor: worker did not exit gracefully")
)

// LaunchError reports that the worker could not be spawned.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// WorkerExitError reports that the worker exited with a non-zero code.
type WorkerExitError struct {
	Code int
}

func (e *WorkerExitError) Error() string {
	return fmt.Sprintf("worker exited with non-zero code %d", e.Code)
}
