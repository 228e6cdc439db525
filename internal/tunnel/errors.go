package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the project already has a
	// tunnel starting or running. Stop it first.
	ErrAlreadyRunning = errors.New("tunnel already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("tunnel not running")
	// ErrBusy is returned by Start while the project's tunnel is being deleted.
	ErrBusy = errors.New("tunnel is being deleted")
	// ErrClosed is returned once the manager has been shut down.
	ErrClosed = errors.New("tunnel manager is closed")
	// ErrIdentifierResolution means "tunnel info" ran but yielded no id.
	ErrIdentifierResolution = errors.New("could not resolve tunnel identifier")
	// ErrReadyTimeout means the daemon never registered a connection in time.
	ErrReadyTimeout = errors.New("timed out waiting for tunnel connection")
)

// Step names one control-plane or local step of the lifecycle.
type Step string

const (
	StepCreate       Step = "create"
	StepRoute        Step = "route"
	StepInfo         Step = "info"
	StepConfig       Step = "config"
	StepDeleteRoute  Step = "delete-route"
	StepDeleteTunnel Step = "delete-tunnel"
	StepRemoveConfig Step = "remove-config"
)

// StepError reports a control-plane step that failed in a way that is not
// treated as success.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s step failed: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// LaunchError means the daemon process could not be spawned.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch tunnel daemon: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// ReadinessError means the daemon did not become ready. ExitCode is -1 when
// the process was killed (timeout, cancellation) rather than exiting itself.
type ReadinessError struct {
	ExitCode int
	Err      error
}

func (e *ReadinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tunnel not ready (exit code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("tunnel daemon exited with code %d before registering a connection", e.ExitCode)
}

func (e *ReadinessError) Unwrap() error { return e.Err }

// CleanupError is a best-effort teardown step that failed. It is logged and
// published, never returned from Delete.
type CleanupError struct {
	Step Step
	Err  error
}

func (e *CleanupError) Error() string { return fmt.Sprintf("cleanup %s failed: %v", e.Step, e.Err) }
func (e *CleanupError) Unwrap() error { return e.Err }
