package tasks

import (
	"errors"
	"fmt"
)

// ErrRunnerInit is matched by every construction-time failure. Callers treat
// it as "task not created", never as a runtime fault.
var ErrRunnerInit = errors.New("runner: init failed")

// Kind-specific init errors.
var (
	ErrHeartbeatInit = fmt.Errorf("heartbeat: %w", ErrRunnerInit)
	ErrOnceInit      = fmt.Errorf("once: %w", ErrRunnerInit)
	ErrTransferInit  = fmt.Errorf("transfer: %w", ErrRunnerInit)
	ErrDecryptInit   = fmt.Errorf("decrypt: %w", ErrRunnerInit)
	ErrExtractInit   = fmt.Errorf("extract: %w", ErrRunnerInit)
)

var (
	ErrMissingParam       = errors.New("params: missing required parameter")
	ErrInvalidParam       = errors.New("params: invalid parameter")
	ErrUnknownCommand     = errors.New("command: unknown command")
	ErrUnknownCategory    = errors.New("daemon: unknown task category")
	ErrTaskNotFound       = errors.New("daemon: task not found")
	ErrUnknownMethod      = errors.New("daemon: unknown runner method")
	ErrDaemonNotRunning   = errors.New("daemon: not running")
	ErrInsufficientSpace  = errors.New("storage: insufficient free space")
	ErrInvalidProjectName = errors.New("project: invalid name")
	ErrNotConfigured      = errors.New("deps: collaborator not configured")
	ErrEmptySource        = errors.New("storage: source file missing or empty")
)

// IsInitError reports whether err came from runner construction.
func IsInitError(err error) bool {
	return errors.Is(err, ErrRunnerInit)
}

func initError(kind error, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
