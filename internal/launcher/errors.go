package launcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// ErrExecutableNotFound is returned when no AtticServer binary is found in
// any searched location.
var ErrExecutableNotFound = errors.New("executable not found in PATH or common locations")

// LaunchError reports a server that could not be started or exited before
// creating its socket.
type LaunchError struct {
	Executable string
	PID        int // zero if the process never started
	Err        error
}

func (e *LaunchError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s (PID %d) %v", e.Executable, e.PID, e.Err)
	}
	return fmt.Sprintf("failed to launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Remediation suggests what the user can do next.
func (e *LaunchError) Remediation() string {
	return fmt.Sprintf("Run %s by hand to see why it fails, then connect with --socket.", e.Executable)
}

// SocketTimeoutError reports a server that started but did not create its
// socket before the deadline.
type SocketTimeoutError struct {
	PID    int
	Path   string
	Waited time.Duration
}

func (e *SocketTimeoutError) Error() string {
	return fmt.Sprintf("%s started (PID %d) but socket %s did not appear after %v",
		ServerExecutableName, e.PID, e.Path, e.Waited.Round(time.Millisecond))
}

// Remediation suggests what the user can do next.
func (e *SocketTimeoutError) Remediation() string {
	return fmt.Sprintf("Start %s manually and retry, or raise server.launch_timeout in the config file.", ServerExecutableName)
}

// Remediation returns user-facing advice for a discovery or launch error,
// or "" when there is none.
func Remediation(err error) string {
	var launchErr *LaunchError
	var timeoutErr *SocketTimeoutError
	switch {
	case errors.Is(err, ErrExecutableNotFound):
		return fmt.Sprintf("Install %s on your PATH, or pass --socket to connect to a server started elsewhere.", ServerExecutableName)
	case errors.As(err, &timeoutErr):
		return timeoutErr.Remediation()
	case errors.As(err, &launchErr):
		return launchErr.Remediation()
	case errors.Is(err, atticprotocol.ErrSocketNotFound):
		return fmt.Sprintf("Start %s, or run 'attic launch'.", ServerExecutableName)
	default:
		return ""
	}
}
