// =============================================================================
// launcher.go - AtticServer Discovery and Launch
// =============================================================================
//
// Finds a running AtticServer by its socket file in /tmp, or launches a new
// one as a detached subprocess and waits for its socket to appear.
//
// The server search order for the AtticServer executable:
//   1. Same directory as the calling binary
//   2. PATH environment variable
//   3. Common locations: /usr/local/bin, /opt/homebrew/bin, ~/.local/bin
//
// A launch succeeds when the socket file exists, not when the process exits:
// the server is expected to keep running. Servers this package launched can
// be stopped again with Server.Terminate; servers that were discovered are
// left alone.
//
// =============================================================================

package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/huegli/attic-sub009/atticprotocol"
)

const (
	// ServerExecutableName is the name of the AtticServer binary.
	ServerExecutableName = "AtticServer"

	// DefaultTimeout is how long to wait for the socket after launch.
	DefaultTimeout = 4 * time.Second

	// DefaultPollInterval is how often to look for the socket while waiting.
	DefaultPollInterval = 100 * time.Millisecond
)

// Options controls discovery and launch.
type Options struct {
	// Executable is an explicit server binary. When empty the binary is
	// searched for with FindExecutable.
	Executable string

	// Silent passes --silent to the server to disable audio.
	Silent bool

	// ROMPath passes --rom-path to the server when set.
	ROMPath string

	Timeout      time.Duration
	PollInterval time.Duration

	// SocketGlob and SocketPath override the socket naming convention.
	// They default to atticprotocol.SocketGlob and atticprotocol.SocketPath.
	SocketGlob string
	SocketPath func(pid int) string

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SocketGlob == "" {
		o.SocketGlob = atticprotocol.SocketGlob()
	}
	if o.SocketPath == nil {
		o.SocketPath = atticprotocol.SocketPath
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Server identifies a server to connect to.
type Server struct {
	SocketPath string
	PID        int

	// Launched is true when this process started the server.
	Launched bool
}

// Terminate sends SIGTERM to a server this process launched. It does
// nothing for discovered servers or a server that has already exited.
func (s Server) Terminate() error {
	if !s.Launched || s.PID <= 0 {
		return nil
	}
	if err := unix.Kill(s.PID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate %s (PID %d): %w", ServerExecutableName, s.PID, err)
	}
	return nil
}

// EnsureServer returns socketPath unchanged when it is set, otherwise a
// discovered server, otherwise a freshly launched one.
func EnsureServer(ctx context.Context, socketPath string, opts Options) (Server, error) {
	opts = opts.withDefaults()

	if socketPath != "" {
		pid, _ := atticprotocol.SocketPID(socketPath)
		return Server{SocketPath: socketPath, PID: pid}, nil
	}

	found, err := DiscoverIn(opts.SocketGlob, opts.Logger)
	if err == nil {
		pid, _ := atticprotocol.SocketPID(found)
		return Server{SocketPath: found, PID: pid}, nil
	}
	if !errors.Is(err, atticprotocol.ErrSocketNotFound) {
		return Server{}, err
	}

	opts.Logger.Info("no running server found, launching", "executable", ServerExecutableName)
	return Launch(ctx, opts)
}

// Launch starts the server detached from this process's session with its
// output discarded, then polls until its socket exists. A server that
// exits or fails to create its socket in time is reported with a distinct
// error type; one that is still running at the deadline is sent SIGTERM.
func Launch(ctx context.Context, opts Options) (Server, error) {
	opts = opts.withDefaults()

	exePath := opts.Executable
	if exePath == "" {
		var err error
		exePath, err = FindExecutable(ServerExecutableName)
		if err != nil {
			return Server{}, err
		}
	}

	cmd := exec.Command(exePath, serverArgs(opts)...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	// A new session keeps the server alive when the terminal that started
	// us goes away, and keeps our ^C from reaching it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return Server{}, &LaunchError{Executable: exePath, Err: err}
	}

	pid := cmd.Process.Pid
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	opts.Logger.Debug("server process started", "executable", exePath, "pid", pid)

	path := opts.SocketPath(pid)
	waited, err := waitForSocket(ctx, path, opts.Timeout, opts.PollInterval, exited)
	if err == nil {
		opts.Logger.Info("server ready", "socket", path, "pid", pid, "waited", waited)
		return Server{SocketPath: path, PID: pid, Launched: true}, nil
	}

	var exitErr *processExitedError
	if errors.As(err, &exitErr) {
		return Server{}, &LaunchError{Executable: exePath, PID: pid, Err: exitErr}
	}

	// Still running without a socket: don't leave it behind.
	if killErr := unix.Kill(pid, unix.SIGTERM); killErr != nil && !errors.Is(killErr, unix.ESRCH) {
		opts.Logger.Warn("could not stop unresponsive server", "pid", pid, "error", killErr)
	}
	if ctx.Err() != nil {
		return Server{}, fmt.Errorf("launch %s: %w", ServerExecutableName, ctx.Err())
	}
	return Server{}, &SocketTimeoutError{PID: pid, Path: path, Waited: waited}
}

func serverArgs(opts Options) []string {
	var args []string
	if opts.Silent {
		args = append(args, "--silent")
	}
	if opts.ROMPath != "" {
		args = append(args, "--rom-path", opts.ROMPath)
	}
	return args
}

type processExitedError struct {
	err error
}

func (e *processExitedError) Error() string {
	if e.err == nil {
		return "exited before creating its socket"
	}
	return fmt.Sprintf("exited before creating its socket: %v", e.err)
}

func (e *processExitedError) Unwrap() error { return e.err }

var errSocketWaitTimeout = errors.New("socket wait timed out")

// waitForSocket polls for path until it exists, the process exits, the
// timeout passes, or ctx is done. It returns how long it waited.
func waitForSocket(ctx context.Context, path string, timeout, interval time.Duration, exited <-chan error) (time.Duration, error) {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return time.Since(start), nil
		}
		select {
		case <-ticker.C:
		case err := <-exited:
			// The socket may have been created just before exit.
			if _, statErr := os.Stat(path); statErr == nil {
				return time.Since(start), nil
			}
			return time.Since(start), &processExitedError{err: err}
		case <-deadline.C:
			return time.Since(start), errSocketWaitTimeout
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		}
	}
}

// FindExecutable searches for name next to the running binary, then on
// PATH, then in the common install directories.
func FindExecutable(name string) (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	for _, dir := range commonDirs() {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%s: %w", name, ErrExecutableNotFound)
}

func commonDirs() []string {
	dirs := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"))
	}
	return dirs
}

// isExecutable reports whether path is a regular file this process may
// execute.
func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
