package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// Discover returns the socket of the most recently started live server
// under /tmp, or atticprotocol.ErrSocketNotFound.
func Discover() (string, error) {
	return DiscoverIn(atticprotocol.SocketGlob(), slog.Default())
}

// DiscoverIn scans the sockets matching pattern. A socket whose PID no
// longer exists is left over from a crashed server and is removed. Among
// the live ones the most recently modified wins.
func DiscoverIn(pattern string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("discover sockets %q: %w", pattern, err)
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, path := range matches {
		pid, ok := atticprotocol.SocketPID(path)
		if !ok {
			continue
		}
		if !processAlive(pid) {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("could not remove stale socket", "socket", path, "error", err)
			} else {
				logger.Debug("removed stale socket", "socket", path, "pid", pid)
			}
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = path, info.ModTime()
		}
	}

	if best == "" {
		return "", atticprotocol.ErrSocketNotFound
	}
	return best, nil
}

// processAlive probes pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
