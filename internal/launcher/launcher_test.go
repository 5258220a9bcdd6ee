// =============================================================================
// launcher_test.go - Tests for Discovery and Launch
// =============================================================================
//
// Launch is exercised with small shell scripts standing in for AtticServer.
// They write their socket file (a plain file is enough, since Launch only
// checks that the path exists) under a temp directory, using $$ for the PID
// so the path matches what Launch expects.
//
// =============================================================================

package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// deadPID is above the kernel's pid_max, so no process can have it.
const deadPID = 999999999

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// writeScript creates an executable shell script in dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// testOptions points socket naming at dir.
func testOptions(dir string) Options {
	return Options{
		Timeout:      2 * time.Second,
		PollInterval: 20 * time.Millisecond,
		SocketGlob:   filepath.Join(dir, "attic-*.sock"),
		SocketPath: func(pid int) string {
			return filepath.Join(dir, fmt.Sprintf("attic-%d.sock", pid))
		},
		Logger: quietLogger(),
	}
}

// =============================================================================
// Discovery
// =============================================================================

func TestDiscoverNothing(t *testing.T) {
	dir := t.TempDir()
	_, err := DiscoverIn(filepath.Join(dir, "attic-*.sock"), quietLogger())
	assert.ErrorIs(t, err, atticprotocol.ErrSocketNotFound)
}

func TestDiscoverRemovesStaleSockets(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, fmt.Sprintf("attic-%d.sock", deadPID))
	live := filepath.Join(dir, fmt.Sprintf("attic-%d.sock", os.Getpid()))
	touch(t, stale, time.Now())
	touch(t, live, time.Now().Add(-time.Hour))

	got, err := DiscoverIn(filepath.Join(dir, "attic-*.sock"), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, live, got)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, live)
}

func TestDiscoverOnlyStale(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, fmt.Sprintf("attic-%d.sock", deadPID)), time.Now())

	_, err := DiscoverIn(filepath.Join(dir, "attic-*.sock"), quietLogger())
	assert.ErrorIs(t, err, atticprotocol.ErrSocketNotFound)
}

func TestDiscoverPrefersNewest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, fmt.Sprintf("attic-%d.sock", os.Getppid()))
	newer := filepath.Join(dir, fmt.Sprintf("attic-%d.sock", os.Getpid()))
	touch(t, older, time.Now().Add(-time.Hour))
	touch(t, newer, time.Now())

	got, err := DiscoverIn(filepath.Join(dir, "attic-*.sock"), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestDiscoverIgnoresForeignNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "attic-notapid.sock"), time.Now())

	_, err := DiscoverIn(filepath.Join(dir, "attic-*.sock"), quietLogger())
	assert.ErrorIs(t, err, atticprotocol.ErrSocketNotFound)
	assert.FileExists(t, filepath.Join(dir, "attic-notapid.sock"))
}

// =============================================================================
// Executable search
// =============================================================================

func TestIsExecutable(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "bin", "exit 0\n")
	plain := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(plain, []byte("hello"), 0o644))

	assert.True(t, isExecutable(exe))
	assert.False(t, isExecutable(plain))
	assert.False(t, isExecutable(dir), "directories have execute bits for traversal only")
	assert.False(t, isExecutable(filepath.Join(dir, "missing")))
	assert.False(t, isExecutable(""))
}

func TestFindExecutableOnPath(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "attic-fake-server", "exit 0\n")
	t.Setenv("PATH", dir)

	got, err := FindExecutable("attic-fake-server")
	require.NoError(t, err)
	assert.Equal(t, exe, got)
}

func TestFindExecutableMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := FindExecutable("attic-no-such-server")
	assert.ErrorIs(t, err, ErrExecutableNotFound)
	assert.NotEmpty(t, Remediation(err))
}

func TestCommonDirs(t *testing.T) {
	dirs := commonDirs()
	assert.Contains(t, dirs, "/usr/local/bin")
	assert.Contains(t, dirs, "/opt/homebrew/bin")
}

// =============================================================================
// Launch
// =============================================================================

func TestLaunchWaitsForSocket(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	exe := writeScript(t, dir, "server", fmt.Sprintf(
		"echo \"$@\" > %s\nsleep 0.1\ntouch %s/attic-$$.sock\nexec sleep 30\n", argsFile, dir))

	opts := testOptions(dir)
	opts.Executable = exe
	opts.Silent = true
	opts.ROMPath = "/roms"

	srv, err := Launch(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Terminate() })

	assert.True(t, srv.Launched)
	assert.Positive(t, srv.PID)
	assert.Equal(t, opts.SocketPath(srv.PID), srv.SocketPath)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "--silent --rom-path /roms", strings.TrimSpace(string(args)))
}

func TestLaunchSocketTimeoutIsBounded(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "server", "exec sleep 30\n")

	opts := testOptions(dir)
	opts.Executable = exe
	opts.Timeout = 300 * time.Millisecond

	start := time.Now()
	_, err := Launch(context.Background(), opts)
	elapsed := time.Since(start)

	var timeoutErr *SocketTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Positive(t, timeoutErr.PID)
	assert.Equal(t, opts.SocketPath(timeoutErr.PID), timeoutErr.Path)
	assert.GreaterOrEqual(t, timeoutErr.Waited, opts.Timeout)
	assert.Less(t, elapsed, opts.Timeout+time.Second)
	assert.Contains(t, Remediation(err), "manually")

	// The unresponsive process was stopped.
	assert.Eventually(t, func() bool { return !processAlive(timeoutErr.PID) },
		2*time.Second, 20*time.Millisecond)
}

func TestLaunchProcessExitsEarly(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "server", "exit 3\n")

	opts := testOptions(dir)
	opts.Executable = exe

	start := time.Now()
	_, err := Launch(context.Background(), opts)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, exe, launchErr.Executable)
	assert.Contains(t, err.Error(), "exited before creating its socket")
	assert.Less(t, time.Since(start), opts.Timeout, "an exited process should not wait out the timeout")
}

func TestLaunchStartFailure(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.Executable = filepath.Join(dir, "missing")

	_, err := Launch(context.Background(), opts)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Zero(t, launchErr.PID)
	assert.NotEmpty(t, launchErr.Remediation())
}

func TestLaunchHonorsContext(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "server", "exec sleep 30\n")

	opts := testOptions(dir)
	opts.Executable = exe
	opts.Timeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Launch(ctx, opts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTerminate(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "server", fmt.Sprintf("touch %s/attic-$$.sock\nexec sleep 30\n", dir))

	opts := testOptions(dir)
	opts.Executable = exe

	srv, err := Launch(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, srv.Terminate())

	assert.Eventually(t, func() bool { return !processAlive(srv.PID) },
		2*time.Second, 20*time.Millisecond)

	// Terminating again, or terminating a discovered server, is a no-op.
	assert.NoError(t, srv.Terminate())
	assert.NoError(t, Server{SocketPath: "/tmp/x.sock", PID: os.Getpid()}.Terminate())
}

// =============================================================================
// EnsureServer
// =============================================================================

func TestEnsureServerExplicitSocket(t *testing.T) {
	srv, err := EnsureServer(context.Background(), "/tmp/attic-42.sock", Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, Server{SocketPath: "/tmp/attic-42.sock", PID: 42}, srv)
}

func TestEnsureServerDiscovers(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, fmt.Sprintf("attic-%d.sock", os.Getpid()))
	touch(t, live, time.Now())

	opts := testOptions(dir)
	opts.Executable = filepath.Join(dir, "never-run")

	srv, err := EnsureServer(context.Background(), "", opts)
	require.NoError(t, err)
	assert.Equal(t, live, srv.SocketPath)
	assert.False(t, srv.Launched)
}

func TestEnsureServerLaunches(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "server", fmt.Sprintf("touch %s/attic-$$.sock\nexec sleep 30\n", dir))

	opts := testOptions(dir)
	opts.Executable = exe

	srv, err := EnsureServer(context.Background(), "", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Terminate() })
	assert.True(t, srv.Launched)
}

func TestRemediation(t *testing.T) {
	assert.Empty(t, Remediation(errors.New("other")))
	assert.NotEmpty(t, Remediation(atticprotocol.ErrSocketNotFound))
	assert.NotEmpty(t, Remediation(fmt.Errorf("wrapped: %w", &SocketTimeoutError{PID: 1})))
}
