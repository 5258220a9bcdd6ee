package atticprotocol

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Wire prefixes and limits. These are frozen; changing any of them is a
// protocol version bump.
const (
	// CommandPrefix is the prefix for commands sent from CLI to Server.
	CommandPrefix = "CMD:"

	// OKPrefix is the prefix for success responses from Server to CLI.
	OKPrefix = "OK:"

	// ErrorPrefix is the prefix for error responses from Server to CLI.
	ErrorPrefix = "ERR:"

	// EventPrefix is the prefix for async events from Server to CLI.
	EventPrefix = "EVENT:"

	// MultiLineSeparator packs several logical lines into one wire line
	// (ASCII Record Separator, 0x1E).
	MultiLineSeparator = "\x1E"

	// SocketDir is the directory servers create their sockets in.
	SocketDir = "/tmp"

	// SocketPathPrefix is the prefix for server socket paths.
	SocketPathPrefix = "/tmp/attic-"

	// SocketPathSuffix is the suffix for server socket paths.
	SocketPathSuffix = ".sock"

	// MaxLineLength is the maximum allowed length of a command line in bytes.
	MaxLineLength = 4096

	// ProtocolVersion is the version string for the CLI protocol.
	ProtocolVersion = "1.0"
)

// Default timing. Clients can override all of these through Options.
const (
	// CommandTimeout bounds a single request/response round trip.
	CommandTimeout = 30 * time.Second

	// PingTimeout bounds the handshake ping performed by Connect.
	PingTimeout = 1 * time.Second

	// ConnectionTimeout bounds dialing the socket.
	ConnectionTimeout = 5 * time.Second

	// HeartbeatInterval is the period between liveness pings.
	HeartbeatInterval = 5 * time.Second

	// HeartbeatStaleAfter is how old the last pong may get before the
	// connection is declared lost.
	HeartbeatStaleAfter = 10 * time.Second

	// HeartbeatPingTimeout bounds each heartbeat ping.
	HeartbeatPingTimeout = 2 * time.Second
)

// SocketPath returns the socket path a server with the given PID listens on.
func SocketPath(pid int) string {
	return fmt.Sprintf("%s%d%s", SocketPathPrefix, pid, SocketPathSuffix)
}

// SocketGlob is the filepath.Glob pattern matching every server socket.
func SocketGlob() string {
	return filepath.Join(SocketDir, "attic-*"+SocketPathSuffix)
}

// SocketPID extracts the server PID from a socket path created by
// SocketPath. It reports false for paths that don't follow the convention.
func SocketPID(path string) (int, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "attic-") || !strings.HasSuffix(base, SocketPathSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(base, "attic-"), SocketPathSuffix)
	pid, err := strconv.Atoi(digits)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// SplitLines expands a payload packed with MultiLineSeparator into its
// logical lines. An empty payload yields no lines.
func SplitLines(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, MultiLineSeparator)
}

// ExpandLines replaces every MultiLineSeparator with a newline, for display.
func ExpandLines(payload string) string {
	return strings.ReplaceAll(payload, MultiLineSeparator, "\n")
}
