// =============================================================================
// shell_test.go - Tests for the REPL Loop
// =============================================================================
//
// The shell runs against the attictest fake server with a piped line editor,
// so these tests drive the same code path as "echo cmd | attic" or Emacs
// comint. Stdout and stderr share one buffer so the tests see output in the
// order it was written.
//
// =============================================================================

package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huegli/attic-sub009/atticprotocol"
	"github.com/huegli/attic-sub009/atticprotocol/attictest"
	"github.com/huegli/attic-sub009/internal/translate"
)

// syncBuffer is a bytes.Buffer safe for the event goroutine and the shell
// to write at the same time.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quietClientOptions() atticprotocol.ClientOptions {
	return atticprotocol.ClientOptions{Logger: discardLogger(), HeartbeatInterval: -1}
}

type harness struct {
	server *attictest.Server
	client *atticprotocol.Client
	out    *syncBuffer
}

func newHarness(t *testing.T, handler attictest.Handler, clientOpts atticprotocol.ClientOptions) *harness {
	t.Helper()
	server := attictest.NewServer(t, handler)
	client := atticprotocol.NewClientWithOptions(clientOpts)
	require.NoError(t, client.Connect(server.Path()))
	t.Cleanup(func() { client.Close() })
	return &harness{server: server, client: client, out: &syncBuffer{}}
}

func (h *harness) shell(input io.Reader, opts Options) *Shell {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	editor := NewPipedLineEditor(input, h.out)
	return New(h.client, editor, NewOutput(h.out, h.out, false), opts)
}

// sent returns what the server received, minus handshake and heartbeat pings.
func (h *harness) sent() []string {
	var cmds []string
	for _, text := range h.server.Received() {
		if text != "ping" {
			cmds = append(cmds, text)
		}
	}
	return cmds
}

// run feeds input to a new shell and returns its output.
func run(t *testing.T, handler attictest.Handler, input string) (string, *harness) {
	t.Helper()
	h := newHarness(t, handler, quietClientOptions())
	err := h.shell(strings.NewReader(input), Options{}).Run(context.Background())
	require.NoError(t, err)
	return h.out.String(), h
}

// =============================================================================
// Prompts and modes
// =============================================================================

func TestModePrompts(t *testing.T) {
	assert.Equal(t, "[monitor] > ", ModePrompt(translate.ModeMonitor))
	assert.Equal(t, "[basic] > ", ModePrompt(translate.ModeBasic))
	assert.Equal(t, "[dos] D1:> ", ModePrompt(translate.ModeDOS))
	assert.Equal(t, "> ", ModePrompt(translate.Mode(99)))
}

func TestStartsInBasicMode(t *testing.T) {
	out, _ := run(t, nil, "")
	assert.True(t, strings.HasPrefix(out, "[basic] > "), out)
}

func TestModeSwitching(t *testing.T) {
	out, h := run(t, nil, ".monitor\n.dos\n.BASIC\n.quit\n")

	assert.Contains(t, out, "Switched to Monitor mode")
	assert.Contains(t, out, "[monitor] > ")
	assert.Contains(t, out, "Switched to DOS mode")
	assert.Contains(t, out, "[dos] D1:> ")
	assert.Contains(t, out, "Switched to BASIC mode")
	assert.Empty(t, h.sent(), "local dot-commands stay local")
}

func TestQuitStopsReading(t *testing.T) {
	_, h := run(t, nil, ".quit\nstatus\n")
	assert.Empty(t, h.sent())
}

func TestEmptyAndBlankLinesIgnored(t *testing.T) {
	_, h := run(t, nil, "\n   \n\t\n.quit\n")
	assert.Empty(t, h.sent())
}

func TestEOFExits(t *testing.T) {
	out, _ := run(t, nil, ".monitor\n")
	assert.True(t, strings.HasSuffix(out, "[monitor] > \n"), "EOF ends the prompt line: %q", out)
}

// =============================================================================
// Sending
// =============================================================================

func TestBasicInputIsTyped(t *testing.T) {
	_, h := run(t, nil, "10 PRINT A\nrun\n")
	assert.Equal(t, []string{`inject keys 10\sPRINT\sA\n`, "basic run"}, h.sent())
}

func TestGoExpandsToSequence(t *testing.T) {
	_, h := run(t, nil, ".monitor\ng $0600\n")
	assert.Equal(t, []string{"registers pc=$0600", "resume"}, h.sent())
}

func TestSequenceStopsAtError(t *testing.T) {
	handler := attictest.Script(map[string]string{"registers pc=$0600": "ERR:emulator must be paused"})
	out, h := run(t, handler, ".monitor\ng $0600\n")

	assert.Equal(t, []string{"registers pc=$0600"}, h.sent())
	assert.Contains(t, out, "Error: emulator must be paused")
}

func TestMultiLineResponse(t *testing.T) {
	handler := attictest.Script(map[string]string{
		"disassemble $E000 2": "OK:$E000  A9 00     LDA #$00\x1E$E002  60        RTS",
	})
	out, _ := run(t, handler, ".monitor\nd $E000 2\n")
	assert.Contains(t, out, "$E000  A9 00     LDA #$00\n$E002  60        RTS\n")
}

func TestServerErrorDoesNotEndSession(t *testing.T) {
	handler := attictest.Script(map[string]string{"dos dir": "ERR:no disk in drive"})
	out, h := run(t, handler, ".dos\ndir\ndrives\n")

	assert.Contains(t, out, "Error: no disk in drive")
	assert.Equal(t, []string{"dos dir", "drives"}, h.sent())
}

func TestATASCIIOption(t *testing.T) {
	h := newHarness(t, nil, quietClientOptions())
	sh := h.shell(strings.NewReader("list\n"), Options{ATASCII: true})
	require.NoError(t, sh.Run(context.Background()))
	assert.Equal(t, []string{"basic list atascii"}, h.sent())
}

func TestGlobalDotCommandsReachServer(t *testing.T) {
	out, h := run(t, nil, ".status\n.reset\n")
	assert.Contains(t, out, "running PC=$E477")
	assert.Equal(t, []string{"status", "reset cold"}, h.sent())
}

// The shared translation fixtures must arrive at the server exactly as
// translated, in order.
func TestFixturesReachServer(t *testing.T) {
	for _, f := range translate.Fixtures {
		t.Run(f.Name, func(t *testing.T) {
			h := newHarness(t, nil, quietClientOptions())
			sh := h.shell(strings.NewReader(""), Options{ATASCII: f.Options.ATASCII})
			sh.mode = f.Mode

			quit, err := sh.Execute(context.Background(), f.Input)
			require.NoError(t, err)
			assert.False(t, quit)
			assert.Equal(t, f.Expected, h.sent())
		})
	}
}

// =============================================================================
// Help
// =============================================================================

func TestHelpIsLocal(t *testing.T) {
	out, h := run(t, nil, ".help\n.help .boot\n.help nosuch\n")

	assert.Contains(t, out, "Global Commands:")
	assert.Contains(t, out, "BASIC Commands:")
	assert.Contains(t, out, ".boot <path>")
	assert.Contains(t, out, "Error: no help for 'nosuch'")
	assert.Empty(t, h.sent())
}

func TestLocalCommandsSplitOnTab(t *testing.T) {
	out, h := run(t, nil, ".help\t.boot\n.monitor\t\n")

	assert.Contains(t, out, ".boot <path>")
	assert.Contains(t, out, "Switched to Monitor mode")
	assert.Empty(t, h.sent())
}

// =============================================================================
// Interactive assembly
// =============================================================================

func TestAssemblySession(t *testing.T) {
	handler := attictest.Script(map[string]string{
		"assemble $0600":     "OK:ASM $0600",
		"asm input LDA #$00": "OK:$0600  A9 00     LDA #$00\x1E$0602",
		"asm input RTS":      "OK:$0602  60        RTS\x1E$0603",
		"asm input XYZ":      "ERR:unknown mnemonic XYZ",
		"asm end":            "OK:3 bytes assembled",
	})
	out, h := run(t, handler, ".monitor\na $0600\nLDA #$00\nXYZ\nRTS\n\nstatus\n")

	assert.Equal(t, []string{
		"assemble $0600",
		"asm input LDA #$00",
		"asm input XYZ",
		"asm input RTS",
		"asm end",
		"status",
	}, h.sent())
	assert.Contains(t, out, "[asm $0600] > ")
	assert.Contains(t, out, "$0600  A9 00     LDA #$00\n")
	assert.Contains(t, out, "[asm $0602] > ")
	assert.Contains(t, out, "Error: unknown mnemonic XYZ")
	assert.Contains(t, out, "[asm $0603] > ")
	assert.Contains(t, out, "3 bytes assembled")
	assert.NotContains(t, out, "ASM $0600")
}

func TestAssemblyEndsWithDot(t *testing.T) {
	handler := attictest.Script(map[string]string{"assemble $0600": "OK:ASM $0600"})
	h := newHarness(t, handler, quietClientOptions())
	sh := h.shell(strings.NewReader(".monitor\na $0600\n.\n"), Options{})
	require.NoError(t, sh.Run(context.Background()))

	assert.Equal(t, []string{"assemble $0600", "asm end"}, h.sent())
	assert.Equal(t, "[monitor] > ", sh.Prompt())
}

// =============================================================================
// Shutdown
// =============================================================================

func TestShutdownSendsShutdown(t *testing.T) {
	out, h := run(t, nil, ".shutdown\nstatus\n")
	assert.Equal(t, []string{"shutdown"}, h.sent())
	assert.Contains(t, out, "AtticServer shut down")
	assert.NotContains(t, out, "Disconnected from AtticServer")
}

// =============================================================================
// Events
// =============================================================================

func TestEventsPrintedWhileWaitingForInput(t *testing.T) {
	h := newHarness(t, nil, quietClientOptions())
	inR, inW := io.Pipe()
	sh := h.shell(inR, Options{})

	done := make(chan error, 1)
	go func() { done <- sh.Run(context.Background()) }()

	h.server.PushEvent(atticprotocol.NewBreakpointEvent(0x0600, 0x42, 1, 2, 0xFF, 0x30))
	assert.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "*** Breakpoint at $0600  A=$42 X=$01 Y=$02 S=$FF P=$30")
	}, 2*time.Second, 10*time.Millisecond)

	h.server.PushEvent(atticprotocol.NewStoppedEvent(0xE459))
	assert.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "*** Stopped at $E459")
	}, 2*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(inW, ".quit\n")
	require.NoError(t, err)
	require.NoError(t, <-done)
	inW.Close()
}

// =============================================================================
// Connection failures
// =============================================================================

func TestReconnectAfterDrop(t *testing.T) {
	h := newHarness(t, nil, quietClientOptions())
	sh := h.shell(strings.NewReader(""), Options{
		Locate: func(context.Context) (string, error) { return h.server.Path(), nil },
	})
	sh.Run(context.Background()) // installs the handlers; returns at EOF

	// Handlers stay installed after Run; drive the loop steps by hand.
	h.server.DropConnections()
	require.Eventually(t, func() bool { return len(sh.failures) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sh.checkConnection(context.Background()))
	assert.True(t, h.client.IsConnected())
	assert.Contains(t, h.out.String(), "Disconnected from AtticServer")
	assert.Contains(t, h.out.String(), "Reconnected to "+h.server.Path())

	_, err := sh.Execute(context.Background(), ".status")
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "running PC=$E477")
}

func TestReconnectFailureEndsSession(t *testing.T) {
	h := newHarness(t, nil, quietClientOptions())
	sh := h.shell(strings.NewReader(""), Options{
		Locate: func(context.Context) (string, error) { return "", atticprotocol.ErrSocketNotFound },
	})
	sh.Run(context.Background())

	h.server.DropConnections()
	require.Eventually(t, func() bool { return !h.client.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	_, err := sh.Execute(context.Background(), ".status")
	require.Error(t, err)
	assert.ErrorIs(t, err, atticprotocol.ErrSocketNotFound)
}

func TestNoReconnectWithoutLocate(t *testing.T) {
	h := newHarness(t, nil, quietClientOptions())
	sh := h.shell(strings.NewReader(""), Options{})

	h.client.Disconnect()
	_, err := sh.Execute(context.Background(), ".status")
	require.Error(t, err)
	assert.ErrorIs(t, err, atticprotocol.ErrNotConnected)
}

func TestHeartbeatLossTriggersReconnect(t *testing.T) {
	opts := atticprotocol.ClientOptions{
		Logger:               discardLogger(),
		HeartbeatInterval:    40 * time.Millisecond,
		HeartbeatStaleAfter:  120 * time.Millisecond,
		HeartbeatPingTimeout: 30 * time.Millisecond,
	}
	h := newHarness(t, nil, opts)
	sh := h.shell(strings.NewReader(""), Options{
		Locate: func(context.Context) (string, error) { return h.server.Path(), nil },
	})
	sh.Run(context.Background())

	h.server.Silence(true)
	require.Eventually(t, func() bool { return len(sh.failures) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, h.out.String(), "server stopped responding")

	h.server.Silence(false)
	require.NoError(t, sh.checkConnection(context.Background()))
	assert.True(t, h.client.IsConnected())
}

func TestIsConnectionFailure(t *testing.T) {
	assert.True(t, isConnectionFailure(atticprotocol.ErrNotConnected))
	assert.True(t, isConnectionFailure(atticprotocol.NewConnectionError("disconnected", io.EOF)))
	assert.True(t, isConnectionFailure(atticprotocol.ErrConnectionLost))
	assert.False(t, isConnectionFailure(atticprotocol.ErrTimeout))
	assert.False(t, isConnectionFailure(errors.New("other")))
}
