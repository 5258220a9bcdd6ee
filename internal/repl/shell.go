// =============================================================================
// shell.go - REPL Loop
// =============================================================================
//
// The shell reads a line, handles local dot-commands (.monitor, .basic,
// .dos, .help, .quit, .shutdown) itself, and translates everything else for
// the current mode before sending it. Translations that expand to several
// protocol commands are sent one at a time, each waiting for its response.
//
// Events from the server are printed from a separate goroutine as they
// arrive, so a breakpoint shows up even while the user is typing.
//
// When the connection drops or stops answering heartbeats, the next trip
// around the loop tries to reconnect once. If that fails, Run returns the
// error and the program exits.
//
// =============================================================================

package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/huegli/attic-sub009/atticprotocol"
	"github.com/huegli/attic-sub009/internal/launcher"
	"github.com/huegli/attic-sub009/internal/translate"
)

// shutdownTimeout bounds the wait for the server to acknowledge shutdown.
const shutdownTimeout = 2 * time.Second

// Options configures a Shell.
type Options struct {
	// ATASCII renders BASIC listings with ATASCII graphics.
	ATASCII bool

	// Locate returns the socket to reconnect to after a connection failure.
	// Nil disables reconnecting.
	Locate func(ctx context.Context) (string, error)

	// Server is the server this session connected to. If it was launched
	// by this session, .shutdown also sends it SIGTERM.
	Server launcher.Server

	Logger *slog.Logger
}

// Shell is one interactive session.
type Shell struct {
	client *atticprotocol.Client
	editor *LineEditor
	out    *Output
	opts   Options
	log    *slog.Logger

	mode      translate.Mode
	asmActive bool
	asmAddr   uint16

	failures chan error
	quitting atomic.Bool
}

// New creates a shell in BASIC mode. client must already be connected.
func New(client *atticprotocol.Client, editor *LineEditor, out *Output, opts Options) *Shell {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Shell{
		client:   client,
		editor:   editor,
		out:      out,
		opts:     opts,
		log:      opts.Logger.With("component", "repl"),
		mode:     translate.ModeBasic,
		failures: make(chan error, 1),
	}
}

// ModePrompt returns the prompt for mode.
func ModePrompt(mode translate.Mode) string {
	switch mode {
	case translate.ModeMonitor:
		return "[monitor] > "
	case translate.ModeBasic:
		return "[basic] > "
	case translate.ModeDOS:
		return "[dos] D1:> "
	default:
		return "> "
	}
}

// Prompt returns the current prompt, which shows the next address during
// interactive assembly.
func (s *Shell) Prompt() string {
	if s.asmActive {
		return fmt.Sprintf("[asm $%04X] > ", s.asmAddr)
	}
	return ModePrompt(s.mode)
}

// Mode returns the current input mode.
func (s *Shell) Mode() translate.Mode {
	return s.mode
}

// Run loops until .quit, .shutdown, end of input, or a connection failure
// that could not be repaired.
func (s *Shell) Run(ctx context.Context) error {
	s.client.SetDisconnectHandler(func(err error) {
		if errors.Is(err, atticprotocol.ErrClosedByCaller) || s.quitting.Load() {
			return
		}
		s.out.Error(fmt.Sprintf("Disconnected from AtticServer: %v", err))
		s.notify(err)
	})
	s.client.SetConnectionLostHandler(func(err error) {
		s.out.Error("Connection to AtticServer lost: server stopped responding")
		s.notify(err)
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.watchEvents(stop)

	for {
		if err := s.checkConnection(ctx); err != nil {
			return err
		}

		line, err := s.editor.GetLine(s.Prompt())
		if errors.Is(err, io.EOF) {
			s.out.Line("")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		quit, err := s.Execute(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// Execute handles one line of input. It reports whether the session should
// end. The error is non-nil only for connection failures that could not be
// repaired; server ERR: replies are printed and do not end the session.
func (s *Shell) Execute(ctx context.Context, line string) (quit bool, err error) {
	if s.asmActive {
		return false, s.assemblyLine(ctx, line)
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false, nil
	}

	if strings.HasPrefix(trimmed, ".") {
		if quit, handled := s.localCommand(ctx, trimmed); handled {
			return quit, nil
		}
	}

	cmds := translate.Translate(trimmed, s.mode, translate.Options{ATASCII: s.opts.ATASCII})
	s.log.Debug("translated", "input", trimmed, "mode", s.mode, "commands", cmds)
	return false, s.sendAll(ctx, cmds)
}

func (s *Shell) localCommand(ctx context.Context, line string) (quit, handled bool) {
	keyword, args := translate.SplitKeyword(strings.TrimSpace(line))
	switch strings.ToLower(keyword) {
	case ".quit", ".exit":
		return true, true
	case ".shutdown":
		s.shutdown(ctx)
		return true, true
	case ".monitor":
		s.setMode(translate.ModeMonitor, "Monitor")
	case ".basic":
		s.setMode(translate.ModeBasic, "BASIC")
	case ".dos":
		s.setMode(translate.ModeDOS, "DOS")
	case ".help":
		if err := WriteHelp(s.out.Writer(), s.mode, args); err != nil {
			s.out.Error(err.Error())
		}
	default:
		return false, false
	}
	return false, true
}

func (s *Shell) setMode(mode translate.Mode, name string) {
	s.mode = mode
	s.out.Info("Switched to %s mode", name)
}

func (s *Shell) shutdown(ctx context.Context) {
	s.quitting.Store(true)

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if _, err := s.client.SendWithContext(ctx, atticprotocol.NewShutdownCommand()); err != nil {
		// The server may close the socket before answering.
		s.log.Debug("shutdown not acknowledged", "error", err)
	}

	if err := s.opts.Server.Terminate(); err != nil {
		s.out.Error(err.Error())
	}
	s.out.Info("AtticServer shut down")
}

func (s *Shell) sendAll(ctx context.Context, cmds []string) error {
	resps, err := s.client.SendSequence(ctx, cmds)
	for _, resp := range resps {
		if resp.IsOK() {
			if addr, ok := translate.AssemblyStart(resp.Data); ok {
				s.asmActive, s.asmAddr = true, addr
				continue
			}
		}
		s.out.Response(resp)
	}
	if err != nil {
		return s.sendFailed(ctx, err)
	}
	return nil
}

// assemblyLine sends one line of an interactive assembly session. The
// session ends on a blank line or ".", or when the connection fails.
func (s *Shell) assemblyLine(ctx context.Context, line string) error {
	text := translate.AssemblyInput(line)
	ending := text == atticprotocol.CmdAssembleEnd.Verb()

	resp, err := s.client.SendRawWithContext(ctx, text)
	if err != nil {
		s.asmActive = false
		return s.sendFailed(ctx, err)
	}
	if ending || resp.IsError() {
		if ending {
			s.asmActive = false
		}
		s.out.Response(resp)
		return nil
	}

	assembled, next, ok := translate.AssemblyNext(resp.Data)
	if assembled != "" {
		s.out.Line(assembled)
	}
	if ok {
		s.asmAddr = next
	}
	return nil
}

func (s *Shell) sendFailed(ctx context.Context, err error) error {
	if !isConnectionFailure(err) {
		s.out.Error(err.Error())
		return nil
	}
	s.notify(err)
	return s.checkConnection(ctx)
}

func isConnectionFailure(err error) bool {
	return atticprotocol.IsConnectionError(err) ||
		errors.Is(err, atticprotocol.ErrNotConnected) ||
		errors.Is(err, atticprotocol.ErrConnectionLost)
}

func (s *Shell) notify(err error) {
	select {
	case s.failures <- err:
	default:
	}
}

func (s *Shell) checkConnection(ctx context.Context) error {
	select {
	case cause := <-s.failures:
		// A late notice from a connection that was already replaced.
		if !errors.Is(cause, atticprotocol.ErrConnectionLost) && s.client.IsConnected() {
			return nil
		}
		return s.reconnect(ctx, cause)
	default:
		return nil
	}
}

func (s *Shell) reconnect(ctx context.Context, cause error) error {
	s.client.Disconnect()
	s.asmActive = false

	if s.opts.Locate == nil {
		return fmt.Errorf("connection to AtticServer lost: %w", cause)
	}

	s.out.Info("Reconnecting...")
	path, err := s.opts.Locate(ctx)
	if err == nil {
		err = s.client.ConnectWithContext(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("reconnect after %v failed: %w", cause, err)
	}

	// Drop notices raised by the old connection.
	select {
	case <-s.failures:
	default:
	}

	s.log.Info("reconnected", "socket", path)
	s.out.Info("Reconnected to %s", path)
	return nil
}

func (s *Shell) watchEvents(stop <-chan struct{}) {
	for {
		select {
		case ev := <-s.client.Events():
			s.out.Event(ev)
		case <-stop:
			return
		case <-s.client.Closed():
			return
		}
	}
}
