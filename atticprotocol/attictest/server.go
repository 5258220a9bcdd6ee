// Package attictest provides an in-process fake AtticServer for tests.
//
// The fake listens on a Unix socket, validates every incoming line with
// atticprotocol.CommandParser, and answers through a scripted Handler.
// Tests can also push events, stop answering, or drop connections.
package attictest

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// Handler receives the command text (without the CMD: prefix) of a line
// that parsed successfully and returns the raw bytes to write back. The
// reply may hold several lines, e.g. "OK:stepped\nEVENT:stopped $0602\n".
type Handler func(cmd string) string

// Server is a fake AtticServer.
type Server struct {
	listener net.Listener
	path     string
	parser   *atticprotocol.CommandParser

	mu       sync.Mutex
	handler  Handler
	conns    []net.Conn
	silent   bool
	received []string
	commands []atticprotocol.Command

	wg sync.WaitGroup
}

// NewServer starts a fake server on a fresh socket under /tmp and stops it
// when the test ends. A nil handler uses DefaultHandler.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()

	// /tmp keeps the path well under the 104-byte sun_path limit on macOS,
	// which t.TempDir() can exceed.
	dir, err := os.MkdirTemp("/tmp", "attic-test-")
	if err != nil {
		t.Fatalf("attictest: create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	return NewServerAt(t, filepath.Join(dir, "s.sock"), handler)
}

// NewServerAt starts a fake server listening on path.
func NewServerAt(t testing.TB, path string, handler Handler) *Server {
	t.Helper()

	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("attictest: listen on %s: %v", path, err)
	}
	if handler == nil {
		handler = DefaultHandler
	}

	s := &Server{
		listener: listener,
		path:     path,
		parser:   atticprotocol.NewCommandParser(),
		handler:  handler,
	}
	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// SetHandler replaces the handler for subsequent lines.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Silence makes the server read but never answer while on is true.
func (s *Server) Silence(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = on
}

// Received returns the command texts received so far, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Commands returns the parsed form of every valid command received.
func (s *Server) Commands() []atticprotocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]atticprotocol.Command(nil), s.commands...)
}

// PushEvent writes an event line to every connected client.
func (s *Server) PushEvent(ev atticprotocol.Event) {
	s.broadcast(ev.Format() + "\n")
}

// PushLine writes raw text to every connected client.
func (s *Server) PushLine(line string) {
	s.broadcast(line)
}

func (s *Server) broadcast(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		fmt.Fprint(conn, data)
	}
}

// DropConnections closes every client connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	os.Remove(s.path)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), atticprotocol.MaxLineLength+len(atticprotocol.CommandPrefix)+1)
	for scanner.Scan() {
		text := strings.TrimPrefix(scanner.Text(), atticprotocol.CommandPrefix)
		reply := s.respond(text)
		if reply == "" {
			continue
		}
		s.mu.Lock()
		fmt.Fprint(conn, reply)
		s.mu.Unlock()
	}
}

func (s *Server) respond(text string) string {
	cmd, err := s.parser.Parse(text)

	s.mu.Lock()
	s.received = append(s.received, text)
	if err == nil {
		s.commands = append(s.commands, cmd)
	}
	silent, handler := s.silent, s.handler
	s.mu.Unlock()

	if silent {
		return ""
	}
	if err != nil {
		return atticprotocol.NewErrorResponse(err.Error()).Format() + "\n"
	}
	return handler(text)
}

// DefaultHandler answers ping with pong and gives canned replies to a few
// common commands. Everything else gets an empty OK.
func DefaultHandler(cmd string) string {
	switch cmd {
	case "ping":
		return "OK:pong\n"
	case "version":
		return "OK:Attic v0.2.0 (Mock)\n"
	case "status":
		return "OK:running PC=$E477\n"
	case "pause":
		return "OK:paused\n"
	case "resume":
		return "OK:resumed\n"
	default:
		return "OK:\n"
	}
}

// Script returns a handler that answers commands found in replies and
// falls back to DefaultHandler for the rest. Replies without a trailing
// newline get one.
func Script(replies map[string]string) Handler {
	return func(cmd string) string {
		if reply, ok := replies[cmd]; ok {
			if !strings.HasSuffix(reply, "\n") {
				reply += "\n"
			}
			return reply
		}
		return DefaultHandler(cmd)
	}
}
