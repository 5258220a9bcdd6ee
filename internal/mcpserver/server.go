// Package mcpserver exposes the emulator to MCP clients over stdio. Each
// tool builds one or more protocol commands, sends them through a shared
// Client, and returns the server's reply as text.
//
// The connection is made on the first tool call, discovering a running
// AtticServer or launching one. A call that finds the connection broken,
// or whose command times out, reconnects once and retries. When the
// heartbeat reports the server unresponsive the connection is dropped, so
// the next call dials again.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/huegli/attic-sub009/atticprotocol"
)

const serverName = "attic"

const instructions = `Control a running Atari 800 XL emulator (AtticServer).

The emulator is found or started on the first call. Addresses and values
are plain integers (0-65535 for addresses, 0-255 for bytes). Memory and
register writes usually need the emulator paused first (emulator_pause).

Typical debugging loop:
  emulator_pause, emulator_set_breakpoint, emulator_resume,
  emulator_get_registers, emulator_disassemble, emulator_step`

// Output is the structured result of every tool.
type Output struct {
	Response string `json:"response"`
}

// Tools holds the connection shared by all tool handlers.
type Tools struct {
	mu     sync.Mutex
	client *atticprotocol.Client
	locate func(ctx context.Context) (string, error)
	log    *slog.Logger
}

// NewTools returns handlers that send through client, connecting to the
// socket returned by locate whenever client is not connected. It installs
// client's connection-lost handler.
func NewTools(client *atticprotocol.Client, locate func(ctx context.Context) (string, error), logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tools{client: client, locate: locate, log: logger.With("component", "mcp")}
	client.SetConnectionLostHandler(func(err error) {
		t.log.Warn("emulator stopped responding, dropping connection", "error", err)
		client.Disconnect()
	})
	return t
}

// NewServer creates an MCP server with every emulator tool registered.
func NewServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		&mcp.ServerOptions{
			HasTools:     true,
			Instructions: instructions,
		},
	)
	RegisterTools(server, t)
	return server
}

// Run serves MCP over stdin and stdout until the client goes away or ctx
// is canceled.
func Run(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Close disconnects from AtticServer. The server itself keeps running.
func (t *Tools) Close() error {
	return t.client.Close()
}

// sendFunc sends one command on the tool's connection.
type sendFunc func(cmd atticprotocol.Command) (atticprotocol.Response, error)

// do runs fn with exclusive use of the connection, so a multi-command
// tool is never interleaved with another tool's commands. An error from fn
// becomes an MCP error result.
func (t *Tools) do(ctx context.Context, tool string, fn func(send sendFunc) (string, error)) (*mcp.CallToolResult, Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureConnected(ctx); err != nil {
		t.log.Warn("no emulator connection", "tool", tool, "error", err)
		return errorResult(err.Error()), Output{}, nil
	}

	send := func(cmd atticprotocol.Command) (atticprotocol.Response, error) {
		resp, err := t.client.SendWithContext(ctx, cmd)
		if !shouldReconnect(ctx, err) {
			return resp, err
		}
		t.log.Info("connection failed, reconnecting", "tool", tool, "error", err)
		t.client.Disconnect()
		if cerr := t.ensureConnected(ctx); cerr != nil {
			return atticprotocol.Response{}, cerr
		}
		return t.client.SendWithContext(ctx, cmd)
	}

	text, err := fn(send)
	if err != nil {
		t.log.Debug("tool failed", "tool", tool, "error", err)
		return errorResult(err.Error()), Output{}, nil
	}
	return textResult(text), Output{Response: text}, nil
}

// shouldReconnect reports whether err leaves the connection unusable or
// suspect. A timed-out command may be owed a reply the server will never
// send, so it counts too, unless the caller's own context ended.
func shouldReconnect(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return atticprotocol.IsConnectionError(err) || errors.Is(err, atticprotocol.ErrTimeout)
}

// command is the common case: one command, one reply.
func (t *Tools) command(ctx context.Context, tool string, cmd atticprotocol.Command) (*mcp.CallToolResult, Output, error) {
	return t.do(ctx, tool, func(send sendFunc) (string, error) {
		return sendOK(send, cmd)
	})
}

// sendOK sends cmd and turns an ERR: reply into an error.
func sendOK(send sendFunc, cmd atticprotocol.Command) (string, error) {
	resp, err := send(cmd)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errors.New(resp.Data)
	}
	return resp.Text(), nil
}

func (t *Tools) ensureConnected(ctx context.Context) error {
	if t.client.IsConnected() {
		return nil
	}
	if t.locate == nil {
		return atticprotocol.ErrNotConnected
	}
	path, err := t.locate(ctx)
	if err != nil {
		return fmt.Errorf("AtticServer not available: %w", err)
	}
	if err := t.client.ConnectWithContext(ctx, path); err != nil {
		return fmt.Errorf("connect to %s: %w", path, err)
	}
	t.log.Info("connected", "socket", path)
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	if text == "" {
		text = "OK"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}
}
