package mcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huegli/attic-sub009/atticprotocol"
	"github.com/huegli/attic-sub009/atticprotocol/attictest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTools(t *testing.T, handler attictest.Handler) (*Tools, *attictest.Server) {
	t.Helper()
	return newToolsWithOptions(t, handler, atticprotocol.ClientOptions{HeartbeatInterval: -1})
}

func newToolsWithOptions(t *testing.T, handler attictest.Handler, opts atticprotocol.ClientOptions) (*Tools, *attictest.Server) {
	t.Helper()
	server := attictest.NewServer(t, handler)
	opts.Logger = discardLogger()
	client := atticprotocol.NewClientWithOptions(opts)
	tools := NewTools(client, func(context.Context) (string, error) { return server.Path(), nil }, discardLogger())
	t.Cleanup(func() { tools.Close() })
	return tools, server
}

// sent returns the commands the server received, minus pings.
func sent(server *attictest.Server) []string {
	var cmds []string
	for _, text := range server.Received() {
		if text != "ping" {
			cmds = append(cmds, text)
		}
	}
	return cmds
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func intPtr(v int) *int { return &v }

func TestConnectsOnFirstCall(t *testing.T) {
	tools, _ := newTools(t, nil)
	assert.False(t, tools.client.IsConnected())

	res, out, err := tools.simple("emulator_status", atticprotocol.NewStatusCommand())(context.Background(), nil, NoInput{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "running PC=$E477", resultText(res))
	assert.Equal(t, "running PC=$E477", out.Response)
	assert.True(t, tools.client.IsConnected())
}

func TestLocateFailureIsToolError(t *testing.T) {
	client := atticprotocol.NewClientWithOptions(atticprotocol.ClientOptions{Logger: discardLogger(), HeartbeatInterval: -1})
	tools := NewTools(client, func(context.Context) (string, error) {
		return "", atticprotocol.ErrSocketNotFound
	}, discardLogger())
	defer tools.Close()

	res, _, err := tools.simple("emulator_status", atticprotocol.NewStatusCommand())(context.Background(), nil, NoInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "AtticServer not available")
	assert.Contains(t, resultText(res), "no server socket found")
}

func TestServerErrorIsToolError(t *testing.T) {
	tools, _ := newTools(t, attictest.Script(map[string]string{"write $0600 A9": "ERR:emulator must be paused"}))

	res, out, err := tools.handleWriteMemory(context.Background(), nil, WriteMemoryInput{Address: 0x0600, Data: "A9"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: emulator must be paused", resultText(res))
	assert.Empty(t, out.Response)
}

func TestMultiLineReplyExpanded(t *testing.T) {
	tools, _ := newTools(t, attictest.Script(map[string]string{
		"basic list": "OK:10 PRINT \"HI\"\x1E20 GOTO 10",
	}))

	res, _, err := tools.handleListBasic(context.Background(), nil, ListBasicInput{})
	require.NoError(t, err)
	assert.Equal(t, "10 PRINT \"HI\"\n20 GOTO 10", resultText(res))
}

func TestToolsSendCommands(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(*Tools) (*mcp.CallToolResult, Output, error)
		want string
	}{
		{"reset cold", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleReset(ctx, nil, ResetInput{})
		}, "reset cold"},
		{"reset warm", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleReset(ctx, nil, ResetInput{Warm: true})
		}, "reset warm"},
		{"boot", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.pathTool("emulator_boot_file", atticprotocol.NewBootCommand)(ctx, nil, PathInput{Path: "/games/star.atr"})
		}, "boot /games/star.atr"},
		{"read default count", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleReadMemory(ctx, nil, ReadMemoryInput{Address: 0x0600})
		}, "read $0600 16"},
		{"read", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleReadMemory(ctx, nil, ReadMemoryInput{Address: 0xD000, Count: 64})
		}, "read $D000 64"},
		{"write mixed separators", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleWriteMemory(ctx, nil, WriteMemoryInput{Address: 0x0600, Data: "a9, 00 $8D 0x00"})
		}, "write $0600 A9,00,8D,00"},
		{"fill", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleFillMemory(ctx, nil, FillInput{Start: 0x0600, End: 0x06FF, Value: 0})
		}, "fill $0600 $06FF $00"},
		{"set registers", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleSetRegisters(ctx, nil, SetRegistersInput{A: intPtr(0x42), PC: intPtr(0xE000)})
		}, "registers A=$0042 PC=$E000"},
		{"get registers", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.simple("emulator_get_registers", atticprotocol.NewRegistersCommand(nil))(ctx, nil, NoInput{})
		}, "registers"},
		{"step default", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleStep(ctx, nil, StepInput{})
		}, "step"},
		{"step count", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleStep(ctx, nil, StepInput{Count: 5})
		}, "step 5"},
		{"disassemble at pc", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleDisassemble(ctx, nil, DisassembleInput{})
		}, "disassemble"},
		{"disassemble", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleDisassemble(ctx, nil, DisassembleInput{Address: intPtr(0xE000), Lines: intPtr(8)})
		}, "disassemble $E000 8"},
		{"run until", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.addressTool("emulator_run_until", atticprotocol.NewRunUntilCommand)(ctx, nil, AddressInput{Address: 0xE459})
		}, "rununtil $E459"},
		{"set breakpoint", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.addressTool("emulator_set_breakpoint", atticprotocol.NewBreakpointSetCommand)(ctx, nil, AddressInput{Address: 0x0600})
		}, "breakpoint set $0600"},
		{"single instruction", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleAssemble(ctx, nil, AssembleInput{Address: 0x0600, Instructions: []string{" LDA #$00 "}})
		}, "assemble $0600 LDA #$00"},
		{"press return", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handlePressKey(ctx, nil, KeyInput{Key: "return"})
		}, `inject keys \n`},
		{"type text", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleTypeText(ctx, nil, TypeTextInput{Text: "10 PRINT", PressReturn: true})
		}, `inject keys 10\sPRINT\n`},
		{"list basic range", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleListBasic(ctx, nil, ListBasicInput{Range: "10-50"})
		}, "basic list 10-50"},
		{"mount", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleMount(ctx, nil, MountInput{Drive: 1, Path: "/disks/dos.atr"})
		}, "mount 1 /disks/dos.atr"},
		{"unmount", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleUnmount(ctx, nil, DriveInput{Drive: 2})
		}, "unmount 2"},
		{"save state", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.pathTool("emulator_save_state", atticprotocol.NewStateSaveCommand)(ctx, nil, PathInput{Path: "/saves/a.state"})
		}, "state save /saves/a.state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools, server := newTools(t, nil)
			res, _, err := tt.call(tools)
			require.NoError(t, err)
			assert.False(t, res.IsError, resultText(res))
			assert.Equal(t, []string{tt.want}, sent(server))
		})
	}
}

func TestInvalidInputNotSent(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(*Tools) (*mcp.CallToolResult, Output, error)
		msg  string
	}{
		{"address too high", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleReadMemory(ctx, nil, ReadMemoryInput{Address: 0x10000})
		}, "address must be between 0 and 65535"},
		{"negative address", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.addressTool("emulator_set_breakpoint", atticprotocol.NewBreakpointSetCommand)(ctx, nil, AddressInput{Address: -1})
		}, "address must be between"},
		{"bad hex", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleWriteMemory(ctx, nil, WriteMemoryInput{Address: 0x0600, Data: "A9,XYZ"})
		}, `invalid hex byte "XYZ"`},
		{"no bytes", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleWriteMemory(ctx, nil, WriteMemoryInput{Address: 0x0600, Data: " , "})
		}, "no bytes given"},
		{"fill reversed", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleFillMemory(ctx, nil, FillInput{Start: 0x0700, End: 0x0600})
		}, "must not be below start address"},
		{"fill value", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleFillMemory(ctx, nil, FillInput{Start: 0, End: 1, Value: 256})
		}, "value must be between 0 and 255"},
		{"register range", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleSetRegisters(ctx, nil, SetRegistersInput{X: intPtr(300)})
		}, "X must be between 0 and 255"},
		{"no registers", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleSetRegisters(ctx, nil, SetRegistersInput{})
		}, "no registers given"},
		{"drive", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleMount(ctx, nil, MountInput{Drive: 9, Path: "/d.atr"})
		}, "drive must be between 1 and 8"},
		{"empty path", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.pathTool("emulator_boot_file", atticprotocol.NewBootCommand)(ctx, nil, PathInput{Path: "  "})
		}, "path is required"},
		{"no instructions", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handleAssemble(ctx, nil, AssembleInput{Address: 0x0600, Instructions: []string{"", " "}})
		}, "no instructions given"},
		{"no key", func(tl *Tools) (*mcp.CallToolResult, Output, error) {
			return tl.handlePressKey(ctx, nil, KeyInput{})
		}, "key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools, server := newTools(t, nil)
			res, _, err := tt.call(tools)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(res), tt.msg)
			assert.Empty(t, sent(server))
			assert.False(t, tools.client.IsConnected(), "validation happens before connecting")
		})
	}
}

func TestAssembleBlock(t *testing.T) {
	tools, server := newTools(t, attictest.Script(map[string]string{
		"assemble $0600":      "OK:ASM $0600",
		"asm input LDA #$00":  "OK:$0600  A9 00     LDA #$00\x1E$0602",
		"asm input STA $D400": "OK:$0602  8D 00 D4  STA $D400\x1E$0605",
		"asm input RTS":       "OK:$0605  60        RTS\x1E$0606",
		"asm end":             "OK:6 bytes assembled",
	}))

	res, _, err := tools.handleAssemble(context.Background(), nil, AssembleInput{
		Address:      0x0600,
		Instructions: []string{"LDA #$00", "STA $D400", "RTS"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t,
		"$0600  A9 00     LDA #$00\n$0602  8D 00 D4  STA $D400\n$0605  60        RTS\n6 bytes assembled",
		resultText(res))
	assert.Equal(t, []string{
		"assemble $0600", "asm input LDA #$00", "asm input STA $D400", "asm input RTS", "asm end",
	}, sent(server))
}

func TestAssembleBlockEndsSessionOnError(t *testing.T) {
	tools, server := newTools(t, attictest.Script(map[string]string{
		"assemble $0600":     "OK:ASM $0600",
		"asm input LDA #$00": "OK:$0600  A9 00     LDA #$00\x1E$0602",
		"asm input XYZ":      "ERR:unknown mnemonic",
	}))

	res, _, err := tools.handleAssemble(context.Background(), nil, AssembleInput{
		Address:      0x0600,
		Instructions: []string{"LDA #$00", "XYZ", "RTS"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: XYZ: unknown mnemonic", resultText(res))
	assert.Equal(t, []string{"assemble $0600", "asm input LDA #$00", "asm input XYZ", "asm end"}, sent(server))
}

func TestReconnectsAfterDrop(t *testing.T) {
	tools, server := newTools(t, nil)
	status := tools.simple("emulator_status", atticprotocol.NewStatusCommand())

	res, _, err := status(context.Background(), nil, NoInput{})
	require.NoError(t, err)
	require.False(t, res.IsError)

	server.DropConnections()
	require.Eventually(t, func() bool { return !tools.client.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	res, _, err = status(context.Background(), nil, NoInput{})
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(res))
	assert.True(t, tools.client.IsConnected())
}

func TestRecoversAfterHeartbeatLoss(t *testing.T) {
	tools, server := newToolsWithOptions(t, nil, atticprotocol.ClientOptions{
		HeartbeatInterval:    20 * time.Millisecond,
		HeartbeatStaleAfter:  100 * time.Millisecond,
		HeartbeatPingTimeout: 30 * time.Millisecond,
		CommandTimeout:       150 * time.Millisecond,
	})
	status := tools.simple("emulator_status", atticprotocol.NewStatusCommand())

	res, _, err := status(context.Background(), nil, NoInput{})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	server.Silence(true)
	require.Eventually(t, func() bool { return !tools.client.IsConnected() }, 2*time.Second, 10*time.Millisecond,
		"a lost heartbeat drops the connection")
	server.Silence(false)

	for i := 0; i < 3; i++ {
		res, _, err = status(context.Background(), nil, NoInput{})
		require.NoError(t, err)
		assert.False(t, res.IsError, "call %d: %s", i, resultText(res))
		assert.Equal(t, "running PC=$E477", resultText(res))
	}
	assert.True(t, tools.client.IsConnected())
}

func TestRetriesAfterTimeout(t *testing.T) {
	var mu sync.Mutex
	dropped := false
	tools, server := newToolsWithOptions(t, func(cmd string) string {
		mu.Lock()
		defer mu.Unlock()
		if cmd == "status" && !dropped {
			dropped = true
			return ""
		}
		return attictest.DefaultHandler(cmd)
	}, atticprotocol.ClientOptions{
		HeartbeatInterval: -1,
		CommandTimeout:    100 * time.Millisecond,
	})

	res, _, err := tools.simple("emulator_status", atticprotocol.NewStatusCommand())(context.Background(), nil, NoInput{})
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(res))
	assert.Equal(t, "running PC=$E477", resultText(res))
	assert.Equal(t, []string{"status", "status"}, sent(server))
}

func TestScreenshotAttachesImage(t *testing.T) {
	png := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG fake"), 0o644))

	tools, _ := newTools(t, attictest.Script(map[string]string{"screenshot": "OK:" + png}))
	res, out, err := tools.handleScreenshot(context.Background(), nil, ScreenshotInput{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, png, out.Response)

	require.Len(t, res.Content, 2)
	assert.Equal(t, "Screenshot saved to: "+png, res.Content[0].(*mcp.TextContent).Text)
	img, ok := res.Content[1].(*mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, []byte("\x89PNG fake"), img.Data)
}

func TestScreenshotMissingFileIsTextOnly(t *testing.T) {
	tools, _ := newTools(t, attictest.Script(map[string]string{"screenshot /nonexistent/a.png": "OK:/nonexistent/a.png"}))
	res, _, err := tools.handleScreenshot(context.Background(), nil, ScreenshotInput{Path: "/nonexistent/a.png"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "Screenshot saved to: /nonexistent/a.png", resultText(res))
}

func TestToolsOverMCP(t *testing.T) {
	tools, server := newTools(t, nil)
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := NewServer(tools, "test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	list, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.Len(t, names, 28)
	assert.Contains(t, names, "emulator_read_memory")
	assert.Contains(t, names, "emulator_load_state")

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "emulator_set_breakpoint",
		Arguments: map[string]any{"address": 1536},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(res))
	assert.Equal(t, []string{"breakpoint set $0600"}, sent(server))
}

func TestToolErrorOverMCP(t *testing.T) {
	client := atticprotocol.NewClientWithOptions(atticprotocol.ClientOptions{Logger: discardLogger(), HeartbeatInterval: -1})
	tools := NewTools(client, func(context.Context) (string, error) {
		return "", errors.New("nothing listening")
	}, discardLogger())
	defer tools.Close()
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := NewServer(tools, "test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil).Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "emulator_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "nothing listening")
}
