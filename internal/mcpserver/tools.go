package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// NoInput is the input of tools that take no arguments.
type NoInput struct{}

type ResetInput struct {
	Warm bool `json:"warm,omitempty" jsonschema:"Warm reset (like pressing RESET) instead of a cold power cycle"`
}

type PathInput struct {
	Path string `json:"path" jsonschema:"Path on the host running AtticServer"`
}

type AddressInput struct {
	Address int `json:"address" jsonschema:"Memory address (0-65535)"`
}

type ReadMemoryInput struct {
	Address int `json:"address" jsonschema:"Start address (0-65535)"`
	Count   int `json:"count,omitempty" jsonschema:"Number of bytes to read (default 16)"`
}

type WriteMemoryInput struct {
	Address int    `json:"address" jsonschema:"Start address (0-65535)"`
	Data    string `json:"data" jsonschema:"Hex bytes separated by commas or spaces, e.g. A9,00,8D,00,D4"`
}

type SetRegistersInput struct {
	A  *int `json:"a,omitempty" jsonschema:"Accumulator (0-255)"`
	X  *int `json:"x,omitempty" jsonschema:"X index register (0-255)"`
	Y  *int `json:"y,omitempty" jsonschema:"Y index register (0-255)"`
	S  *int `json:"s,omitempty" jsonschema:"Stack pointer (0-255)"`
	P  *int `json:"p,omitempty" jsonschema:"Processor status flags (0-255)"`
	PC *int `json:"pc,omitempty" jsonschema:"Program counter (0-65535)"`
}

type StepInput struct {
	Count int `json:"count,omitempty" jsonschema:"Number of instructions to execute (default 1)"`
}

type DisassembleInput struct {
	Address *int `json:"address,omitempty" jsonschema:"Start address (default: current PC)"`
	Lines   *int `json:"lines,omitempty" jsonschema:"Number of instructions (default: server default)"`
}

type KeyInput struct {
	Key string `json:"key" jsonschema:"A character, or RETURN, SPACE, TAB, ESC, DELETE, BREAK, or SHIFT+key, CTRL+key"`
}

type TypeTextInput struct {
	Text        string `json:"text" jsonschema:"Text to type"`
	PressReturn bool   `json:"press_return,omitempty" jsonschema:"Press RETURN after the text"`
}

type ScreenshotInput struct {
	Path string `json:"path,omitempty" jsonschema:"Where to save the PNG (default: server chooses)"`
}

type ListBasicInput struct {
	Range string `json:"range,omitempty" jsonschema:"Line or range to list, e.g. 10 or 10-50 (default: whole program)"`
}

type MountInput struct {
	Drive int    `json:"drive" jsonschema:"Drive number (1-8)"`
	Path  string `json:"path" jsonschema:"Path to an ATR disk image"`
}

type DriveInput struct {
	Drive int `json:"drive" jsonschema:"Drive number (1-8)"`
}

type AssembleInput struct {
	Address      int      `json:"address" jsonschema:"Address of the first instruction (0-65535)"`
	Instructions []string `json:"instructions" jsonschema:"6502 instructions assembled in order, one per item, e.g. LDA #$00 then RTS"`
}

type FillInput struct {
	Start int `json:"start" jsonschema:"First address (0-65535)"`
	End   int `json:"end" jsonschema:"Last address, inclusive (0-65535)"`
	Value int `json:"value" jsonschema:"Byte to store (0-255)"`
}

// RegisterTools adds every emulator tool to server.
func RegisterTools(server *mcp.Server, t *Tools) {
	// Execution control
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_status",
		Description: "Show whether the emulator is running, the PC, mounted drives and breakpoints.",
	}, t.simple("emulator_status", atticprotocol.NewStatusCommand()))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_pause",
		Description: "Pause emulation. Needed before most memory and register writes.",
	}, t.simple("emulator_pause", atticprotocol.NewPauseCommand()))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_resume",
		Description: "Resume emulation.",
	}, t.simple("emulator_resume", atticprotocol.NewResumeCommand()))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_reset",
		Description: "Reset the emulator. Cold by default; warm keeps memory.",
	}, t.handleReset)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_boot_file",
		Description: "Boot a file: ATR, XEX, BAS, CAS or ROM.",
	}, t.pathTool("emulator_boot_file", atticprotocol.NewBootCommand))

	// Memory and CPU
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_read_memory",
		Description: "Read bytes from memory. Returns a hex dump.",
	}, t.handleReadMemory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_write_memory",
		Description: "Write bytes to memory. Pause the emulator first.",
	}, t.handleWriteMemory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_fill_memory",
		Description: "Fill an address range (inclusive) with one byte value.",
	}, t.handleFillMemory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_get_registers",
		Description: "Show the CPU registers A, X, Y, S, P and PC.",
	}, t.simple("emulator_get_registers", atticprotocol.NewRegistersCommand(nil)))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_set_registers",
		Description: "Set one or more CPU registers. Omitted registers are unchanged.",
	}, t.handleSetRegisters)

	// Debugging
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_step",
		Description: "Execute instructions one at a time and stop.",
	}, t.handleStep)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_step_over",
		Description: "Execute one instruction, running a JSR subroutine to completion.",
	}, t.simple("emulator_step_over", atticprotocol.NewStepOverCommand()))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_run_until",
		Description: "Run until the program counter reaches an address.",
	}, t.addressTool("emulator_run_until", atticprotocol.NewRunUntilCommand))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_disassemble",
		Description: "Disassemble 6502 code at an address, or at the PC.",
	}, t.handleDisassemble)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_assemble",
		Description: "Assemble 6502 instructions into memory, starting at an address. Returns each assembled line.",
	}, t.handleAssemble)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_set_breakpoint",
		Description: "Set a breakpoint. Execution pauses when the PC reaches the address.",
	}, t.addressTool("emulator_set_breakpoint", atticprotocol.NewBreakpointSetCommand))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_clear_breakpoint",
		Description: "Clear the breakpoint at an address.",
	}, t.addressTool("emulator_clear_breakpoint", atticprotocol.NewBreakpointClearCommand))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_list_breakpoints",
		Description: "List all breakpoints.",
	}, t.simple("emulator_list_breakpoints", atticprotocol.NewBreakpointListCommand()))

	// Input
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_press_key",
		Description: "Press one key on the Atari keyboard.",
	}, t.handlePressKey)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_type_text",
		Description: "Type text on the Atari keyboard, optionally followed by RETURN.",
	}, t.handleTypeText)

	// Display
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_screenshot",
		Description: "Save a PNG screenshot and return it.",
	}, t.handleScreenshot)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_screen_text",
		Description: "Read the 40x24 text screen. Works in GRAPHICS 0 only.",
	}, t.simple("emulator_screen_text", atticprotocol.NewScreenTextCommand()))

	// BASIC
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_list_basic",
		Description: "List the BASIC program in memory.",
	}, t.handleListBasic)

	// Disks and state
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_mount_disk",
		Description: "Mount an ATR disk image on a drive.",
	}, t.handleMount)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_unmount_disk",
		Description: "Unmount the disk in a drive.",
	}, t.handleUnmount)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_list_drives",
		Description: "List drives D1: to D8: and their disks.",
	}, t.simple("emulator_list_drives", atticprotocol.NewDrivesCommand()))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_save_state",
		Description: "Save the complete emulator state to a file.",
	}, t.pathTool("emulator_save_state", atticprotocol.NewStateSaveCommand))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "emulator_load_state",
		Description: "Restore the emulator state from a file.",
	}, t.pathTool("emulator_load_state", atticprotocol.NewStateLoadCommand))
}

func invalid(err error) (*mcp.CallToolResult, Output, error) {
	return errorResult(err.Error()), Output{}, nil
}

func (t *Tools) simple(name string, cmd atticprotocol.Command) mcp.ToolHandlerFor[NoInput, Output] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, Output, error) {
		return t.command(ctx, name, cmd)
	}
}

func (t *Tools) pathTool(name string, build func(string) atticprotocol.Command) mcp.ToolHandlerFor[PathInput, Output] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in PathInput) (*mcp.CallToolResult, Output, error) {
		path := strings.TrimSpace(in.Path)
		if path == "" {
			return invalid(fmt.Errorf("path is required"))
		}
		return t.command(ctx, name, build(path))
	}
}

func (t *Tools) addressTool(name string, build func(uint16) atticprotocol.Command) mcp.ToolHandlerFor[AddressInput, Output] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in AddressInput) (*mcp.CallToolResult, Output, error) {
		addr, err := checkAddress("address", in.Address)
		if err != nil {
			return invalid(err)
		}
		return t.command(ctx, name, build(addr))
	}
}

func (t *Tools) handleReset(ctx context.Context, _ *mcp.CallToolRequest, in ResetInput) (*mcp.CallToolResult, Output, error) {
	return t.command(ctx, "emulator_reset", atticprotocol.NewResetCommand(!in.Warm))
}

func (t *Tools) handleReadMemory(ctx context.Context, _ *mcp.CallToolRequest, in ReadMemoryInput) (*mcp.CallToolResult, Output, error) {
	addr, err := checkAddress("address", in.Address)
	if err != nil {
		return invalid(err)
	}
	count := in.Count
	if count == 0 {
		count = 16
	}
	if count < 1 || count > 0xFFFF {
		return invalid(fmt.Errorf("count must be between 1 and 65535 (got %d)", count))
	}
	return t.command(ctx, "emulator_read_memory", atticprotocol.NewReadCommand(addr, uint16(count)))
}

func (t *Tools) handleWriteMemory(ctx context.Context, _ *mcp.CallToolRequest, in WriteMemoryInput) (*mcp.CallToolResult, Output, error) {
	addr, err := checkAddress("address", in.Address)
	if err != nil {
		return invalid(err)
	}
	data, err := parseHexBytes(in.Data)
	if err != nil {
		return invalid(err)
	}
	return t.command(ctx, "emulator_write_memory", atticprotocol.NewWriteCommand(addr, data))
}

func (t *Tools) handleFillMemory(ctx context.Context, _ *mcp.CallToolRequest, in FillInput) (*mcp.CallToolResult, Output, error) {
	start, err := checkAddress("start", in.Start)
	if err != nil {
		return invalid(err)
	}
	end, err := checkAddress("end", in.End)
	if err != nil {
		return invalid(err)
	}
	if end < start {
		return invalid(fmt.Errorf("end address ($%04X) must not be below start address ($%04X)", end, start))
	}
	value, err := checkByte("value", in.Value)
	if err != nil {
		return invalid(err)
	}
	return t.command(ctx, "emulator_fill_memory", atticprotocol.NewMemoryFillCommand(start, end, value))
}

func (t *Tools) handleSetRegisters(ctx context.Context, _ *mcp.CallToolRequest, in SetRegistersInput) (*mcp.CallToolResult, Output, error) {
	var mods []atticprotocol.RegisterModification
	for _, r := range []struct {
		name string
		v    *int
		max  int
	}{
		{"A", in.A, 0xFF}, {"X", in.X, 0xFF}, {"Y", in.Y, 0xFF},
		{"S", in.S, 0xFF}, {"P", in.P, 0xFF}, {"PC", in.PC, 0xFFFF},
	} {
		if r.v == nil {
			continue
		}
		if *r.v < 0 || *r.v > r.max {
			return invalid(fmt.Errorf("%s must be between 0 and %d (got %d)", r.name, r.max, *r.v))
		}
		mods = append(mods, atticprotocol.RegisterModification{Name: r.name, Value: uint16(*r.v)})
	}
	if len(mods) == 0 {
		return invalid(fmt.Errorf("no registers given"))
	}
	return t.command(ctx, "emulator_set_registers", atticprotocol.NewRegistersCommand(mods))
}

func (t *Tools) handleStep(ctx context.Context, _ *mcp.CallToolRequest, in StepInput) (*mcp.CallToolResult, Output, error) {
	if in.Count < 0 {
		return invalid(fmt.Errorf("count must not be negative (got %d)", in.Count))
	}
	return t.command(ctx, "emulator_step", atticprotocol.NewStepCommand(in.Count))
}

func (t *Tools) handleDisassemble(ctx context.Context, _ *mcp.CallToolRequest, in DisassembleInput) (*mcp.CallToolResult, Output, error) {
	var addr *uint16
	if in.Address != nil {
		a, err := checkAddress("address", *in.Address)
		if err != nil {
			return invalid(err)
		}
		addr = &a
	}
	if in.Lines != nil && *in.Lines < 1 {
		return invalid(fmt.Errorf("lines must be at least 1 (got %d)", *in.Lines))
	}
	return t.command(ctx, "emulator_disassemble", atticprotocol.NewDisassembleCommand(addr, in.Lines))
}

// handleAssemble assembles a single instruction directly. Several
// instructions go through an assembly session so each lands at the address
// following the previous one; the session is always ended, even after an
// error.
func (t *Tools) handleAssemble(ctx context.Context, _ *mcp.CallToolRequest, in AssembleInput) (*mcp.CallToolResult, Output, error) {
	addr, err := checkAddress("address", in.Address)
	if err != nil {
		return invalid(err)
	}
	var instrs []string
	for _, s := range in.Instructions {
		if s = strings.TrimSpace(s); s != "" {
			instrs = append(instrs, s)
		}
	}
	if len(instrs) == 0 {
		return invalid(fmt.Errorf("no instructions given"))
	}
	if len(instrs) == 1 {
		return t.command(ctx, "emulator_assemble", atticprotocol.NewAssembleLineCommand(addr, instrs[0]))
	}

	return t.do(ctx, "emulator_assemble", func(send sendFunc) (string, error) {
		if _, err := sendOK(send, atticprotocol.NewAssembleCommand(addr)); err != nil {
			return "", err
		}

		var lines []string
		for _, instr := range instrs {
			resp, err := send(atticprotocol.NewAssembleInputCommand(instr))
			if err == nil && resp.IsError() {
				err = fmt.Errorf("%s: %s", instr, resp.Data)
			}
			if err != nil {
				send(atticprotocol.NewAssembleEndCommand())
				return "", err
			}
			// The reply is the assembled line followed by the next address.
			if assembled := resp.Lines(); len(assembled) > 0 {
				lines = append(lines, assembled[0])
			}
		}

		summary, err := sendOK(send, atticprotocol.NewAssembleEndCommand())
		if err != nil {
			return "", err
		}
		return strings.Join(append(lines, summary), "\n"), nil
	})
}

func (t *Tools) handlePressKey(ctx context.Context, _ *mcp.CallToolRequest, in KeyInput) (*mcp.CallToolResult, Output, error) {
	if in.Key == "" {
		return invalid(fmt.Errorf("key is required"))
	}
	return t.command(ctx, "emulator_press_key", atticprotocol.NewInjectKeysCommand(TranslateKey(in.Key)))
}

func (t *Tools) handleTypeText(ctx context.Context, _ *mcp.CallToolRequest, in TypeTextInput) (*mcp.CallToolResult, Output, error) {
	text := in.Text
	if in.PressReturn {
		text += "\n"
	}
	if text == "" {
		return invalid(fmt.Errorf("text is required"))
	}
	return t.command(ctx, "emulator_type_text", atticprotocol.NewInjectKeysCommand(text))
}

// handleScreenshot returns the saved path, plus the image itself when the
// file is readable from here.
func (t *Tools) handleScreenshot(ctx context.Context, _ *mcp.CallToolRequest, in ScreenshotInput) (*mcp.CallToolResult, Output, error) {
	res, out, err := t.command(ctx, "emulator_screenshot", atticprotocol.NewScreenshotCommand(strings.TrimSpace(in.Path)))
	if err != nil || res.IsError {
		return res, out, err
	}

	path := strings.TrimSpace(out.Response)
	res = textResult("Screenshot saved to: " + path)
	if data, rerr := os.ReadFile(expandHome(path)); rerr == nil {
		res.Content = append(res.Content, &mcp.ImageContent{Data: data, MIMEType: "image/png"})
	} else {
		t.log.Debug("screenshot not readable", "path", path, "error", rerr)
	}
	return res, out, nil
}

func (t *Tools) handleListBasic(ctx context.Context, _ *mcp.CallToolRequest, in ListBasicInput) (*mcp.CallToolResult, Output, error) {
	return t.command(ctx, "emulator_list_basic", atticprotocol.NewBasicListCommand(strings.TrimSpace(in.Range), false))
}

func (t *Tools) handleMount(ctx context.Context, _ *mcp.CallToolRequest, in MountInput) (*mcp.CallToolResult, Output, error) {
	if err := checkDrive(in.Drive); err != nil {
		return invalid(err)
	}
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return invalid(fmt.Errorf("path is required"))
	}
	return t.command(ctx, "emulator_mount_disk", atticprotocol.NewMountCommand(in.Drive, path))
}

func (t *Tools) handleUnmount(ctx context.Context, _ *mcp.CallToolRequest, in DriveInput) (*mcp.CallToolResult, Output, error) {
	if err := checkDrive(in.Drive); err != nil {
		return invalid(err)
	}
	return t.command(ctx, "emulator_unmount_disk", atticprotocol.NewUnmountCommand(in.Drive))
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
