package atticprotocol

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandType is the closed set of commands the server understands.
type CommandType int

const (
	// Connection
	CmdPing CommandType = iota
	CmdVersion
	CmdQuit
	CmdShutdown

	// Emulator control
	CmdPause
	CmdResume
	CmdStep
	CmdReset
	CmdStatus

	// Memory and CPU
	CmdRead
	CmdWrite
	CmdRegisters

	// Breakpoints
	CmdBreakpointSet
	CmdBreakpointClear
	CmdBreakpointClearAll
	CmdBreakpointList

	// Assembly
	CmdAssemble
	CmdAssembleLine
	CmdAssembleInput
	CmdAssembleEnd
	CmdDisassemble

	// Monitor extras
	CmdStepOver
	CmdRunUntil
	CmdMemoryFill

	// Disk
	CmdMount
	CmdUnmount
	CmdDrives

	CmdBoot

	// State
	CmdStateSave
	CmdStateLoad

	// Display
	CmdScreenshot
	CmdScreenText

	// Injection
	CmdInjectBasic
	CmdInjectKeys

	// BASIC
	CmdBasicLine
	CmdBasicNew
	CmdBasicRun
	CmdBasicList
	CmdBasicDelete
	CmdBasicStop
	CmdBasicCont
	CmdBasicVars
	CmdBasicVar
	CmdBasicInfo
	CmdBasicExport
	CmdBasicImport
	CmdBasicDir
	CmdBasicRenumber
	CmdBasicSave
	CmdBasicLoad

	// DOS
	CmdDosChangeDrive
	CmdDosDirectory
	CmdDosFileInfo
	CmdDosType
	CmdDosDump
	CmdDosCopy
	CmdDosRename
	CmdDosDelete
	CmdDosLock
	CmdDosUnlock
	CmdDosExport
	CmdDosImport
	CmdDosNewDisk
	CmdDosFormat

	commandTypeCount
)

// verbs holds the canonical leading keyword(s) of each command's wire text.
var verbs = [commandTypeCount]string{
	CmdPing:     "ping",
	CmdVersion:  "version",
	CmdQuit:     "quit",
	CmdShutdown: "shutdown",

	CmdPause:  "pause",
	CmdResume: "resume",
	CmdStep:   "step",
	CmdReset:  "reset",
	CmdStatus: "status",

	CmdRead:      "read",
	CmdWrite:     "write",
	CmdRegisters: "registers",

	CmdBreakpointSet:      "breakpoint set",
	CmdBreakpointClear:    "breakpoint clear",
	CmdBreakpointClearAll: "breakpoint clearall",
	CmdBreakpointList:     "breakpoint list",

	CmdAssemble:      "assemble",
	CmdAssembleLine:  "assemble",
	CmdAssembleInput: "asm input",
	CmdAssembleEnd:   "asm end",
	CmdDisassemble:   "disassemble",

	CmdStepOver:   "stepover",
	CmdRunUntil:   "rununtil",
	CmdMemoryFill: "fill",

	CmdMount:   "mount",
	CmdUnmount: "unmount",
	CmdDrives:  "drives",

	CmdBoot: "boot",

	CmdStateSave: "state save",
	CmdStateLoad: "state load",

	CmdScreenshot: "screenshot",
	CmdScreenText: "screen",

	CmdInjectBasic: "inject basic",
	CmdInjectKeys:  "inject keys",

	CmdBasicLine:     "basic",
	CmdBasicNew:      "basic new",
	CmdBasicRun:      "basic run",
	CmdBasicList:     "basic list",
	CmdBasicDelete:   "basic del",
	CmdBasicStop:     "basic stop",
	CmdBasicCont:     "basic cont",
	CmdBasicVars:     "basic vars",
	CmdBasicVar:      "basic var",
	CmdBasicInfo:     "basic info",
	CmdBasicExport:   "basic export",
	CmdBasicImport:   "basic import",
	CmdBasicDir:      "basic dir",
	CmdBasicRenumber: "basic renum",
	CmdBasicSave:     "basic save",
	CmdBasicLoad:     "basic load",

	CmdDosChangeDrive: "dos cd",
	CmdDosDirectory:   "dos dir",
	CmdDosFileInfo:    "dos info",
	CmdDosType:        "dos type",
	CmdDosDump:        "dos dump",
	CmdDosCopy:        "dos copy",
	CmdDosRename:      "dos rename",
	CmdDosDelete:      "dos delete",
	CmdDosLock:        "dos lock",
	CmdDosUnlock:      "dos unlock",
	CmdDosExport:      "dos export",
	CmdDosImport:      "dos import",
	CmdDosNewDisk:     "dos newdisk",
	CmdDosFormat:      "dos format",
}

// Verb returns the canonical keyword(s) the command's wire text starts with,
// for example "breakpoint set" or "dos dir".
func (t CommandType) Verb() string {
	if t < 0 || t >= commandTypeCount {
		return ""
	}
	return verbs[t]
}

// String implements fmt.Stringer.
func (t CommandType) String() string {
	if v := t.Verb(); v != "" {
		return v
	}
	return "CommandType(" + strconv.Itoa(int(t)) + ")"
}

// AllCommandTypes returns every CommandType in declaration order.
func AllCommandTypes() []CommandType {
	types := make([]CommandType, commandTypeCount)
	for i := range types {
		types[i] = CommandType(i)
	}
	return types
}

// RegisterModification is one name=value pair of a registers command.
type RegisterModification struct {
	Name  string // A, X, Y, S, P, or PC
	Value uint16
}

// Command is one request to the server. Only the fields relevant to Type
// are populated; use the New*Command constructors to build one. A Command
// is self-describing: its wire text depends on nothing but its fields.
type Command struct {
	Type CommandType

	Address    uint16 // read, write, breakpoints, assemble, disassemble, until, fill start
	HasAddress bool   // Address was given (disassemble)
	EndAddress uint16 // fill end
	Count      int    // step count, read length, disassemble lines
	HasCount   bool   // Count was given (disassemble)
	Value      byte   // fill value
	Cold       bool   // reset
	Atascii    bool   // basic list

	Data      []byte                 // write
	Registers []RegisterModification // registers

	Drive    int  // mount, unmount, basic dir/save/load, dos cd
	HasDrive bool // Drive was given (basic dir/save/load)

	Path     string // host path: mount, boot, state, screenshot, basic export/import, dos export/import, newdisk
	Text     string // keystrokes, base64 program, instruction, BASIC line, variable, line range, dir pattern
	Filename string // Atari-side file name

	Source      string // dos copy source, dos rename old name
	Destination string // dos copy destination, dos rename new name
	DiskType    string // dos newdisk: sd, ed or dd

	RenumStart *int // basic renum
	RenumStep  *int // basic renum
}

type encodeFunc func(Command) string

// encoders renders each CommandType's wire text. Every entry must be
// non-nil; see checkEncoders.
var encoders = [commandTypeCount]encodeFunc{
	CmdPing:     bare,
	CmdVersion:  bare,
	CmdQuit:     bare,
	CmdShutdown: bare,

	CmdPause:  bare,
	CmdResume: bare,
	CmdStep: func(c Command) string {
		if c.Count <= 1 {
			return "step"
		}
		return fmt.Sprintf("step %d", c.Count)
	},
	CmdReset: func(c Command) string {
		if c.Cold {
			return "reset cold"
		}
		return "reset warm"
	},
	CmdStatus: bare,

	CmdRead: func(c Command) string {
		return fmt.Sprintf("read $%04X %d", c.Address, c.Count)
	},
	CmdWrite: func(c Command) string {
		return fmt.Sprintf("write $%04X %s", c.Address, FormatHexBytes(c.Data))
	},
	CmdRegisters: func(c Command) string {
		if len(c.Registers) == 0 {
			return "registers"
		}
		mods := make([]string, len(c.Registers))
		for i, m := range c.Registers {
			mods[i] = fmt.Sprintf("%s=$%04X", m.Name, m.Value)
		}
		return "registers " + strings.Join(mods, " ")
	},

	CmdBreakpointSet:      withAddress,
	CmdBreakpointClear:    withAddress,
	CmdBreakpointClearAll: bare,
	CmdBreakpointList:     bare,

	CmdAssemble: withAddress,
	CmdAssembleLine: func(c Command) string {
		return fmt.Sprintf("assemble $%04X %s", c.Address, c.Text)
	},
	CmdAssembleInput: withText,
	CmdAssembleEnd:   bare,
	CmdDisassemble: func(c Command) string {
		var b strings.Builder
		b.WriteString("disassemble")
		if c.HasAddress {
			fmt.Fprintf(&b, " $%04X", c.Address)
		}
		if c.HasCount {
			if !c.HasAddress {
				b.WriteString(" .")
			}
			fmt.Fprintf(&b, " %d", c.Count)
		}
		return b.String()
	},

	CmdStepOver: bare,
	CmdRunUntil: withAddress,
	CmdMemoryFill: func(c Command) string {
		return fmt.Sprintf("fill $%04X $%04X $%02X", c.Address, c.EndAddress, c.Value)
	},

	CmdMount: func(c Command) string {
		return fmt.Sprintf("mount %d %s", c.Drive, c.Path)
	},
	CmdUnmount: func(c Command) string {
		return fmt.Sprintf("unmount %d", c.Drive)
	},
	CmdDrives: bare,

	CmdBoot: withPath,

	CmdStateSave: withPath,
	CmdStateLoad: withPath,

	CmdScreenshot: func(c Command) string {
		if c.Path == "" {
			return "screenshot"
		}
		return "screenshot " + c.Path
	},
	CmdScreenText: bare,

	CmdInjectBasic: withText,
	CmdInjectKeys: func(c Command) string {
		return "inject keys " + EscapeKeys(c.Text)
	},

	CmdBasicLine: withText,
	CmdBasicNew:  bare,
	CmdBasicRun:  bare,
	CmdBasicList: func(c Command) string {
		s := "basic list"
		if c.Text != "" {
			s += " " + c.Text
		}
		if c.Atascii {
			s += " atascii"
		}
		return s
	},
	CmdBasicDelete: withText,
	CmdBasicStop:   bare,
	CmdBasicCont:   bare,
	CmdBasicVars:   bare,
	CmdBasicVar:    withText,
	CmdBasicInfo:   bare,
	CmdBasicExport: withPath,
	CmdBasicImport: withPath,
	CmdBasicDir: func(c Command) string {
		if c.HasDrive {
			return fmt.Sprintf("basic dir %d", c.Drive)
		}
		return "basic dir"
	},
	CmdBasicRenumber: func(c Command) string {
		s := "basic renum"
		if c.RenumStart != nil {
			s += fmt.Sprintf(" %d", *c.RenumStart)
			if c.RenumStep != nil {
				s += fmt.Sprintf(" %d", *c.RenumStep)
			}
		}
		return s
	},
	CmdBasicSave: withDriveFile,
	CmdBasicLoad: withDriveFile,

	CmdDosChangeDrive: func(c Command) string {
		return fmt.Sprintf("dos cd %d", c.Drive)
	},
	CmdDosDirectory: func(c Command) string {
		if c.Text == "" {
			return "dos dir"
		}
		return "dos dir " + c.Text
	},
	CmdDosFileInfo: withFilename,
	CmdDosType:     withFilename,
	CmdDosDump:     withFilename,
	CmdDosCopy:     withSourceDest,
	CmdDosRename:   withSourceDest,
	CmdDosDelete:   withFilename,
	CmdDosLock:     withFilename,
	CmdDosUnlock:   withFilename,
	CmdDosExport: func(c Command) string {
		return fmt.Sprintf("dos export %s %s", c.Filename, c.Path)
	},
	CmdDosImport: func(c Command) string {
		return fmt.Sprintf("dos import %s %s", c.Path, c.Filename)
	},
	CmdDosNewDisk: func(c Command) string {
		if c.DiskType == "" {
			return "dos newdisk " + c.Path
		}
		return fmt.Sprintf("dos newdisk %s %s", c.Path, c.DiskType)
	},
	CmdDosFormat: bare,
}

func bare(c Command) string           { return c.Type.Verb() }
func withText(c Command) string       { return c.Type.Verb() + " " + c.Text }
func withPath(c Command) string       { return c.Type.Verb() + " " + c.Path }
func withFilename(c Command) string   { return c.Type.Verb() + " " + c.Filename }
func withSourceDest(c Command) string { return c.Type.Verb() + " " + c.Source + " " + c.Destination }

func withAddress(c Command) string {
	return fmt.Sprintf("%s $%04X", c.Type.Verb(), c.Address)
}

func withDriveFile(c Command) string {
	if c.HasDrive {
		return fmt.Sprintf("%s D%d:%s", c.Type.Verb(), c.Drive, c.Filename)
	}
	return fmt.Sprintf("%s D:%s", c.Type.Verb(), c.Filename)
}

// missingEncoders lists command types without an encoder.
func missingEncoders() []CommandType {
	var missing []CommandType
	for i, enc := range encoders {
		if enc == nil || verbs[i] == "" {
			missing = append(missing, CommandType(i))
		}
	}
	return missing
}

// Format returns the command text without the CMD: prefix or newline.
// Unknown command types format as the empty string.
func (c Command) Format() string {
	if c.Type < 0 || c.Type >= commandTypeCount || encoders[c.Type] == nil {
		return ""
	}
	return encoders[c.Type](c)
}

// Line returns the complete wire line for the command, prefix and newline
// included.
func (c Command) Line() string {
	return EncodeRaw(c.Format())
}

// EncodeRaw frames pre-formatted command text as a wire line.
func EncodeRaw(text string) string {
	return CommandPrefix + text + "\n"
}

// FormatHexBytes renders bytes as the comma-joined two-digit hex list used
// by write.
func FormatHexBytes(data []byte) string {
	hex := make([]string, len(data))
	for i, b := range data {
		hex[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(hex, ",")
}

var keyEscaper = strings.NewReplacer(
	`\`, `\\`,
	" ", `\s`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

// EscapeKeys escapes free text for embedding in the space-delimited wire
// format: backslash, space, tab, newline and carriage return.
func EscapeKeys(text string) string {
	return keyEscaper.Replace(text)
}

// UnescapeKeys reverses EscapeKeys. It also understands \e (ESC).
// Unknown escapes yield the escaped character itself.
func UnescapeKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 's':
			b.WriteByte(' ')
		case 'e':
			b.WriteByte('\x1B')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Connection commands.

func NewPingCommand() Command     { return Command{Type: CmdPing} }
func NewVersionCommand() Command  { return Command{Type: CmdVersion} }
func NewQuitCommand() Command     { return Command{Type: CmdQuit} }
func NewShutdownCommand() Command { return Command{Type: CmdShutdown} }

// Emulator control.

func NewPauseCommand() Command  { return Command{Type: CmdPause} }
func NewResumeCommand() Command { return Command{Type: CmdResume} }
func NewStatusCommand() Command { return Command{Type: CmdStatus} }

// NewStepCommand steps count instructions; counts below 1 mean one.
func NewStepCommand(count int) Command {
	if count <= 0 {
		count = 1
	}
	return Command{Type: CmdStep, Count: count}
}

// NewResetCommand performs a cold reset if cold is true, otherwise warm.
func NewResetCommand(cold bool) Command {
	return Command{Type: CmdReset, Cold: cold}
}

// Memory and CPU.

func NewReadCommand(address, count uint16) Command {
	return Command{Type: CmdRead, Address: address, HasAddress: true, Count: int(count)}
}

func NewWriteCommand(address uint16, data []byte) Command {
	return Command{Type: CmdWrite, Address: address, HasAddress: true, Data: data}
}

// NewRegistersCommand queries registers when mods is empty and sets them
// otherwise.
func NewRegistersCommand(mods []RegisterModification) Command {
	return Command{Type: CmdRegisters, Registers: mods}
}

// Breakpoints.

func NewBreakpointSetCommand(address uint16) Command {
	return Command{Type: CmdBreakpointSet, Address: address, HasAddress: true}
}

func NewBreakpointClearCommand(address uint16) Command {
	return Command{Type: CmdBreakpointClear, Address: address, HasAddress: true}
}

func NewBreakpointClearAllCommand() Command { return Command{Type: CmdBreakpointClearAll} }
func NewBreakpointListCommand() Command     { return Command{Type: CmdBreakpointList} }

// Assembly.

// NewAssembleCommand starts an interactive assembly session at address.
func NewAssembleCommand(address uint16) Command {
	return Command{Type: CmdAssemble, Address: address, HasAddress: true}
}

// NewAssembleLineCommand assembles a single instruction at address.
func NewAssembleLineCommand(address uint16, instruction string) Command {
	return Command{Type: CmdAssembleLine, Address: address, HasAddress: true, Text: instruction}
}

// NewAssembleInputCommand feeds one instruction to the active session.
func NewAssembleInputCommand(instruction string) Command {
	return Command{Type: CmdAssembleInput, Text: instruction}
}

func NewAssembleEndCommand() Command { return Command{Type: CmdAssembleEnd} }

// NewDisassembleCommand disassembles from address (current PC when nil)
// for lines instructions (server default when nil).
func NewDisassembleCommand(address *uint16, lines *int) Command {
	c := Command{Type: CmdDisassemble}
	if address != nil {
		c.Address, c.HasAddress = *address, true
	}
	if lines != nil {
		c.Count, c.HasCount = *lines, true
	}
	return c
}

// Monitor extras.

func NewStepOverCommand() Command { return Command{Type: CmdStepOver} }

func NewRunUntilCommand(address uint16) Command {
	return Command{Type: CmdRunUntil, Address: address, HasAddress: true}
}

func NewMemoryFillCommand(start, end uint16, value byte) Command {
	return Command{Type: CmdMemoryFill, Address: start, HasAddress: true, EndAddress: end, Value: value}
}

// Disk, boot and state.

func NewMountCommand(drive int, path string) Command {
	return Command{Type: CmdMount, Drive: drive, HasDrive: true, Path: path}
}

func NewUnmountCommand(drive int) Command {
	return Command{Type: CmdUnmount, Drive: drive, HasDrive: true}
}

func NewDrivesCommand() Command { return Command{Type: CmdDrives} }

// NewBootCommand boots the emulator with an ATR, XEX, BAS, CAS or ROM file.
func NewBootCommand(path string) Command { return Command{Type: CmdBoot, Path: path} }

func NewStateSaveCommand(path string) Command { return Command{Type: CmdStateSave, Path: path} }
func NewStateLoadCommand(path string) Command { return Command{Type: CmdStateLoad, Path: path} }

// Display.

// NewScreenshotCommand captures the display; an empty path lets the server
// pick one.
func NewScreenshotCommand(path string) Command {
	return Command{Type: CmdScreenshot, Path: path}
}

// NewScreenTextCommand reads the GRAPHICS 0 text screen.
func NewScreenTextCommand() Command { return Command{Type: CmdScreenText} }

// Injection.

func NewInjectBasicCommand(base64Data string) Command {
	return Command{Type: CmdInjectBasic, Text: base64Data}
}

// NewInjectKeysCommand types text into the emulator. The text is escaped
// when the command is formatted.
func NewInjectKeysCommand(text string) Command {
	return Command{Type: CmdInjectKeys, Text: text}
}

// BASIC.

func NewBasicLineCommand(line string) Command { return Command{Type: CmdBasicLine, Text: line} }
func NewBasicNewCommand() Command             { return Command{Type: CmdBasicNew} }
func NewBasicRunCommand() Command             { return Command{Type: CmdBasicRun} }
func NewBasicStopCommand() Command            { return Command{Type: CmdBasicStop} }
func NewBasicContCommand() Command            { return Command{Type: CmdBasicCont} }
func NewBasicVarsCommand() Command            { return Command{Type: CmdBasicVars} }
func NewBasicInfoCommand() Command            { return Command{Type: CmdBasicInfo} }

// NewBasicListCommand lists the program, optionally restricted to a line
// range such as "10-50". With atascii set the server renders ATASCII
// graphics with ANSI inverse video and Unicode glyphs.
func NewBasicListCommand(lineRange string, atascii bool) Command {
	return Command{Type: CmdBasicList, Text: lineRange, Atascii: atascii}
}

// NewBasicDeleteCommand deletes a line ("10") or a range ("10-50").
func NewBasicDeleteCommand(lineOrRange string) Command {
	return Command{Type: CmdBasicDelete, Text: lineOrRange}
}

func NewBasicVarCommand(name string) Command    { return Command{Type: CmdBasicVar, Text: name} }
func NewBasicExportCommand(path string) Command { return Command{Type: CmdBasicExport, Path: path} }
func NewBasicImportCommand(path string) Command { return Command{Type: CmdBasicImport, Path: path} }

// NewBasicDirCommand lists a disk directory; nil means the current drive.
func NewBasicDirCommand(drive *int) Command {
	c := Command{Type: CmdBasicDir}
	if drive != nil {
		c.Drive, c.HasDrive = *drive, true
	}
	return c
}

// NewBasicRenumberCommand renumbers the program. The server defaults both
// start and step to 10. A step without a start is ignored.
func NewBasicRenumberCommand(start, step *int) Command {
	return Command{Type: CmdBasicRenumber, RenumStart: start, RenumStep: step}
}

// NewBasicSaveCommand saves the tokenized program to an ATR disk.
func NewBasicSaveCommand(drive *int, filename string) Command {
	return driveFile(CmdBasicSave, drive, filename)
}

// NewBasicLoadCommand loads a tokenized program from an ATR disk.
func NewBasicLoadCommand(drive *int, filename string) Command {
	return driveFile(CmdBasicLoad, drive, filename)
}

func driveFile(t CommandType, drive *int, filename string) Command {
	c := Command{Type: t, Filename: filename}
	if drive != nil {
		c.Drive, c.HasDrive = *drive, true
	}
	return c
}

// DOS.

func NewDosChangeDriveCommand(drive int) Command {
	return Command{Type: CmdDosChangeDrive, Drive: drive, HasDrive: true}
}

// NewDosDirectoryCommand lists the current drive, optionally filtered by a
// wildcard pattern.
func NewDosDirectoryCommand(pattern string) Command {
	return Command{Type: CmdDosDirectory, Text: pattern}
}

func NewDosFileInfoCommand(filename string) Command { return dosFile(CmdDosFileInfo, filename) }
func NewDosTypeCommand(filename string) Command     { return dosFile(CmdDosType, filename) }
func NewDosDumpCommand(filename string) Command     { return dosFile(CmdDosDump, filename) }
func NewDosDeleteCommand(filename string) Command   { return dosFile(CmdDosDelete, filename) }
func NewDosLockCommand(filename string) Command     { return dosFile(CmdDosLock, filename) }
func NewDosUnlockCommand(filename string) Command   { return dosFile(CmdDosUnlock, filename) }

func dosFile(t CommandType, filename string) Command {
	return Command{Type: t, Filename: filename}
}

func NewDosCopyCommand(source, destination string) Command {
	return Command{Type: CmdDosCopy, Source: source, Destination: destination}
}

func NewDosRenameCommand(oldName, newName string) Command {
	return Command{Type: CmdDosRename, Source: oldName, Destination: newName}
}

// NewDosExportCommand copies an Atari file out to the host filesystem.
func NewDosExportCommand(filename, hostPath string) Command {
	return Command{Type: CmdDosExport, Filename: filename, Path: hostPath}
}

// NewDosImportCommand copies a host file onto the current disk.
func NewDosImportCommand(hostPath, filename string) Command {
	return Command{Type: CmdDosImport, Path: hostPath, Filename: filename}
}

// NewDosNewDiskCommand creates a blank ATR. diskType is "sd", "ed", "dd"
// or empty for the server default.
func NewDosNewDiskCommand(path, diskType string) Command {
	return Command{Type: CmdDosNewDisk, Path: path, DiskType: diskType}
}

func NewDosFormatCommand() Command { return Command{Type: CmdDosFormat} }
