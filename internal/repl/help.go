// =============================================================================
// help.go - Help System
// =============================================================================
//
// Each mode has an ordered list of command entries. ".help" prints the
// global entries plus the current mode's; ".help <topic>" prints one entry
// in detail. Aliases point at the entry they abbreviate. The tables are
// built once and never modified.
//
// =============================================================================

package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/huegli/attic-sub009/internal/translate"
)

type helpEntry struct {
	name     string
	aliases  []string
	usage    string
	summary  string
	details  string
	examples []string
}

var globalHelp = []helpEntry{
	{name: "monitor", usage: ".monitor", summary: "Switch to monitor mode",
		details: "6502 debugging: disassembly, breakpoints, memory and registers."},
	{name: "basic", usage: ".basic", summary: "Switch to BASIC mode",
		details: "Enter and run Atari BASIC programs. Input that is not a BASIC\nmode command is typed into the emulator followed by RETURN."},
	{name: "dos", usage: ".dos", summary: "Switch to DOS mode",
		details: "Mount disk images and work with the files on them."},
	{name: "help", usage: ".help [topic]", summary: "Show help, or help for one command",
		examples: []string{".help", ".help mount", ".help .boot"}},
	{name: "status", usage: ".status", summary: "Show emulator status",
		details: "Running state, program counter, mounted drives and breakpoints."},
	{name: "screen", usage: ".screen", summary: "Read screen text (GRAPHICS 0 only)",
		details: "Returns the 40x24 text screen. Other graphics modes are not readable."},
	{name: "screenshot", usage: ".screenshot [path]", summary: "Save a PNG screenshot",
		details: "Without a path the server picks a timestamped file name.",
		examples: []string{".screenshot", ".screenshot ~/captures/title.png"}},
	{name: "boot", usage: ".boot <path>", summary: "Boot a file (ATR, XEX, BAS, CAS, ROM)",
		details: "Disk images are mounted on D1: and booted; executables are loaded\nand run; BASIC programs are loaded into BASIC.",
		examples: []string{".boot ~/games/StarRaiders.atr"}},
	{name: "drives", usage: ".drives", summary: "List mounted drives"},
	{name: "version", usage: ".version", summary: "Show the server version"},
	{name: "reset", usage: ".reset", summary: "Cold reset",
		details: "Reinitializes the hardware and clears memory, like a power cycle."},
	{name: "warmstart", usage: ".warmstart", summary: "Warm reset",
		details: "Same as pressing RESET on the Atari. Memory is kept."},
	{name: "state", usage: ".state save|load <path>", summary: "Save or load the emulator state",
		examples: []string{".state save ~/saves/game.state", ".state load ~/saves/game.state"}},
	{name: "quit", usage: ".quit", summary: "Exit, leaving the server running"},
	{name: "shutdown", usage: ".shutdown", summary: "Exit and stop the server",
		details: "Sends shutdown to the server. A server launched by this session is\nalso sent SIGTERM."},
}

var monitorHelp = []helpEntry{
	{name: "g", usage: "g [addr]", summary: "Resume, optionally from addr",
		examples: []string{"g", "g $E000"}},
	{name: "s", aliases: []string{"step"}, usage: "s [n]", summary: "Step n instructions (default 1)",
		examples: []string{"s", "s 10"}},
	{name: "so", aliases: []string{"stepover"}, usage: "so", summary: "Step over a JSR",
		details: "Runs a subroutine call as a single step."},
	{name: "p", aliases: []string{"pause"}, usage: "p", summary: "Pause emulation",
		details: "Memory and register writes need the emulator paused."},
	{name: "r", aliases: []string{"registers"}, usage: "r [reg=val ...]", summary: "Show or set registers",
		details: "Registers are A, X, Y, S, P and PC.",
		examples: []string{"r", "r a=$42", "r pc=$E000 a=$00"}},
	{name: "m", aliases: []string{"memory"}, usage: "m <addr> <len>", summary: "Dump memory",
		examples: []string{"m $0600 16", "m $D000 64"}},
	{name: ">", usage: "> <addr> <bytes>", summary: "Write comma-separated hex bytes",
		examples: []string{"> $0600 A9,00,8D,00,D4"}},
	{name: "f", aliases: []string{"fill"}, usage: "f <start> <end> <val>", summary: "Fill a memory range",
		examples: []string{"f $0600 $06FF $00"}},
	{name: "a", aliases: []string{"assemble"}, usage: "a <addr> [instr]", summary: "Assemble 6502 code",
		details: "With only an address, starts interactive assembly: enter one\ninstruction per line and a blank line or '.' to finish.",
		examples: []string{"a $0600", "a $0600 LDA #$42"}},
	{name: "d", aliases: []string{"disassemble"}, usage: "d [addr] [lines]", summary: "Disassemble",
		details: "Starts at the PC when no address is given.",
		examples: []string{"d", "d $E000 32"}},
	{name: "b", aliases: []string{"breakpoint"}, usage: "b [set|clear|list] [addr]", summary: "Manage breakpoints",
		details: "A bare address sets a breakpoint; no arguments lists them.",
		examples: []string{"b $0600", "b clear $0600", "b list"}},
	{name: "bp", usage: "bp <addr>", summary: "Set a breakpoint"},
	{name: "bc", usage: "bc <addr>|*", summary: "Clear one breakpoint, or all with *"},
	{name: "bl", usage: "bl", summary: "List breakpoints"},
	{name: "until", aliases: []string{"rununtil"}, usage: "until <addr>", summary: "Run until PC reaches addr",
		examples: []string{"until $E459"}},
}

var basicHelp = []helpEntry{
	{name: "list", usage: "list [range]", summary: "List the program",
		details: "With --atascii (the default) graphics characters are rendered.",
		examples: []string{"list", "list 10-50"}},
	{name: "del", aliases: []string{"delete"}, usage: "del <line|range>", summary: "Delete lines",
		examples: []string{"del 30", "del 10-50"}},
	{name: "new", usage: "new", summary: "Clear the program"},
	{name: "run", usage: "run", summary: "Run the program"},
	{name: "stop", usage: "stop", summary: "Send BREAK"},
	{name: "cont", usage: "cont", summary: "Continue after BREAK"},
	{name: "renum", aliases: []string{"renumber"}, usage: "renum [start] [step]", summary: "Renumber lines (default 10 10)",
		details: "GOTO and GOSUB targets are updated.",
		examples: []string{"renum", "renum 100 5"}},
	{name: "info", usage: "info", summary: "Show program size"},
	{name: "vars", usage: "vars", summary: "List variables"},
	{name: "var", usage: "var <name>", summary: "Show one variable",
		examples: []string{"var X", "var A$"}},
	{name: "save", usage: "save D[n]:FILE", summary: "Save to a mounted disk",
		examples: []string{"save D:TEST", "save D2:GAME"}},
	{name: "load", usage: "load D[n]:FILE", summary: "Load from a mounted disk",
		examples: []string{"load D:TEST"}},
	{name: "export", usage: "export <path>", summary: "Write the listing to a host file"},
	{name: "import", usage: "import <path>", summary: "Read a listing from a host file"},
	{name: "dir", usage: "dir [drive]", summary: "List a disk directory"},
}

var dosHelp = []helpEntry{
	{name: "mount", usage: "mount <n> <path>", summary: "Mount an ATR image on drive n (1-8)",
		examples: []string{"mount 1 ~/disks/dos.atr"}},
	{name: "unmount", aliases: []string{"umount"}, usage: "unmount <n>", summary: "Unmount drive n"},
	{name: "drives", usage: "drives", summary: "List drives D1: to D8:"},
	{name: "cd", usage: "cd <n>", summary: "Change the current drive"},
	{name: "dir", usage: "dir [pattern]", summary: "List the current drive",
		examples: []string{"dir", "dir *.COM"}},
	{name: "info", usage: "info <file>", summary: "Show size, sectors and lock state"},
	{name: "type", usage: "type <file>", summary: "Show a text file"},
	{name: "dump", usage: "dump <file>", summary: "Hex dump a file"},
	{name: "copy", aliases: []string{"cp"}, usage: "copy <src> <dst>", summary: "Copy a file",
		examples: []string{"copy D1:FILE.COM D2:FILE.COM"}},
	{name: "rename", aliases: []string{"ren"}, usage: "rename <old> <new>", summary: "Rename a file"},
	{name: "delete", aliases: []string{"del"}, usage: "delete <file>", summary: "Delete a file"},
	{name: "lock", usage: "lock <file>", summary: "Make a file read-only"},
	{name: "unlock", usage: "unlock <file>", summary: "Make a file writable"},
	{name: "export", usage: "export <file> <path>", summary: "Copy a disk file to the host"},
	{name: "import", usage: "import <path> <file>", summary: "Copy a host file to the disk"},
	{name: "newdisk", usage: "newdisk <path> [sd|ed|dd]", summary: "Create a blank ATR image",
		details: "sd is 90K single density (default), ed 130K enhanced, dd 180K double."},
	{name: "format", usage: "format", summary: "Format the current drive",
		details: "All data on the disk is lost."},
}

// helpIndex maps every name and alias to its entry.
type helpIndex map[string]*helpEntry

func buildIndex(entries []helpEntry) helpIndex {
	idx := make(helpIndex, len(entries))
	for i := range entries {
		e := &entries[i]
		idx[e.name] = e
		for _, alias := range e.aliases {
			idx[alias] = e
		}
	}
	return idx
}

var (
	globalIndex = buildIndex(globalHelp)
	modeIndex   = map[translate.Mode]helpIndex{
		translate.ModeMonitor: buildIndex(monitorHelp),
		translate.ModeBasic:   buildIndex(basicHelp),
		translate.ModeDOS:     buildIndex(dosHelp),
	}
	modeEntries = map[translate.Mode][]helpEntry{
		translate.ModeMonitor: monitorHelp,
		translate.ModeBasic:   basicHelp,
		translate.ModeDOS:     dosHelp,
	}
	modeTitles = map[translate.Mode]string{
		translate.ModeMonitor: "Monitor Commands",
		translate.ModeBasic:   "BASIC Commands",
		translate.ModeDOS:     "DOS Commands",
	}
)

// WriteHelp writes the overview for mode, or the details for topic.
// Topics are matched case-insensitively with any leading dot removed, first
// among the global commands and then among the mode's.
func WriteHelp(w io.Writer, mode translate.Mode, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		writeOverview(w, mode)
		return nil
	}

	key := strings.TrimPrefix(strings.ToLower(topic), ".")
	if e, ok := globalIndex[key]; ok {
		writeEntry(w, e)
		return nil
	}
	if e, ok := modeIndex[mode][key]; ok {
		writeEntry(w, e)
		return nil
	}
	return fmt.Errorf("no help for '%s'. Type .help to see available commands", topic)
}

func writeOverview(w io.Writer, mode translate.Mode) {
	writeSection(w, "Global Commands", globalHelp)
	if entries, ok := modeEntries[mode]; ok {
		fmt.Fprintln(w)
		writeSection(w, modeTitles[mode], entries)
	}
	if mode == translate.ModeBasic {
		fmt.Fprintln(w, "  Other input is typed into the emulator, followed by RETURN.")
	}
}

func writeSection(w io.Writer, title string, entries []helpEntry) {
	fmt.Fprintf(w, "%s:\n", title)
	for _, e := range entries {
		fmt.Fprintf(w, "  %-26s %s\n", e.usage, e.summary)
	}
}

func writeEntry(w io.Writer, e *helpEntry) {
	fmt.Fprintf(w, "  %s\n", e.usage)
	fmt.Fprintf(w, "    %s.\n", e.summary)
	if e.details != "" {
		for _, line := range strings.Split(e.details, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	if len(e.aliases) > 0 {
		fmt.Fprintf(w, "    Aliases: %s\n", strings.Join(e.aliases, ", "))
	}
	if len(e.examples) > 0 {
		fmt.Fprintln(w, "    Examples:")
		for _, ex := range e.examples {
			fmt.Fprintf(w, "      %s\n", ex)
		}
	}
}
