package translate

import (
	"strings"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// The keyword tables are built once and only read afterwards.

var dotRules = map[string]rule{
	"status":  bare(atticprotocol.CmdStatus),
	"screen":  bare(atticprotocol.CmdScreenText),
	"drives":  bare(atticprotocol.CmdDrives),
	"version": bare(atticprotocol.CmdVersion),
	"reset": {targets: produces(atticprotocol.CmdReset), build: func(string, Options) []string {
		return []string{atticprotocol.NewResetCommand(true).Format()}
	}},
	"warmstart": {targets: produces(atticprotocol.CmdReset), build: func(string, Options) []string {
		return []string{atticprotocol.NewResetCommand(false).Format()}
	}},
	"screenshot": withArgs(atticprotocol.CmdScreenshot),
	"boot":       withArgs(atticprotocol.CmdBoot),
	"state": {targets: produces(atticprotocol.CmdStateSave, atticprotocol.CmdStateLoad), build: func(args string, _ Options) []string {
		sub, path := SplitKeyword(args)
		switch strings.ToLower(sub) {
		case "save":
			return []string{join(atticprotocol.CmdStateSave.Verb(), path)}
		case "load":
			return []string{join(atticprotocol.CmdStateLoad.Verb(), path)}
		default:
			return []string{join("state", args)}
		}
	}},
}

// translateDotCommand handles the global dot-commands that map to server
// commands. REPL-local ones such as .help or .quit are not found here.
func translateDotCommand(line string) ([]string, bool) {
	keyword, args := SplitKeyword(line)
	r, ok := dotRules[strings.ToLower(strings.TrimPrefix(keyword, "."))]
	if !ok {
		return nil, false
	}
	return r.build(args, Options{}), true
}

var breakpointSubcommands = map[string]bool{"set": true, "clear": true, "clearall": true, "list": true}

var monitorRules = map[string]rule{
	// "g" resumes; "g $addr" moves the PC first.
	"g": {targets: produces(atticprotocol.CmdResume, atticprotocol.CmdRegisters), build: func(args string, _ Options) []string {
		if args == "" {
			return []string{atticprotocol.CmdResume.Verb()}
		}
		return []string{atticprotocol.CmdRegisters.Verb() + " pc=" + args, atticprotocol.CmdResume.Verb()}
	}},

	"s":           withArgs(atticprotocol.CmdStep),
	"step":        withArgs(atticprotocol.CmdStep),
	"so":          bare(atticprotocol.CmdStepOver),
	"stepover":    bare(atticprotocol.CmdStepOver),
	"p":           bare(atticprotocol.CmdPause),
	"pause":       bare(atticprotocol.CmdPause),
	"r":           withArgs(atticprotocol.CmdRegisters),
	"registers":   withArgs(atticprotocol.CmdRegisters),
	"m":           withArgs(atticprotocol.CmdRead),
	"memory":      withArgs(atticprotocol.CmdRead),
	">":           withArgs(atticprotocol.CmdWrite),
	"f":           withArgs(atticprotocol.CmdMemoryFill),
	"fill":        withArgs(atticprotocol.CmdMemoryFill),
	"d":           withArgs(atticprotocol.CmdDisassemble),
	"disassemble": withArgs(atticprotocol.CmdDisassemble),
	"until":       withArgs(atticprotocol.CmdRunUntil),
	"rununtil":    withArgs(atticprotocol.CmdRunUntil),

	// "a $0600" starts an interactive session; "a $0600 LDA #$42"
	// assembles a single instruction.
	"a":        {targets: produces(atticprotocol.CmdAssemble, atticprotocol.CmdAssembleLine), build: withArgs(atticprotocol.CmdAssemble).build},
	"assemble": {targets: produces(atticprotocol.CmdAssemble, atticprotocol.CmdAssembleLine), build: withArgs(atticprotocol.CmdAssemble).build},

	"b":          breakpointRule,
	"breakpoint": breakpointRule,
	"bp": {targets: produces(atticprotocol.CmdBreakpointSet, atticprotocol.CmdBreakpointList), build: func(args string, _ Options) []string {
		if args == "" {
			return []string{atticprotocol.CmdBreakpointList.Verb()}
		}
		return []string{join(atticprotocol.CmdBreakpointSet.Verb(), args)}
	}},
	"bc": {targets: produces(atticprotocol.CmdBreakpointClear, atticprotocol.CmdBreakpointClearAll), build: func(args string, _ Options) []string {
		if args == "*" {
			return []string{atticprotocol.CmdBreakpointClearAll.Verb()}
		}
		return []string{join(atticprotocol.CmdBreakpointClear.Verb(), args)}
	}},
	"bl": bare(atticprotocol.CmdBreakpointList),
}

// breakpointRule takes either a subcommand ("b clear $0600") or a bare
// address, which sets a breakpoint. With no arguments it lists them.
var breakpointRule = rule{
	targets: produces(atticprotocol.CmdBreakpointSet, atticprotocol.CmdBreakpointClear, atticprotocol.CmdBreakpointClearAll, atticprotocol.CmdBreakpointList),
	build: func(args string, _ Options) []string {
		sub, _ := SplitKeyword(args)
		switch {
		case args == "":
			return []string{atticprotocol.CmdBreakpointList.Verb()}
		case breakpointSubcommands[strings.ToLower(sub)]:
			return []string{"breakpoint " + args}
		default:
			return []string{join(atticprotocol.CmdBreakpointSet.Verb(), args)}
		}
	},
}

// basicRules is keyed by upper-case keyword.
var basicRules = map[string]rule{
	"LIST": {targets: produces(atticprotocol.CmdBasicList), build: func(args string, opts Options) []string {
		s := join(atticprotocol.CmdBasicList.Verb(), args)
		if opts.ATASCII {
			s += " atascii"
		}
		return []string{s}
	}},
	"DEL":      withArgs(atticprotocol.CmdBasicDelete),
	"DELETE":   withArgs(atticprotocol.CmdBasicDelete),
	"NEW":      bare(atticprotocol.CmdBasicNew),
	"RUN":      bare(atticprotocol.CmdBasicRun),
	"STOP":     bare(atticprotocol.CmdBasicStop),
	"CONT":     bare(atticprotocol.CmdBasicCont),
	"VARS":     bare(atticprotocol.CmdBasicVars),
	"VAR":      withArgs(atticprotocol.CmdBasicVar),
	"INFO":     bare(atticprotocol.CmdBasicInfo),
	"RENUM":    withArgs(atticprotocol.CmdBasicRenumber),
	"RENUMBER": withArgs(atticprotocol.CmdBasicRenumber),
	"SAVE":     withArgs(atticprotocol.CmdBasicSave),
	"LOAD":     withArgs(atticprotocol.CmdBasicLoad),
	"EXPORT":   withArgs(atticprotocol.CmdBasicExport),
	"IMPORT":   withArgs(atticprotocol.CmdBasicImport),
	"DIR":      withArgs(atticprotocol.CmdBasicDir),
}

var dosRules = map[string]rule{
	// Disk commands shared across modes are not dos-prefixed.
	"mount":   withArgs(atticprotocol.CmdMount),
	"unmount": withArgs(atticprotocol.CmdUnmount),
	"umount":  withArgs(atticprotocol.CmdUnmount),
	"drives":  bare(atticprotocol.CmdDrives),

	"cd":      withArgs(atticprotocol.CmdDosChangeDrive),
	"dir":     withArgs(atticprotocol.CmdDosDirectory),
	"info":    withArgs(atticprotocol.CmdDosFileInfo),
	"type":    withArgs(atticprotocol.CmdDosType),
	"dump":    withArgs(atticprotocol.CmdDosDump),
	"copy":    withArgs(atticprotocol.CmdDosCopy),
	"cp":      withArgs(atticprotocol.CmdDosCopy),
	"rename":  withArgs(atticprotocol.CmdDosRename),
	"ren":     withArgs(atticprotocol.CmdDosRename),
	"delete":  withArgs(atticprotocol.CmdDosDelete),
	"del":     withArgs(atticprotocol.CmdDosDelete),
	"lock":    withArgs(atticprotocol.CmdDosLock),
	"unlock":  withArgs(atticprotocol.CmdDosUnlock),
	"export":  withArgs(atticprotocol.CmdDosExport),
	"import":  withArgs(atticprotocol.CmdDosImport),
	"newdisk": withArgs(atticprotocol.CmdDosNewDisk),
	"format":  bare(atticprotocol.CmdDosFormat),
}

// Untranslated lists the commands no user input translates to. They are
// sent by the REPL or MCP tools directly, or only reachable by passing
// wire text through unchanged.
var Untranslated = []atticprotocol.CommandType{
	atticprotocol.CmdPing,
	atticprotocol.CmdQuit,
	atticprotocol.CmdShutdown,
	atticprotocol.CmdInjectBasic,
	atticprotocol.CmdBasicLine,
}

// Covered returns every command type some translation can produce.
func Covered() map[atticprotocol.CommandType]bool {
	covered := map[atticprotocol.CommandType]bool{
		atticprotocol.CmdInjectKeys:    true, // BASIC fallback, TypeLine
		atticprotocol.CmdAssembleInput: true, // AssemblyInput
		atticprotocol.CmdAssembleEnd:   true,
	}
	for _, table := range []map[string]rule{dotRules, monitorRules, basicRules, dosRules} {
		for _, r := range table {
			for _, ct := range r.targets {
				covered[ct] = true
			}
		}
	}
	return covered
}

// Uncovered returns command types that are neither produced by a
// translation nor listed in Untranslated.
func Uncovered() []atticprotocol.CommandType {
	covered := Covered()
	for _, ct := range Untranslated {
		covered[ct] = true
	}
	var missing []atticprotocol.CommandType
	for _, ct := range atticprotocol.AllCommandTypes() {
		if !covered[ct] {
			missing = append(missing, ct)
		}
	}
	return missing
}
