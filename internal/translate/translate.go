// =============================================================================
// translate.go - Command Translation (User Input → CLI Protocol)
// =============================================================================
//
// Translates what a user types at the REPL into the wire-format command
// strings AtticServer understands. Each mode (monitor, BASIC, DOS) has its
// own vocabulary of short keywords; global dot-commands work in every mode.
//
// Examples:
//   Monitor:  "g $0600"        → ["registers pc=$0600", "resume"]
//   BASIC:    "list 10-50"     → ["basic list 10-50"]
//   DOS:      "dir *.COM"      → ["dos dir *.COM"]
//   Global:   ".reset"         → ["reset cold"]
//
// Some inputs expand to several protocol commands that must be sent in
// order, so Translate returns a slice.
//
// =============================================================================

package translate

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// Mode is a REPL input mode.
type Mode int

const (
	ModeBasic Mode = iota
	ModeMonitor
	ModeDOS
)

func (m Mode) String() string {
	switch m {
	case ModeMonitor:
		return "monitor"
	case ModeBasic:
		return "basic"
	case ModeDOS:
		return "dos"
	default:
		return "unknown"
	}
}

// ParseMode accepts "monitor", "basic" or "dos" in any case.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monitor":
		return ModeMonitor, true
	case "basic":
		return ModeBasic, true
	case "dos":
		return ModeDOS, true
	default:
		return 0, false
	}
}

// Options are the flags that influence translation.
type Options struct {
	// ATASCII asks BASIC listings to render ATASCII graphics.
	ATASCII bool
}

// rule maps one keyword to protocol text. targets names the commands the
// rule can produce; it feeds the coverage check in Covered.
type rule struct {
	targets []atticprotocol.CommandType
	build   func(args string, opts Options) []string
}

func produces(targets ...atticprotocol.CommandType) []atticprotocol.CommandType {
	return targets
}

// bare ignores any arguments.
func bare(ct atticprotocol.CommandType) rule {
	return rule{targets: produces(ct), build: func(string, Options) []string {
		return []string{ct.Verb()}
	}}
}

// withArgs forwards the argument text verbatim; the server validates it.
func withArgs(ct atticprotocol.CommandType) rule {
	return rule{targets: produces(ct), build: func(args string, _ Options) []string {
		return []string{join(ct.Verb(), args)}
	}}
}

func join(verb, args string) string {
	if args == "" {
		return verb
	}
	return verb + " " + args
}

// Translate converts one line of user input into the protocol command
// strings to send, in order. Only the first whitespace-delimited token is
// matched as a keyword; the rest is passed through as argument text.
// Unrecognized monitor and DOS input is passed through unchanged, and
// unrecognized BASIC input is typed as keystrokes followed by RETURN.
// Blank input yields nil.
func Translate(line string, mode Mode, opts Options) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, ".") {
		if cmds, ok := translateDotCommand(trimmed); ok {
			return cmds
		}
	}

	keyword, args := SplitKeyword(trimmed)

	switch mode {
	case ModeMonitor:
		if r, ok := monitorRules[strings.ToLower(keyword)]; ok {
			return r.build(args, opts)
		}
		return []string{trimmed}

	case ModeBasic:
		if r, ok := basicRules[strings.ToUpper(keyword)]; ok {
			return r.build(args, opts)
		}
		return []string{TypeLine(trimmed)}

	case ModeDOS:
		if r, ok := dosRules[strings.ToLower(keyword)]; ok {
			return r.build(args, opts)
		}
		return []string{trimmed}

	default:
		return []string{trimmed}
	}
}

// SplitKeyword returns the first whitespace-delimited token of s and the
// trimmed remainder.
func SplitKeyword(s string) (keyword, args string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// TypeLine returns the inject keys command that types line and presses
// RETURN.
func TypeLine(line string) string {
	return atticprotocol.CmdInjectKeys.Verb() + " " + atticprotocol.EscapeKeys(line) + `\n`
}

// AssemblyInput translates a line typed during an interactive assembly
// session. A blank line or a lone "." ends the session.
func AssemblyInput(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == "." {
		return atticprotocol.CmdAssembleEnd.Verb()
	}
	return atticprotocol.CmdAssembleInput.Verb() + " " + trimmed
}

// AssemblyStart reports whether payload is the server's acknowledgement of
// an interactive assembly session ("ASM $0600") and returns the start
// address.
func AssemblyStart(payload string) (uint16, bool) {
	if !strings.HasPrefix(payload, "ASM $") {
		return 0, false
	}
	return parseHex16(strings.TrimSpace(payload[len("ASM $"):]))
}

// AssemblyNext splits an "asm input" response into the assembled line and
// the next address ("LDA #$00\x1E$0602").
func AssemblyNext(payload string) (line string, next uint16, ok bool) {
	idx := strings.LastIndex(payload, atticprotocol.MultiLineSeparator)
	if idx < 0 {
		return payload, 0, false
	}
	line = payload[:idx]
	next, ok = parseHex16(strings.TrimPrefix(strings.TrimSpace(payload[idx+1:]), "$"))
	return line, next, ok
}

func parseHex16(s string) (uint16, bool) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
