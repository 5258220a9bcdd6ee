package atticprotocol

import (
	"strconv"
	"strings"
)

// CommandParser parses canonical command text back into a Command. It is
// the inverse of Command.Format and is what a server (or a test fake)
// applies to incoming lines.
type CommandParser struct{}

// NewCommandParser creates a new command parser.
func NewCommandParser() *CommandParser {
	return &CommandParser{}
}

// Parse parses a command line into a Command.
// The line may optionally include the CMD: prefix.
func (p *CommandParser) Parse(line string) (Command, error) {
	commandLine := strings.TrimSpace(line)
	commandLine = strings.TrimPrefix(commandLine, CommandPrefix)

	if len(commandLine) > MaxLineLength {
		return Command{}, ErrLineTooLong
	}

	verb, args, _ := strings.Cut(commandLine, " ")
	if verb == "" {
		return Command{}, parseErr(ErrKindInvalidCommand, "")
	}

	switch verb = strings.ToLower(verb); verb {
	case "ping":
		return NewPingCommand(), nil
	case "version":
		return NewVersionCommand(), nil
	case "quit":
		return NewQuitCommand(), nil
	case "shutdown":
		return NewShutdownCommand(), nil

	case "pause":
		return NewPauseCommand(), nil
	case "resume":
		return NewResumeCommand(), nil
	case "step":
		return p.parseStep(args)
	case "reset":
		return p.parseReset(args)
	case "status":
		return NewStatusCommand(), nil

	case "read":
		return p.parseRead(args)
	case "write":
		return p.parseWrite(args)
	case "registers":
		return p.parseRegisters(args)

	case "breakpoint":
		return p.parseBreakpoint(args)

	case "disasm", "disassemble", "d":
		return p.parseDisassemble(args)
	case "asm", "assemble", "a":
		return p.parseAsm(args)

	case "stepover", "so":
		return NewStepOverCommand(), nil
	case "until", "rununtil":
		return p.parseRunUntil(args)
	case "fill":
		return p.parseFill(args)

	case "mount":
		return p.parseMount(args)
	case "unmount":
		return p.parseUnmount(args)
	case "drives":
		return NewDrivesCommand(), nil

	case "boot":
		return requirePath(args, "boot requires a file path", NewBootCommand)

	case "state":
		return p.parseState(args)

	case "screenshot":
		return NewScreenshotCommand(strings.TrimSpace(args)), nil
	case "screen":
		return NewScreenTextCommand(), nil

	case "inject":
		return p.parseInject(args)

	case "basic":
		return p.parseBasic(args)
	case "dos":
		return p.parseDos(args)

	default:
		return Command{}, parseErr(ErrKindInvalidCommand, verb)
	}
}

func (p *CommandParser) parseStep(args string) (Command, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return NewStepCommand(1), nil
	}
	count, err := strconv.Atoi(args)
	if err != nil || count <= 0 {
		return Command{}, parseErr(ErrKindInvalidStepCount, args)
	}
	return NewStepCommand(count), nil
}

func (p *CommandParser) parseReset(args string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "cold", "":
		return NewResetCommand(true), nil
	case "warm":
		return NewResetCommand(false), nil
	default:
		return Command{}, parseErr(ErrKindInvalidResetType, args)
	}
}

func (p *CommandParser) parseRead(args string) (Command, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return Command{}, missingArg("read requires address and count")
	}
	address, ok := parseAddress(parts[0])
	if !ok {
		return Command{}, parseErr(ErrKindInvalidAddress, parts[0])
	}
	count, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return Command{}, parseErr(ErrKindInvalidCount, parts[1])
	}
	return NewReadCommand(address, uint16(count)), nil
}

func (p *CommandParser) parseWrite(args string) (Command, error) {
	addrText, dataText, found := strings.Cut(strings.TrimSpace(args), " ")
	if !found || strings.TrimSpace(dataText) == "" {
		return Command{}, missingArg("write requires address and data")
	}
	address, ok := parseAddress(addrText)
	if !ok {
		return Command{}, parseErr(ErrKindInvalidAddress, addrText)
	}

	var data []byte
	for _, byteText := range strings.Split(strings.TrimSpace(dataText), ",") {
		byteText = strings.TrimSpace(byteText)
		b, ok := parseHexByte(byteText)
		if !ok {
			return Command{}, parseErr(ErrKindInvalidByte, byteText)
		}
		data = append(data, b)
	}
	return NewWriteCommand(address, data), nil
}

var registerNames = map[string]bool{"A": true, "X": true, "Y": true, "S": true, "P": true, "PC": true}

func (p *CommandParser) parseRegisters(args string) (Command, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return NewRegistersCommand(nil), nil
	}

	mods := make([]RegisterModification, 0, len(fields))
	for _, field := range fields {
		name, value, found := strings.Cut(field, "=")
		if !found {
			return Command{}, parseErr(ErrKindInvalidRegisterFormat, field)
		}
		name = strings.ToUpper(name)
		if !registerNames[name] {
			return Command{}, parseErr(ErrKindInvalidRegister, name)
		}
		v, ok := parseAddress(value)
		if !ok {
			return Command{}, parseErr(ErrKindInvalidValue, value)
		}
		if name != "PC" && v > 0xFF {
			return Command{}, parseErr(ErrKindInvalidValue, value)
		}
		mods = append(mods, RegisterModification{Name: name, Value: v})
	}
	return NewRegistersCommand(mods), nil
}

func (p *CommandParser) parseBreakpoint(args string) (Command, error) {
	sub, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	switch strings.ToLower(sub) {
	case "set":
		return requireAddress(rest, "breakpoint set requires address", NewBreakpointSetCommand)
	case "clear":
		return requireAddress(rest, "breakpoint clear requires address", NewBreakpointClearCommand)
	case "clearall":
		return NewBreakpointClearAllCommand(), nil
	case "list":
		return NewBreakpointListCommand(), nil
	case "":
		return Command{}, missingArg("breakpoint requires subcommand (set, clear, clearall, list)")
	default:
		return Command{}, parseErr(ErrKindInvalidCommand, "breakpoint "+sub)
	}
}

func (p *CommandParser) parseDisassemble(args string) (Command, error) {
	parts := strings.Fields(args)
	var address *uint16
	var lines *int

	if len(parts) >= 1 && parts[0] != "." {
		addr, ok := parseAddress(parts[0])
		if !ok {
			return Command{}, parseErr(ErrKindInvalidAddress, parts[0])
		}
		address = &addr
	}
	if len(parts) >= 2 {
		count, err := strconv.Atoi(parts[1])
		if err != nil || count <= 0 {
			return Command{}, parseErr(ErrKindInvalidCount, parts[1])
		}
		lines = &count
	}
	return NewDisassembleCommand(address, lines), nil
}

func (p *CommandParser) parseAssemble(args string) (Command, error) {
	addrText, instruction, _ := strings.Cut(strings.TrimSpace(args), " ")
	if addrText == "" {
		return Command{}, missingArg("assemble requires address")
	}
	address, ok := parseAddress(addrText)
	if !ok {
		return Command{}, parseErr(ErrKindInvalidAddress, addrText)
	}
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		return NewAssembleLineCommand(address, instruction), nil
	}
	return NewAssembleCommand(address), nil
}

// parseAsm handles the session commands "asm input <instr>" and "asm end"
// (also spelled with assemble); anything else is an assemble address.
func (p *CommandParser) parseAsm(args string) (Command, error) {
	sub, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	switch strings.ToLower(sub) {
	case "input":
		if rest = strings.TrimSpace(rest); rest == "" {
			return Command{}, missingArg("asm input requires an instruction")
		}
		return NewAssembleInputCommand(rest), nil
	case "end":
		return NewAssembleEndCommand(), nil
	default:
		return p.parseAssemble(args)
	}
}

func (p *CommandParser) parseRunUntil(args string) (Command, error) {
	return requireAddress(args, "until requires address", NewRunUntilCommand)
}

func (p *CommandParser) parseFill(args string) (Command, error) {
	parts := strings.Fields(args)
	if len(parts) < 3 {
		return Command{}, missingArg("fill requires start, end, and value")
	}
	start, ok := parseAddress(parts[0])
	if !ok {
		return Command{}, parseErr(ErrKindInvalidAddress, parts[0])
	}
	end, ok := parseAddress(parts[1])
	if !ok {
		return Command{}, parseErr(ErrKindInvalidAddress, parts[1])
	}
	value, ok := parseHexByte(parts[2])
	if !ok {
		return Command{}, parseErr(ErrKindInvalidByte, parts[2])
	}
	return NewMemoryFillCommand(start, end, value), nil
}

func (p *CommandParser) parseMount(args string) (Command, error) {
	driveText, path, found := strings.Cut(strings.TrimSpace(args), " ")
	if !found || strings.TrimSpace(path) == "" {
		return Command{}, missingArg("mount requires drive number and path")
	}
	drive, err := parseDrive(driveText)
	if err != nil {
		return Command{}, err
	}
	return NewMountCommand(drive, strings.TrimSpace(path)), nil
}

func (p *CommandParser) parseUnmount(args string) (Command, error) {
	drive, err := parseDrive(args)
	if err != nil {
		return Command{}, err
	}
	return NewUnmountCommand(drive), nil
}

func (p *CommandParser) parseState(args string) (Command, error) {
	sub, path, _ := strings.Cut(strings.TrimSpace(args), " ")
	if sub == "" {
		return Command{}, missingArg("state requires subcommand (save or load)")
	}
	switch strings.ToLower(sub) {
	case "save":
		return requirePath(path, "state save requires path", NewStateSaveCommand)
	case "load":
		return requirePath(path, "state load requires path", NewStateLoadCommand)
	default:
		return Command{}, parseErr(ErrKindInvalidCommand, "state "+sub)
	}
}

func (p *CommandParser) parseInject(args string) (Command, error) {
	sub, data, _ := strings.Cut(strings.TrimSpace(args), " ")
	if sub == "" {
		return Command{}, missingArg("inject requires subcommand (basic or keys)")
	}
	if data == "" {
		return Command{}, missingArg("inject %s requires data", sub)
	}
	switch strings.ToLower(sub) {
	case "basic":
		return NewInjectBasicCommand(data), nil
	case "keys":
		return NewInjectKeysCommand(UnescapeKeys(data)), nil
	default:
		return Command{}, parseErr(ErrKindInvalidCommand, "inject "+sub)
	}
}

func (p *CommandParser) parseBasic(args string) (Command, error) {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return Command{}, missingArg("basic requires a line or command")
	}

	word, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToUpper(word) {
	case "NEW":
		return NewBasicNewCommand(), nil
	case "RUN":
		return NewBasicRunCommand(), nil
	case "LIST":
		return parseBasicList(rest), nil
	case "DEL", "DELETE":
		return requireText(rest, "basic del requires a line number or range (e.g., 10 or 10-50)", NewBasicDeleteCommand)
	case "STOP":
		return NewBasicStopCommand(), nil
	case "CONT":
		return NewBasicContCommand(), nil
	case "VARS":
		return NewBasicVarsCommand(), nil
	case "VAR":
		return requireText(rest, "basic var requires a variable name", NewBasicVarCommand)
	case "INFO":
		return NewBasicInfoCommand(), nil
	case "EXPORT":
		return requirePath(rest, "basic export requires a file path", NewBasicExportCommand)
	case "IMPORT":
		return requirePath(rest, "basic import requires a file path", NewBasicImportCommand)
	case "DIR":
		if rest == "" {
			return NewBasicDirCommand(nil), nil
		}
		drive, err := parseDrive(rest)
		if err != nil {
			return Command{}, err
		}
		return NewBasicDirCommand(&drive), nil
	case "RENUM", "RENUMBER":
		return parseRenumber(rest)
	case "SAVE":
		drive, name, err := parseDriveFilename(rest, "basic save")
		if err != nil {
			return Command{}, err
		}
		return NewBasicSaveCommand(drive, name), nil
	case "LOAD":
		drive, name, err := parseDriveFilename(rest, "basic load")
		if err != nil {
			return Command{}, err
		}
		return NewBasicLoadCommand(drive, name), nil
	default:
		// Anything else is a numbered BASIC line, e.g. "10 PRINT X".
		return NewBasicLineCommand(trimmed), nil
	}
}

func parseBasicList(rest string) Command {
	var lineRange []string
	atascii := false
	for _, field := range strings.Fields(rest) {
		if strings.EqualFold(field, "atascii") {
			atascii = true
			continue
		}
		lineRange = append(lineRange, field)
	}
	return NewBasicListCommand(strings.Join(lineRange, " "), atascii)
}

func parseRenumber(rest string) (Command, error) {
	fields := strings.Fields(rest)
	var start, step *int
	for i, field := range fields {
		if i > 1 {
			return Command{}, parseErr(ErrKindInvalidValue, field)
		}
		n, err := strconv.Atoi(field)
		if err != nil || n <= 0 || n > 32767 {
			return Command{}, parseErr(ErrKindInvalidValue, field)
		}
		if i == 0 {
			start = &n
		} else {
			step = &n
		}
	}
	return NewBasicRenumberCommand(start, step), nil
}

// parseDriveFilename accepts "D1:NAME", "D:NAME" or a bare "NAME".
func parseDriveFilename(spec, what string) (*int, string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, "", missingArg("%s requires a filename", what)
	}
	if len(spec) >= 2 && (spec[0] == 'D' || spec[0] == 'd') {
		if colon := strings.IndexByte(spec, ':'); colon > 0 && colon <= 2 {
			name := spec[colon+1:]
			if name == "" {
				return nil, "", missingArg("%s requires a filename", what)
			}
			if colon == 1 {
				return nil, name, nil
			}
			drive, err := parseDrive(spec[1:colon])
			if err != nil {
				return nil, "", err
			}
			return &drive, name, nil
		}
	}
	return nil, spec, nil
}

func (p *CommandParser) parseDos(args string) (Command, error) {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return Command{}, missingArg("dos requires a subcommand")
	}
	sub, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch sub = strings.ToLower(sub); sub {
	case "cd":
		drive, err := parseDrive(strings.Trim(strings.ToUpper(rest), "D:"))
		if err != nil {
			return Command{}, err
		}
		return NewDosChangeDriveCommand(drive), nil
	case "dir":
		return NewDosDirectoryCommand(rest), nil
	case "info":
		return requireText(rest, "dos info requires a filename", NewDosFileInfoCommand)
	case "type":
		return requireText(rest, "dos type requires a filename", NewDosTypeCommand)
	case "dump":
		return requireText(rest, "dos dump requires a filename", NewDosDumpCommand)
	case "copy":
		return requirePair(rest, "dos copy requires source and destination", NewDosCopyCommand)
	case "rename":
		return requirePair(rest, "dos rename requires old and new names", NewDosRenameCommand)
	case "delete":
		return requireText(rest, "dos delete requires a filename", NewDosDeleteCommand)
	case "lock":
		return requireText(rest, "dos lock requires a filename", NewDosLockCommand)
	case "unlock":
		return requireText(rest, "dos unlock requires a filename", NewDosUnlockCommand)
	case "export":
		return requirePair(rest, "dos export requires filename and host path", NewDosExportCommand)
	case "import":
		return requirePair(rest, "dos import requires host path and filename", NewDosImportCommand)
	case "newdisk":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Command{}, missingArg("dos newdisk requires a path")
		}
		diskType := ""
		if len(fields) > 1 {
			diskType = strings.ToLower(fields[1])
			if diskType != "sd" && diskType != "ed" && diskType != "dd" {
				return Command{}, parseErr(ErrKindInvalidValue, fields[1])
			}
		}
		return NewDosNewDiskCommand(fields[0], diskType), nil
	case "format":
		return NewDosFormatCommand(), nil
	default:
		return Command{}, parseErr(ErrKindInvalidCommand, "dos "+sub)
	}
}

func requireAddress(args, missing string, build func(uint16) Command) (Command, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return Command{}, missingArg("%s", missing)
	}
	address, ok := parseAddress(args)
	if !ok {
		return Command{}, parseErr(ErrKindInvalidAddress, args)
	}
	return build(address), nil
}

func requireText(args, missing string, build func(string) Command) (Command, error) {
	if args = strings.TrimSpace(args); args == "" {
		return Command{}, missingArg("%s", missing)
	}
	return build(args), nil
}

// requirePath is requireText for host paths. Tilde expansion is left to
// the caller.
func requirePath(args, missing string, build func(string) Command) (Command, error) {
	return requireText(args, missing, build)
}

func requirePair(args, missing string, build func(string, string) Command) (Command, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return Command{}, missingArg("%s", missing)
	}
	return build(fields[0], fields[1]), nil
}

func parseDrive(s string) (int, error) {
	s = strings.TrimSpace(s)
	drive, err := strconv.Atoi(s)
	if err != nil || drive < 1 || drive > 8 {
		return 0, parseErr(ErrKindInvalidDriveNumber, s)
	}
	return drive, nil
}

// parseAddress parses an address in $XXXX, 0xXXXX, or decimal format.
func parseAddress(s string) (uint16, bool) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "$"):
		s, base = s[1:], 16
	case strings.HasPrefix(strings.ToLower(s), "0x"):
		s, base = s[2:], 16
	}
	val, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, false
	}
	return uint16(val), true
}

// parseHexByte parses a hex byte value (with or without $ prefix).
func parseHexByte(s string) (byte, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	val, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(val), true
}
