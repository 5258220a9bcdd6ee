package atticprotocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ResponseType represents the type of response from the server.
type ResponseType int

const (
	// ResponseOK indicates a successful response.
	ResponseOK ResponseType = iota
	// ResponseError indicates an error response.
	ResponseError
)

// Response is the outcome of one request.
type Response struct {
	Type ResponseType
	Data string // payload (OK) or message (ERR); may contain MultiLineSeparator
}

// NewOKResponse creates a successful response with the given data.
func NewOKResponse(data string) Response {
	return Response{Type: ResponseOK, Data: data}
}

// NewErrorResponse creates an error response with the given message.
func NewErrorResponse(message string) Response {
	return Response{Type: ResponseError, Data: message}
}

// NewMultiLineResponse joins lines with MultiLineSeparator.
func NewMultiLineResponse(lines []string) Response {
	return Response{Type: ResponseOK, Data: strings.Join(lines, MultiLineSeparator)}
}

// IsOK returns true if this is a successful response.
func (r Response) IsOK() bool { return r.Type == ResponseOK }

// IsError returns true if this is an error response.
func (r Response) IsError() bool { return r.Type == ResponseError }

// Format returns the response as a wire line without the newline.
func (r Response) Format() string {
	switch r.Type {
	case ResponseOK:
		return OKPrefix + r.Data
	case ResponseError:
		return ErrorPrefix + r.Data
	default:
		return ErrorPrefix + "unknown response type"
	}
}

// Lines returns the payload split on the multi-line separator.
func (r Response) Lines() []string {
	return SplitLines(r.Data)
}

// Text returns the payload with separators expanded to newlines.
func (r Response) Text() string {
	return ExpandLines(r.Data)
}

// Err returns a *ServerError for ERR: responses and nil otherwise.
func (r Response) Err() error {
	if r.IsError() {
		return &ServerError{Message: r.Data}
	}
	return nil
}

// EventType represents the type of async event from the server.
type EventType int

const (
	// EventBreakpoint indicates a breakpoint was hit.
	EventBreakpoint EventType = iota
	// EventStopped indicates the emulator stopped (e.g., BRK without breakpoint).
	EventStopped
	// EventError indicates an async error occurred.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventBreakpoint:
		return "breakpoint"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	default:
		return "EventType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Event is an unsolicited notification pushed by the server.
type Event struct {
	Type EventType

	// EventBreakpoint and EventStopped
	Address uint16

	// EventBreakpoint register snapshot
	A, X, Y uint8
	S, P    uint8

	// EventError
	Message string
}

// NewBreakpointEvent creates a breakpoint event with register state.
func NewBreakpointEvent(address uint16, a, x, y, s, p uint8) Event {
	return Event{Type: EventBreakpoint, Address: address, A: a, X: x, Y: y, S: s, P: p}
}

// NewStoppedEvent creates a stopped event at the given address.
func NewStoppedEvent(address uint16) Event {
	return Event{Type: EventStopped, Address: address}
}

// NewErrorEvent creates an error event with the given message.
func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Format returns the event as a wire line without the newline.
func (e Event) Format() string {
	switch e.Type {
	case EventBreakpoint:
		return fmt.Sprintf("%sbreakpoint $%04X A=$%02X X=$%02X Y=$%02X S=$%02X P=$%02X",
			EventPrefix, e.Address, e.A, e.X, e.Y, e.S, e.P)
	case EventStopped:
		return fmt.Sprintf("%sstopped $%04X", EventPrefix, e.Address)
	case EventError:
		return fmt.Sprintf("%serror %s", EventPrefix, e.Message)
	default:
		return EventPrefix + "error unknown event type"
	}
}

// Message is one decoded server line: either a Response or an Event.
type Message struct {
	IsEvent  bool
	Response Response
	Event    Event
}

// Decode classifies one wire line by its prefix. The trailing newline (and
// a CR before it) is ignored. Lines with any other prefix, and events of an
// unknown kind, fail with a *ProtocolError.
func Decode(line string) (Message, error) {
	trimmed := strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(trimmed, OKPrefix):
		return Message{Response: NewOKResponse(trimmed[len(OKPrefix):])}, nil
	case strings.HasPrefix(trimmed, ErrorPrefix):
		return Message{Response: NewErrorResponse(trimmed[len(ErrorPrefix):])}, nil
	case strings.HasPrefix(trimmed, EventPrefix):
		event, err := decodeEvent(trimmed[len(EventPrefix):])
		if err != nil {
			return Message{}, &ProtocolError{Line: trimmed, Reason: err.Error()}
		}
		return Message{IsEvent: true, Event: event}, nil
	}
	return Message{}, &ProtocolError{Line: trimmed, Reason: "unrecognized prefix"}
}

func decodeEvent(data string) (Event, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(data), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(kind) {
	case "breakpoint":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Event{}, fmt.Errorf("breakpoint event without address")
		}
		address, ok := parseEventAddress(fields[0])
		if !ok {
			return Event{}, fmt.Errorf("breakpoint event has bad address %q", fields[0])
		}
		ev := NewBreakpointEvent(address, 0, 0, 0, 0, 0)
		for _, field := range fields[1:] {
			name, value, found := strings.Cut(field, "=")
			if !found {
				continue
			}
			b, ok := parseHexByte(value)
			if !ok {
				return Event{}, fmt.Errorf("breakpoint event has bad register %q", field)
			}
			switch strings.ToUpper(name) {
			case "A":
				ev.A = b
			case "X":
				ev.X = b
			case "Y":
				ev.Y = b
			case "S":
				ev.S = b
			case "P":
				ev.P = b
			}
		}
		return ev, nil

	case "stopped":
		address, ok := parseEventAddress(rest)
		if !ok {
			return Event{}, fmt.Errorf("stopped event has bad address %q", rest)
		}
		return NewStoppedEvent(address), nil

	case "error":
		if rest == "" {
			rest = "unknown error"
		}
		return NewErrorEvent(rest), nil

	case "":
		return Event{}, fmt.Errorf("empty event")
	default:
		return Event{}, fmt.Errorf("unknown event type %q", kind)
	}
}

func parseEventAddress(s string) (uint16, bool) {
	s, _, _ = strings.Cut(strings.TrimSpace(s), " ")
	if !strings.HasPrefix(s, "$") {
		return 0, false
	}
	return parseAddress(s)
}
