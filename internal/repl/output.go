package repl

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// Output renders responses, errors and events. It is safe for concurrent
// use: events are written from their own goroutine while the shell is
// printing responses.
type Output struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer

	errColor   *color.Color
	eventColor *color.Color
	infoColor  *color.Color
}

// NewOutput writes responses to stdout and errors to stderr, colored when
// useColor is set.
func NewOutput(stdout, stderr io.Writer, useColor bool) *Output {
	o := &Output{
		stdout:     stdout,
		stderr:     stderr,
		errColor:   color.New(color.FgRed),
		eventColor: color.New(color.FgYellow, color.Bold),
		infoColor:  color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{o.errColor, o.eventColor, o.infoColor} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return o
}

// ColorEnabled reports whether f is a terminal that should get color: not
// under Emacs comint and without NO_COLOR set.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("INSIDE_EMACS") != "" || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Response prints an OK payload with its packed lines expanded, or an ERR
// message as an error.
func (o *Output) Response(resp atticprotocol.Response) {
	if resp.IsError() {
		o.Error(resp.Data)
		return
	}
	if resp.Data == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.stdout, atticprotocol.ExpandLines(resp.Data))
}

// Line prints text as is.
func (o *Output) Line(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.stdout, text)
}

// Info prints a status message.
func (o *Output) Info(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.stdout, o.infoColor.Sprintf(format, args...))
}

// Error prints an error message to stderr.
func (o *Output) Error(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.stderr, o.errColor.Sprint("Error: "+message))
}

// Event prints an asynchronous server event on its own line.
func (o *Output) Event(ev atticprotocol.Event) {
	var text string
	switch ev.Type {
	case atticprotocol.EventBreakpoint:
		text = fmt.Sprintf("*** Breakpoint at $%04X  A=$%02X X=$%02X Y=$%02X S=$%02X P=$%02X",
			ev.Address, ev.A, ev.X, ev.Y, ev.S, ev.P)
	case atticprotocol.EventStopped:
		text = fmt.Sprintf("*** Stopped at $%04X", ev.Address)
	case atticprotocol.EventError:
		text = "*** Error: " + ev.Message
	default:
		text = "*** " + ev.Format()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.stdout)
	fmt.Fprintln(o.stdout, o.eventColor.Sprint(text))
}

// Writer returns the stdout writer, for help text and banners.
func (o *Output) Writer() io.Writer {
	return lockedWriter{o}
}

type lockedWriter struct{ o *Output }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.o.mu.Lock()
	defer w.o.mu.Unlock()
	return w.o.stdout.Write(p)
}
