// =============================================================================
// lineeditor.go - Line Editor with Dual-Mode Operation
// =============================================================================
//
// Detects whether input comes from a terminal or not and picks the input
// method to match:
//
//   - Interactive: ergochat/readline, with Emacs keybindings, persistent
//     history and Ctrl-R search.
//   - Non-interactive (piped input, Emacs comint): a bufio.Scanner, with the
//     prompt written by hand so comint can still match it.
//
// INSIDE_EMACS forces non-interactive mode even on a TTY, because comint
// does its own line editing and readline's escape sequences would garble
// the buffer.
//
// =============================================================================

package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"

	"github.com/huegli/attic-sub009/atticprotocol"
)

// DefaultHistorySize is the number of history entries kept on disk.
const DefaultHistorySize = 500

// EditorOptions configures NewLineEditor.
type EditorOptions struct {
	// In and Out default to os.Stdin and os.Stdout.
	In  io.Reader
	Out io.Writer

	// HistoryFile is where interactive history is kept. Empty disables
	// persistent history.
	HistoryFile string
	HistorySize int
}

// LineEditor reads one line of input at a time.
type LineEditor struct {
	interactive bool
	rl          *readline.Instance
	scanner     *bufio.Scanner
	out         io.Writer
}

// NewLineEditor chooses readline when In is a terminal and INSIDE_EMACS is
// unset, and a plain scanner otherwise. If readline cannot start it falls
// back to the scanner with a warning.
func NewLineEditor(opts EditorOptions) *LineEditor {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}

	if !isTerminal(opts.In) || os.Getenv("INSIDE_EMACS") != "" {
		return NewPipedLineEditor(opts.In, opts.Out)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:  opts.HistoryFile,
		HistoryLimit: opts.HistorySize,
		// Only non-blank lines are saved, by GetLine.
		DisableAutoSaveHistory: true,
		Prompt:                 "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return NewPipedLineEditor(opts.In, opts.Out)
	}

	return &LineEditor{interactive: true, rl: rl, out: opts.Out}
}

// NewPipedLineEditor always reads with a scanner, writing prompts to out.
func NewPipedLineEditor(in io.Reader, out io.Writer) *LineEditor {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), atticprotocol.MaxLineLength)
	return &LineEditor{scanner: scanner, out: out}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// GetLine shows prompt and returns the next line without its newline. It
// returns io.EOF at end of input or when the user presses Ctrl-D or Ctrl-C
// on an empty line.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		return le.getInteractiveLine(prompt)
	}
	return le.getPipedLine(prompt)
}

func (le *LineEditor) getInteractiveLine(prompt string) (string, error) {
	le.rl.SetPrompt(prompt)

	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}

	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *LineEditor) getPipedLine(prompt string) (string, error) {
	fmt.Fprint(le.out, prompt)

	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

// Close releases the terminal. It is safe to call more than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// IsInteractive reports whether readline is in use.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}
