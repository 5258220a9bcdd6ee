// =============================================================================
// main.go - Attic CLI Entry Point
// =============================================================================
//
// The attic command is a pure protocol client for AtticServer. With no
// subcommand it runs the REPL, connecting to a running server or launching
// one. The subcommands cover scripting and tooling:
//
//	attic                             REPL (discover or launch a server)
//	attic --socket /tmp/attic-42.sock REPL against a specific server
//	attic send status                 Send one protocol command
//	attic discover                    Print the socket of a running server
//	attic launch                      Start a server and print its socket
//	attic mcp                         Serve the emulator tools over MCP stdio
//	attic version                     Print the version
//
// For Emacs integration, use M-x atari800-run after loading atari800.el.
//
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/huegli/attic-sub009/internal/launcher"
)

const (
	version   = "0.2.0"
	appName   = "Attic"
	copyright = "Copyright (c) 2026"
)

func fullTitle() string {
	return fmt.Sprintf("%s v%s (Go)", appName, version)
}

func welcomeBanner() string {
	return fmt.Sprintf(`%s - Atari 800 XL Emulator
%s

Type '.help' for available commands.
Type '.quit' to exit.
`, fullTitle(), copyright)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError prints err and, for discovery and launch failures, what the
// user can do about it.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := launcher.Remediation(err); hint != "" {
		fmt.Fprintln(w, hint)
	}
}
