package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/huegli/attic-sub009/atticprotocol"
	"github.com/huegli/attic-sub009/internal/config"
	"github.com/huegli/attic-sub009/internal/launcher"
	"github.com/huegli/attic-sub009/internal/logging"
	"github.com/huegli/attic-sub009/internal/repl"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	flags config.Flags
	cfg   *config.Config
	log   *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "attic",
		Short: "Command-line client for the AtticServer Atari 800 XL emulator",
		Long: `Attic connects to AtticServer over its Unix socket protocol and provides
a REPL with three modes:

  .monitor    6502 debugging (disassembly, breakpoints, stepping)
  .basic      BASIC program entry and execution
  .dos        Disk image management

With no --socket, a running server is discovered, or one is launched.

By default BASIC listings render ATASCII graphics with ANSI escape codes
and Unicode glyphs. Use --plain for clean ASCII output.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runREPL(cmd)
		},
	}

	a.flags.Bind(root.PersistentFlags())
	root.SetVersionTemplate(fullTitle() + "\n")

	root.AddCommand(
		newSendCommand(a),
		newDiscoverCommand(a),
		newLaunchCommand(a),
		newMCPCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadWithFlags(cmd.Flags(), &a.flags)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if f, ok := cmd.ErrOrStderr().(*os.File); ok && f == os.Stderr {
		a.log = logging.New(cfg.Level())
	} else {
		a.log = logging.NewForWriter(cmd.ErrOrStderr(), false, cfg.Level())
	}
	slog.SetDefault(a.log)
	return nil
}

func (a *app) newClient() *atticprotocol.Client {
	return atticprotocol.NewClientWithOptions(a.cfg.ClientOptions(a.log))
}

// locate finds the server to reconnect to: the configured socket, or a
// discovered one. It never launches.
func (a *app) locate(context.Context) (string, error) {
	if a.cfg.Socket != "" {
		return a.cfg.Socket, nil
	}
	return launcher.DiscoverIn(atticprotocol.SocketGlob(), a.log)
}

func (a *app) runREPL(cmd *cobra.Command) error {
	ctx := cmd.Context()
	stdout := cmd.OutOrStdout()

	server, err := a.connectTarget(ctx, stdout)
	if err != nil {
		return err
	}

	client := a.newClient()
	fmt.Fprintf(stdout, "Connecting to %s...\n", server.SocketPath)
	if err := client.ConnectWithContext(ctx, server.SocketPath); err != nil {
		return fmt.Errorf("connect to AtticServer: %w", err)
	}
	defer client.Close()

	stopSignals := setupSignalHandler(func() {
		client.Close()
		server.Terminate()
	})
	defer stopSignals()

	editor := repl.NewLineEditor(repl.EditorOptions{
		In:          cmd.InOrStdin(),
		Out:         stdout,
		HistoryFile: a.cfg.REPL.HistoryFile,
		HistorySize: a.cfg.REPL.HistorySize,
	})
	defer editor.Close()

	out := repl.NewOutput(stdout, cmd.ErrOrStderr(), useColor(stdout))

	fmt.Fprint(stdout, welcomeBanner())
	fmt.Fprintln(stdout, "Connected to AtticServer via CLI protocol")
	fmt.Fprintln(stdout)

	shell := repl.New(client, editor, out, repl.Options{
		ATASCII: a.cfg.REPL.ATASCII,
		Locate:  a.locate,
		Server:  server,
		Logger:  a.log,
	})
	return shell.Run(ctx)
}

// connectTarget resolves the server for an interactive session, launching
// one if nothing is running.
func (a *app) connectTarget(ctx context.Context, stdout io.Writer) (launcher.Server, error) {
	if a.cfg.Socket == "" {
		if _, err := launcher.DiscoverIn(atticprotocol.SocketGlob(), a.log); err != nil {
			fmt.Fprintln(stdout, "No running AtticServer found. Launching...")
		}
	}

	server, err := launcher.EnsureServer(ctx, a.cfg.Socket, a.cfg.LaunchOptions(a.log))
	if err != nil {
		return launcher.Server{}, fmt.Errorf("failed to start AtticServer: %w", err)
	}
	if server.Launched {
		fmt.Fprintf(stdout, "AtticServer started (PID: %d)\n", server.PID)
	}
	return server, nil
}

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && repl.ColorEnabled(f)
}

// setupSignalHandler runs cleanup and exits on SIGINT or SIGTERM. Readline
// turns Ctrl-C into an interrupt on the input line, so in practice this
// catches kill and Ctrl-C outside the prompt. The returned func stops it.
func setupSignalHandler(cleanup func()) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println()
			cleanup()
			os.Exit(0)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
