package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/huegli/attic-sub009/atticprotocol"
	"github.com/huegli/attic-sub009/internal/launcher"
	"github.com/huegli/attic-sub009/internal/mcpserver"
)

func newSendCommand(a *app) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send one protocol command and print the response",
		Long: `Send joins its arguments into one protocol command, sends it to a running
AtticServer and prints the response. Multi-line responses are printed one
line per line. An ERR: response exits with status 1.

It never launches a server.`,
		Example: `  attic send status
  attic send read '$0600' 16
  attic send --check breakpoint set '$E459'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if check {
				if _, err := atticprotocol.NewCommandParser().Parse(text); err != nil {
					return fmt.Errorf("invalid command %q: %w", text, err)
				}
			}

			path, err := a.locate(cmd.Context())
			if err != nil {
				return err
			}
			client := a.newClient()
			if err := client.ConnectWithContext(cmd.Context(), path); err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.SendRawWithContext(cmd.Context(), text)
			if err != nil {
				return err
			}
			if err := resp.Err(); err != nil {
				return err
			}
			if resp.Data != "" {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Text())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "validate the command locally before sending")
	return cmd
}

func newDiscoverCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print the socket of a running AtticServer",
		Long: `Discover scans for AtticServer sockets, removes those left behind by
servers that are no longer running, and prints the newest live one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := launcher.DiscoverIn(atticprotocol.SocketGlob(), a.log)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newLaunchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Start AtticServer in the background",
		Long: `Launch starts AtticServer detached from this terminal and waits for its
socket. The server keeps running after attic exits; stop it with
'attic send shutdown'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := launcher.Launch(cmd.Context(), a.cfg.LaunchOptions(a.log))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "AtticServer started (PID: %d)\n%s\n", server.PID, server.SocketPath)
			return nil
		},
	}
}

func newMCPCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the emulator tools over MCP on stdin and stdout",
		Long: `Mcp runs a Model Context Protocol server on stdio. The emulator is found
or launched on the first tool call. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			launchOpts := a.cfg.LaunchOptions(a.log)
			locate := func(ctx context.Context) (string, error) {
				server, err := launcher.EnsureServer(ctx, a.cfg.Socket, launchOpts)
				if err != nil {
					return "", err
				}
				if server.Launched {
					a.log.Info("launched AtticServer", "pid", server.PID, "socket", server.SocketPath)
				}
				return server.SocketPath, nil
			}

			tools := mcpserver.NewTools(a.newClient(), locate, a.log)
			defer tools.Close()

			a.log.Info("starting MCP server", "version", version)
			return mcpserver.Run(ctx, mcpserver.NewServer(tools, version))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), fullTitle())
		},
	}
}
