// Package cli wires the enclaved commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the enclaved root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "enclaved",
		Short: "Verifiable multi-tenant agent isolation service",
		Long: `enclaved serves a shared, content-addressed, immutable corpus to a set of
autonomous agents and lets each agent append schema-validated observations to
its own sandboxed namespace. No agent can read, modify, or delete another
agent's observations or the shared corpus; violation attempts are rejected
deterministically and audited.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	return cmd
}

// Execute runs the root command, returning a process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		return 1
	}
	return 0
}

func newLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
