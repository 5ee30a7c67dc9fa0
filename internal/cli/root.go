// Package cli implements the coral-trace command line.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	configcmd "github.com/coral-mesh/coral-trace/internal/cli/config"
	"github.com/coral-mesh/coral-trace/internal/cli/demo"
	"github.com/coral-mesh/coral-trace/internal/cli/ops"
	"github.com/coral-mesh/coral-trace/internal/logging"
	"github.com/coral-mesh/coral-trace/pkg/version"
)

// NewRootCmd builds the command tree. The logger shared by subcommands is
// configured from the persistent flags before any command runs.
func NewRootCmd() *cobra.Command {
	var (
		logLevel  string
		logPretty bool
		logger    = zerolog.Nop()
	)

	cmd := &cobra.Command{
		Use:   "coral-trace",
		Short: "Coral trace - find slow and stuck operations in Go services",
		Long: `Coral trace records what long running operations inside a Go process
were doing.

An instrumented process marks units of work (HTTP requests, jobs, queries)
and their nested steps. Operations that run longer than a threshold are
reported with their step tree, per-step timing metrics and a call tree
sampled from the goroutine's stack. Operations that never finish are
reported as stuck while they are still running.

Commands:
- demo:   run an instrumented HTTP server with slow and stuck endpoints
- ops:    query operations recorded by the DuckDB sink
- config: inspect tracer configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			cfg.Level = logLevel
			if cmd.Flags().Changed("log-pretty") {
				cfg.Pretty = logPretty
			}
			logger = logging.New(cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", logging.IsTerminal(os.Stderr), "Human-readable log output")

	cmd.AddCommand(demo.NewDemoCmd(&logger))
	cmd.AddCommand(ops.NewOpsCmd(&logger))
	cmd.AddCommand(configcmd.NewConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(version.Get().String())
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
