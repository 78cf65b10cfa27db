package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

// ErrFailed is returned when a run failed and its diagnostics have already
// been printed.
var ErrFailed = errors.New("irfc: build failed")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var settingsFile string

	rootCmd := &cobra.Command{
		Use:   "irfc <config_dir> <out>",
		Short: "irfc - configuration compiler for the civa shell",
		Long: `irfc reads the configuration sources under a directory, evaluates and
merges them in path order, validates the result against the civa schema and
writes a single Intermediate Representation File (IRF) that civa loads at
startup.

Recognized sources:
  .cfg          declarative civa configuration
  .yaml, .yml   data-only YAML
  .toml         data-only TOML
  .hcl          data-only HCL attributes and blocks
  .alias        legacy alias files

Later files override earlier ones. The IRF is only written when every stage
succeeds; diagnostics are printed to stderr.`,
		Example: `  # Compile the default configuration
  irfc ~/.config/civa ~/.cache/civa/civa.irf

  # Check without writing anything
  irfc check ~/.config/civa

  # Print a compiled file
  irfc dump ~/.cache/civa/civa.irf`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, settingsFile, version)
			if err != nil {
				return err
			}
			defer a.close()
			return a.compile(cmd.Context(), args[0], args[1])
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsFile, "settings", "", "settings file (default $XDG_CONFIG_HOME/civa/irfc.{toml,yaml,json})")
	flags.Int("workers", runtime.NumCPU(), "sources evaluated concurrently")
	flags.Duration("eval-timeout", 30*time.Second, "evaluation time limit per source")
	flags.StringSlice("extensions", nil, "recognized source extensions (default: all supported)")
	flags.String("schema", "", "schema file (.cue or .yaml) replacing the built-in civa schema")
	flags.String("policy-dir", "", "directory of additional Rego policies")
	flags.Bool("policies", true, "run policy checks")
	flags.StringSlice("disable-policy", nil, "skip the named policy (repeatable)")
	flags.String("history", "", "SQLite database recording every build")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.String("trace-endpoint", "", "OTLP gRPC endpoint")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(newCheckCommand(&settingsFile, version))
	rootCmd.AddCommand(newDumpCommand())
	rootCmd.AddCommand(newWatchCommand(&settingsFile, version))
	rootCmd.AddCommand(newHistoryCommand(&settingsFile, version))
	rootCmd.AddCommand(newSchemaCommand(&settingsFile, version))

	return rootCmd
}
