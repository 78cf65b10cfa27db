package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civa-shell/irfc/pkg/compiler"
	"github.com/civa-shell/irfc/pkg/diag"
)

// checkReport is the JSON form of a check run.
type checkReport struct {
	BuildID     string            `json:"build_id"`
	OK          bool              `json:"ok"`
	Sources     []string          `json:"sources"`
	Errors      int               `json:"errors"`
	Warnings    int               `json:"warnings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

func newCheckCommand(settingsFile *string, version string) *cobra.Command {
	var (
		format  string
		refsDot bool
	)

	cmd := &cobra.Command{
		Use:   "check <config_dir>",
		Short: "Validate a configuration directory without writing an IRF",
		Long: `Runs every compiler stage except serialization and reports the
diagnostics. Nothing is written.

With --format json the report is printed to stdout, which is useful for
editor integrations. With --refs-dot the reference dependency graph of a
valid configuration is printed to stdout in Graphviz DOT format.`,
		Example: `  # Validate the default configuration
  irfc check ~/.config/civa

  # Machine-readable report
  irfc check ~/.config/civa --format json

  # Render the reference graph
  irfc check ~/.config/civa --refs-dot | dot -Tsvg > refs.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q (must be 'text' or 'json')", format)
			}
			if refsDot && format == "json" {
				return fmt.Errorf("--refs-dot cannot be combined with --format json")
			}

			a, err := newApp(cmd, *settingsFile, version)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.compiler.Build(cmd.Context(), args[0])
			if format == "json" {
				if encErr := writeCheckReport(cmd, res, err); encErr != nil {
					return encErr
				}
				if err != nil {
					return ErrFailed
				}
				return nil
			}

			if err := a.finish(res, err, func() {
				a.printer.Success("%s is valid (%d sources)", args[0], len(res.Sources))
			}); err != nil {
				return err
			}
			if refsDot {
				_, err := fmt.Fprint(cmd.OutOrStdout(), res.Refs.ToDOT("refs"))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json)")
	cmd.Flags().BoolVar(&refsDot, "refs-dot", false, "print the reference dependency graph in DOT format")

	return cmd
}

func writeCheckReport(cmd *cobra.Command, res *compiler.Result, runErr error) error {
	report := checkReport{
		OK:          runErr == nil,
		Sources:     []string{},
		Diagnostics: []diag.Diagnostic{},
	}
	if res != nil {
		report.BuildID = res.BuildID
		report.Errors = res.Errors()
		report.Warnings = res.Warnings()
		for _, s := range res.Sources {
			report.Sources = append(report.Sources, s.Rel)
		}
		if len(res.Diagnostics) > 0 {
			report.Diagnostics = res.Diagnostics
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
