package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/civa-shell/irfc/pkg/diag"
	"github.com/civa-shell/irfc/pkg/stores"
)

func newHistoryCommand(settingsFile *string, _ string) *cobra.Command {
	var (
		limit  int
		prune  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds",
		Long: `Lists the builds recorded in the history database, newest first. Builds
are only recorded when a history database is configured with --history or
the history setting.`,
		Example: `  # Last 20 builds
  irfc history --history ~/.cache/civa/irfc.db

  # Keep only the 100 most recent builds
  irfc history --prune 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q (must be 'text' or 'json')", format)
			}

			s, _, err := loadSettings(cmd, *settingsFile)
			if err != nil {
				return err
			}
			if s.History == "" {
				return errors.New("no history database configured (use --history)")
			}

			ctx := cmd.Context()
			store, err := stores.NewSQLiteStore(stores.Config{Path: s.History})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open build history: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate build history: %w", err)
			}

			if prune > 0 {
				n, err := store.PruneBuilds(ctx, prune)
				if err != nil {
					return err
				}
				diag.NewPrinter(cmd.ErrOrStderr()).Success("pruned %d build(s)", n)
			}

			builds, err := store.ListBuilds(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if builds == nil {
					builds = []*stores.Build{}
				}
				return enc.Encode(builds)
			}

			if len(builds) == 0 {
				fmt.Fprintln(out, "No builds recorded.")
				return nil
			}
			rows := make([][]string, 0, len(builds))
			for _, b := range builds {
				rows = append(rows, historyRow(b))
			}
			diag.NewPrinter(out).Table(
				[]string{"STARTED", "STATUS", "STAGE", "SOURCES", "ERRORS", "WARNINGS", "DURATION", "CONFIG", "OUTPUT"},
				rows,
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of builds to list")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete all but the N most recent builds first")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json)")

	return cmd
}

func historyRow(b *stores.Build) []string {
	stage := b.Stage
	if stage == "" {
		stage = "-"
	}
	output := b.OutPath
	if output == "" {
		output = "(check)"
	}
	return []string{
		b.StartedAt.Local().Format(time.DateTime),
		string(b.Status),
		stage,
		strconv.Itoa(b.SourceCount),
		strconv.Itoa(b.ErrorCount),
		strconv.Itoa(b.WarningCount),
		b.Duration().Round(time.Millisecond).String(),
		b.ConfigDir,
		output,
	}
}
