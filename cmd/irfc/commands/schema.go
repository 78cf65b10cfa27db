package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civa-shell/irfc/pkg/diag"
)

func newSchemaCommand(settingsFile *string, version string) *cobra.Command {
	var rules bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the active schema",
		Long: `Prints the schema configuration is validated against: the built-in civa
schema, or the file named by --schema.

With --rules every rule is listed with its constraints instead.`,
		Example: `  # Print the built-in schema document
  irfc schema

  # List the rules of a custom schema
  irfc schema --schema ./civa.cue --rules`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := loadSettings(cmd, *settingsFile)
			if err != nil {
				return err
			}
			sch, err := loadSchema(s, diag.NewPrinter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !rules {
				_, err := out.Write(sch.Source)
				return err
			}

			fmt.Fprintf(out, "# schema %s, version %d, %d rules\n", sch.Name, sch.Version, len(sch.Rules))
			rows := make([][]string, 0, len(sch.Rules))
			for _, r := range sch.Rules {
				rows = append(rows, []string{r.Path, r.Describe(), r.Doc})
			}
			diag.NewPrinter(out).Table([]string{"PATH", "CONSTRAINTS", "DOC"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&rules, "rules", false, "list the rules instead of the schema document")

	return cmd
}
