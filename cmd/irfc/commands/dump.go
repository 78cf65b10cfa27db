package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civa-shell/irfc/pkg/diag"
	"github.com/civa-shell/irfc/pkg/irf"
	"github.com/civa-shell/irfc/pkg/value"
)

func newDumpCommand() *cobra.Command {
	var (
		path   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "dump <irf>",
		Short: "Decode a compiled IRF and print it",
		Long: `Decodes an IRF, verifying its magic, version and fingerprint, and prints
the tree in canonical order.`,
		Example: `  # Print the whole file
  irfc dump ~/.cache/civa/civa.irf

  # Print a single subtree
  irfc dump ~/.cache/civa/civa.irf --path shell.command_bar

  # As JSON
  irfc dump ~/.cache/civa/civa.irf --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q (must be 'text' or 'json')", format)
			}

			f, err := irf.ReadFile(args[0])
			if err != nil {
				diag.NewPrinter(cmd.ErrOrStderr()).Print(diag.FromError(diag.StageDecode, err))
				return ErrFailed
			}

			v := value.FromTable(f.Root)
			if path != "" {
				p, err := value.ParsePath(path)
				if err != nil {
					return fmt.Errorf("invalid --path: %w", err)
				}
				var ok bool
				if v, ok = value.Lookup(f.Root, p); !ok {
					return fmt.Errorf("%s: no value at %s", args[0], p)
				}
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(value.ToGo(v))
			}

			if path == "" {
				fmt.Fprintf(out, "# irf version %d, fingerprint %s\n", f.Version, f.FingerprintHex())
			}
			if t, ok := v.AsTable(); ok {
				fmt.Fprint(out, irf.Text(t))
				return nil
			}
			fmt.Fprintln(out, v.GoString())
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "print only the value at this dotted path")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json)")

	return cmd
}
