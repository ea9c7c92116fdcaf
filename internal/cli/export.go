package cli

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/siteinventory/spdash/internal/export"
	"github.com/siteinventory/spdash/internal/pipeline"
)

func newExportCommand() *cobra.Command {
	var (
		vf     viewFlags
		view   string
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Export one view of an inventory CSV",
		Long: `Export the site table, stale content or data gravity ranking of an
inventory CSV as CSV, JSON or YAML. Filters apply as in the dashboard.`,
		Example: `  # Site table as CSV on stdout
  spdash export inventory.csv

  # Stale content older than two years as JSON
  spdash export inventory.csv --view stale --period 2years --format json

  # Top sites by storage into a file
  spdash export inventory.csv --view gravity --metric storage --format yaml --out gravity.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := export.ParseView(view)
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			opts, err := vf.options()
			if err != nil {
				return err
			}

			ds, err := loadFile(args[0], GetConfig(cmd.Context()).MaxUploadBytes())
			if err != nil {
				return err
			}
			pv := pipeline.New(0).View(ds, opts)

			var buf bytes.Buffer
			if err := export.Build(v, pv.Table, pv.Stale, pv.Gravity).Write(&buf, f); err != nil {
				return err
			}
			if f == export.FormatCSV {
				buf.WriteByte('\n')
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			slog.Info("export written", "file", out, "view", v, "format", f, "bytes", buf.Len())
			return nil
		},
	}

	vf.register(cmd)
	cmd.Flags().StringVar(&view, "view", string(export.ViewSites), "view to export (sites|stale|gravity)")
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatCSV), "export format (csv|json|yaml)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default: stdout)")

	views := make([]string, len(export.Views))
	for i, v := range export.Views {
		views[i] = string(v)
	}
	formats := make([]string, len(export.Formats))
	for i, f := range export.Formats {
		formats[i] = string(f)
	}
	_ = cmd.RegisterFlagCompletionFunc("view", fixedCompletion(views...))
	_ = cmd.RegisterFlagCompletionFunc("format", fixedCompletion(formats...))

	return cmd
}
