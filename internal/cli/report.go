package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/siteinventory/spdash/internal/export"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
	"github.com/siteinventory/spdash/internal/watch"
)

// Output modes of the report command.
const (
	outputAuto     = "auto"
	outputTable    = "table"
	outputMarkdown = "markdown"
	outputJSON     = "json"
	outputCSV      = "csv"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headingStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newReportCommand() *cobra.Command {
	var (
		vf       viewFlags
		output   string
		watching bool
	)

	cmd := &cobra.Command{
		Use:   "report FILE",
		Short: "Print the dashboard for an inventory CSV",
		Long: `Print the summary, site table, data gravity ranking, stale content and
file type distribution for an inventory CSV.

Output adapts to environment:
  - Terminal: styled tables
  - Piped/Scripted: CSV of the site table

Use --output to override: auto, table, markdown, json, csv`,
		Example: `  # Report on an inventory export
  spdash report inventory.csv

  # Only spreadsheets, ranked by storage
  spdash report inventory.csv --file-type xlsx --metric storage

  # Markdown for a wiki page
  spdash report inventory.csv --output markdown

  # Re-print whenever the file changes
  spdash report inventory.csv --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := vf.options()
			if err != nil {
				return err
			}
			mode, err := resolveOutput(output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			limit := GetConfig(cmd.Context()).MaxUploadBytes()
			pipe := pipeline.New(0)

			ds, err := loadFile(args[0], limit)
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), mode, pipe.View(ds, opts)); err != nil {
				return err
			}
			if !watching {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchReport(ctx, cmd, args[0], func(data []byte) error {
				ds, err := loadBytes(args[0], data)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("reloaded "+time.Now().Format(time.TimeOnly)))
				return writeReport(cmd.OutOrStdout(), mode, pipe.View(ds, opts))
			})
		},
	}

	vf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", outputAuto, "output format (auto|table|markdown|json|csv)")
	cmd.Flags().BoolVarP(&watching, "watch", "w", false, "print again whenever the file changes")

	_ = cmd.RegisterFlagCompletionFunc("output", fixedCompletion(outputAuto, outputTable, outputMarkdown, outputJSON, outputCSV))

	return cmd
}

func watchReport(ctx context.Context, cmd *cobra.Command, path string, reprint func([]byte) error) error {
	w, err := watch.New(path, func(_ context.Context, data []byte) error {
		return reprint(data)
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("watching "+path+", press Ctrl+C to stop"))
	return w.Run(ctx)
}

// resolveOutput picks table for terminals and csv otherwise when mode is
// auto.
func resolveOutput(mode string, w io.Writer) (string, error) {
	switch mode {
	case outputTable, outputMarkdown, outputJSON, outputCSV:
		return mode, nil
	case outputAuto, "":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return outputTable, nil
		}
		return outputCSV, nil
	}
	return "", fmt.Errorf("unknown output format %q (want auto, table, markdown, json or csv)", mode)
}

// reportJSON is the machine-readable report.
type reportJSON struct {
	Dataset   string                `json:"dataset"`
	RowCount  int                   `json:"rowCount"`
	Filtered  int                   `json:"filteredRows"`
	Roles     model.Roles           `json:"roles"`
	Summary   model.Summary         `json:"summary"`
	Sites     []model.SiteAggregate `json:"sites"`
	Threshold string                `json:"staleThreshold"`
	Stale     []model.StaleSite     `json:"stale"`
	Gravity   []model.GravityEntry  `json:"gravity"`
	FileTypes []model.TypeCount     `json:"fileTypes"`
}

func writeReport(w io.Writer, mode string, v *pipeline.View) error {
	switch mode {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reportJSON{
			Dataset:   v.Dataset.Name,
			RowCount:  len(v.Dataset.Rows),
			Filtered:  len(v.Rows),
			Roles:     v.Roles,
			Summary:   v.Summary,
			Sites:     nonNil(v.Table),
			Threshold: v.Threshold.Format(export.DateLayout),
			Stale:     nonNil(v.Stale),
			Gravity:   nonNil(v.Gravity),
			FileTypes: nonNil(v.FileTypes),
		})
	case outputCSV:
		if err := export.Sites(v.Table).Write(w, export.FormatCSV); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	case outputMarkdown:
		return writeTables(w, v, true)
	default:
		return writeTables(w, v, false)
	}
}

// writeTables prints every section as a go-pretty table, styled for a
// terminal or as Markdown.
func writeTables(w io.Writer, v *pipeline.View, markdown bool) error {
	heading := func(s string) {
		if markdown {
			_, _ = fmt.Fprintf(w, "\n## %s\n\n", s)
			return
		}
		_, _ = fmt.Fprintln(w, headingStyle.Render(s))
	}
	emit := func(t table.Writer) {
		if markdown {
			t.RenderMarkdown()
			return
		}
		t.SetStyle(table.StyleLight)
		t.Render()
	}

	if markdown {
		_, _ = fmt.Fprintf(w, "# SharePoint inventory: %s\n", v.Dataset.Name)
	} else {
		_, _ = fmt.Fprintln(w, titleStyle.Render("SharePoint inventory: "+v.Dataset.Name))
		_, _ = fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%s of %s rows after filters",
			humanize.Comma(int64(len(v.Rows))), humanize.Comma(int64(len(v.Dataset.Rows))))))
	}

	heading("Summary")
	emit(summaryTable(w, v.Summary))

	heading("Sites")
	if len(v.Table) == 0 {
		_, _ = fmt.Fprintln(w, "(no sites)")
	} else {
		emit(sitesTable(w, v.Table))
	}

	heading("Data gravity")
	if len(v.Gravity) == 0 {
		_, _ = fmt.Fprintln(w, "(no sites)")
	} else {
		emit(gravityTable(w, v.Gravity))
	}

	heading("Stale content before " + v.Threshold.Format(export.DateLayout))
	switch {
	case v.Roles.LastModified == "":
		_, _ = fmt.Fprintln(w, "(no last-modified column)")
	case len(v.Stale) == 0:
		_, _ = fmt.Fprintln(w, "(no stale content)")
	default:
		emit(staleTable(w, v.Stale))
	}

	heading("File types")
	if len(v.FileTypes) == 0 {
		_, _ = fmt.Fprintln(w, "(no files)")
	} else {
		emit(fileTypesTable(w, v.FileTypes))
	}
	return nil
}

func newTable(w io.Writer, header table.Row, rightAligned ...int) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	configs := make([]table.ColumnConfig, len(rightAligned))
	for i, n := range rightAligned {
		configs[i] = table.ColumnConfig{Number: n, Align: text.AlignRight}
	}
	t.SetColumnConfigs(configs)
	return t
}

func summaryTable(w io.Writer, s model.Summary) table.Writer {
	t := newTable(w, table.Row{"Metric", "Value"}, 2)
	t.AppendRows([]table.Row{
		{"Sites", humanize.Comma(int64(s.TotalSites))},
		{"Files", humanize.Comma(s.TotalFiles)},
		{"Storage", formatKB(s.TotalKB)},
		{"Visible to everyone", fmt.Sprintf("%d (%s%%)", s.EveryoneSites, formatPct(s.EveryonePct))},
		{"Shared externally", fmt.Sprintf("%d (%s%%)", s.PublicSites, formatPct(s.PublicPct))},
	})
	return t
}

func sitesTable(w io.Writer, sites []model.SiteAggregate) table.Writer {
	t := newTable(w, table.Row{"Site", "Files", "Storage", "Sharing", "Last Modified"}, 2, 3)
	for _, a := range sites {
		t.AppendRow(table.Row{a.SiteName, humanize.Comma(a.Files), formatKB(a.TotalKB), a.SharingLevel, formatDate(a.LastModified)})
	}
	return t
}

func gravityTable(w io.Writer, entries []model.GravityEntry) table.Writer {
	t := newTable(w, table.Row{"#", "Site", "Files", "Storage", "Risk"}, 1, 3, 4)
	for _, e := range entries {
		t.AppendRow(table.Row{e.Rank, e.Site.SiteName, humanize.Comma(e.Site.Files), formatKB(e.Site.TotalKB), e.Severity})
	}
	return t
}

func staleTable(w io.Writer, stale []model.StaleSite) table.Writer {
	t := newTable(w, table.Row{"Site", "Stale Files", "Stale Size", "Oldest Modified"}, 2, 3)
	for _, s := range stale {
		oldest := s.OldestModified
		t.AppendRow(table.Row{s.SiteName, humanize.Comma(int64(s.StaleFileCount)), formatKB(s.StaleKB), formatDate(&oldest)})
	}
	return t
}

func fileTypesTable(w io.Writer, types []model.TypeCount) table.Writer {
	t := newTable(w, table.Row{"Extension", "Files"}, 2)
	for _, tc := range types {
		t.AppendRow(table.Row{tc.Extension, humanize.Comma(int64(tc.Count))})
	}
	return t
}

func formatPct(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
