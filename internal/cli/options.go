package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/siteinventory/spdash/internal/ingest"
	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
)

// annotationConfigFlags marks commands whose flags are config keys.
const annotationConfigFlags = "spdash/config-flags"

// viewFlags are the filter and view selections shared by the file commands.
type viewFlags struct {
	fileType string
	risk     string
	category string
	period   string
	metric   string
	search   string
	sharing  string
	sortBy   string
	desc     bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.fileType, "file-type", "", "only rows with this extension")
	fs.StringVar(&f.risk, "risk", "", "only rows with this risk profile (Critical|Medium|Low)")
	fs.StringVar(&f.category, "category", "", "only rows in this content category")
	fs.StringVar(&f.period, "period", string(inventory.DefaultPeriod), "staleness lookback (6months|12months|2years|5years)")
	fs.StringVar(&f.metric, "metric", string(inventory.MetricFiles), "data gravity ranking metric (files|storage)")
	fs.StringVar(&f.search, "search", "", "only sites whose name contains this text")
	fs.StringVar(&f.sharing, "sharing", "", "only sites at this sharing level")
	fs.StringVar(&f.sortBy, "sort", "", "site table sort column (name|files|storage|lastModified)")
	fs.BoolVar(&f.desc, "desc", false, "sort the site table descending")

	_ = cmd.RegisterFlagCompletionFunc("risk", fixedCompletion(string(model.RiskCritical), string(model.RiskMedium), string(model.RiskLow)))
	_ = cmd.RegisterFlagCompletionFunc("period", fixedCompletion(periodNames()...))
	_ = cmd.RegisterFlagCompletionFunc("metric", fixedCompletion(string(inventory.MetricFiles), string(inventory.MetricStorage)))
	_ = cmd.RegisterFlagCompletionFunc("sort", fixedCompletion(
		string(inventory.SortName), string(inventory.SortFiles), string(inventory.SortStorage), string(inventory.SortLastModified)))
}

// options validates the flags into pipeline options.
func (f *viewFlags) options() (pipeline.Options, error) {
	opts := pipeline.Options{
		Filters: inventory.Filters{
			FileType: f.fileType,
			Risk:     f.risk,
			Category: f.category,
		},
		Table: inventory.TableQuery{
			Search:  f.search,
			Sharing: f.sharing,
			Desc:    f.desc,
		},
	}

	period, err := inventory.ParsePeriod(f.period)
	if err != nil {
		return opts, err
	}
	opts.Period = period

	switch m := inventory.Metric(f.metric); m {
	case "", inventory.MetricFiles:
		opts.Metric = inventory.MetricFiles
	case inventory.MetricStorage:
		opts.Metric = m
	default:
		return opts, fmt.Errorf("unknown metric %q", f.metric)
	}

	switch k := inventory.SortKey(f.sortBy); k {
	case "", inventory.SortName, inventory.SortFiles, inventory.SortStorage, inventory.SortLastModified:
		opts.Table.SortBy = k
	default:
		return opts, fmt.Errorf("unknown sort column %q", f.sortBy)
	}
	return opts, nil
}

func periodNames() []string {
	out := make([]string, len(inventory.Periods))
	for i, p := range inventory.Periods {
		out[i] = string(p)
	}
	return out
}

func fixedCompletion(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

// loadFile reads and parses an inventory CSV from disk.
func loadFile(path string, limit int64) (*model.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	data, _, err := ingest.ReadUpload(f, limit)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return loadBytes(path, data)
}

func loadBytes(path string, data []byte) (*model.Dataset, error) {
	ds, err := ingest.Load(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return ds, nil
}

// formatKB renders a kilobyte total as a binary size.
func formatKB(kb float64) string {
	if kb <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(kb * 1024))
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return t.Format("2006-01-02")
}
