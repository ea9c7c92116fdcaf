// Package export serialises the derived views to CSV, JSON and YAML.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/siteinventory/spdash/internal/model"
)

// DateLayout is the calendar-date form used in every exported table.
const DateLayout = "2006-01-02"

// Format names an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists the accepted export encodings.
var Formats = []Format{FormatCSV, FormatJSON, FormatYAML}

// ParseFormat validates a format name. "yml" is accepted for YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/csv; charset=utf-8"
	}
}

// View names an exportable table.
type View string

const (
	ViewSites   View = "sites"
	ViewStale   View = "stale"
	ViewGravity View = "gravity"
)

// Views lists the exportable tables.
var Views = []View{ViewSites, ViewStale, ViewGravity}

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	for _, v := range Views {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown export view %q", s)
}

// Table is a flat rendition of a view. Headers and Records feed the CSV
// writer; Data is the structured value used for JSON and YAML.
type Table struct {
	Headers []string
	Records [][]string
	Data    any
}

// Write encodes t to w in the given format.
func (t Table) Write(w io.Writer, f Format) error {
	switch f {
	case FormatCSV:
		return CSV(w, t.Headers, t.Records)
	case FormatJSON:
		return JSON(w, t.Data)
	case FormatYAML:
		return YAML(w, t.Data)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// Build returns the fixed-column table for view.
func Build(view View, sites []model.SiteAggregate, stale []model.StaleSite, gravity []model.GravityEntry) Table {
	switch view {
	case ViewStale:
		return Stale(stale)
	case ViewGravity:
		return Gravity(gravity)
	default:
		return Sites(sites)
	}
}

// CSV writes headers and records with every field quoted and embedded quotes
// doubled. Lines are joined by "\n" with no trailing newline.
func CSV(w io.Writer, headers []string, records [][]string) error {
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, csvLine(headers))
	for _, r := range records {
		lines = append(lines, csvLine(r))
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

func csvLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

// JSON writes v indented by two spaces.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v as a YAML document.
func YAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func formatKB(kb float64) string {
	return strconv.FormatFloat(kb, 'f', 2, 64)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// Sites renders the site table.
func Sites(aggs []model.SiteAggregate) Table {
	t := Table{
		Headers: []string{"Site Name", "Files", "Total KB", "Total MB", "Sharing Level", "Last Modified"},
		Records: make([][]string, len(aggs)),
		Data:    nonNil(aggs),
	}
	for i, a := range aggs {
		t.Records[i] = []string{
			a.SiteName,
			strconv.FormatInt(a.Files, 10),
			formatKB(a.TotalKB),
			formatKB(a.TotalKB / 1024),
			string(a.SharingLevel),
			formatDate(a.LastModified),
		}
	}
	return t
}

// Stale renders the stale-content table.
func Stale(stale []model.StaleSite) Table {
	t := Table{
		Headers: []string{"Site Name", "Stale Files", "Stale KB", "Oldest Modified"},
		Records: make([][]string, len(stale)),
		Data:    nonNil(stale),
	}
	for i, s := range stale {
		oldest := s.OldestModified
		t.Records[i] = []string{
			s.SiteName,
			strconv.Itoa(s.StaleFileCount),
			formatKB(s.StaleKB),
			formatDate(&oldest),
		}
	}
	return t
}

// Gravity renders the data-gravity ranking.
func Gravity(entries []model.GravityEntry) Table {
	t := Table{
		Headers: []string{"Rank", "Site Name", "Files", "Total KB", "Risk"},
		Records: make([][]string, len(entries)),
		Data:    nonNil(entries),
	}
	for i, e := range entries {
		t.Records[i] = []string{
			strconv.Itoa(e.Rank),
			e.Site.SiteName,
			strconv.FormatInt(e.Site.Files, 10),
			formatKB(e.Site.TotalKB),
			string(e.Severity),
		}
	}
	return t
}

// nonNil makes empty views encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
