package inventory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/siteinventory/spdash/internal/classify"
	"github.com/siteinventory/spdash/internal/model"
)

// Summarize computes the dashboard-wide metrics over a set of aggregates.
func Summarize(aggs []model.SiteAggregate) model.Summary {
	s := model.Summary{TotalSites: len(aggs)}
	for _, a := range aggs {
		if a.SharingLevel == model.SharingAnonymous || a.VisibleExternal {
			s.PublicSites++
		}
		if a.VisibleEveryone {
			s.EveryoneSites++
		}
		s.TotalKB += a.TotalKB
		s.TotalFiles += a.Files
	}
	s.PublicPct = percent(s.PublicSites, s.TotalSites)
	s.EveryonePct = percent(s.EveryoneSites, s.TotalSites)
	return s
}

// percent returns part/total as a percentage rounded to two decimals.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	x := float64(part) / float64(total)
	return math.Round(x*10000) / 100
}

// Period selects the staleness lookback.
type Period string

const (
	Period6Months  Period = "6months"
	Period12Months Period = "12months"
	Period2Years   Period = "2years"
	Period5Years   Period = "5years"

	DefaultPeriod = Period6Months
)

// Periods lists the selectable lookbacks in increasing length.
var Periods = []Period{Period6Months, Period12Months, Period2Years, Period5Years}

// ParsePeriod validates a period name; empty selects the default.
func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return DefaultPeriod, nil
	}
	for _, p := range Periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown staleness period %q", s)
}

// StaleThreshold returns now minus the period using calendar arithmetic, so
// month-end and leap-day dates roll over the way AddDate normalises them.
// Unknown periods behave like the default.
func StaleThreshold(p Period, now time.Time) time.Time {
	switch p {
	case Period12Months:
		return now.AddDate(0, -12, 0)
	case Period2Years:
		return now.AddDate(-2, 0, 0)
	case Period5Years:
		return now.AddDate(-5, 0, 0)
	default:
		return now.AddDate(0, -6, 0)
	}
}

// StaleSites reports, per site, the rows last modified strictly before the
// threshold. Rows without a readable date never count as stale and sites
// with no stale rows are omitted. The result lists the most overdue site
// first.
func StaleSites(aggs []model.SiteAggregate, roles model.Roles, threshold time.Time) []model.StaleSite {
	if roles.LastModified == "" {
		return []model.StaleSite{}
	}
	out := []model.StaleSite{}
	for _, a := range aggs {
		st := model.StaleSite{SiteName: a.SiteName}
		for _, r := range a.Rows {
			t, ok := ParseDate(r.Get(roles.LastModified))
			if !ok || !t.Before(threshold) {
				continue
			}
			if len(st.Rows) == 0 || t.Before(st.OldestModified) {
				st.OldestModified = t
			}
			st.Rows = append(st.Rows, r)
			if roles.FileSize != "" {
				st.StaleKB += ParseNumber(r.Get(roles.FileSize))
			}
		}
		if len(st.Rows) == 0 {
			continue
		}
		st.StaleFileCount = len(st.Rows)
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OldestModified.Before(out[j].OldestModified)
	})
	return out
}

// Metric selects the data-gravity ranking key.
type Metric string

const (
	MetricFiles   Metric = "files"
	MetricStorage Metric = "storage"
)

// GravityLimit is the length of the data-gravity ranking.
const GravityLimit = 10

// SeverityFor labels a site by its file count.
func SeverityFor(files int64) model.Severity {
	switch {
	case files > 10000:
		return model.SeverityCritical
	case files > 1000:
		return model.SeverityHigh
	case files > 500:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// DataGravity ranks the sites holding the most files or storage.
func DataGravity(aggs []model.SiteAggregate, metric Metric) []model.GravityEntry {
	sorted := make([]model.SiteAggregate, len(aggs))
	copy(sorted, aggs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if metric == MetricStorage {
			return sorted[i].TotalKB > sorted[j].TotalKB
		}
		return sorted[i].Files > sorted[j].Files
	})
	if len(sorted) > GravityLimit {
		sorted = sorted[:GravityLimit]
	}
	out := make([]model.GravityEntry, len(sorted))
	for i, a := range sorted {
		out[i] = model.GravityEntry{Rank: i + 1, Site: a, Severity: SeverityFor(a.Files)}
	}
	return out
}

// SortKey names a table column.
type SortKey string

const (
	SortName         SortKey = "name"
	SortFiles        SortKey = "files"
	SortStorage      SortKey = "storage"
	SortLastModified SortKey = "lastModified"
)

// TableQuery selects and orders rows of the site table.
type TableQuery struct {
	Search  string
	Sharing string
	SortBy  SortKey
	Desc    bool
}

// Table applies the search box, the sharing-level filter and the chosen sort
// to the aggregates. An empty SortBy keeps the aggregate order.
func Table(aggs []model.SiteAggregate, q TableQuery) []model.SiteAggregate {
	needle := strings.ToLower(q.Search)
	out := make([]model.SiteAggregate, 0, len(aggs))
	for _, a := range aggs {
		if needle != "" && !strings.Contains(strings.ToLower(a.SiteName), needle) {
			continue
		}
		if active(q.Sharing) && string(a.SharingLevel) != q.Sharing {
			continue
		}
		out = append(out, a)
	}
	if q.SortBy == "" {
		return out
	}

	col := collate.New(language.English)
	cmp := func(a, b model.SiteAggregate) int {
		switch q.SortBy {
		case SortFiles:
			return compareFloat(float64(a.Files), float64(b.Files))
		case SortStorage:
			return compareFloat(a.TotalKB, b.TotalKB)
		case SortLastModified:
			return compareTime(a.LastModified, b.LastModified)
		default:
			return col.CompareString(a.SiteName, b.SiteName)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := cmp(out[i], out[j])
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareTime orders a missing date before any real one.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// TopTypes is how many extensions the distribution shows before folding the
// rest into Other.
const TopTypes = 8

// OtherBucket collects the extensions beyond TopTypes.
const OtherBucket = "Other"

// FileTypes counts rows per extension, most common first, keeping the top
// entries and summing the rest into a single Other bucket.
func FileTypes(rows []model.Row, roles model.Roles) []model.TypeCount {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[classify.Extension(r, roles)]++
	}
	all := make([]model.TypeCount, 0, len(counts))
	for ext, n := range counts {
		all = append(all, model.TypeCount{Extension: ext, Count: n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Extension < all[j].Extension
	})
	if len(all) <= TopTypes {
		return all
	}
	other := model.TypeCount{Extension: OtherBucket}
	for _, tc := range all[TopTypes:] {
		other.Count += tc.Count
	}
	return append(all[:TopTypes:TopTypes], other)
}

// Extensions returns the sorted set of distinct extensions across rows. It is
// meant to be called on the unfiltered rows to build the filter choices.
func Extensions(rows []model.Row, roles model.Roles) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[classify.Extension(r, roles)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ext := range seen {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
