package inventory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/siteinventory/spdash/internal/classify"
	"github.com/siteinventory/spdash/internal/model"
)

// SiteKey returns the grouping key of a row: its trimmed site value, or the
// unknown bucket when that is empty.
func SiteKey(row model.Row, roles model.Roles) string {
	if s := strings.TrimSpace(row.Get(roles.Site)); s != "" {
		return s
	}
	return model.UnknownSite
}

// Aggregate groups rows by site and computes per-site totals. Sharing and
// visibility are decided over the text of every field of every row in the
// site at once, so a mention in any column of any row counts for the site.
// The result is ordered by file count, largest first; equal counts keep the
// order in which sites first appear.
func Aggregate(rows []model.Row, roles model.Roles) []model.SiteAggregate {
	index := make(map[string]int)
	var groups [][]model.Row
	var names []string
	for _, r := range rows {
		key := SiteKey(r, roles)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
			names = append(names, key)
		}
		groups[i] = append(groups[i], r)
	}

	aggs := make([]model.SiteAggregate, len(groups))
	for i, g := range groups {
		aggs[i] = aggregateSite(names[i], g, roles)
	}
	sort.SliceStable(aggs, func(i, j int) bool {
		return aggs[i].Files > aggs[j].Files
	})
	return aggs
}

func aggregateSite(name string, rows []model.Row, roles model.Roles) model.SiteAggregate {
	agg := model.SiteAggregate{SiteName: name, Rows: rows}

	if roles.FileCount != "" {
		var files float64
		for _, r := range rows {
			files += ParseNumber(r.Get(roles.FileCount))
		}
		agg.Files = int64(math.Round(files))
	} else {
		agg.Files = int64(len(rows))
	}

	if roles.FileSize != "" {
		for _, r := range rows {
			agg.TotalKB += ParseNumber(r.Get(roles.FileSize))
		}
	}

	if roles.LastModified != "" {
		var latest time.Time
		found := false
		for _, r := range rows {
			t, ok := ParseDate(r.Get(roles.LastModified))
			if ok && (!found || t.After(latest)) {
				latest, found = t, true
			}
		}
		if found {
			agg.LastModified = &latest
		}
	}

	text := siteText(rows)
	agg.SharingLevel = classify.Sharing(text)
	agg.PermissivenessRank = agg.SharingLevel.Rank()
	agg.VisibleEveryone = classify.VisibleEveryone(text)
	agg.VisibleExternal = classify.VisibleExternal(text)
	return agg
}

func siteText(rows []model.Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = r.Text()
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
