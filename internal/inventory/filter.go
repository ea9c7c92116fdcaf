package inventory

import (
	"github.com/siteinventory/spdash/internal/classify"
	"github.com/siteinventory/spdash/internal/model"
)

// All is the pass-through selection for every filter.
const All = "All"

// Filters holds the active selections. Empty or All disables a filter.
type Filters struct {
	FileType string `json:"fileType"`
	Risk     string `json:"risk"`
	Category string `json:"category"`
}

func active(v string) bool {
	return v != "" && v != All
}

// Match reports whether a single row passes every active filter. The risk
// profile is computed over the whole row, not only the permissions column.
func (f Filters) Match(row model.Row, roles model.Roles) bool {
	if active(f.FileType) || active(f.Category) {
		ext := classify.Extension(row, roles)
		if active(f.FileType) && ext != f.FileType {
			return false
		}
		if active(f.Category) && string(classify.Category(ext)) != f.Category {
			return false
		}
	}
	if active(f.Risk) && string(classify.Risk(row.Text())) != f.Risk {
		return false
	}
	return true
}

// Filter returns the rows that pass all active filters, in input order.
func Filter(rows []model.Row, roles model.Roles, f Filters) []model.Row {
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		if f.Match(r, roles) {
			out = append(out, r)
		}
	}
	return out
}
