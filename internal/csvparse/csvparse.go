// Package csvparse reads inventory exports into header-addressable rows.
//
// The reader is deliberately lenient: it never returns an error for content.
// Ragged rows are padded or truncated to the header width and an unterminated
// quote swallows the remainder of its line as literal text.
package csvparse

import (
	"strings"

	"github.com/siteinventory/spdash/internal/model"
)

// Parse splits text into a header sequence and data rows. Blank lines are
// skipped wherever they occur; the first non-blank line is the header.
func Parse(text string) ([]string, []model.Row) {
	var headers []string
	rows := []model.Row{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := SplitLine(line)
		if headers == nil {
			headers = make([]string, len(fields))
			for i, f := range fields {
				headers[i] = strings.TrimSpace(f)
			}
			continue
		}
		rows = append(rows, newRow(headers, fields))
	}
	return headers, rows
}

// SplitLine splits a single line on commas outside double quotes. A doubled
// quote inside a quoted section is a literal quote; quote characters
// themselves are not part of the value.
func SplitLine(line string) []string {
	var (
		fields   []string
		cur      strings.Builder
		inQuotes bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

func newRow(headers, fields []string) model.Row {
	values := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(fields) {
			values[h] = fields[i]
		} else {
			values[h] = ""
		}
	}
	return model.Row{Headers: headers, Values: values}
}
