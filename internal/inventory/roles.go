// Package inventory derives site-level metrics from parsed inventory rows:
// column-role inference, filtering, per-site aggregation and the summary
// views built on top of it. Everything here is a pure function of its
// arguments.
package inventory

import (
	"strings"

	"github.com/siteinventory/spdash/internal/model"
)

// Keyword lists are in priority order: an earlier keyword matching any header
// beats a later keyword matching an earlier header.
var (
	fileCountKeywords    = []string{"filecount", "sitefilecount", "itemcount", "documentcount", "count"}
	fileSizeKeywords     = []string{"filesize", "file_size", "size", "storageusage"}
	lastModifiedKeywords = []string{"lastmodified", "modified", "lastmodifieddate"}
	fileTypeKeywords     = []string{"extension", "filetype", "file_type", "type", "docicon", "itemtype"}
	fileNameKeywords     = []string{"filename", "file_name", "name", "itemname", "url", "path", "link"}
	permissionKeywords   = []string{"permissions", "perm", "usergroup", "group", "sharedwith", "access", "sharing"}
)

// InferRoles guesses which header plays each semantic role. The site role
// falls back to the first header, so it is only empty when there are no
// headers at all.
func InferRoles(headers []string) model.Roles {
	return model.Roles{
		Site:         findSite(headers),
		FileCount:    findByKeywords(headers, fileCountKeywords),
		FileSize:     findByKeywords(headers, fileSizeKeywords),
		LastModified: findByKeywords(headers, lastModifiedKeywords),
		FileType:     findByKeywords(headers, fileTypeKeywords),
		FileName:     findByKeywords(headers, fileNameKeywords),
		Permissions:  findByKeywords(headers, permissionKeywords),
	}
}

func findSite(headers []string) string {
	for _, h := range headers {
		l := strings.ToLower(h)
		if strings.HasSuffix(l, "site") || strings.HasSuffix(l, "site_name") || strings.HasSuffix(l, "sitename") ||
			l == "site" || strings.Contains(l, "siteurl") || strings.Contains(l, "weburl") || strings.Contains(l, "web url") {
			return h
		}
	}
	if len(headers) > 0 {
		return headers[0]
	}
	return ""
}

func findByKeywords(headers []string, keywords []string) string {
	for _, k := range keywords {
		for _, h := range headers {
			if strings.Contains(strings.ToLower(h), k) {
				return h
			}
		}
	}
	return ""
}
