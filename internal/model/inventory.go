package model

import (
	"strings"
	"time"
)

// UnknownSite is the bucket for rows whose site value is empty or missing.
const UnknownSite = "(unknown)"

// UnknownExtension is reported when no plausible file extension can be found.
const UnknownExtension = "unknown"

// Row is one CSV data line. Headers is shared by every row of a dataset and
// defines iteration order; Values is addressed by header name.
type Row struct {
	Headers []string
	Values  map[string]string
}

// Get returns the raw value for header, or "" when the header is absent.
func (r Row) Get(header string) string {
	if header == "" {
		return ""
	}
	return r.Values[header]
}

// Fields returns the row's values in header order.
func (r Row) Fields() []string {
	out := make([]string, len(r.Headers))
	for i, h := range r.Headers {
		out[i] = r.Values[h]
	}
	return out
}

// Text joins every field of the row with single spaces.
func (r Row) Text() string {
	return strings.Join(r.Fields(), " ")
}

// Roles maps each semantic column role to the header chosen for it. An empty
// string means no header was found for that role.
type Roles struct {
	Site         string `json:"site" yaml:"site"`
	FileCount    string `json:"fileCount" yaml:"fileCount"`
	FileSize     string `json:"fileSize" yaml:"fileSize"`
	LastModified string `json:"lastModified" yaml:"lastModified"`
	FileType     string `json:"fileType" yaml:"fileType"`
	FileName     string `json:"fileName" yaml:"fileName"`
	Permissions  string `json:"permissions" yaml:"permissions"`
}

// SharingLevel is the four-tier exposure classification.
type SharingLevel string

const (
	SharingOnlyOrg   SharingLevel = "Only Org"
	SharingEveryone  SharingLevel = "Everyone"
	SharingExternal  SharingLevel = "External (New & Existing)"
	SharingAnonymous SharingLevel = "External (Anonymous)"
)

// Rank returns the permissiveness rank, 1 (least) to 4 (most).
func (l SharingLevel) Rank() int {
	switch l {
	case SharingAnonymous:
		return 4
	case SharingExternal:
		return 3
	case SharingEveryone:
		return 2
	default:
		return 1
	}
}

// SharingLevels lists every level in ascending permissiveness.
var SharingLevels = []SharingLevel{SharingOnlyOrg, SharingEveryone, SharingExternal, SharingAnonymous}

// RiskProfile is a coarse business-risk label derived from permission text.
type RiskProfile string

const (
	RiskCritical RiskProfile = "Critical"
	RiskMedium   RiskProfile = "Medium"
	RiskLow      RiskProfile = "Low"
	RiskUnknown  RiskProfile = "Unknown"
)

// ContentCategory groups file extensions.
type ContentCategory string

const (
	CategoryBusiness ContentCategory = "Business"
	CategorySystem   ContentCategory = "System"
	CategoryMedia    ContentCategory = "Media"
	CategoryOther    ContentCategory = "Other"
)

// Dataset is one loaded CSV. It is replaced as a whole, never mutated.
type Dataset struct {
	ID        string
	SessionID string
	Name      string
	SHA256    string
	Headers   []string
	Rows      []Row
	Roles     Roles
	LoadedAt  time.Time
}

// SiteAggregate summarises the filtered rows belonging to one site.
type SiteAggregate struct {
	SiteName           string       `json:"siteName" yaml:"siteName"`
	Files              int64        `json:"files" yaml:"files"`
	TotalKB            float64      `json:"totalKB" yaml:"totalKB"`
	LastModified       *time.Time   `json:"lastModified" yaml:"lastModified"`
	SharingLevel       SharingLevel `json:"sharingLevel" yaml:"sharingLevel"`
	PermissivenessRank int          `json:"permissivenessRank" yaml:"permissivenessRank"`
	VisibleEveryone    bool         `json:"visibleEveryone" yaml:"visibleEveryone"`
	VisibleExternal    bool         `json:"visibleExternal" yaml:"visibleExternal"`
	Rows               []Row        `json:"-" yaml:"-"`
}

// StaleSite holds the rows of a site last modified before a threshold.
type StaleSite struct {
	SiteName       string    `json:"siteName" yaml:"siteName"`
	StaleFileCount int       `json:"staleFileCount" yaml:"staleFileCount"`
	StaleKB        float64   `json:"staleKB" yaml:"staleKB"`
	OldestModified time.Time `json:"oldestModified" yaml:"oldestModified"`
	Rows           []Row     `json:"-" yaml:"-"`
}

// Summary holds dashboard-wide metrics.
type Summary struct {
	TotalSites    int     `json:"totalSites" yaml:"totalSites"`
	PublicSites   int     `json:"publicSites" yaml:"publicSites"`
	EveryoneSites int     `json:"everyoneSites" yaml:"everyoneSites"`
	PublicPct     float64 `json:"publicPct" yaml:"publicPct"`
	EveryonePct   float64 `json:"everyonePct" yaml:"everyonePct"`
	TotalKB       float64 `json:"totalKB" yaml:"totalKB"`
	TotalFiles    int64   `json:"totalFiles" yaml:"totalFiles"`
}

// Severity labels a site's data gravity by file count.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// GravityEntry is one line of the top-N ranking.
type GravityEntry struct {
	Rank     int           `json:"rank" yaml:"rank"`
	Site     SiteAggregate `json:"site" yaml:"site"`
	Severity Severity      `json:"risk" yaml:"risk"`
}

// TypeCount is a file-type distribution bucket.
type TypeCount struct {
	Extension string `json:"extension" yaml:"extension"`
	Count     int    `json:"count" yaml:"count"`
}
