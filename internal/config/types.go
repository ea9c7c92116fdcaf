// Package config provides layered configuration for spdash: built-in
// defaults, then spdash.yaml, then SPDASH_* environment variables, then
// explicitly set command-line flags.
package config

import "time"

// Defaults.
const (
	DefaultListen         = ":8080"
	DefaultDBPath         = ":memory:"
	DefaultSessionTTL     = 8 * time.Hour
	DefaultMaxUploadMB    = 50
	DefaultFrameAncestors = "'self'"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultRequestsPerMin = 120
	DefaultUploadsPerMin  = 10
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "SPDASH_"

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMin int `koanf:"requests_per_min"`
	UploadsPerMin  int `koanf:"uploads_per_min"`
}

// Config holds all spdash configuration options.
type Config struct {
	Listen           string          `koanf:"listen"`
	DBPath           string          `koanf:"db_path"`
	SessionSecret    string          `koanf:"session_secret"`
	SessionTTL       time.Duration   `koanf:"session_ttl"`
	MaxUploadMB      int             `koanf:"max_upload_mb"`
	FrameAncestors   string          `koanf:"frame_ancestors"`
	RenderURL        string          `koanf:"render_url"`
	DriveToken       string          `koanf:"drive_token"`
	URLImport        bool            `koanf:"url_import"`
	URLImportPrivate bool            `koanf:"url_import_private"`
	Dataset          string          `koanf:"dataset"`
	Watch            bool            `koanf:"watch"`
	LogLevel         string          `koanf:"log_level"`
	LogFormat        string          `koanf:"log_format"`
	RateLimit        RateLimitConfig `koanf:"rate_limit"`
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listen":                      DefaultListen,
		"db_path":                     DefaultDBPath,
		"session_ttl":                 DefaultSessionTTL.String(),
		"max_upload_mb":               DefaultMaxUploadMB,
		"frame_ancestors":             DefaultFrameAncestors,
		"log_level":                   DefaultLogLevel,
		"log_format":                  DefaultLogFormat,
		"watch":                       false,
		"url_import":                  true,
		"url_import_private":          false,
		"rate_limit.requests_per_min": DefaultRequestsPerMin,
		"rate_limit.uploads_per_min":  DefaultUploadsPerMin,
	}
}
