package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray spdash.yaml
// is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, used, err := Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultMaxUploadMB, cfg.MaxUploadMB)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes())
	assert.Equal(t, DefaultFrameAncestors, cfg.FrameAncestors)
	assert.Equal(t, DefaultRequestsPerMin, cfg.RateLimit.RequestsPerMin)
	assert.Equal(t, DefaultUploadsPerMin, cfg.RateLimit.UploadsPerMin)
	assert.True(t, cfg.URLImport)
	assert.False(t, cfg.URLImportPrivate)
}

func TestLoad_URLImportSwitches(t *testing.T) {
	inTempDir(t)
	t.Setenv("SPDASH_URL_IMPORT", "false")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("url-import-private", false, "")
	require.NoError(t, flags.Parse([]string{"--url-import-private"}))

	cfg, _, err := Load("", flags)
	require.NoError(t, err)
	assert.False(t, cfg.URLImport)
	assert.True(t, cfg.URLImportPrivate)
}

func TestLoad_Precedence(t *testing.T) {
	dir := inTempDir(t)
	yaml := strings.Join([]string{
		"listen: \":9000\"",
		"session_ttl: 2h",
		"max_upload_mb: 5",
		"frame_ancestors: \"'self' https://portal.example.com\"",
		"rate_limit:",
		"  requests_per_min: 30",
		"  uploads_per_min: 3",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spdash.yaml"), []byte(yaml), 0o600))

	t.Setenv("SPDASH_MAX_UPLOAD_MB", "7")
	t.Setenv("SPDASH_RATE_LIMIT_UPLOADS_PER_MIN", "4")
	t.Setenv("SPDASH_LISTEN", ":9100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", DefaultListen, "")
	flags.Duration("session-ttl", DefaultSessionTTL, "")
	flags.String("db", DefaultDBPath, "")
	require.NoError(t, flags.Parse([]string{"--listen", ":9200", "--db", "/tmp/spdash.db"}))

	cfg, used, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "spdash.yaml", used)

	assert.Equal(t, ":9200", cfg.Listen, "explicit flag beats env and file")
	assert.Equal(t, "/tmp/spdash.db", cfg.DBPath, "flag name mapped to config key")
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL, "unset flag must not override the file")
	assert.Equal(t, 7, cfg.MaxUploadMB, "env beats file")
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMin)
	assert.Equal(t, 4, cfg.RateLimit.UploadsPerMin, "nested env key")
	assert.Equal(t, "'self' https://portal.example.com", cfg.FrameAncestors)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_format: json\nlog_level: debug\n"), 0o600))

	cfg, used, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	inTempDir(t)
	_, _, err := Load("nope.yaml", nil)
	assert.Error(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	inTempDir(t)
	t.Setenv("SPDASH_LOG_FORMAT", "xml")
	_, _, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "listen", envKey("SPDASH_LISTEN"))
	assert.Equal(t, "session_secret", envKey("SPDASH_SESSION_SECRET"))
	assert.Equal(t, "rate_limit.requests_per_min", envKey("SPDASH_RATE_LIMIT_REQUESTS_PER_MIN"))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Listen:         ":8080",
			DBPath:         ":memory:",
			SessionTTL:     time.Hour,
			MaxUploadMB:    10,
			FrameAncestors: "'self'",
			LogLevel:       "info",
			LogFormat:      "text",
			RateLimit:      RateLimitConfig{RequestsPerMin: 60, UploadsPerMin: 5},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"no db", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"short ttl", func(c *Config) { c.SessionTTL = time.Second }, "session_ttl"},
		{"zero upload", func(c *Config) { c.MaxUploadMB = 0 }, "max_upload_mb"},
		{"short secret", func(c *Config) { c.SessionSecret = "short" }, "session_secret"},
		{"long secret", func(c *Config) { c.SessionSecret = strings.Repeat("s", 32) }, ""},
		{"bad render url", func(c *Config) { c.RenderURL = "ftp://x" }, "render_url"},
		{"good render url", func(c *Config) { c.RenderURL = "http://renderer:3000/pdf" }, ""},
		{"bad frame ancestors", func(c *Config) { c.FrameAncestors = "'self'; script-src *" }, "frame_ancestors"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad rate", func(c *Config) { c.RateLimit.UploadsPerMin = 0 }, "rate limits"},
		{"watch without dataset", func(c *Config) { c.Watch = true }, "watch"},
		{"watch with dataset", func(c *Config) { c.Watch = true; c.Dataset = "inv.csv" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
