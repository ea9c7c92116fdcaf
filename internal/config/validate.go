package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// minSecretLen is the shortest accepted session secret.
const minSecretLen = 32

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required (use :memory: for a process-local store)")
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("session_ttl must be at least 1m, got %s", c.SessionTTL)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < minSecretLen {
		return fmt.Errorf("session_secret must be at least %d characters", minSecretLen)
	}
	if c.RenderURL != "" {
		u, err := url.Parse(c.RenderURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("render_url must be an http(s) URL, got %q", c.RenderURL)
		}
	}
	if strings.ContainsAny(c.FrameAncestors, ";,") {
		return fmt.Errorf("frame_ancestors must be a space-separated source list, got %q", c.FrameAncestors)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.RateLimit.RequestsPerMin <= 0 || c.RateLimit.UploadsPerMin <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Watch && c.Dataset == "" {
		return fmt.Errorf("watch requires a dataset file")
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return l, nil
}
