package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketTake(t *testing.T) {
	tests := []struct {
		name      string
		burst     float64
		calls     int
		wantAllow int
	}{
		{
			name:      "allows up to burst",
			burst:     3,
			calls:     5,
			wantAllow: 3,
		},
		{
			name:      "single token",
			burst:     1,
			calls:     2,
			wantAllow: 1,
		},
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &tokenBucket{tokens: tt.burst, burst: tt.burst, rate: 1, lastSeen: now}
			allowed := 0
			for range tt.calls {
				if b.take(now) {
					allowed++
				}
			}
			if allowed != tt.wantAllow {
				t.Errorf("got %d allowed, want %d", allowed, tt.wantAllow)
			}
		})
	}
}

func TestTokenBucketRefill(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &tokenBucket{tokens: 2, burst: 2, rate: 0.5, lastSeen: now}
	b.take(now)
	b.take(now)
	if b.take(now) {
		t.Fatal("expected bucket to be empty")
	}

	if b.take(now.Add(time.Second)) {
		t.Error("half a token must not be enough")
	}
	if !b.take(now.Add(2 * time.Second)) {
		t.Error("expected one token after two seconds")
	}

	capped := &tokenBucket{burst: 2, rate: 1, lastSeen: now}
	capped.take(now.Add(time.Hour))
	if capped.tokens != 1 {
		t.Errorf("refill must cap at burst, got %v tokens left", capped.tokens)
	}
}

func TestRateLimiterAllowIP(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRequestsPerMin = 5
	cfg.CleanupInterval = time.Hour // don't interfere with test
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	ip := "192.0.2.1"
	allowed := 0
	for range 10 {
		if rl.AllowIP(ip) {
			allowed++
		}
	}
	if allowed != cfg.GeneralRequestsPerMin {
		t.Errorf("got %d allowed, want %d", allowed, cfg.GeneralRequestsPerMin)
	}

	// Different IP should have its own bucket.
	if !rl.AllowIP("192.0.2.2") {
		t.Error("different IP should be allowed")
	}
}

func TestRateLimiterUploadBucketIsSeparate(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRequestsPerMin = 100
	cfg.UploadRequestsPerMin = 2
	cfg.CleanupInterval = time.Hour
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	ip := "198.51.100.7"
	allowed := 0
	for range 5 {
		if rl.AllowUpload(ip) {
			allowed++
		}
	}
	if allowed != cfg.UploadRequestsPerMin {
		t.Errorf("got %d uploads allowed, want %d", allowed, cfg.UploadRequestsPerMin)
	}
	if !rl.AllowIP(ip) {
		t.Error("exhausting uploads must not block ordinary requests")
	}
}

func TestRateLimiterPurge(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.CleanupInterval = time.Hour
	rl := NewRateLimiter(cfg)
	rl.Stop()
	rl.Stop()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.AllowIP("192.0.2.9")
	rl.AllowUpload("192.0.2.9")

	now = now.Add(5 * time.Minute)
	rl.AllowIP("192.0.2.10")
	rl.purge(time.Minute)

	if got := rl.general.len(); got != 1 {
		t.Errorf("got %d general buckets after purge, want 1", got)
	}
	if got := rl.upload.len(); got != 0 {
		t.Errorf("got %d upload buckets after purge, want 0", got)
	}
}

func TestIPRateLimitMiddleware(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRequestsPerMin = 3
	cfg.CleanupInterval = time.Hour
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := IPRateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	okCount := 0
	limitedCount := 0
	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			okCount++
		} else if rec.Code == http.StatusTooManyRequests {
			limitedCount++
			if rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After on 429")
			}
		}
	}
	if okCount != 3 {
		t.Errorf("got %d OK responses, want 3", okCount)
	}
	if limitedCount != 7 {
		t.Errorf("got %d rate-limited responses, want 7", limitedCount)
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.0.2.1:12345",
			want:       "192.0.2.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
		{
			name:       "xff single",
			remoteAddr: "127.0.0.1:80",
			xff:        "203.0.113.50",
			want:       "203.0.113.50",
		},
		{
			name:       "xff multiple",
			remoteAddr: "127.0.0.1:80",
			xff:        "203.0.113.50, 70.41.3.18, 150.172.238.178",
			want:       "203.0.113.50",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			got := extractIP(req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
