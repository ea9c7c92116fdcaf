package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiterConfig holds configuration for rate limiting.
type RateLimiterConfig struct {
	// Per-IP limit for every request.
	GeneralRequestsPerMin int
	// Per-IP limit for dataset uploads and remote imports.
	UploadRequestsPerMin int
	// CleanupInterval is how often stale buckets are purged.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRequestsPerMin: 120,
		UploadRequestsPerMin:  10,
		CleanupInterval:       5 * time.Minute,
	}
}

// tokenBucket refills continuously at rate tokens per second up to burst.
type tokenBucket struct {
	tokens   float64
	burst    float64
	rate     float64
	lastSeen time.Time
}

func (b *tokenBucket) take(now time.Time) bool {
	b.tokens = min(b.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*b.rate)
	b.lastSeen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// bucketSet keeps one bucket per client IP under a shared per-minute limit.
type bucketSet struct {
	perMin  int
	buckets sync.Map // map[string]*tokenBucket
}

func (s *bucketSet) take(ip string, now time.Time) bool {
	limit := float64(s.perMin)
	val, _ := s.buckets.LoadOrStore(ip, &tokenBucket{tokens: limit, burst: limit, rate: limit / 60, lastSeen: now})
	return val.(*tokenBucket).take(now)
}

func (s *bucketSet) purge(cutoff time.Time) {
	s.buckets.Range(func(key, value any) bool {
		if b, ok := value.(*tokenBucket); ok && b.lastSeen.Before(cutoff) {
			s.buckets.Delete(key)
		}
		return true
	})
}

func (s *bucketSet) len() int {
	n := 0
	s.buckets.Range(func(_, _ any) bool { n++; return true })
	return n
}

// RateLimiter provides per-IP rate limiting with separate general and
// upload buckets.
type RateLimiter struct {
	config  RateLimiterConfig
	general bucketSet
	upload  bucketSet
	now     func() time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new RateLimiter and starts a background cleanup
// goroutine. Call Stop() to release resources.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: bucketSet{perMin: config.GeneralRequestsPerMin},
		upload:  bucketSet{perMin: config.UploadRequestsPerMin},
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop halts the background cleanup goroutine. It is safe to call twice.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanup() {
	interval := rl.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.purge(10 * time.Minute)
		}
	}
}

// purge drops buckets idle for longer than ttl.
func (rl *RateLimiter) purge(ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-ttl)
	rl.general.purge(cutoff)
	rl.upload.purge(cutoff)
}

// AllowIP checks whether a request from the given IP is allowed under the
// general per-IP rate limit. Returns true if allowed.
func (rl *RateLimiter) AllowIP(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.general.take(ip, rl.now())
}

// AllowUpload checks whether the given IP may load another dataset.
func (rl *RateLimiter) AllowUpload(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.upload.take(ip, rl.now())
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests")
}

// IPRateLimitMiddleware returns middleware that enforces per-IP rate limits
// on all requests. It returns 429 Too Many Requests when the limit is exceeded.
func IPRateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.AllowIP(extractIP(r)) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UploadRateLimitMiddleware returns middleware that enforces the stricter
// per-IP limit on endpoints that load a dataset.
func UploadRateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.AllowUpload(extractIP(r)) {
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client IP from the request, preferring the leftmost
// X-Forwarded-For entry when running behind a reverse proxy.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
