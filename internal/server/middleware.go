package server

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDFromContext returns the request ID from the context, if present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// --- Request ID Middleware ---

// maxRequestIDLen bounds client-supplied request IDs.
const maxRequestIDLen = 64

// validRequestID reports whether a client-supplied ID is safe to echo and
// log: short, and limited to letters, digits, dot, dash and underscore.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// RequestIDMiddleware assigns a unique request ID to each request and adds it
// to the response headers and request context. A valid X-Request-ID from an
// upstream proxy is kept.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- Logging Middleware ---

// responseWriter wraps http.ResponseWriter to capture the status code. It
// passes Flush and Hijack through so event streams and the websocket bridge
// keep working behind the logger.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs each request with structured fields including method,
// path, status code, duration, and request ID.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", duration.Milliseconds(),
				"bytes", rw.written,
				"remote_addr", r.RemoteAddr,
				"request_id", RequestIDFromContext(r.Context()),
			}
			if sess := SessionFromContext(r.Context()); sess != nil {
				attrs = append(attrs, "session", shortID(sess.ID))
			}
			logger.Info("http request", attrs...)
		})
	}
}

// shortID keeps log lines readable without printing whole session IDs.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- Recovery Middleware ---

// RecoveryMiddleware recovers from panics in downstream handlers, logs the
// stack trace, and returns a 500 Internal Server Error.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					stack := debug.Stack()
					logger.Error("panic recovered",
						"error", fmt.Sprintf("%v", rec),
						"stack", string(stack),
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", RequestIDFromContext(r.Context()),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// --- Security Headers Middleware ---

// SecurityHeadersMiddleware sets security-related HTTP headers on all
// responses. frameAncestors is the CSP source list of pages allowed to embed
// the dashboard in an iframe.
func SecurityHeadersMiddleware(frameAncestors string) func(http.Handler) http.Handler {
	if strings.TrimSpace(frameAncestors) == "" {
		frameAncestors = "'none'"
	}
	csp := "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:; connect-src 'self'; frame-ancestors " + frameAncestors

	// X-Frame-Options cannot express a source list; older browsers only get
	// it when the policy is one it can represent.
	var frameOptions string
	switch frameAncestors {
	case "'none'":
		frameOptions = "DENY"
	case "'self'":
		frameOptions = "SAMEORIGIN"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			if frameOptions != "" {
				w.Header().Set("X-Frame-Options", frameOptions)
			}
			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-XSS-Protection", "0")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			next.ServeHTTP(w, r)
		})
	}
}

// --- CSRF Middleware ---

const (
	csrfCookieName = "_csrf"
	csrfFieldName  = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenBytes = 32
)

// secureRequest reports whether the client reached us over TLS, directly or
// through a proxy.
func secureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func setCSRFCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secureRequest(r),
	})
}

// submittedCSRFToken reads the token from the header, or from a urlencoded
// form. Multipart bodies are never parsed here so uploads can be streamed.
func submittedCSRFToken(r *http.Request) string {
	if t := r.Header.Get(csrfHeaderName); t != "" {
		return t
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		return r.PostFormValue(csrfFieldName)
	}
	return ""
}

// CSRFMiddleware provides CSRF protection using the double-submit cookie
// pattern with HMAC verification.
func CSRFMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				token := ""
				if c, err := r.Cookie(csrfCookieName); err == nil && validateCSRFToken(secret, c.Value, c.Value) {
					token = c.Value
				} else {
					token, err = generateCSRFToken(secret)
					if err != nil {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
						return
					}
					setCSRFCookie(w, r, token)
				}
				next.ServeHTTP(w, r.WithContext(withCSRFToken(r.Context(), token)))

			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				cookie, err := r.Cookie(csrfCookieName)
				if err != nil {
					writeError(w, http.StatusForbidden, "missing CSRF cookie")
					return
				}
				submitted := submittedCSRFToken(r)
				if submitted == "" {
					writeError(w, http.StatusForbidden, "missing CSRF token")
					return
				}
				if !validateCSRFToken(secret, cookie.Value, submitted) {
					writeError(w, http.StatusForbidden, "invalid CSRF token")
					return
				}
				next.ServeHTTP(w, r.WithContext(withCSRFToken(r.Context(), cookie.Value)))

			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// CSRFTokenFromContext returns the CSRF token from the context, if present.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyCSRFToken).(string)
	return t
}

// generateCSRFToken creates a random token and signs it with HMAC.
func generateCSRFToken(secret []byte) (string, error) {
	randomBytes := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generating CSRF random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	mac := hmac.New(sha256.New, secret)
	mac.Write(randomBytes)
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return encoded + "." + sig, nil
}

// validateCSRFToken checks that two CSRF tokens are valid and equal.
func validateCSRFToken(secret []byte, cookieToken, submittedToken string) bool {
	cookieParts := strings.SplitN(cookieToken, ".", 2)
	submittedParts := strings.SplitN(submittedToken, ".", 2)
	if len(cookieParts) != 2 || len(submittedParts) != 2 {
		return false
	}

	cookieRandom, err := base64.RawURLEncoding.DecodeString(cookieParts[0])
	if err != nil {
		return false
	}
	cookieSig, err := base64.RawURLEncoding.DecodeString(cookieParts[1])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(cookieRandom)
	expectedSig := mac.Sum(nil)
	if !hmac.Equal(cookieSig, expectedSig) {
		return false
	}

	return hmac.Equal([]byte(cookieToken), []byte(submittedToken))
}
