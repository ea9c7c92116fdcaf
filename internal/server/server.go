// Package server serves the inventory dashboard: the HTML shell, a JSON API
// over the derived views, exports, an event stream and the websocket bridge
// used when the dashboard is embedded in a host page.
package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/siteinventory/spdash/internal/bridge"
	"github.com/siteinventory/spdash/internal/model"
	"github.com/siteinventory/spdash/internal/pipeline"
	"github.com/siteinventory/spdash/internal/render"
	"github.com/siteinventory/spdash/internal/source"
	"github.com/siteinventory/spdash/internal/store"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	SessionSecret  string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	FrameAncestors string
	RateLimit      RateLimiterConfig

	// DisableURLImport turns off importing from web URLs. Drive links still
	// work once a Drive fetcher is set.
	DisableURLImport bool
	// AllowPrivateImports lets URL imports reach loopback, private and
	// link-local addresses.
	AllowPrivateImports bool
}

// Server is the HTTP server for the dashboard.
type Server struct {
	config    Config
	store     store.Store
	pipeline  *pipeline.Pipeline
	hub       *bridge.Hub
	fetcher   source.Fetcher
	renderer  render.Renderer
	templates *template.Template
	cookies   *sessions.CookieStore
	csrfKey   []byte
	rl        *RateLimiter
	router    chi.Router
	staticFS  fs.FS
	logger    *slog.Logger
	now       func() time.Time

	// fallback is the dataset shown to sessions that have not loaded their own.
	fallback atomic.Pointer[model.Dataset]
}

// NewServer creates a new Server from the given config, store, pipeline and
// filesystem assets. templatesFS and staticFS are rooted at their
// directories.
func NewServer(cfg Config, s store.Store, p *pipeline.Pipeline, templatesFS fs.FS, staticFS fs.FS) (*Server, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.RateLimit.GeneralRequestsPerMin <= 0 || cfg.RateLimit.UploadRequestsPerMin <= 0 {
		cfg.RateLimit = DefaultRateLimiterConfig()
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// Sessions do not outlive the process, so an ephemeral key is enough.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
	}

	srv := &Server{
		config:    cfg,
		store:     s,
		pipeline:  p,
		hub:       bridge.NewHub(),
		templates: tmpl,
		cookies:   newCookieStore(secret, cfg.SessionTTL),
		csrfKey:   secret,
		rl:        NewRateLimiter(cfg.RateLimit),
		staticFS:  staticFS,
		logger:    slog.Default(),
		now:       time.Now,
	}

	srv.fetcher = &source.Router{Web: srv.webFetcher()}
	srv.router = srv.routes()
	return srv, nil
}

var templateFuncs = template.FuncMap{
	"kb": func(kb float64) string {
		if kb <= 0 {
			return "0 B"
		}
		return humanize.IBytes(uint64(kb * 1024))
	},
	"date": func(t *time.Time) string {
		if t == nil {
			return "Unknown"
		}
		return t.Format("2006-01-02")
	},
	"comma": func(n int64) string {
		return humanize.Comma(n)
	},
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(SecurityHeadersMiddleware(s.config.FrameAncestors))
	r.Use(IPRateLimitMiddleware(s.rl))

	// Static files.
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.staticFS))))
	r.Get("/healthz", s.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(CSRFMiddleware(s.csrfKey))
		r.Use(s.SessionMiddleware)
		r.Use(LoggingMiddleware(s.logger))

		// Pages.
		r.Get("/", s.HandleIndex)
		r.Get("/report", s.HandleReport)

		// Host bridge and live updates.
		r.Get("/bridge", s.HandleBridge)
		r.Get("/api/events", s.HandleEvents)

		r.Route("/api", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(UploadRateLimitMiddleware(s.rl))
				r.Post("/dataset", s.HandleUpload)
				r.Post("/dataset/import", s.HandleImport)
			})
			r.Delete("/dataset", s.HandleDeleteDataset)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Compress(5))
				r.Get("/dataset", s.HandleDataset)
				r.Get("/summary", s.HandleSummary)
				r.Get("/sites", s.HandleSites)
				r.Get("/stale", s.HandleStale)
				r.Get("/gravity", s.HandleGravity)
				r.Get("/filetypes", s.HandleFileTypes)
				r.Get("/extensions", s.HandleExtensions)
				r.Get("/export/{view}.{format}", s.HandleExport)
			})
			r.Get("/render", s.HandleRender)
		})
	})

	return r
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetLogger replaces the default logger. Call before serving.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
	s.router = s.routes()
}

// SetRenderer configures the service that turns the printable report into
// a PDF or image.
func (s *Server) SetRenderer(r render.Renderer) {
	s.renderer = r
}

// SetDriveFetcher enables importing Google Drive links.
func (s *Server) SetDriveFetcher(f source.Fetcher) {
	s.fetcher = &source.Router{Web: s.webFetcher(), Drive: f}
}

func (s *Server) webFetcher() source.Fetcher {
	if s.config.DisableURLImport {
		return nil
	}
	return source.NewURLFetcher(s.config.MaxUploadBytes, s.config.AllowPrivateImports)
}

// SetFallbackDataset replaces the dataset shown to sessions without one of
// their own and notifies every connected dashboard.
func (s *Server) SetFallbackDataset(ds *model.Dataset) {
	s.fallback.Store(ds)
	if ds != nil {
		s.hub.Broadcast(bridge.DatasetChanged(ds))
	}
}

// Hub returns the notification hub shared by the event stream and bridge.
func (s *Server) Hub() *bridge.Hub {
	return s.hub
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.ListenAddr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.router,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting dashboard server", "addr", ln.Addr().String())

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down dashboard server")
		s.rl.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Stop cleans up server resources.
func (s *Server) Stop() {
	s.rl.Stop()
}

// HandleHealth reports liveness and what the store currently holds.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": stats.Sessions,
		"datasets": stats.Datasets,
		"rows":     stats.Rows,
	})
}

// renderTemplate executes a template into a buffer so a failure never
// leaves a half-written page.
func (s *Server) renderTemplate(name string, data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// page writes a full HTML page with common data.
func (s *Server) page(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["CSRFToken"] = CSRFTokenFromContext(r.Context())
	data["RenderEnabled"] = s.renderer != nil

	body, err := s.renderTemplate(name, data)
	if err != nil {
		s.logger.Error("rendering page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}
