package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	spdash "github.com/siteinventory/spdash"
	"github.com/siteinventory/spdash/internal/config"
	"github.com/siteinventory/spdash/internal/janitor"
	"github.com/siteinventory/spdash/internal/pipeline"
	"github.com/siteinventory/spdash/internal/render"
	"github.com/siteinventory/spdash/internal/server"
	"github.com/siteinventory/spdash/internal/source"
	"github.com/siteinventory/spdash/internal/store"
	"github.com/siteinventory/spdash/internal/watch"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard web server",
		Long: `Run the dashboard web server.

Each browser session loads its own inventory CSV by upload, by URL or from a
host page that embeds the dashboard. With --dataset the given file is shown
to every session that has not loaded one of its own; add --watch to reload
it whenever it changes on disk.`,
		Example: `  # Serve on the default address
  spdash serve

  # Serve a shared inventory file and follow changes to it
  spdash serve --dataset inventory.csv --watch

  # Allow embedding from a portal
  spdash serve --frame-ancestors "'self' https://portal.example.com"`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfigFlags: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, GetConfig(cmd.Context()), slog.Default())
		},
	}

	fs := cmd.Flags()
	fs.String("listen", config.DefaultListen, "address to listen on")
	fs.String("db", config.DefaultDBPath, "SQLite database path (:memory: keeps sessions in process)")
	fs.Duration("session-ttl", config.DefaultSessionTTL, "idle session lifetime")
	fs.Int("max-upload", config.DefaultMaxUploadMB, "upload size limit in MiB")
	fs.String("frame-ancestors", config.DefaultFrameAncestors, "CSP frame-ancestors sources allowed to embed the dashboard")
	fs.String("render-url", "", "HTML-to-PDF service used for report downloads")
	fs.String("dataset", "", "inventory CSV shown to sessions without their own")
	fs.Bool("watch", false, "reload --dataset when it changes")
	fs.Int("rate-limit", config.DefaultRequestsPerMin, "requests per minute per client")
	fs.Int("upload-limit", config.DefaultUploadsPerMin, "uploads per minute per client")
	fs.Bool("url-import", true, "allow sessions to import CSVs from web URLs")
	fs.Bool("url-import-private", false, "let URL imports reach loopback and private network addresses")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	pipe := pipeline.New(0)

	srv, err := server.NewServer(server.Config{
		ListenAddr:     cfg.Listen,
		SessionSecret:  cfg.SessionSecret,
		SessionTTL:     cfg.SessionTTL,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		FrameAncestors: cfg.FrameAncestors,
		RateLimit: server.RateLimiterConfig{
			GeneralRequestsPerMin: cfg.RateLimit.RequestsPerMin,
			UploadRequestsPerMin:  cfg.RateLimit.UploadsPerMin,
		},
		DisableURLImport:    !cfg.URLImport,
		AllowPrivateImports: cfg.URLImportPrivate,
	}, st, pipe, spdash.Templates(), spdash.Static())
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Stop()
	srv.SetLogger(logger)
	if cfg.SessionSecret == "" {
		logger.Warn("no session_secret set, sessions end when the process restarts")
	}
	if cfg.URLImport && cfg.URLImportPrivate {
		logger.Warn("URL imports may reach private network addresses")
	}

	if cfg.RenderURL != "" {
		srv.SetRenderer(render.NewHTTPRenderer(cfg.RenderURL))
	}
	if cfg.DriveToken != "" {
		srv.SetDriveFetcher(source.NewStaticDriveFetcher(cfg.DriveToken, cfg.MaxUploadBytes()))
	}

	var w *watch.Watcher
	if cfg.Dataset != "" {
		ds, err := loadFile(cfg.Dataset, cfg.MaxUploadBytes())
		if err != nil {
			return err
		}
		srv.SetFallbackDataset(ds)
		logger.Info("shared dataset loaded", "file", cfg.Dataset, "rows", len(ds.Rows))

		if cfg.Watch {
			w, err = watch.New(cfg.Dataset, func(_ context.Context, data []byte) error {
				ds, err := loadBytes(cfg.Dataset, data)
				if err != nil {
					return err
				}
				srv.SetFallbackDataset(ds)
				logger.Info("shared dataset reloaded", "file", cfg.Dataset, "rows", len(ds.Rows))
				return nil
			})
			if err != nil {
				return err
			}
			w.SetLogger(logger)
		}
	}

	jan := janitor.NewEngine(st, logger, pipe)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(egctx)
	})
	eg.Go(func() error {
		if err := jan.Run(egctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if w != nil {
		eg.Go(func() error {
			return w.Run(egctx)
		})
	}
	return eg.Wait()
}
