package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/fetchfile/internal/cleanup"
	"github.com/italolelis/fetchfile/internal/config"
	"github.com/italolelis/fetchfile/internal/dc"
	"github.com/italolelis/fetchfile/internal/dc/local"
	"github.com/italolelis/fetchfile/internal/dc/putio"
	"github.com/italolelis/fetchfile/internal/dc/web"
	"github.com/italolelis/fetchfile/internal/downloader"
	"github.com/italolelis/fetchfile/internal/http/rest"
	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/notifier"
	"github.com/italolelis/fetchfile/internal/preload"
	"github.com/italolelis/fetchfile/internal/storage/sqlite"
	"github.com/italolelis/fetchfile/internal/telemetry"
	"github.com/italolelis/fetchfile/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const usage = `usage:
  fetchfile               serve the downloads API
  fetchfile get URL PATH  download URL to PATH and exit`

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = logctx.WithLogger(ctx, logger)

	switch args := os.Args[1:]; {
	case len(args) == 0:
		slog.Info("fetchfile starting...", "log_level", cfg.LogLevel, "version", version)
		err = run(ctx, cfg)
	case args[0] == "get" && len(args) == 3:
		err = get(ctx, cfg, args[1], args[2])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// get downloads one file with the blocking path. No journal, no preload.
func get(ctx context.Context, cfg *config.Config, url, path string) error {
	d := downloader.New(buildClient(cfg, nil))

	if err := d.Download(ctx, url, path); err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}

	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := cfg.Validate(); err != nil {
		return err
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	journal := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Download Client
	if cfg.Putio.Token != "" {
		if err := putio.NewClient(cfg.Putio.Token, nil).Authenticate(ctx); err != nil {
			return fmt.Errorf("authentication error: %w", err)
		}
	}

	// =========================================================================
	// Start Downloader
	d := downloader.New(
		buildClient(cfg, tel),
		downloader.WithPreloader(buildPreloader(cfg)),
		downloader.WithJournal(journal),
		downloader.WithTelemetry(tel),
	)

	// =========================================================================
	// Start Notification
	onSuccess, onFailure := setupNotification(ctx, cfg)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, rest.NewDownloadsHandler(
		cfg.API.Username,
		cfg.API.Password,
		d,
		journal,
		cfg.TargetDir,
		onSuccess,
		onFailure,
	), tel)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "target_dir", cfg.TargetDir)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// The journal closes once run returns, so let running downloads record
		// their outcome first.
		if err := d.Wait(shutdownCtx); err != nil {
			logger.Warn("shutting down with downloads in flight", "in_flight", d.InFlight(), "err", err)
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	if cfg.KeepDownloadedFor > 0 {
		g.Go(func() error {
			cleanup.Run(ctx, journal, cfg.CleanupInterval, cfg.KeepDownloadedFor)

			return nil
		})
	}

	return g.Wait()
}

// buildClient routes http, https, file and, with a token, putio URLs to
// their fetch clients.
func buildClient(cfg *config.Config, tel *telemetry.Telemetry) transfer.Client {
	mux := dc.NewMux()

	mux.Handle(transfer.NewInstrumentedClient(web.NewClient(web.Options{
		Token:     cfg.Fetch.Token,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
		Insecure:  cfg.Fetch.Insecure,
	}), tel, "web"), "http", "https")

	mux.Handle(transfer.NewInstrumentedClient(local.NewClient(), tel, "local"), "file")

	if cfg.Putio.Token != "" {
		signed := web.NewClient(web.Options{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
			Insecure:  cfg.Fetch.Insecure,
		})

		mux.Handle(transfer.NewInstrumentedClient(putio.NewClient(cfg.Putio.Token, signed), tel, "putio"), "putio")
	}

	return mux
}

func buildPreloader(cfg *config.Config) transfer.Preloader {
	var plugins []preload.Plugin

	if cfg.Preload.MaxSize > 0 {
		plugins = append(plugins, preload.MaxSize{Limit: uint64(cfg.Preload.MaxSize)})
	}

	if cfg.Preload.RejectHTML {
		plugins = append(plugins, preload.RejectHTML{})
	}

	return preload.NewRunner(plugins...)
}

func setupNotification(ctx context.Context, cfg *config.Config) (transfer.PathHandler, transfer.PathHandler) {
	if cfg.DiscordWebhookURL == "" {
		return nil, nil
	}

	notif := &notifier.DiscordNotifier{
		WebhookURL: cfg.DiscordWebhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}

	return notifier.SuccessHandler(ctx, notif, nil), notifier.FailureHandler(ctx, notif, nil)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, h *rest.DownloadsHandler, tel *telemetry.Telemetry) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", h.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "fetchfile"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
