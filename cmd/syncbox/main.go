package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/italolelis/syncbox/internal/config"
	"github.com/italolelis/syncbox/internal/http/rest"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/notifier"
	"github.com/italolelis/syncbox/internal/open"
	"github.com/italolelis/syncbox/internal/replica/sqlite"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transport"
	"github.com/italolelis/syncbox/internal/transport/blobstore"
	"github.com/italolelis/syncbox/internal/transport/putio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const serviceName = "syncbox"

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("syncbox starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Catalog
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	catalog := sqlite.NewInstrumentedCatalog(database, tel)
	engine := sqlite.NewEngine(catalog)

	// =========================================================================
	// Start Transport
	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}

	// =========================================================================
	// Start Open Orchestration
	manifest, err := config.LoadManifest(cfg.ManifestPath, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	registry := open.NewRegistry(cfg.RegistryEnabled)

	deps := open.Deps{
		Engine:    engine,
		Transport: tr,
		Registry:  registry,
		Telemetry: tel,
	}

	defaults := open.Options{
		SyncEnabled:      cfg.SyncEnabled,
		BehaviorExisting: open.Behavior(cfg.BehaviorExisting),
		BehaviorNew:      open.Behavior(cfg.BehaviorNew),
		Deadline:         cfg.OpenDeadline,
		OnTimeout:        open.FallbackPolicy(cfg.OnTimeout),
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, manifest, defaults, deps, catalog, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Warm Up Replicas
	go func() {
		if err := warmUpReplicas(ctx, cfg, manifest, defaults, deps); err != nil {
			logger.Error("replica warm up finished with errors", "err", err)
		}
	}()

	logger.Info("serving replicas",
		"manifest", cfg.ManifestPath,
		"data_dir", cfg.DataDir,
		"transport", cfg.Transport,
	)

	// =========================================================================
	// Shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Abandon every in-flight open before taking the server down.
		registry.CancelAll()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// This is an abstract factory for the snapshot transport.
func buildTransport(ctx context.Context, cfg *config.Config) (transport.Client, error) {
	switch cfg.Transport {
	case "putio":
		client := putio.NewClient(cfg.PutioToken, cfg.StagingDir)
		if err := client.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return client, nil
	case "blob":
		return blobstore.NewClient(cfg.StagingDir), nil
	}

	return nil, fmt.Errorf("invalid transport: %s", cfg.Transport)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, manifest *config.Manifest, defaults open.Options, deps open.Deps, catalog sqlite.Store, tel *telemetry.Telemetry) *http.Server {
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	handler := rest.NewOpensHandler(cfg.Web.Username, cfg.Web.Password, manifest, defaults, deps, catalog, notif)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", otelhttp.NewHandler(handler.Routes(), "rest"))
	r.Mount("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// warmUpReplicas opens every manifest replica once at startup so the first
// request doesn't pay the download. Bounded by MaxParallel.
func warmUpReplicas(ctx context.Context, cfg *config.Config, manifest *config.Manifest, defaults open.Options, deps open.Deps) error {
	logger := logctx.LoggerFromContext(ctx)

	sem := semaphore.NewWeighted(int64(cfg.MaxParallel))
	g, ctx := errgroup.WithContext(ctx)

	for i := range manifest.Replicas {
		entry := manifest.Replicas[i]

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			started := time.Now()

			attempt, err := open.Start(ctx, open.Request{
				Locator: entry.Locator(),
				Options: defaults,
			}, deps)
			if err != nil {
				return fmt.Errorf("failed to start warm up of %s: %w", entry.Name, err)
			}

			res, err := attempt.Await(ctx)
			if err != nil {
				return fmt.Errorf("failed to warm up %s: %w", entry.Name, err)
			}

			logger.Info("replica warmed up",
				"replica", entry.Name,
				"from_snapshot", res.FromSnapshot,
				"took", time.Since(started).String(),
			)

			return res.Close()
		})
	}

	return g.Wait()
}
