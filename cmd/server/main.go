// Package main is the entry point for the collaborative calendar server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/SarveshMina/CAD-gcw-backend/internal/api"
	"github.com/SarveshMina/CAD-gcw-backend/internal/api/middleware"
	"github.com/SarveshMina/CAD-gcw-backend/internal/availability"
	"github.com/SarveshMina/CAD-gcw-backend/internal/calendar"
	"github.com/SarveshMina/CAD-gcw-backend/internal/config"
	"github.com/SarveshMina/CAD-gcw-backend/internal/identity"
	"github.com/SarveshMina/CAD-gcw-backend/internal/ledger"
	"github.com/SarveshMina/CAD-gcw-backend/internal/logging"
	"github.com/SarveshMina/CAD-gcw-backend/internal/notify"
	"github.com/SarveshMina/CAD-gcw-backend/internal/storage"
	"github.com/SarveshMina/CAD-gcw-backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "calendar-server",
		Usage:   "Collaborative calendar backend with group calendars and availability.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"CALENDAR_CONFIG"},
				Value:   "config.yaml",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			healthCheckCommand(),
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP and WebSocket server.",
		Action: runServer,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "List pending migrations without applying them."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := logging.New(cfg.Log.Level, cfg.Log.Format)

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if c.Bool("dry-run") {
				pending, err := storage.PendingMigrations(c.Context, db)
				if err != nil {
					return fmt.Errorf("listing migrations: %w", err)
				}
				logger.Info("pending migrations", "count", len(pending), "names", pending)
				return nil
			}
			if err := storage.RunMigrations(c.Context, db, logger); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			logger.Info("database migrations complete", "path", db.Path())
			return nil
		},
	}
}

// healthCheckCommand probes a running server, for container health checks.
func healthCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "health-check",
		Usage: "Check the health endpoint of a running server.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080/api/health", Usage: "Health endpoint URL"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Action: func(c *cli.Context) error {
			return runHealthCheck(c.Context, c.String("url"), c.Duration("timeout"))
		},
	}
}

func openDatabase(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.NewDB(cfg.Storage.DatabasePath(), storage.Options{
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
		MaxOpenConns:  cfg.Storage.MaxOpenConns,
		MaxIdleConns:  cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func runServer(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("starting calendar server", "version", version, "addr", cfg.Server.Addr)

	// Initialize database
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.RunMigrations(c.Context, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger.With("component", "websocket"))
	go hub.Run(ctx)
	fanout := notify.NewFanout(websocket.NewTransport(hub), logger.With("component", "notify"))

	// Initialize repositories
	userRepo := storage.NewUserRepository(db)
	calendarRepo := storage.NewCalendarRepository(db)
	eventRepo := storage.NewEventRepository(db)

	// Initialize services
	registry := calendar.NewRegistry(userRepo, calendarRepo, eventRepo,
		calendar.WithPublisher(fanout),
		calendar.WithConflictRetries(cfg.Events.ConflictRetries),
		calendar.WithLogger(logger.With("component", "registry")),
	)

	policy, err := ledger.ParsePolicy(cfg.Events.MutationPolicy)
	if err != nil {
		return err
	}
	events := ledger.New(registry, eventRepo,
		ledger.WithPolicy(policy),
		ledger.WithConflictRetries(cfg.Events.ConflictRetries),
		ledger.WithPublisher(fanout),
		ledger.WithLogger(logger.With("component", "ledger")),
	)

	identityOpts := []identity.Option{
		identity.WithBcryptCost(cfg.Auth.BcryptCost),
		identity.WithLogger(logger.With("component", "identity")),
	}
	var verifier middleware.TokenVerifier
	if cfg.Auth.Enabled {
		tokens, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("creating token issuer: %w", err)
		}
		identityOpts = append(identityOpts, identity.WithTokenIssuer(tokens))
		verifier = tokens
	}
	users := identity.NewService(userRepo, registry, identityOpts...)

	aggregator := availability.New(userRepo, calendarRepo, events,
		availability.WithRestrictToShared(cfg.Availability.RestrictToShared),
		availability.WithMaxWindow(cfg.Availability.MaxWindow),
		availability.WithMaxOccurrences(cfg.Availability.MaxOccurrences),
		availability.WithLogger(logger.With("component", "availability")),
	)

	// Start repair scheduler
	var repair *calendar.RepairScheduler
	if cfg.Repair.Enabled {
		repair = calendar.NewRepairScheduler(userRepo, calendarRepo, eventRepo, registry,
			cfg.Repair.Spec, logger.With("component", "repair"))
		if err := repair.Start(ctx); err != nil {
			return fmt.Errorf("starting repair scheduler: %w", err)
		}
		defer repair.Stop()
	}

	router := api.NewRouter(api.Services{
		DB:             db,
		Identity:       users,
		Registry:       registry,
		Ledger:         events,
		Availability:   aggregator,
		Hub:            hub,
		Repair:         repair,
		Tokens:         verifier,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}
