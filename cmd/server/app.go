package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/pictor-api/internal/config"
	"github.com/phrazzld/pictor-api/internal/generation"
	"github.com/phrazzld/pictor-api/internal/notify"
	"github.com/phrazzld/pictor-api/internal/platform/gemini"
	"github.com/phrazzld/pictor-api/internal/platform/memory"
	"github.com/phrazzld/pictor-api/internal/platform/postgres"
	"github.com/phrazzld/pictor-api/internal/service"
	"github.com/phrazzld/pictor-api/internal/session"
	"github.com/phrazzld/pictor-api/internal/store"
	"github.com/phrazzld/pictor-api/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil when running on the memory driver.
	db *sql.DB

	taskStore  store.TaskStore
	cache      *session.Cache
	reconciler *session.Reconciler
	generator  generation.Generator
	notifier   notify.Notifier
	runner     *task.Runner

	taskService *service.TaskService
}

// newApplication creates a new application instance with all dependencies
// initialized and the task runner started.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if err := app.setupStore(cfg, logger); err != nil {
		return nil, err
	}

	if err := app.setupGenerator(ctx, cfg, logger); err != nil {
		return nil, err
	}

	app.cache = session.NewCache(session.DefaultMaxEntries)
	app.reconciler = session.NewReconciler(app.taskStore, app.cache, logger)

	app.notifier = notify.NewWebhookNotifier(
		cfg.Notifier.CallbackURL,
		time.Duration(cfg.Notifier.TimeoutSeconds)*time.Second,
		app.taskStore,
		logger,
	)

	app.runner = task.NewRunner(
		app.taskStore,
		app.generator,
		app.notifier,
		task.RunnerConfig{
			WorkerCount: cfg.Runner.WorkerCount,
			QueueSize:   cfg.Runner.QueueSize,
		},
		logger,
	)
	if err := app.runner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task runner: %w", err)
	}

	app.taskService = service.NewTaskService(
		app.db,
		app.taskStore,
		app.cache,
		app.runner,
		logger,
	)

	logger.Info("application initialized successfully")
	return app, nil
}

// setupStore initializes the task store for the configured driver.
func (app *application) setupStore(cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := setupDatabase(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to set up database: %w", err)
		}
		app.db = db
		app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	case "memory":
		logger.Warn("running with in-memory task store, data will not survive restarts")
		app.taskStore = memory.NewTaskStore()

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	return nil
}

// setupGenerator initializes the configured generation backend.
func (app *application) setupGenerator(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) error {
	switch cfg.Generation.Backend {
	case "gemini":
		gen, err := gemini.NewGenerator(
			ctx,
			cfg.Generation.GeminiAPIKey,
			cfg.Generation.ModelName,
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize gemini generator: %w", err)
		}
		app.generator = gen
		logger.Info("gemini generator initialized", "model", cfg.Generation.ModelName)

	case "simulated":
		app.generator = generation.NewSimulatedGenerator(
			time.Duration(cfg.Generation.DelaySeconds)*time.Second,
			cfg.Generation.ResultBaseURL,
		)
		logger.Info("simulated generator initialized",
			"delay_seconds", cfg.Generation.DelaySeconds)

	default:
		return fmt.Errorf("unknown generation backend %q", cfg.Generation.Backend)
	}

	return nil
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
