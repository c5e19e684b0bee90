// -----------------------------------------------------------------------
// Application - Component construction and shutdown order
// -----------------------------------------------------------------------

package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/handlers"
	"github.com/ternarybob/seqlog/internal/services/eviction"
	"github.com/ternarybob/seqlog/internal/services/tail"
	"github.com/ternarybob/seqlog/internal/sessionlog"
	"github.com/ternarybob/seqlog/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Registry       *prometheus.Registry
	Metrics        *sessionlog.Metrics
	StorageManager *storage.Manager

	// Session buffering
	Buffer          *sessionlog.Buffer
	TailHub         *tail.Hub
	EvictionService *eviction.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	ClientLogsHandler *handlers.ClientLogsHandler
	TailHandler       *handlers.TailHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.initMetrics()

	// The tail hub is a sink mirror, so it must exist before storage
	app.TailHub = tail.NewHub(logger, cfg.WebSocket.SendBuffer)

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("environment", cfg.Environment).
		Bool("ingestion_enabled", !cfg.IsProduction()).
		Bool("eviction_enabled", app.EvictionService.Enabled()).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initMetrics() {
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = sessionlog.NewMetrics(a.Registry)
}

// initStorage opens the sinks, the reader and the cursor store
func (a *App) initStorage() error {
	onMirrorError := func(sessionID string, err error) {
		a.Metrics.SecondarySinkFailures.Inc()
		a.Logger.Debug().Err(err).Str("session_id", sessionID).Msg("Secondary sink append failed")
	}

	manager, err := storage.NewStorageManager(a.Logger, a.Config, onMirrorError, a.TailHub)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("sink", a.Config.Storage.Sink).
		Str("files_dir", a.Config.Storage.Files.Dir).
		Bool("badger", a.Config.Storage.Badger.Enabled).
		Msg("Storage layer initialized")
	return nil
}

func (a *App) initServices() error {
	a.Buffer = sessionlog.NewBuffer(
		nil,
		a.StorageManager.Sink(),
		a.StorageManager.Cleaner(),
		a.StorageManager.CursorStore(),
		a.Metrics,
		a.Logger,
		sessionlog.Options{
			CleanupOnFirstSight:   a.Config.Buffer.CleanupOnFirstSight,
			MaxConcurrentSessions: a.Config.Buffer.MaxConcurrentSessions,
		},
	)

	a.EvictionService = eviction.NewService(a.Buffer, a.Config.Buffer.EvictionSchedule, a.Config.IdleTimeout(), a.Logger)
	if err := a.EvictionService.Start(); err != nil {
		return fmt.Errorf("failed to start eviction service: %w", err)
	}
	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Buffer, a.EvictionService, a.Config, a.Logger)
	a.ClientLogsHandler = handlers.NewClientLogsHandler(a.Buffer, a.StorageManager.Reader(), a.Config, a.Logger)
	a.TailHandler = handlers.NewTailHandler(a.TailHub, a.Config, a.Logger)
}

// Close stops background work and closes storage. Buffered entries that
// never became contiguous are not flushed.
func (a *App) Close() error {
	if a.EvictionService != nil {
		a.EvictionService.Stop()
	}

	// Wait for in-flight cleanup tasks before storage goes away
	if a.Buffer != nil {
		a.Buffer.Wait()
		if stats := a.Buffer.Stats(); stats.Pending > 0 {
			a.Logger.Warn().
				Int("sessions", stats.Sessions).
				Int("pending", stats.Pending).
				Msg("Discarding entries still waiting for missing sequence numbers")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
