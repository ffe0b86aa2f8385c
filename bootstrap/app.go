package bootstrap

import (
	"context"
	"fmt"
	"time"

	"custodian/config"
	"custodian/core"
	"custodian/detect"
	"custodian/ingest"
	"custodian/ledger"
	"custodian/service"
	"custodian/storage"
	"custodian/telemetry"

	"go.uber.org/zap"
)

// App represents the custodian application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage is nil when persistence is disabled or degraded
	Storage *StorageComponents

	Ledger   *ledger.Ledger
	Supplier ingest.Supplier
	Detector *detect.Detector
	Service  *service.AnalysisService
}

// NewApp loads configuration (configFile may be empty) and initializes all components.
func NewApp(ctx context.Context, configFile string) (*App, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := NewAppWithConfig(ctx, cfg, sugar)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	app.Logger = logger
	return app, nil
}

// NewAppWithConfig initializes all components from an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*App, error) {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	app := &App{
		Config: cfg,
		Logger: sugar.Desugar(),
		Sugar:  sugar,
	}

	sugar.Info("custodian starting...")
	InitConfig(cfg, sugar)

	if cfg.Storage.Enabled {
		components, err := InitStorage(ctx, cfg, sugar)
		if err != nil {
			if !cfg.IsGracefulMode() {
				return nil, err
			}
			sugar.Warnw("Storage unavailable, continuing without persistence",
				"error", err)
		}
		app.Storage = components
	} else {
		sugar.Info("Persistence disabled, results and custody stay in memory")
	}

	var store ledger.Store
	if app.Storage != nil {
		store = app.Storage.Evidence
	}
	app.Ledger = ledger.NewLedger(store, ledger.Options{Strict: cfg.Ledger.Strict}, sugar)
	if err := app.Ledger.Resume(ctx); err != nil {
		app.Shutdown()
		return nil, fmt.Errorf("failed to resume custody chain: %w", err)
	}

	app.Supplier = ingest.NewFileSupplier(ingest.FileSupplierOptions{
		Root:             cfg.Ingest.EvidenceRoot,
		RecordsPerSecond: cfg.Ingest.RecordsPerSecond,
		Burst:            cfg.Ingest.Burst,
		MaxRecords:       cfg.Ingest.MaxRecords,
	}, sugar)

	detector, err := InitDetector(cfg, sugar)
	if err != nil {
		app.Shutdown()
		return nil, err
	}
	app.Detector = detector

	cache, err := storage.NewResultCache(cfg.Storage.ResultCacheSize)
	if err != nil {
		app.Shutdown()
		return nil, err
	}

	deps := service.Dependencies{
		Supplier: app.Supplier,
		Ledger:   app.Ledger,
		Detector: app.Detector,
		Cache:    cache,
		Tracer:   telemetry.NewTracer(nil),
		Logger:   sugar,
	}
	if app.Storage != nil {
		deps.Results = app.Storage.Results
	}

	svc, err := service.NewAnalysisService(deps, ServiceOptions(cfg))
	if err != nil {
		app.Shutdown()
		return nil, fmt.Errorf("failed to create analysis service: %w", err)
	}
	app.Service = svc

	sugar.Infow("custodian ready",
		"session_id", app.Ledger.SessionID(),
		"persistence", app.Storage != nil)
	return app, nil
}

// ServiceOptions maps configuration onto orchestrator limits
func ServiceOptions(cfg *config.Config) service.Options {
	return service.Options{
		MaxConcurrent:     cfg.Analysis.MaxConcurrent,
		DefaultMaxEvents:  cfg.Analysis.DefaultMaxEvents,
		MinMaxEvents:      cfg.Analysis.MinMaxEvents,
		MaxMaxEvents:      cfg.Analysis.MaxMaxEvents,
		CorrelationWindow: time.Duration(cfg.Analysis.CorrelationWindow) * time.Second,
		Validation: core.ValidationOptions{
			MaxPathLength:      cfg.Validation.MaxPathLength,
			AllowAbsolutePaths: cfg.Validation.AllowAbsolutePaths,
		},
	}
}

// Shutdown flushes logs and closes storage. It is safe to call more than once.
func (a *App) Shutdown() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Sugar.Errorw("Failed to close storage", "error", err)
		}
		a.Storage = nil
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
