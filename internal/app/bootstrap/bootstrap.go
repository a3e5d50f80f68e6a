package bootstrap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron"

	marketplaceengine "metamarket/contexts/asset-exchange/marketplace-engine"
	postgresadapter "metamarket/contexts/asset-exchange/marketplace-engine/adapters/postgres"
	workerapp "metamarket/contexts/asset-exchange/marketplace-engine/application/workers"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
	"metamarket/internal/platform/config"
	"metamarket/internal/platform/db"
	"metamarket/internal/platform/httpserver"
	"metamarket/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres    *db.Postgres
	scheduler   *gocron.Scheduler
	outboxRelay workerapp.OutboxRelay
	sweeper     workerapp.IdempotencySweeper
	logger      *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")

	module, backend, err := buildModule(cfg, logger)
	if err != nil {
		return nil, err
	}

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: backend.postgres,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")

	_, backend, err := buildModule(cfg, logger)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	return &WorkerApp{
		postgres:  backend.postgres,
		scheduler: gocron.NewScheduler(time.UTC),
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    backend.outbox,
			Publisher: kafka,
			Clock:     backend.clock,
			Topic:     "marketplace.events",
			BatchSize: 100,
			Logger:    logger,
		},
		sweeper: workerapp.IdempotencySweeper{
			Idempotency: backend.idempotency,
			Clock:       backend.clock,
			Logger:      logger,
		},
		logger: logger,
	}, nil
}

// backend bundles the persistence handles a process needs beyond the module
// facade. The worker talks to the outbox and idempotency store directly.
type backendHandles struct {
	postgres    *db.Postgres
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyStore
	clock       ports.Clock
}

// buildModule wires the marketplace engine against postgres when a DSN is
// configured, and against the in-memory store otherwise (local development
// and single-process deployments).
func buildModule(cfg config.Config, logger *slog.Logger) (marketplaceengine.Module, backendHandles, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		logger.Warn("POSTGRES_DSN not set, using in-memory marketplace store",
			"event", "bootstrap_memory_store",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		module := marketplaceengine.NewInMemoryModule(cfg.FeeBasisPoints, logger)
		return module, backendHandles{
			outbox:      module.Store,
			idempotency: module.Store,
			clock:       module.Store,
		}, nil
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return marketplaceengine.Module{}, backendHandles{}, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := marketplaceengine.NewModule(marketplaceengine.Dependencies{
		Assets:                          repo,
		Listings:                        repo,
		Settlements:                     repo,
		Funds:                           repo,
		Idempotency:                     repo,
		Clock:                           postgresadapter.SystemClock{},
		IDGenerator:                     postgresadapter.UUIDGenerator{},
		FeeBasisPoints:                  cfg.FeeBasisPoints,
		FeeSinkAccount:                  cfg.FeeSinkAccount,
		IdempotencyTTL:                  7 * 24 * time.Hour,
		DisableAssetMintedEventEmission: cfg.DisableAssetMintedEventEmission,
		Logger:                          logger,
	})
	return module, backendHandles{
		postgres:    pg,
		outbox:      repo,
		idempotency: repo,
		clock:       postgresadapter.SystemClock{},
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if _, err := w.scheduler.Every(2).Seconds().Do(func() {
		if err := w.outboxRelay.RunOnce(ctx); err != nil {
			w.logger.Error("outbox relay cycle failed",
				"event", "bootstrap_outbox_cycle_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}); err != nil {
		return err
	}
	if _, err := w.scheduler.Every(1).Minute().Do(func() {
		if err := w.sweeper.RunOnce(ctx); err != nil {
			w.logger.Error("idempotency sweep cycle failed",
				"event", "bootstrap_sweep_cycle_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}); err != nil {
		return err
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)

	w.scheduler.StartAsync()
	<-ctx.Done()
	w.scheduler.Stop()
	return nil
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
