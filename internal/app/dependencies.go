package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/config"
	"github.com/vladislavdragonenkov/pms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pms/internal/health"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
	"github.com/vladislavdragonenkov/pms/internal/storage/postgres"
)

// syncStore описывает репозитории, которые воркеры читают вне транзакции.
// memory.Store и postgres.Store удовлетворяют интерфейсу.
type syncStore interface {
	Rooms() domain.RoomRepository
	Bookings() domain.BookingRepository
	Mappings() domain.ChannelMappingRepository
	Inbound() domain.InboundRepository
	Outbound() domain.OutboundRepository
	Ping(ctx context.Context) error
}

// runtimeDependencies содержит хранилище, выбранное конфигурацией.
type runtimeDependencies struct {
	store           syncStore
	uow             domain.UnitOfWork
	idempotencyRepo domain.IdempotencyRepository
	pgStore         *postgres.Store
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies открывает хранилище по cfg.Storage.Driver.
func initRuntimeDependencies(ctx context.Context, cfg config.Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.Storage.Driver {
	case "", config.StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:           store,
			uow:             store,
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         func() error { return nil },
		}, nil

	case config.StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.Storage.PostgresDSN)
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", config.StorageDriverPostgres)
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.Storage.AutoMigrate {
			migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err = store.EnsureSchema(migrateCtx)
			cancel()
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:           store,
			uow:             postgres.NewUnitOfWork(store, postgres.WithTxLogger(logger.WithField("layer", "uow"))),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			pgStore:         store,
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// registerBacklogCheckers добавляет проверки возраста самых старых необработанных событий.
func registerBacklogCheckers(h *healthcheck.Handler, store syncStore, channel string, maxAge time.Duration) {
	h.RegisterChecker("inbound_backlog", healthcheck.NewBacklogAgeChecker("inbound_backlog", maxAge, func(ctx context.Context) (time.Time, error) {
		stats, err := store.Inbound().Stats(ctx, channel)
		if err != nil {
			return time.Time{}, err
		}
		return stats.OldestUnprocessedAt, nil
	}))
	h.RegisterChecker("outbound_backlog", healthcheck.NewBacklogAgeChecker("outbound_backlog", maxAge, func(ctx context.Context) (time.Time, error) {
		stats, err := store.Outbound().Stats(ctx)
		if err != nil {
			return time.Time{}, err
		}
		return stats.OldestPendingAt, nil
	}))
}
