package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	cr "github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

var (
	// ErrTransactionBegin помечает ошибки открытия транзакции.
	ErrTransactionBegin = cr.New("failed to begin transaction")
	// ErrTransactionCommit помечает ошибки фиксации транзакции.
	ErrTransactionCommit = cr.New("failed to commit transaction")
)

const (
	defaultTxRetries = 3
	defaultTxBackoff = 50 * time.Millisecond
)

// UnitOfWork выполняет функции в транзакциях PostgreSQL уровня READ COMMITTED.
// Сериализационные сбои и дедлоки повторяются с экспоненциальной паузой.
type UnitOfWork struct {
	store   *Store
	retries int
	backoff time.Duration
	logger  *log.Entry
}

// UnitOfWorkOption настраивает UnitOfWork.
type UnitOfWorkOption func(*UnitOfWork)

// WithTxRetries задаёт число повторов при retryable-ошибках.
func WithTxRetries(retries int, backoff time.Duration) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		if retries >= 0 {
			u.retries = retries
		}
		if backoff > 0 {
			u.backoff = backoff
		}
	}
}

// WithTxLogger задаёт логгер для предупреждений об откатах.
func WithTxLogger(logger *log.Entry) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewUnitOfWork создаёт UnitOfWork поверх Store.
func NewUnitOfWork(store *Store, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		store:   store,
		retries: defaultTxRetries,
		backoff: defaultTxBackoff,
		logger:  log.WithField("component", "postgres-uow"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Within открывает транзакцию, передаёт fn репозитории поверх неё и фиксирует результат.
func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	var err error
	for attempt := 0; attempt <= u.retries; attempt++ {
		err = u.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) || attempt == u.retries {
			return err
		}

		wait := time.Duration(1<<attempt) * u.backoff
		u.logger.WithError(err).WithField("attempt", attempt+1).Warn("retrying transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func (u *UnitOfWork) runOnce(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := u.store.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return cr.Mark(err, ErrTransactionBegin)
	}

	if err := fn(ctx, u.store.repos(sqlTx)); err != nil {
		u.rollback(sqlTx)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return cr.Mark(err, ErrTransactionCommit)
	}
	return nil
}

func (u *UnitOfWork) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		u.logger.WithError(err).Warn("rollback failed")
	}
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)
