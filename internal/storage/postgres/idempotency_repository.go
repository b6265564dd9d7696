package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const (
	defaultDeliveryTTL = 24 * time.Hour

	deliveryColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`
)

// DeliveryLog хранит ключи доставок в таблице idempotency_keys.
// Работает вне UnitOfWork: ключ не должен откатываться вместе с обработкой.
type DeliveryLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт журнал доставок поверх store.
func NewIdempotencyRepository(store *Store) *DeliveryLog {
	return &DeliveryLog{db: store.DB(), now: store.now}
}

// CreateProcessing занимает ключ одной вставкой. Если ключ уже есть, возвращается
// сохранённая запись и ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
func (l *DeliveryLog) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := l.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultDeliveryTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanDelivery(l.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (`+deliveryColumns+`)
		VALUES ($1, $2, NULL, NULL, $3, $4, $5, $5)
		ON CONFLICT (key) DO NOTHING
		RETURNING `+deliveryColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
	))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim delivery %s: %w", key, err)
	}

	existing, err := l.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load claimed delivery %s: %w", key, err)
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (l *DeliveryLog) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanDelivery(l.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM idempotency_keys WHERE key = $1`, key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("get delivery %s: %w", key, err)
	}
	return record, nil
}

func (l *DeliveryLog) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return l.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (l *DeliveryLog) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return l.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет самые старые просроченные ключи, не больше limit за вызов.
func (l *DeliveryLog) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = l.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL снимает ограничение.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	res, err := l.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired deliveries: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired deliveries: %w", err)
	}
	return int(removed), nil
}

func (l *DeliveryLog) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1
	`, key, string(status), responseBody, httpStatus, l.now())
	if err != nil {
		return fmt.Errorf("mark delivery %s %s: %w", key, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark delivery %s %s: %w", key, status, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanDelivery(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	if err := row.Scan(
		&record.Key,
		&record.RequestHash,
		&record.ResponseBody,
		&httpStatus,
		&status,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown delivery status %q", status)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	return record, nil
}

var _ domain.IdempotencyRepository = (*DeliveryLog)(nil)
