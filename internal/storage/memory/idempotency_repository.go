package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const defaultDeliveryTTL = 24 * time.Hour

// DeliveryLog хранит ключи доставок вебхуков и сообщений Kafka.
// Живёт отдельно от Store: запись ключа не входит в транзакцию сверки.
type DeliveryLog struct {
	mu      sync.Mutex
	now     domain.Clock
	records map[string]domain.IdempotencyRecord
}

// DeliveryLogOption настраивает DeliveryLog.
type DeliveryLogOption func(*DeliveryLog)

// WithDeliveryClock подменяет часы, по которым ставятся CreatedAt/UpdatedAt и TTL по умолчанию.
func WithDeliveryClock(now domain.Clock) DeliveryLogOption {
	return func(l *DeliveryLog) {
		if now != nil {
			l.now = now
		}
	}
}

// NewIdempotencyRepository создаёт in-memory журнал доставок.
func NewIdempotencyRepository(opts ...DeliveryLogOption) *DeliveryLog {
	l := &DeliveryLog{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[string]domain.IdempotencyRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateProcessing занимает ключ. Повтор с тем же телом даёт ErrIdempotencyKeyAlreadyExists
// вместе с сохранённой записью, с другим телом ErrIdempotencyHashMismatch.
func (l *DeliveryLog) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.records[key]; ok {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	now := l.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultDeliveryTTL)
	}
	l.records[key] = domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return copyRecord(l.records[key]), nil
}

func (l *DeliveryLog) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (l *DeliveryLog) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return l.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (l *DeliveryLog) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return l.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit ключей с TTLAt не позже before; limit <= 0 снимает ограничение.
func (l *DeliveryLog) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, record := range l.records {
		if limit > 0 && removed == limit {
			break
		}
		if !record.TTLAt.After(before) {
			delete(l.records, key)
			removed++
		}
	}
	return removed, nil
}

func (l *DeliveryLog) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func copyRecord(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return record
}

var _ domain.IdempotencyRepository = (*DeliveryLog)(nil)
