package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const outboundColumns = `id, event_type, payload, status, error, retry_count, created_at, processed_at`

type outboundRepository struct {
	q   querier
	now func() time.Time
}

func (r *outboundRepository) Enqueue(ctx context.Context, event domain.OutboundEvent) (domain.OutboundEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now()
	}
	event.Status = domain.OutboundStatusPending
	event.Error = ""
	event.RetryCount = 0
	event.ProcessedAt = time.Time{}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO outbound_events (id, event_type, payload, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, event.ID, string(event.Type), event.Payload, string(event.Status), event.CreatedAt)
	if err != nil {
		return domain.OutboundEvent{}, fmt.Errorf("enqueue outbound event: %w", err)
	}
	return event, nil
}

func (r *outboundRepository) Get(ctx context.Context, id string) (domain.OutboundEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	event, err := scanOutbound(r.q.QueryRowContext(ctx, `SELECT `+outboundColumns+` FROM outbound_events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboundEvent{}, domain.ErrOutboundEventNotFound
		}
		return domain.OutboundEvent{}, fmt.Errorf("get outbound event: %w", err)
	}
	return event, nil
}

func (r *outboundRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboundEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.listByStatus(ctx, domain.OutboundStatusPending, limit)
}

func (r *outboundRepository) ListFailed(ctx context.Context, limit int) ([]domain.OutboundEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listByStatus(ctx, domain.OutboundStatusFailed, limit)
}

func (r *outboundRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "mark outbound processed", `
		UPDATE outbound_events
		SET status = 'processed', processed_at = $2, error = ''
		WHERE id = $1
	`, id, at)
}

// MarkFailed сохраняет ошибку и увеличивает счётчик попыток.
func (r *outboundRepository) MarkFailed(ctx context.Context, id string, message string) error {
	return r.exec(ctx, "mark outbound failed", `
		UPDATE outbound_events
		SET status = 'failed', error = $2, retry_count = retry_count + 1
		WHERE id = $1
	`, id, message)
}

// Requeue возвращает в очередь только failed-события.
func (r *outboundRepository) Requeue(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE outbound_events SET status = 'pending' WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue outbound event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbound requeue: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: outbound event %s is %s", domain.ErrInvalidTransition, id, current.Status)
}

func (r *outboundRepository) Stats(ctx context.Context) (domain.OutboundStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboundStats
		oldest sql.NullTime
	)
	if err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       MIN(created_at) FILTER (WHERE status = 'pending')
		FROM outbound_events
	`).Scan(&stats.PendingCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboundStats{}, fmt.Errorf("outbound stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboundRepository) listByStatus(ctx context.Context, status domain.OutboundStatus, limit int) ([]domain.OutboundEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+outboundColumns+`
		FROM outbound_events
		WHERE status = $1
		ORDER BY created_at, seq
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s outbound events: %w", status, err)
	}
	defer rows.Close()

	result := make([]domain.OutboundEvent, 0, limit)
	for rows.Next() {
		event, err := scanOutbound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbound event: %w", err)
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbound rows: %w", err)
	}
	return result, nil
}

func (r *outboundRepository) exec(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrOutboundEventNotFound
	}
	return nil
}

func scanOutbound(row rowScanner) (domain.OutboundEvent, error) {
	var (
		event       domain.OutboundEvent
		eventType   string
		status      string
		processedAt sql.NullTime
	)
	if err := row.Scan(&event.ID, &eventType, &event.Payload, &status, &event.Error, &event.RetryCount, &event.CreatedAt, &processedAt); err != nil {
		return domain.OutboundEvent{}, err
	}
	event.Type = domain.OutboundEventType(eventType)
	event.Status = domain.OutboundStatus(status)
	event.CreatedAt = event.CreatedAt.UTC()
	if processedAt.Valid {
		event.ProcessedAt = processedAt.Time.UTC()
	}
	return event, nil
}

var _ domain.OutboundRepository = (*outboundRepository)(nil)
