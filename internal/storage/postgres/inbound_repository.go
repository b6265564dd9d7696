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

const inboundColumns = `id, channel, payload, received_at, processed, processed_at, error`

type inboundRepository struct {
	q   querier
	now func() time.Time
}

// Append сохраняет событие как необработанное.
func (r *inboundRepository) Append(ctx context.Context, event domain.InboundEvent) (domain.InboundEvent, error) {
	if event.Channel == "" {
		return domain.InboundEvent{}, domain.ErrChannelRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = r.now()
	}
	event.Processed = false
	event.ProcessedAt = time.Time{}
	event.Error = ""

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO inbound_events (id, channel, payload, received_at)
		VALUES ($1,$2,$3,$4)
	`, event.ID, event.Channel, event.Payload, event.ReceivedAt)
	if err != nil {
		return domain.InboundEvent{}, fmt.Errorf("insert inbound event: %w", err)
	}
	return event, nil
}

func (r *inboundRepository) Get(ctx context.Context, id string) (domain.InboundEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	event, err := scanInbound(r.q.QueryRowContext(ctx, `SELECT `+inboundColumns+` FROM inbound_events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InboundEvent{}, domain.ErrInboundEventNotFound
		}
		return domain.InboundEvent{}, fmt.Errorf("get inbound event: %w", err)
	}
	return event, nil
}

// PullUnprocessed выбирает события канала в порядке поступления. События не захватываются:
// единственного обработчика канала обеспечивает аренда, двойную бронь отсекает EXCLUDE.
func (r *inboundRepository) PullUnprocessed(ctx context.Context, channel string, limit int) ([]domain.InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+inboundColumns+`
		FROM inbound_events
		WHERE channel = $1 AND NOT processed
		ORDER BY received_at, seq
		LIMIT $2
	`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed inbound events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InboundEvent, 0, limit)
	for rows.Next() {
		event, err := scanInbound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbound event: %w", err)
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbound rows: %w", err)
	}
	return result, nil
}

func (r *inboundRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "mark inbound processed", `
		UPDATE inbound_events
		SET processed = TRUE, processed_at = $2, error = ''
		WHERE id = $1
	`, id, at)
}

// RecordError фиксирует причину неудачи; событие остаётся в очереди.
// Для уже обработанного события ничего не меняет.
func (r *inboundRepository) RecordError(ctx context.Context, id string, message string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var processed bool
	err := r.q.QueryRowContext(ctx, `
		WITH target AS (SELECT processed FROM inbound_events WHERE id = $1),
		updated AS (
			UPDATE inbound_events SET error = $2
			WHERE id = $1 AND NOT processed
		)
		SELECT processed FROM target
	`, id, message).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrInboundEventNotFound
	}
	if err != nil {
		return fmt.Errorf("record inbound error: %w", err)
	}
	return nil
}

func (r *inboundRepository) Stats(ctx context.Context, channel string) (domain.InboundStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.InboundStats
		oldest sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE error <> ''),
		       MIN(received_at)
		FROM inbound_events
		WHERE channel = $1 AND NOT processed
	`, channel).Scan(&stats.UnprocessedCount, &stats.ErroredCount, &oldest)
	if err != nil {
		return domain.InboundStats{}, fmt.Errorf("query inbound stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestUnprocessedAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *inboundRepository) exec(ctx context.Context, op, query string, args ...any) error {
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
		return domain.ErrInboundEventNotFound
	}
	return nil
}

func scanInbound(row rowScanner) (domain.InboundEvent, error) {
	var (
		event       domain.InboundEvent
		processedAt sql.NullTime
	)
	if err := row.Scan(&event.ID, &event.Channel, &event.Payload, &event.ReceivedAt, &event.Processed, &processedAt, &event.Error); err != nil {
		return domain.InboundEvent{}, err
	}
	event.ReceivedAt = event.ReceivedAt.UTC()
	if processedAt.Valid {
		event.ProcessedAt = processedAt.Time.UTC()
	}
	return event, nil
}

var _ domain.InboundRepository = (*inboundRepository)(nil)
