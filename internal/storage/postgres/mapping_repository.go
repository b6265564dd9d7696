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

const mappingColumns = `id, channel, category, external_room_id, external_rate_plan_id, active, created_at`

type mappingRepository struct {
	q   querier
	now func() time.Time
}

func (r *mappingRepository) Create(ctx context.Context, mapping domain.ChannelRoomMapping) error {
	if mapping.Channel == "" {
		return domain.ErrChannelRequired
	}
	if mapping.Category == "" {
		return domain.ErrCategoryRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = r.now()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO channel_room_mappings (`+mappingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, mapping.ID, mapping.Channel, mapping.Category, mapping.ExternalRoomID,
		mapping.ExternalRatePlanID, mapping.Active, mapping.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateMapping
		}
		return fmt.Errorf("insert channel mapping: %w", err)
	}
	return nil
}

func (r *mappingRepository) FindByExternalRoom(ctx context.Context, channel, externalRoomID string) (domain.ChannelRoomMapping, error) {
	return r.findFirst(ctx, `
		SELECT `+mappingColumns+`
		FROM channel_room_mappings
		WHERE channel = $1 AND external_room_id = $2 AND active
		ORDER BY seq
		LIMIT 1
	`, channel, externalRoomID)
}

// FindByCategory возвращает самый ранний активный маппинг категории.
func (r *mappingRepository) FindByCategory(ctx context.Context, channel, category string) (domain.ChannelRoomMapping, error) {
	return r.findFirst(ctx, `
		SELECT `+mappingColumns+`
		FROM channel_room_mappings
		WHERE channel = $1 AND category = $2 AND active
		ORDER BY seq
		LIMIT 1
	`, channel, category)
}

func (r *mappingRepository) List(ctx context.Context, channel string) ([]domain.ChannelRoomMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM channel_room_mappings
		WHERE channel = $1
		ORDER BY seq
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("query channel mappings: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ChannelRoomMapping, 0)
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel mapping: %w", err)
		}
		result = append(result, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel mapping rows: %w", err)
	}
	return result, nil
}

func (r *mappingRepository) findFirst(ctx context.Context, query string, args ...any) (domain.ChannelRoomMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	mapping, err := scanMapping(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ChannelRoomMapping{}, domain.ErrMappingNotFound
		}
		return domain.ChannelRoomMapping{}, fmt.Errorf("find channel mapping: %w", err)
	}
	return mapping, nil
}

func scanMapping(row rowScanner) (domain.ChannelRoomMapping, error) {
	var m domain.ChannelRoomMapping
	if err := row.Scan(&m.ID, &m.Channel, &m.Category, &m.ExternalRoomID, &m.ExternalRatePlanID, &m.Active, &m.CreatedAt); err != nil {
		return domain.ChannelRoomMapping{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

var _ domain.ChannelMappingRepository = (*mappingRepository)(nil)
