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

const roomColumns = `id, number, category, base_price_minor, status, created_at, updated_at`

type roomRepository struct {
	q   querier
	now func() time.Time
}

func (r *roomRepository) Create(ctx context.Context, room domain.Room) error {
	if errs := room.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid room: %w", errs[0])
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := r.now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, room.ID, room.Number, room.Category, room.BasePriceMinor, string(room.Status), room.CreatedAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateRoomNumber
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (r *roomRepository) Get(ctx context.Context, id string) (domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	room, err := scanRoom(r.q.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, domain.ErrRoomNotFound
		}
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (r *roomRepository) List(ctx context.Context) ([]domain.Room, error) {
	return r.list(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY number, id`)
}

// ListByCategory возвращает номера категории в порядке номера комнаты.
func (r *roomRepository) ListByCategory(ctx context.Context, category string) ([]domain.Room, error) {
	return r.list(ctx, `SELECT `+roomColumns+` FROM rooms WHERE category = $1 ORDER BY number, id`, category)
}

func (r *roomRepository) UpdateStatus(ctx context.Context, id string, status domain.RoomStatus) error {
	if !status.Valid() {
		return domain.ErrRoomStatusInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE rooms SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), r.now())
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for room status: %w", err)
	}
	if affected == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *roomRepository) list(ctx context.Context, query string, args ...any) ([]domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room rows: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (domain.Room, error) {
	var (
		room   domain.Room
		status string
	)
	if err := row.Scan(&room.ID, &room.Number, &room.Category, &room.BasePriceMinor, &status, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return domain.Room{}, err
	}
	room.Status = domain.RoomStatus(status)
	room.CreatedAt = room.CreatedAt.UTC()
	room.UpdatedAt = room.UpdatedAt.UTC()
	return room, nil
}

var _ domain.RoomRepository = (*roomRepository)(nil)
