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

const guestColumns = `id, first_name, last_name, email, alias_email, created_at`

type guestRepository struct {
	q   querier
	now func() time.Time
}

func (r *guestRepository) Create(ctx context.Context, guest domain.Guest) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	guest.AliasEmail = domain.NormalizeEmail(guest.AliasEmail)
	if guest.ID == "" {
		guest.ID = uuid.NewString()
	}
	if guest.CreatedAt.IsZero() {
		guest.CreatedAt = r.now()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO guests (`+guestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, guest.ID, guest.FirstName, guest.LastName, guest.Email, guest.AliasEmail, guest.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateGuest
		}
		return fmt.Errorf("insert guest: %w", err)
	}
	return nil
}

func (r *guestRepository) Get(ctx context.Context, id string) (domain.Guest, error) {
	return r.findOne(ctx, `SELECT `+guestColumns+` FROM guests WHERE id = $1`, id)
}

func (r *guestRepository) FindByAliasEmail(ctx context.Context, alias string) (domain.Guest, error) {
	alias = domain.NormalizeEmail(alias)
	if alias == "" {
		return domain.Guest{}, domain.ErrGuestNotFound
	}
	return r.findOne(ctx, `SELECT `+guestColumns+` FROM guests WHERE alias_email = $1`, alias)
}

func (r *guestRepository) findOne(ctx context.Context, query string, arg string) (domain.Guest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var guest domain.Guest
	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&guest.ID, &guest.FirstName, &guest.LastName, &guest.Email, &guest.AliasEmail, &guest.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Guest{}, domain.ErrGuestNotFound
		}
		return domain.Guest{}, fmt.Errorf("get guest: %w", err)
	}
	guest.CreatedAt = guest.CreatedAt.UTC()
	return guest, nil
}

var _ domain.GuestRepository = (*guestRepository)(nil)
