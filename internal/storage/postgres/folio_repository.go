package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const folioColumns = `id, kind, currency, balance_minor, opened_by, opened_at, reservation_id, alias, description`

// folioRow повторяет строку таблицы folios.
type folioRow struct {
	ID            string
	Kind          domain.FolioKind
	Currency      string
	BalanceMinor  int64
	OpenedBy      domain.Actor
	OpenedAt      time.Time
	ReservationID string
	Alias         string
	Description   string
}

type folioRepository struct {
	q   querier
	now func() time.Time
}

func (r *folioRepository) Open(ctx context.Context, folio domain.Folio) error {
	row, err := toFolioRow(folio)
	if err != nil {
		return err
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.OpenedAt.IsZero() {
		row.OpenedAt = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO folios (`+folioColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, row.ID, string(row.Kind), row.Currency, row.BalanceMinor, string(row.OpenedBy), row.OpenedAt,
		row.ReservationID, row.Alias, row.Description)
	if err != nil {
		return fmt.Errorf("insert folio: %w", err)
	}
	return nil
}

func (r *folioRepository) Get(ctx context.Context, id string) (domain.Folio, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row, err := scanFolio(r.q.QueryRowContext(ctx, `SELECT `+folioColumns+` FROM folios WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFolioNotFound
		}
		return nil, fmt.Errorf("get folio: %w", err)
	}
	return fromFolioRow(row)
}

func (r *folioRepository) ListByReservation(ctx context.Context, bookingID string) ([]domain.Folio, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+folioColumns+`
		FROM folios
		WHERE kind = 'guest' AND reservation_id = $1
		ORDER BY opened_at, id
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query folios: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Folio, 0)
	for rows.Next() {
		row, err := scanFolio(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folio: %w", err)
		}
		folio, err := fromFolioRow(row)
		if err != nil {
			return nil, err
		}
		result = append(result, folio)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folio rows: %w", err)
	}
	return result, nil
}

func scanFolio(row rowScanner) (folioRow, error) {
	var (
		f        folioRow
		kind     string
		openedBy string
	)
	if err := row.Scan(&f.ID, &kind, &f.Currency, &f.BalanceMinor, &openedBy, &f.OpenedAt, &f.ReservationID, &f.Alias, &f.Description); err != nil {
		return folioRow{}, err
	}
	f.Kind = domain.FolioKind(kind)
	f.OpenedBy = domain.Actor(openedBy)
	f.OpenedAt = f.OpenedAt.UTC()
	return f, nil
}

func toFolioRow(folio domain.Folio) (folioRow, error) {
	row := folioRow{}
	switch f := folio.(type) {
	case domain.GuestFolio:
		if f.ReservationID == "" {
			return folioRow{}, fmt.Errorf("guest folio without reservation: %w", domain.ErrBookingNotFound)
		}
		if err := copier.Copy(&row, &f); err != nil {
			return folioRow{}, fmt.Errorf("copy guest folio: %w", err)
		}
	case domain.ExternalFolio:
		if err := copier.Copy(&row, &f); err != nil {
			return folioRow{}, fmt.Errorf("copy external folio: %w", err)
		}
	default:
		return folioRow{}, fmt.Errorf("unsupported folio %T", folio)
	}
	row.Kind = folio.Kind()
	return row, nil
}

func fromFolioRow(row folioRow) (domain.Folio, error) {
	switch row.Kind {
	case domain.FolioKindGuest:
		var f domain.GuestFolio
		if err := copier.Copy(&f, &row); err != nil {
			return nil, fmt.Errorf("copy guest folio: %w", err)
		}
		return f, nil
	case domain.FolioKindExternal:
		var f domain.ExternalFolio
		if err := copier.Copy(&f, &row); err != nil {
			return nil, fmt.Errorf("copy external folio: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported folio kind %q", row.Kind)
	}
}

var _ domain.FolioRepository = (*folioRepository)(nil)
