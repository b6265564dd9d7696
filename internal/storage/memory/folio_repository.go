package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// folioRecord хранит оба вида счёта в плоской структуре.
type folioRecord struct {
	Kind          domain.FolioKind
	ID            string
	Currency      string
	BalanceMinor  int64
	OpenedBy      domain.Actor
	OpenedAt      time.Time
	ReservationID string
	Alias         string
	Description   string
}

type folioRepository struct {
	v view
}

func (r folioRepository) Open(_ context.Context, folio domain.Folio) error {
	rec, err := toFolioRecord(folio)
	if err != nil {
		return err
	}

	st, unlock := r.v.enter()
	defer unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = r.v.now()
	}
	st.folios[rec.ID] = rec
	return nil
}

func (r folioRepository) Get(_ context.Context, id string) (domain.Folio, error) {
	st, unlock := r.v.enter()
	defer unlock()

	rec, ok := st.folios[id]
	if !ok {
		return nil, domain.ErrFolioNotFound
	}
	return fromFolioRecord(rec)
}

func (r folioRepository) ListByReservation(_ context.Context, bookingID string) ([]domain.Folio, error) {
	st, unlock := r.v.enter()
	defer unlock()

	records := make([]folioRecord, 0)
	for _, rec := range st.folios {
		if rec.Kind == domain.FolioKindGuest && rec.ReservationID == bookingID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].OpenedAt.Before(records[j].OpenedAt) })

	result := make([]domain.Folio, 0, len(records))
	for _, rec := range records {
		folio, err := fromFolioRecord(rec)
		if err != nil {
			return nil, err
		}
		result = append(result, folio)
	}
	return result, nil
}

func toFolioRecord(folio domain.Folio) (folioRecord, error) {
	rec := folioRecord{}
	switch f := folio.(type) {
	case domain.GuestFolio:
		if err := copier.Copy(&rec, &f); err != nil {
			return folioRecord{}, fmt.Errorf("copy guest folio: %w", err)
		}
	case domain.ExternalFolio:
		if err := copier.Copy(&rec, &f); err != nil {
			return folioRecord{}, fmt.Errorf("copy external folio: %w", err)
		}
	default:
		return folioRecord{}, fmt.Errorf("unsupported folio %T", folio)
	}
	rec.Kind = folio.Kind()
	return rec, nil
}

func fromFolioRecord(rec folioRecord) (domain.Folio, error) {
	switch rec.Kind {
	case domain.FolioKindGuest:
		var f domain.GuestFolio
		if err := copier.Copy(&f, &rec); err != nil {
			return nil, fmt.Errorf("copy guest folio: %w", err)
		}
		return f, nil
	case domain.FolioKindExternal:
		var f domain.ExternalFolio
		if err := copier.Copy(&f, &rec); err != nil {
			return nil, fmt.Errorf("copy external folio: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported folio kind %q", rec.Kind)
	}
}

var _ domain.FolioRepository = folioRepository{}
