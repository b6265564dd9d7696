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

const bookingColumns = `id, confirmation_code, guest_id, status, channel, external_reservation_id,
	check_in, check_out, total_amount_minor, currency, created_by, version, created_at, updated_at`

// bookingRepository пишет бронь и её сегменты. Пересечения ловит ограничение booking_segments_no_overlap,
// поэтому Create и Save нужно вызывать внутри транзакции UnitOfWork.
type bookingRepository struct {
	q querier
}

func (r *bookingRepository) Create(ctx context.Context, booking domain.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		booking.ID, booking.ConfirmationCode, booking.GuestID, string(booking.Status),
		booking.Channel, booking.ExternalReservationID,
		booking.CheckIn, booking.CheckOut, booking.TotalAmountMinor, booking.Currency,
		string(booking.CreatedBy), booking.Version, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if constraintName(err) == "bookings_pkey" {
				return fmt.Errorf("%w: booking %s already exists", domain.ErrBookingVersionConflict, booking.ID)
			}
			return domain.ErrDuplicateReservation
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	return r.insertSegments(ctx, booking)
}

func (r *bookingRepository) Get(ctx context.Context, id string) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	booking, err := scanBooking(r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return r.withSegments(ctx, booking)
}

func (r *bookingRepository) FindByExternalID(ctx context.Context, channel, externalID string) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	booking, err := scanBooking(r.q.QueryRowContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE channel = $1 AND external_reservation_id = $2 AND external_reservation_id <> ''
	`, channel, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("find booking by external id: %w", err)
	}
	return r.withSegments(ctx, booking)
}

// Save обновляет бронь с проверкой версии и переписывает сегменты.
func (r *bookingRepository) Save(ctx context.Context, booking domain.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2,
		    check_in = $3,
		    check_out = $4,
		    total_amount_minor = $5,
		    currency = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $1 AND version = $8
	`,
		booking.ID, string(booking.Status), booking.CheckIn, booking.CheckOut,
		booking.TotalAmountMinor, booking.Currency, booking.UpdatedAt, booking.Version,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for booking: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, booking.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check booking existence: %w", err)
		}
		if !exists {
			return domain.ErrBookingNotFound
		}
		return domain.ErrBookingVersionConflict
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM booking_segments WHERE booking_id = $1`, booking.ID); err != nil {
		return fmt.Errorf("delete booking segments: %w", err)
	}
	return r.insertSegments(ctx, booking)
}

// SegmentsOverlapping возвращает сегменты активных броней номера, пересекающие stay.
func (r *bookingRepository) SegmentsOverlapping(ctx context.Context, roomID string, stay domain.Stay) ([]domain.Segment, error) {
	return r.querySegments(ctx, `
		SELECT id, booking_id, room_id, check_in, check_out
		FROM booking_segments
		WHERE active
		  AND room_id = $1
		  AND check_in < $3
		  AND $2 < check_out
		ORDER BY check_in, id
	`, roomID, stay.CheckIn, stay.CheckOut)
}

// CategorySegments возвращает сегменты активных броней на номерах категории за [from, to].
func (r *bookingRepository) CategorySegments(ctx context.Context, category string, from, to time.Time) ([]domain.Segment, error) {
	return r.querySegments(ctx, `
		SELECT s.id, s.booking_id, s.room_id, s.check_in, s.check_out
		FROM booking_segments s
		JOIN rooms r ON r.id = s.room_id
		WHERE s.active
		  AND r.category = $1
		  AND s.check_in < $3
		  AND $2 < s.check_out
		ORDER BY s.check_in, s.id
	`, category, domain.Day(from), domain.Day(to).AddDate(0, 0, 1))
}

func (r *bookingRepository) insertSegments(ctx context.Context, booking domain.Booking) error {
	active := booking.Status.HoldsInventory()
	for _, seg := range booking.Segments {
		if seg.ID == "" {
			seg.ID = uuid.NewString()
		}
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO booking_segments (id, booking_id, room_id, check_in, check_out, active)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, seg.ID, booking.ID, seg.RoomID, seg.CheckIn, seg.CheckOut, active)
		if err != nil {
			if isExclusionViolation(err) {
				return fmt.Errorf("%w: room %s %s", domain.ErrRoomConflict, seg.RoomID, seg.Stay())
			}
			return fmt.Errorf("insert booking segment: %w", err)
		}
	}
	return nil
}

func (r *bookingRepository) withSegments(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	segments, err := r.querySegments(ctx, `
		SELECT id, booking_id, room_id, check_in, check_out
		FROM booking_segments
		WHERE booking_id = $1
		ORDER BY check_in, id
	`, booking.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	booking.Segments = segments
	return booking, nil
}

func (r *bookingRepository) querySegments(ctx context.Context, query string, args ...any) ([]domain.Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query booking segments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Segment, 0)
	for rows.Next() {
		var seg domain.Segment
		if err := rows.Scan(&seg.ID, &seg.BookingID, &seg.RoomID, &seg.CheckIn, &seg.CheckOut); err != nil {
			return nil, fmt.Errorf("scan booking segment: %w", err)
		}
		seg.CheckIn = domain.Day(seg.CheckIn)
		seg.CheckOut = domain.Day(seg.CheckOut)
		result = append(result, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking segment rows: %w", err)
	}
	return result, nil
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b         domain.Booking
		status    string
		createdBy string
	)
	if err := row.Scan(
		&b.ID, &b.ConfirmationCode, &b.GuestID, &status, &b.Channel, &b.ExternalReservationID,
		&b.CheckIn, &b.CheckOut, &b.TotalAmountMinor, &b.Currency, &createdBy, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingStatus(status)
	b.CreatedBy = domain.Actor(createdBy)
	b.CheckIn = domain.Day(b.CheckIn)
	b.CheckOut = domain.Day(b.CheckOut)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

var _ domain.BookingRepository = (*bookingRepository)(nil)
