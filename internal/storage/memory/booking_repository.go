package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

type bookingRepository struct {
	v view
}

// Create сохраняет бронь и её сегменты, проверяя пересечения по номерам.
func (r bookingRepository) Create(_ context.Context, booking domain.Booking) error {
	st, unlock := r.v.enter()
	defer unlock()

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if _, exists := st.bookings[booking.ID]; exists {
		return fmt.Errorf("%w: booking %s already exists", domain.ErrBookingVersionConflict, booking.ID)
	}
	if booking.ExternalReservationID != "" {
		if _, ok := findByExternal(st, booking.Channel, booking.ExternalReservationID); ok {
			return domain.ErrDuplicateReservation
		}
	}

	booking.Segments = normalizeSegments(booking.ID, booking.Segments)
	if booking.Status.HoldsInventory() {
		if err := checkConflicts(st, booking.ID, booking.Segments); err != nil {
			return err
		}
	}

	st.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

func (r bookingRepository) Get(_ context.Context, id string) (domain.Booking, error) {
	st, unlock := r.v.enter()
	defer unlock()

	booking, ok := st.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return cloneBooking(booking), nil
}

func (r bookingRepository) FindByExternalID(_ context.Context, channel, externalID string) (domain.Booking, error) {
	st, unlock := r.v.enter()
	defer unlock()

	booking, ok := findByExternal(st, channel, externalID)
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return cloneBooking(booking), nil
}

// Save перезаписывает бронь, проверяя версию (optimistic locking).
func (r bookingRepository) Save(_ context.Context, booking domain.Booking) error {
	st, unlock := r.v.enter()
	defer unlock()

	current, ok := st.bookings[booking.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if current.Version != booking.Version {
		return domain.ErrBookingVersionConflict
	}

	booking.Segments = normalizeSegments(booking.ID, booking.Segments)
	if booking.Status.HoldsInventory() {
		if err := checkConflicts(st, booking.ID, booking.Segments); err != nil {
			return err
		}
	}

	booking.Version++
	st.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

// SegmentsOverlapping возвращает сегменты активных броней номера, пересекающие stay.
func (r bookingRepository) SegmentsOverlapping(_ context.Context, roomID string, stay domain.Stay) ([]domain.Segment, error) {
	st, unlock := r.v.enter()
	defer unlock()

	result := make([]domain.Segment, 0)
	for _, booking := range st.bookings {
		if !booking.Status.HoldsInventory() {
			continue
		}
		for _, seg := range booking.Segments {
			if seg.RoomID == roomID && seg.Stay().Overlaps(stay) {
				result = append(result, seg)
			}
		}
	}
	sortSegments(result)
	return result, nil
}

// CategorySegments возвращает сегменты активных броней на номерах категории за [from, to].
func (r bookingRepository) CategorySegments(_ context.Context, category string, from, to time.Time) ([]domain.Segment, error) {
	st, unlock := r.v.enter()
	defer unlock()

	window := domain.Stay{CheckIn: domain.Day(from), CheckOut: domain.Day(to).AddDate(0, 0, 1)}
	result := make([]domain.Segment, 0)
	for _, booking := range st.bookings {
		if !booking.Status.HoldsInventory() {
			continue
		}
		for _, seg := range booking.Segments {
			room, ok := st.rooms[seg.RoomID]
			if !ok || room.Category != category {
				continue
			}
			if seg.Stay().Overlaps(window) {
				result = append(result, seg)
			}
		}
	}
	sortSegments(result)
	return result, nil
}

func findByExternal(st *state, channel, externalID string) (domain.Booking, bool) {
	for _, booking := range st.bookings {
		if booking.Channel == channel && booking.ExternalReservationID == externalID {
			return booking, true
		}
	}
	return domain.Booking{}, false
}

// checkConflicts повторяет правило исключения из postgres: один номер, пересекающиеся даты, активная бронь.
func checkConflicts(st *state, bookingID string, segments []domain.Segment) error {
	for _, other := range st.bookings {
		if other.ID == bookingID || !other.Status.HoldsInventory() {
			continue
		}
		for _, existing := range other.Segments {
			for _, seg := range segments {
				if existing.RoomID == seg.RoomID && existing.Stay().Overlaps(seg.Stay()) {
					return fmt.Errorf("%w: room %s %s held by booking %s",
						domain.ErrRoomConflict, seg.RoomID, existing.Stay(), other.ID)
				}
			}
		}
	}
	return nil
}

func normalizeSegments(bookingID string, segments []domain.Segment) []domain.Segment {
	out := make([]domain.Segment, len(segments))
	for i, seg := range segments {
		if seg.ID == "" {
			seg.ID = uuid.NewString()
		}
		seg.BookingID = bookingID
		out[i] = seg
	}
	return out
}

func sortSegments(segments []domain.Segment) {
	sort.Slice(segments, func(i, j int) bool {
		if !segments[i].CheckIn.Equal(segments[j].CheckIn) {
			return segments[i].CheckIn.Before(segments[j].CheckIn)
		}
		return segments[i].ID < segments[j].ID
	})
}

var _ domain.BookingRepository = bookingRepository{}
