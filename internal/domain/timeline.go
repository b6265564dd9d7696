package domain

import "time"

// Типы событий жизненного цикла брони.
const (
	TimelineBookingCreated    = "booking.created"
	TimelineBookingCheckedIn  = "booking.checked_in"
	TimelineBookingCheckedOut = "booking.checked_out"
	TimelineBookingCancelled  = "booking.cancelled"
	TimelineBookingNoShow     = "booking.no_show"
	TimelineBookingRoomMoved  = "booking.room_moved"
	TimelineBookingDuplicate  = "booking.duplicate_delivery"
)

// TimelineEvent описывает событие в жизненном цикле брони.
type TimelineEvent struct {
	BookingID string
	Type      string
	Reason    string
	Actor     Actor
	Occurred  time.Time
}
