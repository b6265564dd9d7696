package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// helper для брони из двух сегментов (переезд на третью ночь).
func makeBooking() domain.Booking {
	return domain.Booking{
		ID:               "booking-1",
		GuestID:          "guest-1",
		Status:           domain.BookingStatusConfirmed,
		CheckIn:          day(2026, 3, 10),
		CheckOut:         day(2026, 3, 14),
		TotalAmountMinor: 48000,
		Currency:         "EUR",
		Segments: []domain.Segment{
			{ID: "s2", BookingID: "booking-1", RoomID: "room-102", CheckIn: day(2026, 3, 12), CheckOut: day(2026, 3, 14)},
			{ID: "s1", BookingID: "booking-1", RoomID: "room-101", CheckIn: day(2026, 3, 10), CheckOut: day(2026, 3, 12)},
		},
	}
}

func TestBookingValidateInvariants_Ok(t *testing.T) {
	booking := makeBooking()
	if errs := booking.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestBookingValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(b *domain.Booking)
		want error
	}{
		{
			name: "no guest",
			mut:  func(b *domain.Booking) { b.GuestID = "" },
			want: domain.ErrGuestRequired,
		},
		{
			name: "no segments",
			mut:  func(b *domain.Booking) { b.Segments = nil },
			want: domain.ErrSegmentsRequired,
		},
		{
			name: "gap between segments",
			mut:  func(b *domain.Booking) { b.Segments[0].CheckIn = day(2026, 3, 13) },
			want: domain.ErrSegmentsNotContiguous,
		},
		{
			name: "segments stop before check-out",
			mut:  func(b *domain.Booking) { b.CheckOut = day(2026, 3, 15) },
			want: domain.ErrSegmentsNotContiguous,
		},
		{
			name: "negative amount",
			mut:  func(b *domain.Booking) { b.TotalAmountMinor = -1 },
			want: domain.ErrAmountNegative,
		},
		{
			name: "bad status",
			mut:  func(b *domain.Booking) { b.Status = "lost" },
			want: domain.ErrBookingStatusInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			booking := makeBooking()
			tc.mut(&booking)
			errs := booking.ValidateInvariants()
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					return
				}
			}
			t.Fatalf("expected %v among %v", tc.want, errs)
		})
	}
}

func TestBookingSegmentOn(t *testing.T) {
	booking := makeBooking()

	seg, ok := booking.SegmentOn(day(2026, 3, 12))
	if !ok || seg.RoomID != "room-102" {
		t.Fatalf("expected room-102 on the 12th, got %+v ok=%v", seg, ok)
	}
	if _, ok := booking.SegmentOn(day(2026, 3, 14)); ok {
		t.Fatalf("check-out night must not belong to any segment")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.BookingStatus
		want     bool
	}{
		{domain.BookingStatusPending, domain.BookingStatusConfirmed, true},
		{domain.BookingStatusConfirmed, domain.BookingStatusCheckedIn, true},
		{domain.BookingStatusCheckedIn, domain.BookingStatusCheckedOut, true},
		{domain.BookingStatusCheckedIn, domain.BookingStatusConfirmed, false},
		{domain.BookingStatusConfirmed, domain.BookingStatusCancelled, true},
		{domain.BookingStatusCheckedIn, domain.BookingStatusCancelled, true},
		{domain.BookingStatusCheckedOut, domain.BookingStatusCancelled, false},
		{domain.BookingStatusCancelled, domain.BookingStatusConfirmed, false},
		{domain.BookingStatusConfirmed, domain.BookingStatusNoShow, true},
		{domain.BookingStatusCheckedIn, domain.BookingStatusNoShow, false},
		{domain.BookingStatusConfirmed, domain.BookingStatusConfirmed, false},
	}

	for _, tc := range cases {
		if got := domain.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestBookingStatusHoldsInventory(t *testing.T) {
	if domain.BookingStatusCancelled.HoldsInventory() {
		t.Fatalf("cancelled booking must release inventory")
	}
	for _, s := range []domain.BookingStatus{
		domain.BookingStatusPending, domain.BookingStatusConfirmed, domain.BookingStatusCheckedIn,
		domain.BookingStatusCheckedOut, domain.BookingStatusNoShow,
	} {
		if !s.HoldsInventory() {
			t.Fatalf("%s must hold inventory", s)
		}
	}
}

func TestRoomAllocatable(t *testing.T) {
	cases := map[domain.RoomStatus]struct{ allocatable, inventory bool }{
		domain.RoomStatusAvailable:   {true, true},
		domain.RoomStatusDirty:       {true, true},
		domain.RoomStatusOccupied:    {true, true},
		domain.RoomStatusBlocked:     {false, true},
		domain.RoomStatusMaintenance: {false, false},
	}
	for status, want := range cases {
		room := domain.Room{Status: status}
		if room.Allocatable() != want.allocatable || room.CountsTowardsInventory() != want.inventory {
			t.Fatalf("%s: allocatable=%v inventory=%v", status, room.Allocatable(), room.CountsTowardsInventory())
		}
	}
}
