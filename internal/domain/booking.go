package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BookingStatus описывает жизненный цикл брони.
type BookingStatus string

const (
	// BookingStatusPending означает, что бронь создана и ещё не подтверждена.
	BookingStatusPending BookingStatus = "pending"
	// BookingStatusConfirmed означает подтверждённую бронь.
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusCheckedIn означает, что гость заселён.
	BookingStatusCheckedIn BookingStatus = "checked_in"
	// BookingStatusCheckedOut означает, что гость выехал.
	BookingStatusCheckedOut BookingStatus = "checked_out"
	// BookingStatusCancelled означает отменённую бронь.
	BookingStatusCancelled BookingStatus = "cancelled"
	// BookingStatusNoShow означает, что гость не приехал.
	BookingStatusNoShow BookingStatus = "no_show"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCheckedIn,
		BookingStatusCheckedOut, BookingStatusCancelled, BookingStatusNoShow:
		return true
	default:
		return false
	}
}

// HoldsInventory сообщает, занимает ли бронь в этом статусе номер.
// Отменённые брони инвентарь не держат, остальные держат.
func (s BookingStatus) HoldsInventory() bool {
	return s != BookingStatusCancelled
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCheckedOut, BookingStatusCancelled, BookingStatusNoShow:
		return true
	default:
		return false
	}
}

// progress задаёт порядок основной цепочки pending → confirmed → checked_in → checked_out.
var progress = map[BookingStatus]int{
	BookingStatusPending:    0,
	BookingStatusConfirmed:  1,
	BookingStatusCheckedIn:  2,
	BookingStatusCheckedOut: 3,
}

// CanTransition проверяет допустимость перехода статуса брони.
// Основная цепочка движется только вперёд. Отмена возможна из любого статуса до выезда,
// no_show только до заселения.
func CanTransition(from, to BookingStatus) bool {
	if from.Terminal() || from == to {
		return false
	}
	switch to {
	case BookingStatusCancelled:
		return true
	case BookingStatusNoShow:
		return from == BookingStatusPending || from == BookingStatusConfirmed
	}
	fromRank, okFrom := progress[from]
	toRank, okTo := progress[to]
	return okFrom && okTo && toRank > fromRank
}

// Segment закрепляет за бронью конкретный номер на полуинтервале [CheckIn, CheckOut).
type Segment struct {
	ID        string
	BookingID string
	RoomID    string
	CheckIn   time.Time
	CheckOut  time.Time
}

// Stay возвращает интервал сегмента.
func (s Segment) Stay() Stay {
	return Stay{CheckIn: s.CheckIn, CheckOut: s.CheckOut}
}

// Booking описывает бронь гостя. Сегменты покрывают весь период проживания без разрывов.
type Booking struct {
	ID                    string
	ConfirmationCode      string
	GuestID               string
	Status                BookingStatus
	Channel               string
	ExternalReservationID string
	CheckIn               time.Time
	CheckOut              time.Time
	TotalAmountMinor      int64
	Currency              string
	Segments              []Segment
	CreatedBy             Actor
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Stay возвращает общий интервал проживания.
func (b Booking) Stay() Stay {
	return Stay{CheckIn: b.CheckIn, CheckOut: b.CheckOut}
}

// SortedSegments возвращает копию сегментов, упорядоченную по дате заезда.
func (b Booking) SortedSegments() []Segment {
	out := make([]Segment, len(b.Segments))
	copy(out, b.Segments)
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out
}

// SegmentOn возвращает сегмент, которому принадлежит ночь day.
func (b Booking) SegmentOn(day time.Time) (Segment, bool) {
	for _, seg := range b.Segments {
		if seg.Stay().Covers(day) {
			return seg, true
		}
	}
	return Segment{}, false
}

// ValidateInvariants проверяет обязательные поля и покрытие проживания сегментами.
func (b *Booking) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(b.GuestID) == "" {
		errs = append(errs, ErrGuestRequired)
	}
	if !b.Status.Valid() {
		errs = append(errs, ErrBookingStatusInvalid)
	}
	if b.TotalAmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if b.Currency != "" && len(b.Currency) != 3 {
		errs = append(errs, ErrCurrencyInvalid)
	}
	if !b.CheckOut.After(b.CheckIn) {
		errs = append(errs, ErrInvalidStay)
	}
	if len(b.Segments) == 0 {
		return append(errs, ErrSegmentsRequired)
	}

	segments := b.SortedSegments()
	cursor := b.CheckIn
	for _, seg := range segments {
		if strings.TrimSpace(seg.RoomID) == "" {
			errs = append(errs, ErrRoomRequired)
		}
		if !seg.CheckOut.After(seg.CheckIn) {
			errs = append(errs, fmt.Errorf("%w: segment %s", ErrInvalidStay, seg.Stay()))
			continue
		}
		if !seg.CheckIn.Equal(cursor) {
			errs = append(errs, fmt.Errorf("%w: expected segment from %s, got %s",
				ErrSegmentsNotContiguous, FormatDate(cursor), seg.Stay()))
		}
		cursor = seg.CheckOut
	}
	if !cursor.Equal(b.CheckOut) {
		errs = append(errs, fmt.Errorf("%w: segments end at %s, stay ends at %s",
			ErrSegmentsNotContiguous, FormatDate(cursor), FormatDate(b.CheckOut)))
	}

	return errs
}
