// Package booking выполняет мутации броней: создание, заселение, выезд, отмену, неявку и переселение.
// Каждая мутация идёт в одной транзакции вместе с исходящими событиями и записью в timeline.
package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
	"github.com/vladislavdragonenkov/pms/internal/service/outbox"
)

const (
	maxConflictRetries = 3
	conflictBaseDelay  = 10 * time.Millisecond
)

// Operation описывает имя мутации для логов и метрик.
const (
	OperationCreate   = "create"
	OperationCheckIn  = "check_in"
	OperationCheckOut = "check_out"
	OperationCancel   = "cancel"
	OperationNoShow   = "no_show"
	OperationMoveRoom = "move_room"
)

// CreateRequest описывает новую бронь.
// Если RoomID пуст, номер подбирается по Category.
type CreateRequest struct {
	GuestID               string
	RoomID                string
	Category              string
	Stay                  domain.Stay
	TotalAmountMinor      int64
	Currency              string
	Channel               string
	ExternalReservationID string
	Actor                 domain.Actor
}

// Options задаёт параметры сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.SyncMetrics
	Clock    domain.Clock
	Random   io.Reader
	Currency string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithRandom задаёт источник случайности для кодов подтверждения.
func WithRandom(r io.Reader) Option {
	return func(opts *Options) {
		opts.Random = r
	}
}

// WithCurrency задаёт валюту счёта, если бронь пришла без неё.
func WithCurrency(currency string) Option {
	return func(opts *Options) {
		opts.Currency = currency
	}
}

// Service выполняет мутации броней.
type Service struct {
	uow       domain.UnitOfWork
	generator *outbox.Generator
	logger    *log.Entry
	metrics   *metrics.SyncMetrics
	now       domain.Clock
	codes     *codeGenerator
	currency  string
}

// NewService создаёт сервис броней.
func NewService(uow domain.UnitOfWork, generator *outbox.Generator, options ...Option) *Service {
	opts := Options{Currency: "EUR"}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "booking-service")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if generator == nil {
		generator = outbox.NewGenerator(opts.Clock, opts.Metrics)
	}

	return &Service{
		uow:       uow,
		generator: generator,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       opts.Clock,
		codes:     newCodeGenerator(opts.Random),
		currency:  strings.ToUpper(strings.TrimSpace(opts.Currency)),
	}
}

// Create создаёт подтверждённую бронь в отдельной транзакции.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Booking, error) {
	var created domain.Booking
	err := s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		created, err = s.CreateInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return created, nil
}

// CreateInTx создаёт бронь в транзакции вызывающего: сегмент, гостевой счёт,
// запись в timeline и availability_update пишутся вместе.
func (s *Service) CreateInTx(ctx context.Context, tx domain.Tx, req CreateRequest) (created domain.Booking, err error) {
	defer func() { s.metrics.RecordBooking(OperationCreate, err) }()

	if req.Actor.Empty() {
		return domain.Booking{}, domain.ErrActorRequired
	}
	if strings.TrimSpace(req.GuestID) == "" {
		return domain.Booking{}, domain.ErrGuestRequired
	}
	stay, err := domain.NewStay(req.Stay.CheckIn, req.Stay.CheckOut)
	if err != nil {
		return domain.Booking{}, err
	}

	var room domain.Room
	if strings.TrimSpace(req.RoomID) != "" {
		room, err = s.checkRoom(ctx, tx, req.RoomID, stay, "")
	} else {
		room, err = Allocate(ctx, tx, req.Category, stay)
	}
	if err != nil {
		return domain.Booking{}, err
	}

	code, err := s.codes.next()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("generate confirmation code: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	bookingID := uuid.NewString()
	booking := domain.Booking{
		ID:                    bookingID,
		ConfirmationCode:      code,
		GuestID:               req.GuestID,
		Status:                domain.BookingStatusConfirmed,
		Channel:               strings.TrimSpace(req.Channel),
		ExternalReservationID: strings.TrimSpace(req.ExternalReservationID),
		CheckIn:               stay.CheckIn,
		CheckOut:              stay.CheckOut,
		TotalAmountMinor:      req.TotalAmountMinor,
		Currency:              currency,
		CreatedBy:             req.Actor,
		CreatedAt:             now,
		UpdatedAt:             now,
		Segments: []domain.Segment{{
			ID:        uuid.NewString(),
			BookingID: bookingID,
			RoomID:    room.ID,
			CheckIn:   stay.CheckIn,
			CheckOut:  stay.CheckOut,
		}},
	}
	if errs := booking.ValidateInvariants(); len(errs) > 0 {
		return domain.Booking{}, errors.Join(errs...)
	}

	if err := tx.Bookings().Create(ctx, booking); err != nil {
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	folio := domain.GuestFolio{
		FolioHeader: domain.FolioHeader{
			ID:           uuid.NewString(),
			Currency:     currency,
			BalanceMinor: booking.TotalAmountMinor,
			OpenedBy:     req.Actor,
			OpenedAt:     now,
		},
		ReservationID: booking.ID,
	}
	if err := tx.Folios().Open(ctx, folio); err != nil {
		return domain.Booking{}, fmt.Errorf("open guest folio: %w", err)
	}

	if err := s.appendTimeline(ctx, tx, booking.ID, domain.TimelineBookingCreated, "", req.Actor, now); err != nil {
		return domain.Booking{}, err
	}
	if _, err := s.generator.EnqueueAvailability(ctx, tx, booking.Segments); err != nil {
		return domain.Booking{}, err
	}

	s.logger.WithFields(log.Fields{
		"booking_id": booking.ID,
		"room_id":    room.ID,
		"stay":       stay.String(),
		"actor":      req.Actor,
	}).Info("booking created")
	return booking, nil
}

// CheckIn заселяет гостя: бронь переходит в checked_in, номер текущего сегмента становится occupied.
func (s *Service) CheckIn(ctx context.Context, bookingID string, actor domain.Actor) (domain.Booking, error) {
	return s.mutate(ctx, OperationCheckIn, bookingID, actor, func(ctx context.Context, tx domain.Tx, b *domain.Booking) (mutation, error) {
		if err := transition(b, domain.BookingStatusCheckedIn); err != nil {
			return mutation{}, err
		}
		if len(b.Segments) == 0 {
			return mutation{}, domain.ErrSegmentsRequired
		}
		seg, ok := b.SegmentOn(s.now())
		if !ok {
			seg = b.SortedSegments()[0]
		}
		if err := tx.Rooms().UpdateStatus(ctx, seg.RoomID, domain.RoomStatusOccupied); err != nil {
			return mutation{}, fmt.Errorf("mark room occupied: %w", err)
		}
		return mutation{timeline: domain.TimelineBookingCheckedIn, affected: b.Segments}, nil
	})
}

// CheckOut закрывает проживание: номер последнего сегмента отправляется в уборку.
func (s *Service) CheckOut(ctx context.Context, bookingID string, actor domain.Actor) (domain.Booking, error) {
	return s.mutate(ctx, OperationCheckOut, bookingID, actor, func(ctx context.Context, tx domain.Tx, b *domain.Booking) (mutation, error) {
		if err := transition(b, domain.BookingStatusCheckedOut); err != nil {
			return mutation{}, err
		}
		segments := b.SortedSegments()
		if len(segments) == 0 {
			return mutation{}, domain.ErrSegmentsRequired
		}
		last := segments[len(segments)-1]
		if err := tx.Rooms().UpdateStatus(ctx, last.RoomID, domain.RoomStatusDirty); err != nil {
			return mutation{}, fmt.Errorf("mark room dirty: %w", err)
		}
		return mutation{timeline: domain.TimelineBookingCheckedOut, affected: b.Segments}, nil
	})
}

// Cancel отменяет бронь. Сегменты остаются в истории, но перестают держать номер.
func (s *Service) Cancel(ctx context.Context, bookingID string, actor domain.Actor, reason string) (domain.Booking, error) {
	return s.mutate(ctx, OperationCancel, bookingID, actor, func(ctx context.Context, tx domain.Tx, b *domain.Booking) (mutation, error) {
		wasCheckedIn := b.Status == domain.BookingStatusCheckedIn
		if err := transition(b, domain.BookingStatusCancelled); err != nil {
			return mutation{}, err
		}
		if wasCheckedIn {
			if seg, ok := b.SegmentOn(s.now()); ok {
				if err := tx.Rooms().UpdateStatus(ctx, seg.RoomID, domain.RoomStatusDirty); err != nil {
					return mutation{}, fmt.Errorf("mark room dirty: %w", err)
				}
			}
		}
		return mutation{timeline: domain.TimelineBookingCancelled, reason: reason, affected: b.Segments}, nil
	})
}

// MarkNoShow фиксирует неявку. Номер остаётся за бронью до выезда по брони.
func (s *Service) MarkNoShow(ctx context.Context, bookingID string, actor domain.Actor) (domain.Booking, error) {
	return s.mutate(ctx, OperationNoShow, bookingID, actor, func(_ context.Context, _ domain.Tx, b *domain.Booking) (mutation, error) {
		if err := transition(b, domain.BookingStatusNoShow); err != nil {
			return mutation{}, err
		}
		return mutation{timeline: domain.TimelineBookingNoShow, affected: b.Segments}, nil
	})
}

// MoveRoom переносит проживание начиная с ночи from в номер roomID.
// Ночи до from остаются в прежних сегментах, остаток становится одним сегментом на новом номере.
func (s *Service) MoveRoom(ctx context.Context, bookingID, roomID string, from time.Time, actor domain.Actor) (domain.Booking, error) {
	return s.mutate(ctx, OperationMoveRoom, bookingID, actor, func(ctx context.Context, tx domain.Tx, b *domain.Booking) (mutation, error) {
		if b.Status != domain.BookingStatusConfirmed && b.Status != domain.BookingStatusCheckedIn {
			return mutation{}, fmt.Errorf("%w: cannot move room of %s booking", domain.ErrInvalidTransition, b.Status)
		}
		from = domain.Day(from)
		if !b.Stay().Covers(from) {
			return mutation{}, fmt.Errorf("%w: %s is outside stay %s", domain.ErrInvalidStay, domain.FormatDate(from), b.Stay())
		}

		moved := domain.Stay{CheckIn: from, CheckOut: b.CheckOut}
		if _, err := s.checkRoom(ctx, tx, roomID, moved, b.ID); err != nil {
			return mutation{}, err
		}

		before := b.SortedSegments()
		current, _ := b.SegmentOn(from)
		segments := make([]domain.Segment, 0, len(before)+1)
		for _, seg := range before {
			switch {
			case !seg.CheckIn.Before(from):
				continue
			case seg.CheckOut.After(from):
				seg.CheckOut = from
			}
			segments = append(segments, seg)
		}
		segments = append(segments, domain.Segment{
			ID:        uuid.NewString(),
			BookingID: b.ID,
			RoomID:    roomID,
			CheckIn:   from,
			CheckOut:  b.CheckOut,
		})
		b.Segments = segments
		if errs := b.ValidateInvariants(); len(errs) > 0 {
			return mutation{}, errors.Join(errs...)
		}

		if b.Status == domain.BookingStatusCheckedIn && current.RoomID != roomID && !from.After(domain.Day(s.now())) {
			if err := tx.Rooms().UpdateStatus(ctx, current.RoomID, domain.RoomStatusDirty); err != nil {
				return mutation{}, fmt.Errorf("mark previous room dirty: %w", err)
			}
			if err := tx.Rooms().UpdateStatus(ctx, roomID, domain.RoomStatusOccupied); err != nil {
				return mutation{}, fmt.Errorf("mark new room occupied: %w", err)
			}
		}

		reason := fmt.Sprintf("%s -> %s from %s", current.RoomID, roomID, domain.FormatDate(from))
		return mutation{
			timeline: domain.TimelineBookingRoomMoved,
			reason:   reason,
			affected: append(before, segments...),
		}, nil
	})
}

// mutation описывает результат изменения брони внутри транзакции.
type mutation struct {
	timeline string
	reason   string
	affected []domain.Segment
}

type mutateFunc func(ctx context.Context, tx domain.Tx, b *domain.Booking) (mutation, error)

// mutate загружает бронь, применяет fn и сохраняет результат.
// Конфликт версий повторяется с перезагрузкой брони и экспоненциальной паузой.
func (s *Service) mutate(ctx context.Context, operation, bookingID string, actor domain.Actor, fn mutateFunc) (saved domain.Booking, err error) {
	defer func() { s.metrics.RecordBooking(operation, err) }()

	if actor.Empty() {
		return domain.Booking{}, domain.ErrActorRequired
	}

	logger := s.logger.WithFields(log.Fields{
		"booking_id": bookingID,
		"operation":  operation,
	})

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
			b, err := tx.Bookings().Get(ctx, bookingID)
			if err != nil {
				return err
			}

			m, err := fn(ctx, tx, &b)
			if err != nil {
				return err
			}

			now := s.now()
			b.UpdatedAt = now
			if err := tx.Bookings().Save(ctx, b); err != nil {
				return fmt.Errorf("save booking: %w", err)
			}
			b.Version++

			if err := s.appendTimeline(ctx, tx, b.ID, m.timeline, m.reason, actor, now); err != nil {
				return err
			}
			if _, err := s.generator.EnqueueAvailability(ctx, tx, m.affected); err != nil {
				return err
			}
			saved = b
			return nil
		})
		if err == nil {
			logger.WithField("status", saved.Status).Info("booking updated")
			return saved, nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxConflictRetries-1 {
			break
		}

		logger.WithField("attempt", attempt+1).Warn("version conflict detected, retrying")
		delay := conflictBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return domain.Booking{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	logger.WithError(err).Warn("booking mutation failed")
	return domain.Booking{}, err
}

func transition(b *domain.Booking, to domain.BookingStatus) error {
	if !domain.CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	return nil
}

// checkRoom проверяет, что номер существует, продаётся и свободен на stay.
// Сегменты брони ignoreBooking не считаются конфликтом.
func (s *Service) checkRoom(ctx context.Context, tx domain.Tx, roomID string, stay domain.Stay, ignoreBooking string) (domain.Room, error) {
	room, err := tx.Rooms().Get(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if !room.Allocatable() {
		return domain.Room{}, fmt.Errorf("%w: room %s is %s", domain.ErrRoomNotAllocatable, room.Number, room.Status)
	}

	overlapping, err := tx.Bookings().SegmentsOverlapping(ctx, room.ID, stay)
	if err != nil {
		return domain.Room{}, fmt.Errorf("check room %s: %w", room.Number, err)
	}
	for _, seg := range overlapping {
		if seg.BookingID != ignoreBooking {
			return domain.Room{}, fmt.Errorf("%w: room %s %s held by booking %s", domain.ErrRoomConflict, room.Number, seg.Stay(), seg.BookingID)
		}
	}
	return room, nil
}

func (s *Service) appendTimeline(ctx context.Context, tx domain.Tx, bookingID, eventType, reason string, actor domain.Actor, at time.Time) error {
	event := domain.TimelineEvent{
		BookingID: bookingID,
		Type:      eventType,
		Reason:    reason,
		Actor:     actor,
		Occurred:  at,
	}
	if err := tx.Timeline().Append(ctx, event); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}
