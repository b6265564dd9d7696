package domain

import (
	"context"
	"time"
)

// RoomRepository описывает требования к хранилищу номеров.
type RoomRepository interface {
	// Create сохраняет номер. Повтор номера комнаты даёт ErrDuplicateRoomNumber.
	Create(ctx context.Context, room Room) error
	// Get возвращает номер или ErrRoomNotFound.
	Get(ctx context.Context, id string) (Room, error)
	// List возвращает все номера, упорядоченные по номеру комнаты.
	List(ctx context.Context) ([]Room, error)
	// ListByCategory возвращает номера категории, упорядоченные по номеру комнаты.
	ListByCategory(ctx context.Context, category string) ([]Room, error)
	// UpdateStatus меняет операционный статус номера.
	UpdateStatus(ctx context.Context, id string, status RoomStatus) error
}

// BookingRepository описывает требования к хранилищу броней и их сегментов.
type BookingRepository interface {
	// Create сохраняет бронь вместе с сегментами.
	// Пересечение с сегментом другой активной брони того же номера даёт ErrRoomConflict,
	// повтор (канал, внешний id) даёт ErrDuplicateReservation.
	Create(ctx context.Context, booking Booking) error
	// Get возвращает бронь с сегментами или ErrBookingNotFound.
	Get(ctx context.Context, id string) (Booking, error)
	// FindByExternalID ищет бронь канала по внешнему идентификатору.
	FindByExternalID(ctx context.Context, channel, externalID string) (Booking, error)
	// Save применяет изменения с optimistic locking и заменяет набор сегментов.
	Save(ctx context.Context, booking Booking) error
	// SegmentsOverlapping возвращает сегменты активных броней номера, пересекающие stay.
	SegmentsOverlapping(ctx context.Context, roomID string, stay Stay) ([]Segment, error)
	// CategorySegments возвращает сегменты активных броней на номерах категории,
	// пересекающие даты [from, to] включительно.
	CategorySegments(ctx context.Context, category string, from, to time.Time) ([]Segment, error)
}

// GuestRepository описывает требования к хранилищу гостей.
type GuestRepository interface {
	// Create сохраняет гостя. Повтор alias email даёт ErrDuplicateGuest.
	Create(ctx context.Context, guest Guest) error
	Get(ctx context.Context, id string) (Guest, error)
	// FindByAliasEmail возвращает гостя или ErrGuestNotFound.
	FindByAliasEmail(ctx context.Context, alias string) (Guest, error)
}

// ChannelMappingRepository описывает требования к таблице соответствий канала.
type ChannelMappingRepository interface {
	// Create сохраняет маппинг. Повтор (канал, внешний номер, тариф) даёт ErrDuplicateMapping.
	Create(ctx context.Context, mapping ChannelRoomMapping) error
	// FindByExternalRoom возвращает активный маппинг внешнего типа номера.
	FindByExternalRoom(ctx context.Context, channel, externalRoomID string) (ChannelRoomMapping, error)
	// FindByCategory возвращает активный маппинг категории. При нескольких выбирается самый ранний.
	FindByCategory(ctx context.Context, channel, category string) (ChannelRoomMapping, error)
	// List возвращает маппинги канала.
	List(ctx context.Context, channel string) ([]ChannelRoomMapping, error)
}

// InboundRepository хранит входящие события канала. События никогда не удаляются.
type InboundRepository interface {
	// Append сохраняет необработанное событие.
	Append(ctx context.Context, event InboundEvent) (InboundEvent, error)
	Get(ctx context.Context, id string) (InboundEvent, error)
	// PullUnprocessed возвращает до limit необработанных событий канала, старые первыми.
	PullUnprocessed(ctx context.Context, channel string, limit int) ([]InboundEvent, error)
	// MarkProcessed отмечает событие обработанным и очищает ошибку.
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// RecordError сохраняет текст ошибки, событие остаётся необработанным.
	RecordError(ctx context.Context, id string, message string) error
	Stats(ctx context.Context, channel string) (InboundStats, error)
}

// OutboundRepository хранит исходящие события. События никогда не удаляются.
type OutboundRepository interface {
	// Enqueue сохраняет pending-событие.
	Enqueue(ctx context.Context, event OutboundEvent) (OutboundEvent, error)
	Get(ctx context.Context, id string) (OutboundEvent, error)
	// PullPending возвращает до limit pending-событий, старые первыми.
	PullPending(ctx context.Context, limit int) ([]OutboundEvent, error)
	// MarkProcessed переводит событие в processed.
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// MarkFailed переводит событие в failed, сохраняет ошибку и увеличивает RetryCount.
	MarkFailed(ctx context.Context, id string, message string) error
	// Requeue возвращает failed-событие в pending.
	Requeue(ctx context.Context, id string) error
	// ListFailed возвращает до limit failed-событий, старые первыми.
	ListFailed(ctx context.Context, limit int) ([]OutboundEvent, error)
	Stats(ctx context.Context) (OutboundStats, error)
}

// FolioRepository хранит счета.
type FolioRepository interface {
	Open(ctx context.Context, folio Folio) error
	Get(ctx context.Context, id string) (Folio, error)
	// ListByReservation возвращает гостевые счета брони.
	ListByReservation(ctx context.Context, bookingID string) ([]Folio, error)
}

// TimelineRepository хранит события жизненного цикла брони.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, bookingID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние приёма доставок по ключу.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
