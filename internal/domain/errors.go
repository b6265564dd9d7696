package domain

import "errors"

var (
	// Ошибка отсутствующего гостя у брони.
	ErrGuestRequired = errors.New("guest_id is required")
	// Ошибка отсутствующего номера в сегменте.
	ErrRoomRequired = errors.New("room_id is required")
	// Ошибка пустого номера комнаты.
	ErrRoomNumberRequired = errors.New("room number is required")
	// Ошибка пустой категории.
	ErrCategoryRequired = errors.New("category is required")
	// Ошибка пустого канала.
	ErrChannelRequired = errors.New("channel is required")
	// Ошибка отрицательной суммы.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка кода валюты не из трёх букв.
	ErrCurrencyInvalid = errors.New("currency must be a 3-letter code")
	// Ошибка неизвестного статуса номера.
	ErrRoomStatusInvalid = errors.New("room status is invalid")
	// Ошибка неизвестного статуса брони.
	ErrBookingStatusInvalid = errors.New("booking status is invalid")
	// Ошибка брони без сегментов.
	ErrSegmentsRequired = errors.New("booking must contain at least one segment")
	// Сегменты не покрывают проживание непрерывно.
	ErrSegmentsNotContiguous = errors.New("segments must cover the stay without gaps or overlaps")

	// ErrInvalidDate возвращается при неразборчивой дате.
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidStay возвращается, если выезд не позже заезда.
	ErrInvalidStay = errors.New("check-out must be after check-in")
	// ErrInvalidAmount возвращается при неразборчивой денежной сумме.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrPayloadMalformed означает, что payload события не удалось разобрать.
	ErrPayloadMalformed = errors.New("payload malformed")
	// ErrUnknownEventType означает неподдерживаемый тип исходящего события.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrRoomNotFound возвращается, если номер не найден.
	ErrRoomNotFound = errors.New("room not found")
	// ErrBookingNotFound возвращается, если бронь не найдена.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrGuestNotFound возвращается, если гость не найден.
	ErrGuestNotFound = errors.New("guest not found")
	// ErrMappingNotFound возвращается, если для внешнего номера или категории нет активного маппинга.
	ErrMappingNotFound = errors.New("channel room mapping not found")
	// ErrInboundEventNotFound возвращается, если входящее событие не найдено.
	ErrInboundEventNotFound = errors.New("inbound event not found")
	// ErrOutboundEventNotFound возвращается, если исходящее событие не найдено.
	ErrOutboundEventNotFound = errors.New("outbound event not found")
	// ErrFolioNotFound возвращается, если счёт не найден.
	ErrFolioNotFound = errors.New("folio not found")

	// ErrNoRoomAvailable означает, что в категории нет номера, свободного на весь период.
	ErrNoRoomAvailable = errors.New("no room available for the requested stay")
	// ErrRoomConflict означает пересечение сегментов одного номера.
	ErrRoomConflict = errors.New("room already booked for overlapping dates")
	// ErrRoomNotAllocatable означает, что номер в ремонте или заблокирован.
	ErrRoomNotAllocatable = errors.New("room is not allocatable")
	// ErrDuplicateReservation означает, что бронь канала уже создана.
	ErrDuplicateReservation = errors.New("external reservation already booked")
	// ErrDuplicateMapping означает, что маппинг для внешнего номера уже существует.
	ErrDuplicateMapping = errors.New("channel room mapping already exists")
	// ErrDuplicateGuest означает, что гость с таким alias email уже существует.
	ErrDuplicateGuest = errors.New("guest alias email already exists")
	// ErrDuplicateRoomNumber означает повтор номера комнаты.
	ErrDuplicateRoomNumber = errors.New("room number already exists")
	// ErrInvalidTransition означает недопустимую смену статуса брони.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrBookingVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrBookingVersionConflict = errors.New("booking version conflict")
	// ErrActorRequired означает отсутствие инициатора изменения.
	ErrActorRequired = errors.New("actor is required")

	// ErrChannelTransient означает временный сбой канала, повтор допустим.
	ErrChannelTransient = errors.New("channel temporary error")
	// ErrChannelUnavailable означает, что вызов канала не выполнялся: защита от каскадных сбоев открыта.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrChannelRejected означает, что канал отверг обновление.
	ErrChannelRejected = errors.New("channel rejected update")
	// ErrLeaseHeld означает, что цикл синхронизации канала уже выполняет другой процесс.
	ErrLeaseHeld = errors.New("channel lease is held by another worker")

	// ErrIdempotencyKeyRequired означает пустой ключ доставки.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired означает пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists означает повторную доставку с тем же ключом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch означает, что ключ переиспользован с другим телом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyKeyNotFound возвращается, если ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrBookingVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (повтор или чужое тело).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsConflict объединяет конфликты инвентаря: пересечение, дубль брони канала, устаревшая версия.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoomConflict) ||
		errors.Is(err, ErrDuplicateReservation) ||
		errors.Is(err, ErrBookingVersionConflict)
}
