package domain

//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks github.com/vladislavdragonenkov/pms/internal/domain ChannelClient,Lease

import (
	"context"
	"time"
)

// Tx открывает репозитории в рамках одной транзакции.
type Tx interface {
	Rooms() RoomRepository
	Bookings() BookingRepository
	Guests() GuestRepository
	Mappings() ChannelMappingRepository
	Inbound() InboundRepository
	Outbound() OutboundRepository
	Folios() FolioRepository
	Timeline() TimelineRepository
}

// UnitOfWork выполняет fn в транзакции: ошибка fn откатывает все записи, nil фиксирует их.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ChannelClient передаёт обновления во внешний канал.
type ChannelClient interface {
	// PushAvailability отправляет доступность по датам.
	PushAvailability(ctx context.Context, updates []AvailabilityUpdate) error
	// PushRates отправляет цены по диапазонам дат.
	PushRates(ctx context.Context, updates []RateUpdate) error
}

// Lease обеспечивает единственного исполнителя цикла синхронизации для ключа.
type Lease interface {
	// TryAcquire не блокируется: ok=false означает, что аренду держит другой процесс.
	// release нужно вызвать по завершении цикла.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Clock возвращает текущее время. В тестах подменяется фиксированным.
type Clock func() time.Time
