package domain

import "time"

// ChannelRoomMapping связывает категорию номеров с типом номера и тарифом во внешнем канале.
type ChannelRoomMapping struct {
	ID                 string
	Channel            string
	Category           string
	ExternalRoomID     string
	ExternalRatePlanID string
	Active             bool
	CreatedAt          time.Time
}

// AvailabilityUpdate передаёт каналу число свободных номеров на одну дату.
type AvailabilityUpdate struct {
	ExternalRoomID string
	Date           time.Time
	Available      int
}

// RateUpdate передаёт каналу цену тарифа на диапазон дат.
type RateUpdate struct {
	ExternalRoomID     string
	ExternalRatePlanID string
	StartDate          time.Time
	EndDate            time.Time
	AmountMinor        int64
	Currency           string
}
