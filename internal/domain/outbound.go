package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OutboundEventType различает виды исходящих уведомлений.
type OutboundEventType string

const (
	// OutboundAvailabilityUpdate просит пересчитать и отправить доступность категории.
	OutboundAvailabilityUpdate OutboundEventType = "availability_update"
	// OutboundRateUpdate просит отправить цену категории.
	OutboundRateUpdate OutboundEventType = "rate_update"
)

// OutboundStatus описывает состояние исходящего события.
type OutboundStatus string

const (
	OutboundStatusPending   OutboundStatus = "pending"
	OutboundStatusProcessed OutboundStatus = "processed"
	OutboundStatusFailed    OutboundStatus = "failed"
)

// OutboundEvent хранит намерение отправить обновление во все подключённые каналы.
type OutboundEvent struct {
	ID          string
	Type        OutboundEventType
	Payload     []byte
	Status      OutboundStatus
	Error       string
	RetryCount  int
	CreatedAt   time.Time
	ProcessedAt time.Time
}

// OutboundStats описывает текущее состояние backlog исходящих событий.
type OutboundStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// AvailabilityPayload задаёт категорию и диапазон дат [StartDate, EndDate] включительно.
type AvailabilityPayload struct {
	Category  string
	StartDate time.Time
	EndDate   time.Time
}

type availabilityWire struct {
	Category  string `json:"category"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// RatePayload задаёт цену категории на диапазон дат.
type RatePayload struct {
	Category    string
	StartDate   time.Time
	EndDate     time.Time
	AmountMinor int64
	Currency    string
}

type rateWire struct {
	Category  string `json:"category"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// NewAvailabilityEvent собирает pending-событие на пересчёт доступности.
func NewAvailabilityEvent(category string, start, end time.Time) (OutboundEvent, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return OutboundEvent{}, ErrCategoryRequired
	}
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return OutboundEvent{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidStay, FormatDate(end), FormatDate(start))
	}

	payload, err := json.Marshal(availabilityWire{
		Category:  category,
		StartDate: FormatDate(start),
		EndDate:   FormatDate(end),
	})
	if err != nil {
		return OutboundEvent{}, fmt.Errorf("marshal availability payload: %w", err)
	}

	return OutboundEvent{
		Type:    OutboundAvailabilityUpdate,
		Payload: payload,
		Status:  OutboundStatusPending,
	}, nil
}

// AvailabilityPayload разбирает payload события доступности.
func (e OutboundEvent) AvailabilityPayload() (AvailabilityPayload, error) {
	if e.Type != OutboundAvailabilityUpdate {
		return AvailabilityPayload{}, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
	}
	var wire availabilityWire
	if err := json.Unmarshal(e.Payload, &wire); err != nil {
		return AvailabilityPayload{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	if strings.TrimSpace(wire.Category) == "" {
		return AvailabilityPayload{}, fmt.Errorf("%w: missing category", ErrPayloadMalformed)
	}
	start, err := ParseDate(wire.StartDate)
	if err != nil {
		return AvailabilityPayload{}, fmt.Errorf("%w: start_date: %v", ErrPayloadMalformed, err)
	}
	end, err := ParseDate(wire.EndDate)
	if err != nil {
		return AvailabilityPayload{}, fmt.Errorf("%w: end_date: %v", ErrPayloadMalformed, err)
	}
	return AvailabilityPayload{Category: wire.Category, StartDate: start, EndDate: end}, nil
}

// NewRateEvent собирает pending-событие на отправку цены.
func NewRateEvent(p RatePayload) (OutboundEvent, error) {
	if strings.TrimSpace(p.Category) == "" {
		return OutboundEvent{}, ErrCategoryRequired
	}
	if p.AmountMinor < 0 {
		return OutboundEvent{}, ErrAmountNegative
	}
	if len(strings.TrimSpace(p.Currency)) != 3 {
		return OutboundEvent{}, ErrCurrencyInvalid
	}
	start, end := Day(p.StartDate), Day(p.EndDate)
	if end.Before(start) {
		return OutboundEvent{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidStay, FormatDate(end), FormatDate(start))
	}

	payload, err := json.Marshal(rateWire{
		Category:  strings.TrimSpace(p.Category),
		StartDate: FormatDate(start),
		EndDate:   FormatDate(end),
		Amount:    FormatMinor(p.AmountMinor),
		Currency:  strings.ToUpper(strings.TrimSpace(p.Currency)),
	})
	if err != nil {
		return OutboundEvent{}, fmt.Errorf("marshal rate payload: %w", err)
	}

	return OutboundEvent{
		Type:    OutboundRateUpdate,
		Payload: payload,
		Status:  OutboundStatusPending,
	}, nil
}

// RatePayload разбирает payload события цены.
func (e OutboundEvent) RatePayload() (RatePayload, error) {
	if e.Type != OutboundRateUpdate {
		return RatePayload{}, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
	}
	var wire rateWire
	if err := json.Unmarshal(e.Payload, &wire); err != nil {
		return RatePayload{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	start, err := ParseDate(wire.StartDate)
	if err != nil {
		return RatePayload{}, fmt.Errorf("%w: start_date: %v", ErrPayloadMalformed, err)
	}
	end, err := ParseDate(wire.EndDate)
	if err != nil {
		return RatePayload{}, fmt.Errorf("%w: end_date: %v", ErrPayloadMalformed, err)
	}
	amount, err := ParseMinor(wire.Amount)
	if err != nil {
		return RatePayload{}, fmt.Errorf("%w: amount: %v", ErrPayloadMalformed, err)
	}
	return RatePayload{
		Category:    wire.Category,
		StartDate:   start,
		EndDate:     end,
		AmountMinor: amount,
		Currency:    wire.Currency,
	}, nil
}
