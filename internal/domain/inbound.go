package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InboundEvent хранит сырое уведомление канала до его сверки с локальными бронями.
// Payload не интерпретируется при записи.
type InboundEvent struct {
	ID          string
	Channel     string
	Payload     string
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt time.Time
	Error       string
}

// InboundStats описывает текущее состояние очереди входящих событий.
type InboundStats struct {
	UnprocessedCount    int
	ErroredCount        int
	OldestUnprocessedAt time.Time
}

// ExternalGuest содержит данные гостя из payload канала.
type ExternalGuest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	AliasEmail string `json:"alias_email"`
}

// ExternalRoom содержит идентификаторы типа номера и тарифа в терминах канала.
type ExternalRoom struct {
	RoomID     string `json:"room_id"`
	RatePlanID string `json:"rate_plan_id"`
}

// ExternalBooking описывает разобранную бронь из канала.
type ExternalBooking struct {
	ReservationID    string
	Guest            ExternalGuest
	Room             ExternalRoom
	Stay             Stay
	TotalAmountMinor int64
	Currency         string
}

type externalBookingWire struct {
	ReservationID string          `json:"reservation_id"`
	Guest         ExternalGuest   `json:"guest"`
	Room          ExternalRoom    `json:"room"`
	CheckIn       string          `json:"check_in"`
	CheckOut      string          `json:"check_out"`
	TotalAmount   json.RawMessage `json:"total_amount"`
	Currency      string          `json:"currency"`
}

// ParseExternalBooking разбирает payload канала.
// total_amount принимается и строкой, и числом; отсутствие суммы означает ноль.
func ParseExternalBooking(payload string) (ExternalBooking, error) {
	var wire externalBookingWire
	dec := json.NewDecoder(strings.NewReader(payload))
	if err := dec.Decode(&wire); err != nil {
		return ExternalBooking{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}

	var missing []string
	if strings.TrimSpace(wire.ReservationID) == "" {
		missing = append(missing, "reservation_id")
	}
	if strings.TrimSpace(wire.Room.RoomID) == "" {
		missing = append(missing, "room.room_id")
	}
	if strings.TrimSpace(wire.Guest.AliasEmail) == "" {
		missing = append(missing, "guest.alias_email")
	}
	if strings.TrimSpace(wire.CheckIn) == "" {
		missing = append(missing, "check_in")
	}
	if strings.TrimSpace(wire.CheckOut) == "" {
		missing = append(missing, "check_out")
	}
	if len(missing) > 0 {
		return ExternalBooking{}, fmt.Errorf("%w: missing %s", ErrPayloadMalformed, strings.Join(missing, ", "))
	}

	checkIn, err := ParseDate(wire.CheckIn)
	if err != nil {
		return ExternalBooking{}, fmt.Errorf("%w: check_in: %v", ErrPayloadMalformed, err)
	}
	checkOut, err := ParseDate(wire.CheckOut)
	if err != nil {
		return ExternalBooking{}, fmt.Errorf("%w: check_out: %v", ErrPayloadMalformed, err)
	}
	stay, err := NewStay(checkIn, checkOut)
	if err != nil {
		return ExternalBooking{}, err
	}

	amount, err := parseRawAmount(wire.TotalAmount)
	if err != nil {
		return ExternalBooking{}, fmt.Errorf("%w: total_amount: %v", ErrPayloadMalformed, err)
	}

	wire.Guest.AliasEmail = NormalizeEmail(wire.Guest.AliasEmail)

	return ExternalBooking{
		ReservationID:    strings.TrimSpace(wire.ReservationID),
		Guest:            wire.Guest,
		Room:             wire.Room,
		Stay:             stay,
		TotalAmountMinor: amount,
		Currency:         strings.ToUpper(strings.TrimSpace(wire.Currency)),
	}, nil
}

func parseRawAmount(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return ParseMinor(s)
	}
	// число разбираем как десятичный литерал без перехода через float.
	return ParseMinor(string(raw))
}
