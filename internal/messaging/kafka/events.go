package kafka

import "time"

// MessageType определяет тип ARI-сообщения.
type MessageType string

const (
	MessageTypeAvailability MessageType = "ari.availability"
	MessageTypeRate         MessageType = "ari.rate"
)

// Topics для Kafka
const (
	TopicAvailability        = "pms.ari.availability"
	TopicRates               = "pms.ari.rates"
	TopicInboundReservations = "pms.inbound.reservations"
	TopicDeadLetterQueue     = "pms.inbound.dlq"
)

// Kafka headers
const (
	HeaderChannel       = "x-channel"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// AvailabilityMessage передаёт число свободных номеров на дату.
type AvailabilityMessage struct {
	Type           MessageType `json:"type"`
	Channel        string      `json:"channel"`
	ExternalRoomID string      `json:"external_room_id"`
	Date           string      `json:"date"`
	Available      int         `json:"available"`
	Timestamp      time.Time   `json:"timestamp"`
}

// RateMessage передаёт цену тарифа на диапазон дат. Amount хранится десятичной строкой.
type RateMessage struct {
	Type               MessageType `json:"type"`
	Channel            string      `json:"channel"`
	ExternalRoomID     string      `json:"external_room_id"`
	ExternalRatePlanID string      `json:"external_rate_plan_id"`
	DateFrom           string      `json:"date_from"`
	DateTo             string      `json:"date_to"`
	Amount             string      `json:"amount"`
	Currency           string      `json:"currency"`
	Timestamp          time.Time   `json:"timestamp"`
}

// DeadLetter описывает входящее сообщение, которое не удалось сохранить.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Channel           string    `json:"channel,omitempty"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	Attempts          int       `json:"attempts"`
}
