package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа доставки вебхука.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что доставка принята и ещё записывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что событие записано и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что запись завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит результат приёма доставки с заданным ключом.
// Повторная доставка с тем же ключом и телом получает сохранённый ответ,
// и в inbound store не появляется второе событие.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// DeliveryKey строит ключ идемпотентности из канала и идентификатора доставки.
func DeliveryKey(channel, deliveryID string) string {
	return strings.TrimSpace(channel) + ":" + strings.TrimSpace(deliveryID)
}

// RequestHash возвращает sha256 тела запроса в hex.
func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
