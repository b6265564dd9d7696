package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// InboundIntake сохраняет каждое сообщение топика броней как InboundEvent.
// Повтор сообщения с тем же (topic, partition, offset) после падения до коммита offset
// отсекается по ключу доставки.
type InboundIntake struct {
	inbound     domain.InboundRepository
	deliveries  domain.IdempotencyRepository
	channel     string
	deliveryTTL time.Duration
	now         domain.Clock
	logger      *log.Entry
}

// NewInboundIntake создаёт обработчик. deliveries может быть nil, тогда повторы не отсекаются
// и дубли снимает сверка по внешнему id брони.
func NewInboundIntake(inbound domain.InboundRepository, deliveries domain.IdempotencyRepository, channel string, deliveryTTL time.Duration) *InboundIntake {
	if deliveryTTL <= 0 {
		deliveryTTL = 24 * time.Hour
	}
	return &InboundIntake{
		inbound:     inbound,
		deliveries:  deliveries,
		channel:     channel,
		deliveryTTL: deliveryTTL,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.WithField("component", "kafka-inbound-intake"),
	}
}

// Handle реализует MessageHandler.
func (i *InboundIntake) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	channel := i.channelOf(message)
	key := domain.DeliveryKey(channel, fmt.Sprintf("kafka:%s:%d:%d", message.Topic, message.Partition, message.Offset))

	if i.deliveries != nil {
		record, err := i.deliveries.CreateProcessing(ctx, key, domain.RequestHash(message.Value), i.now().Add(i.deliveryTTL))
		switch {
		case err == nil:
		case domain.IsIdempotencyConflict(err) && record.Status == domain.IdempotencyStatusDone:
			i.logger.WithField("delivery_key", key).Debug("message already stored, skipping")
			return nil
		case domain.IsIdempotencyConflict(err):
			// предыдущая попытка не завершилась, сохраняем событие заново
		default:
			return fmt.Errorf("register delivery %s: %w", key, err)
		}
	}

	event, err := i.inbound.Append(ctx, domain.InboundEvent{
		Channel:    channel,
		Payload:    string(message.Value),
		ReceivedAt: i.now(),
	})
	if err != nil {
		if i.deliveries != nil {
			if markErr := i.deliveries.MarkFailed(ctx, key, []byte(err.Error()), 0); markErr != nil {
				i.logger.WithError(markErr).Warn("failed to mark delivery as failed")
			}
		}
		return fmt.Errorf("append inbound event: %w", err)
	}

	if i.deliveries != nil {
		if err := i.deliveries.MarkDone(ctx, key, []byte(event.ID), 0); err != nil {
			i.logger.WithError(err).Warn("failed to mark delivery as done")
		}
	}

	i.logger.WithFields(log.Fields{
		"event_id": event.ID,
		"channel":  channel,
		"offset":   message.Offset,
	}).Debug("inbound event stored from kafka")
	return nil
}

func (i *InboundIntake) channelOf(message *sarama.ConsumerMessage) string {
	if channel := strings.TrimSpace(headerValue(message, HeaderChannel)); channel != "" {
		return channel
	}
	return i.channel
}
