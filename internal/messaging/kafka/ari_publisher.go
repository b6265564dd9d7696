package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// ARIPublisher публикует обновления доступности и цен в Kafka вместо прямого вызова канала.
// Сообщения одного типа номера попадают в одну партицию: ключом служит внешний id номера.
type ARIPublisher struct {
	producer          *Producer
	channel           string
	availabilityTopic string
	ratesTopic        string
	now               func() time.Time
}

// NewARIPublisher создаёт Kafka-реализацию ChannelClient. Пустые топики заменяются стандартными.
func NewARIPublisher(producer *Producer, channel, availabilityTopic, ratesTopic string) *ARIPublisher {
	if strings.TrimSpace(availabilityTopic) == "" {
		availabilityTopic = TopicAvailability
	}
	if strings.TrimSpace(ratesTopic) == "" {
		ratesTopic = TopicRates
	}
	return &ARIPublisher{
		producer:          producer,
		channel:           channel,
		availabilityTopic: availabilityTopic,
		ratesTopic:        ratesTopic,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (p *ARIPublisher) PushAvailability(ctx context.Context, updates []domain.AvailabilityUpdate) error {
	at := p.now()
	msgs := make([]*sarama.ProducerMessage, 0, len(updates))
	for _, u := range updates {
		msg, err := encodeMessage(p.availabilityTopic, u.ExternalRoomID, AvailabilityMessage{
			Type:           MessageTypeAvailability,
			Channel:        p.channel,
			ExternalRoomID: u.ExternalRoomID,
			Date:           domain.FormatDate(u.Date),
			Available:      u.Available,
			Timestamp:      at,
		}, at)
		if err != nil {
			return err
		}
		msgs = append(msgs, p.withChannel(msg))
	}
	return p.publish(ctx, msgs)
}

func (p *ARIPublisher) PushRates(ctx context.Context, updates []domain.RateUpdate) error {
	at := p.now()
	msgs := make([]*sarama.ProducerMessage, 0, len(updates))
	for _, u := range updates {
		msg, err := encodeMessage(p.ratesTopic, u.ExternalRoomID, RateMessage{
			Type:               MessageTypeRate,
			Channel:            p.channel,
			ExternalRoomID:     u.ExternalRoomID,
			ExternalRatePlanID: u.ExternalRatePlanID,
			DateFrom:           domain.FormatDate(u.StartDate),
			DateTo:             domain.FormatDate(u.EndDate),
			Amount:             domain.FormatMinor(u.AmountMinor),
			Currency:           u.Currency,
			Timestamp:          at,
		}, at)
		if err != nil {
			return err
		}
		msgs = append(msgs, p.withChannel(msg))
	}
	return p.publish(ctx, msgs)
}

func (p *ARIPublisher) withChannel(msg *sarama.ProducerMessage) *sarama.ProducerMessage {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(HeaderChannel), Value: []byte(p.channel)})
	return msg
}

func (p *ARIPublisher) publish(ctx context.Context, msgs []*sarama.ProducerMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka ari publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.producer.Publish(msgs...); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelTransient, err)
	}
	return nil
}

var _ domain.ChannelClient = (*ARIPublisher)(nil)
