package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "pms"

// Producer синхронно публикует JSON-сообщения; запись подтверждается всеми репликами.
type Producer struct {
	sync sarama.SyncProducer
	log  *log.Entry
	now  func() time.Time
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer требует одного запроса в полёте
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к brokers.
func NewProducer(brokers []string) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return newProducer(sp), nil
}

func newProducer(sp sarama.SyncProducer) *Producer {
	return &Producer{
		sync: sp,
		log:  log.WithField("component", "kafka-producer"),
		now:  time.Now,
	}
}

// Encode упаковывает value в сообщение topic с ключом партиционирования key.
func (p *Producer) Encode(topic, key string, value any) (*sarama.ProducerMessage, error) {
	return encodeMessage(topic, key, value, p.now())
}

// Publish отправляет msgs. Для пачки ошибка возвращается, если не ушло хотя бы одно сообщение.
func (p *Producer) Publish(msgs ...*sarama.ProducerMessage) error {
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		msg := msgs[0]
		partition, offset, err := p.sync.SendMessage(msg)
		entry := p.log.WithField("topic", msg.Topic)
		if err != nil {
			entry.WithError(err).Error("kafka publish failed")
			return fmt.Errorf("publish to %s: %w", msg.Topic, err)
		}
		entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message published")
		return nil
	}

	if err := p.sync.SendMessages(msgs); err != nil {
		failed := len(msgs)
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			failed = len(perrs)
		}
		p.log.WithError(err).WithFields(log.Fields{"messages": len(msgs), "failed": failed}).Error("kafka batch publish failed")
		return fmt.Errorf("publish batch: %d of %d messages failed: %w", failed, len(msgs), err)
	}
	p.log.WithField("messages", len(msgs)).Debug("kafka batch published")
	return nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func encodeMessage(topic, key string, value any, at time.Time) (*sarama.ProducerMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s message %q: %w", topic, key, err)
	}
	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(raw),
		Timestamp: at,
	}, nil
}
