package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/config"
	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
)

// normalizeBrokers убирает пробелы и пустые адреса.
func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		for _, part := range strings.Split(broker, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// initKafkaProducer создаёт producer, если заданы brokers.
// Пустой список даёт nil, nil.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := normalizeBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// initInboundConsumer подписывается на топик входящих броней, если он задан.
// Сообщения, не сохранённые за MaxRetries попыток, уходят в DLQ через dlq producer.
func initInboundConsumer(cfg config.Config, inbound domain.InboundRepository, deliveries domain.IdempotencyRepository, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	topic := strings.TrimSpace(cfg.Kafka.InboundTopic)
	if topic == "" {
		return nil, nil
	}

	intake := kafka.NewInboundIntake(inbound, deliveries, cfg.Channel.ID, cfg.Webhook.DeliveryTTL)
	consumer, err := kafka.NewConsumer(normalizeBrokers(cfg.Kafka.Brokers), intake.Handle, kafka.ConsumerOptions{
		GroupID:     cfg.Kafka.GroupID,
		Topics:      []string{topic},
		MaxRetries:  cfg.Kafka.MaxRetries,
		DeadLetters: dlq,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"topic":    topic,
		"group_id": cfg.Kafka.GroupID,
	}).Info("kafka inbound consumer initialized")
	return consumer, nil
}

// stopKafkaConsumer останавливает consumer, если он не nil.
func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
