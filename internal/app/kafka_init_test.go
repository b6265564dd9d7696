package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pms/internal/config"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

func TestNormalizeBrokers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "nil", in: nil, want: []string{}},
		{name: "blank", in: []string{" ", ""}, want: []string{}},
		{name: "spaces", in: []string{"broker1:9092", " broker2:9092 "}, want: []string{"broker1:9092", "broker2:9092"}},
		{name: "comma separated", in: []string{"broker1:9092, broker2:9092,"}, want: []string{"broker1:9092", "broker2:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, normalizeBrokers(tt.in))
		})
	}
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer(nil, logger)
	require.NoError(t, err)
	require.Nil(t, producer)

	producer, err = initKafkaProducer([]string{" "}, logger)
	require.NoError(t, err)
	require.Nil(t, producer)
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer([]string{"broker1:9092, broker2:9092"}, logger)
	require.Error(t, err)
	require.Nil(t, producer)
}

func TestCloseKafkaProducer_Nil(_ *testing.T) {
	closeKafkaProducer(nil, log.WithField("test", "kafka"))
}

func TestInitInboundConsumer_NoTopic(t *testing.T) {
	cfg := config.NewTestConfig()
	store := memory.NewStore()

	consumer, err := initInboundConsumer(cfg, store.Inbound(), memory.NewIdempotencyRepository(), nil, log.WithField("test", "kafka"))
	require.NoError(t, err)
	require.Nil(t, consumer)

	stopKafkaConsumer(nil, log.WithField("test", "kafka"))
}

func TestInitInboundConsumer_UnreachableBrokers(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Kafka.InboundTopic = "pms.inbound.reservations"
	store := memory.NewStore()

	consumer, err := initInboundConsumer(cfg, store.Inbound(), nil, nil, log.WithField("test", "kafka"))
	require.Error(t, err)
	require.Nil(t, consumer)
}
