// Package config загружает настройки сервиса из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Бэкенды аренды канала.
const (
	LeaseNone     = "none"
	LeaseMemory   = "memory"
	LeasePostgres = "postgres"
	LeaseRedis    = "redis"
)

// Транспорты передачи обновлений в канал.
const (
	TransportLog   = "log"
	TransportHTTP  = "http"
	TransportKafka = "kafka"
)

// Config описывает все настройки channel-sync.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Lease   LeaseConfig
	Channel ChannelConfig
	Kafka   KafkaConfig
	Sync    SyncConfig
	Webhook WebhookConfig
	Log     LogConfig
}

type ServerConfig struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

type StorageConfig struct {
	Driver      string `envconfig:"STORAGE_DRIVER" default:"memory"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	AutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

type LeaseConfig struct {
	Backend   string        `envconfig:"LEASE_BACKEND" default:"memory"`
	TTL       time.Duration `envconfig:"LEASE_TTL" default:"30s"`
	RedisAddr string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
}

type ChannelConfig struct {
	ID               string  `envconfig:"CHANNEL_ID" default:"booking.com"`
	Transport        string  `envconfig:"CHANNEL_TRANSPORT" default:"log"`
	Endpoint         string  `envconfig:"CHANNEL_ENDPOINT"`
	APIKey           string  `envconfig:"CHANNEL_API_KEY"`
	RateLimit        float64 `envconfig:"CHANNEL_RATE_LIMIT" default:"5"`
	FallbackRatePlan string  `envconfig:"CHANNEL_FALLBACK_RATE_PLAN" default:"STANDARD"`
	Currency         string  `envconfig:"CHANNEL_CURRENCY" default:"EUR"`
	// BreakerFailures задаёт число подряд неудачных вызовов до размыкания. 0 отключает защиту.
	BreakerFailures int           `envconfig:"CHANNEL_BREAKER_FAILURES" default:"5"`
	BreakerReset    time.Duration `envconfig:"CHANNEL_BREAKER_RESET" default:"30s"`
}

type KafkaConfig struct {
	Brokers           []string `envconfig:"KAFKA_BROKERS"`
	GroupID           string   `envconfig:"KAFKA_GROUP_ID" default:"pms-channel-sync"`
	InboundTopic      string   `envconfig:"KAFKA_INBOUND_TOPIC"`
	AvailabilityTopic string   `envconfig:"KAFKA_AVAILABILITY_TOPIC" default:"pms.ari.availability"`
	RatesTopic        string   `envconfig:"KAFKA_RATES_TOPIC" default:"pms.ari.rates"`
	MaxRetries        int      `envconfig:"KAFKA_MAX_RETRIES" default:"3"`
}

type SyncConfig struct {
	InboundPollInterval  time.Duration `envconfig:"INBOUND_POLL_INTERVAL" default:"10s"`
	InboundBatchSize     int           `envconfig:"INBOUND_BATCH_SIZE" default:"50"`
	OutboundPollInterval time.Duration `envconfig:"OUTBOUND_POLL_INTERVAL" default:"10s"`
	OutboundBatchSize    int           `envconfig:"OUTBOUND_BATCH_SIZE" default:"10"`
	OutboundMaxAttempts  int           `envconfig:"OUTBOUND_MAX_ATTEMPTS" default:"3"`
	OutboundRetryDelay   time.Duration `envconfig:"OUTBOUND_RETRY_DELAY" default:"50ms"`
	MaxBacklogAge        time.Duration `envconfig:"MAX_BACKLOG_AGE" default:"15m"`
}

type WebhookConfig struct {
	Secret           string        `envconfig:"WEBHOOK_SECRET"`
	MaxBodyBytes     int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	DeliveryTTL      time.Duration `envconfig:"WEBHOOK_DELIVERY_TTL" default:"24h"`
	CleanupInterval  time.Duration `envconfig:"WEBHOOK_CLEANUP_INTERVAL" default:"10m"`
	CleanupBatchSize int           `envconfig:"WEBHOOK_CLEANUP_BATCH_SIZE" default:"500"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig читает конфигурацию из окружения и проверяет её.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.Storage.Driver))
	}

	switch c.Lease.Backend {
	case LeaseNone, LeaseMemory, LeaseRedis:
	case LeasePostgres:
		if c.Storage.Driver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres lease requires postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported lease backend %q", c.Lease.Backend))
	}

	switch c.Channel.Transport {
	case TransportLog:
	case TransportHTTP:
		if strings.TrimSpace(c.Channel.Endpoint) == "" {
			errs = append(errs, errors.New("CHANNEL_ENDPOINT is required for http transport"))
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported channel transport %q", c.Channel.Transport))
	}

	if c.Channel.BreakerFailures < 0 {
		errs = append(errs, errors.New("CHANNEL_BREAKER_FAILURES must be >= 0"))
	}
	if c.Channel.BreakerFailures > 0 && c.Channel.BreakerReset <= 0 {
		errs = append(errs, errors.New("CHANNEL_BREAKER_RESET must be > 0"))
	}
	if strings.TrimSpace(c.Channel.ID) == "" {
		errs = append(errs, errors.New("CHANNEL_ID is required"))
	}
	if c.Kafka.InboundTopic != "" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_INBOUND_TOPIC is set"))
	}

	return errors.Join(errs...)
}

// LogLevel возвращает уровень logrus. Неизвестное значение даёт info.
func (c Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// NewTestConfig возвращает конфигурацию для тестов: память, dry-run транспорт, случайные порты.
func NewTestConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:    "127.0.0.1:0",
			GRPCAddr:    "127.0.0.1:0",
			MetricsAddr: "127.0.0.1:0",
		},
		Storage: StorageConfig{Driver: StorageDriverMemory},
		Lease:   LeaseConfig{Backend: LeaseMemory, TTL: 30 * time.Second},
		Channel: ChannelConfig{
			ID:               "booking.com",
			Transport:        TransportLog,
			RateLimit:        5,
			FallbackRatePlan: "STANDARD",
			Currency:         "EUR",
		},
		Kafka: KafkaConfig{GroupID: "pms-channel-sync-test", MaxRetries: 3},
		Sync: SyncConfig{
			InboundPollInterval:  100 * time.Millisecond,
			InboundBatchSize:     50,
			OutboundPollInterval: 100 * time.Millisecond,
			OutboundBatchSize:    10,
			OutboundMaxAttempts:  3,
			OutboundRetryDelay:   time.Millisecond,
			MaxBacklogAge:        15 * time.Minute,
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:     1 << 20,
			DeliveryTTL:      24 * time.Hour,
			CleanupInterval:  time.Minute,
			CleanupBatchSize: 100,
		},
		Log: LogConfig{Level: "error"},
	}
}
