package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/channel"
	"github.com/vladislavdragonenkov/pms/internal/config"
	"github.com/vladislavdragonenkov/pms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pms/internal/health"
	"github.com/vladislavdragonenkov/pms/internal/lease"
	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
)

// createChannelClient выбирает транспорт исходящих обновлений.
// Для kafka нужен уже созданный producer.
func createChannelClient(cfg config.Config, producer *kafka.Producer, logger *log.Entry) (domain.ChannelClient, error) {
	switch cfg.Channel.Transport {
	case "", config.TransportLog:
		return channel.NewLogClient(logger.WithField("transport", config.TransportLog)), nil

	case config.TransportHTTP:
		client, err := channel.NewHTTPClient(cfg.Channel.Endpoint, cfg.Channel.ID, channel.HTTPOptions{
			APIKey:     cfg.Channel.APIKey,
			RatePerSec: cfg.Channel.RateLimit,
			Logger:     logger.WithField("transport", config.TransportHTTP),
		})
		if err != nil {
			return nil, fmt.Errorf("create channel http client: %w", err)
		}
		return withBreaker(cfg, client, logger), nil

	case config.TransportKafka:
		if producer == nil {
			return nil, errors.New("kafka transport requires a kafka producer")
		}
		publisher := kafka.NewARIPublisher(producer, cfg.Channel.ID, cfg.Kafka.AvailabilityTopic, cfg.Kafka.RatesTopic)
		return withBreaker(cfg, publisher, logger), nil

	default:
		return nil, fmt.Errorf("unsupported channel transport %q", cfg.Channel.Transport)
	}
}

func withBreaker(cfg config.Config, client domain.ChannelClient, logger *log.Entry) domain.ChannelClient {
	if cfg.Channel.BreakerFailures <= 0 {
		return client
	}
	return channel.NewBreakerClient(client, cfg.Channel.BreakerFailures, cfg.Channel.BreakerReset,
		channel.WithBreakerLogger(logger.WithField("channel", cfg.Channel.ID)))
}

// leaseBundle содержит выбранную аренду, её проверку и функцию закрытия.
type leaseBundle struct {
	lease   domain.Lease
	checker healthcheck.Checker
	closeFn func() error
}

// createLease выбирает бэкенд аренды. Для none воркеры работают без взаимного исключения.
func createLease(cfg config.Config, deps *runtimeDependencies, logger *log.Entry) (leaseBundle, error) {
	noop := func() error { return nil }

	switch cfg.Lease.Backend {
	case config.LeaseNone:
		logger.Warn("lease disabled, concurrent instances may process the same queue")
		return leaseBundle{lease: lease.Noop{}, closeFn: noop}, nil

	case "", config.LeaseMemory:
		return leaseBundle{lease: lease.NewMemory(nil), closeFn: noop}, nil

	case config.LeasePostgres:
		if deps == nil || deps.pgStore == nil {
			return leaseBundle{}, errors.New("postgres lease requires postgres storage")
		}
		return leaseBundle{
			lease:   lease.NewPostgres(deps.pgStore.DB(), logger.WithField("lease", config.LeasePostgres)),
			closeFn: noop,
		}, nil

	case config.LeaseRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Lease.RedisAddr})
		checker := healthcheck.NewSimpleChecker("redis", func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return client.Ping(pingCtx).Err()
		})
		logger.WithField("addr", cfg.Lease.RedisAddr).Info("using redis lease")
		return leaseBundle{
			lease:   lease.NewRedis(client, logger.WithField("lease", config.LeaseRedis)),
			checker: checker,
			closeFn: client.Close,
		}, nil

	default:
		return leaseBundle{}, fmt.Errorf("unsupported lease backend %q", cfg.Lease.Backend)
	}
}
