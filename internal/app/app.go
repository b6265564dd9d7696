// Package app собирает channel-sync: хранилище, аренду, транспорт канала, фоновые воркеры,
// приём вебхуков и служебные серверы метрик и gRPC health.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/pms/internal/config"
	healthcheck "github.com/vladislavdragonenkov/pms/internal/health"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
	"github.com/vladislavdragonenkov/pms/internal/service/booking"
	"github.com/vladislavdragonenkov/pms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pms/internal/service/inbox"
	"github.com/vladislavdragonenkov/pms/internal/service/outbox"
	"github.com/vladislavdragonenkov/pms/internal/transport/webhook"
	"github.com/vladislavdragonenkov/pms/internal/version"
)

const grpcStopTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}()

	leases, err := createLease(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := leases.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close lease backend")
		}
	}()

	kafkaProducer, err := initKafkaProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		if cfg.Channel.Transport == config.TransportKafka {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}
	defer closeKafkaProducer(kafkaProducer, logger)

	client, err := createChannelClient(cfg, kafkaProducer, logger)
	if err != nil {
		return err
	}

	syncMetrics := metrics.NewSyncMetrics()
	generator := outbox.NewGenerator(nil, syncMetrics)
	bookings := booking.NewService(deps.uow, generator,
		booking.WithLogger(logger.WithField("component", "booking")),
		booking.WithMetrics(syncMetrics),
		booking.WithCurrency(cfg.Channel.Currency),
	)

	dispatcher := outbox.NewDispatcher(deps.store, client, cfg.Channel.ID,
		outbox.WithLogger(log.WithField("component", "outbound-dispatcher")),
		outbox.WithMetrics(syncMetrics),
		outbox.WithLease(leases.lease, cfg.Lease.TTL),
		outbox.WithPollInterval(cfg.Sync.OutboundPollInterval),
		outbox.WithBatchSize(cfg.Sync.OutboundBatchSize),
		outbox.WithMaxAttempts(cfg.Sync.OutboundMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Sync.OutboundRetryDelay),
		outbox.WithFallbackRatePlan(cfg.Channel.FallbackRatePlan),
		outbox.WithCurrency(cfg.Channel.Currency),
	)
	reconciler := inbox.NewReconciler(deps.uow, deps.store, bookings, cfg.Channel.ID,
		inbox.WithLogger(log.WithField("component", "inbound-reconciler")),
		inbox.WithMetrics(syncMetrics),
		inbox.WithLease(leases.lease, cfg.Lease.TTL),
		inbox.WithPollInterval(cfg.Sync.InboundPollInterval),
		inbox.WithBatchSize(cfg.Sync.InboundBatchSize),
	)
	sweeper := idempotency.NewSweeper(deps.idempotencyRepo, idempotency.Config{
		Interval:  cfg.Webhook.CleanupInterval,
		BatchSize: cfg.Webhook.CleanupBatchSize,
		Logger:    log.WithField("component", "delivery-keys-sweeper"),
	})

	workers := []backgroundWorker{
		startWorker(ctx, "outbound-dispatcher", dispatcher.Run, logger),
		startWorker(ctx, "inbound-reconciler", reconciler.Run, logger),
		startWorker(ctx, "delivery-keys-sweeper", sweeper.Run, logger),
	}
	defer stopWorkers(workers, logger)

	consumer, err := initInboundConsumer(cfg, deps.store.Inbound(), deps.idempotencyRepo, kafkaProducer, logger)
	if err != nil {
		return fmt.Errorf("init kafka consumer: %w", err)
	}
	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		defer stopKafkaConsumer(consumer, logger)
	}

	var verifier *webhook.TokenVerifier
	if cfg.Webhook.Secret != "" {
		verifier = webhook.NewTokenVerifier(cfg.Webhook.Secret)
	} else {
		logger.Warn("WEBHOOK_SECRET is empty, webhook token verification disabled")
	}
	gin.SetMode(gin.ReleaseMode)
	webhookHandler := webhook.NewHandler(deps.store.Inbound(), webhook.Options{
		Deliveries:   deps.idempotencyRepo,
		DeliveryTTL:  cfg.Webhook.DeliveryTTL,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Metrics:      syncMetrics,
		Logger:       log.WithField("component", "webhook"),
	})

	errCh := make(chan error, 3)
	webhookSrv, err := listenHTTP("webhook intake", cfg.Server.HTTPAddr, webhook.NewRouter(webhookHandler, verifier), logger, errCh)
	if err != nil {
		return fmt.Errorf("listen webhook: %w", err)
	}
	defer webhookSrv.Shutdown()

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if leases.checker != nil {
		healthHandler.RegisterChecker("redis", leases.checker)
	}
	registerBacklogCheckers(healthHandler, deps.store, cfg.Channel.ID, cfg.Sync.MaxBacklogAge)

	opsSrv, err := listenHTTP("metrics and health", cfg.Server.MetricsAddr, opsHandler(healthHandler), logger, errCh)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	defer opsSrv.Shutdown()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	logger.WithFields(version.Current().LogFields()).WithFields(log.Fields{
		"channel":   cfg.Channel.ID,
		"transport": cfg.Channel.Transport,
		"storage":   cfg.Storage.Driver,
		"lease":     cfg.Lease.Backend,
	}).Info("channel-sync started")

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// stopGRPC ждёт завершения активных вызовов, но не дольше grpcStopTimeout.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}
