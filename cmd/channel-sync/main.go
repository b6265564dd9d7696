package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/app"
	"github.com/vladislavdragonenkov/pms/internal/config"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(cfg config.Config) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(cfg.LogLevel())
}

// runService читает конфигурацию и запускает сервис до отмены ctx.
// Отмена не считается ошибкой.
func runService(ctx context.Context, load func() (config.Config, error), run func(context.Context, config.Config) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	log.WithFields(log.Fields{
		"http_addr":    cfg.Server.HTTPAddr,
		"grpc_addr":    cfg.Server.GRPCAddr,
		"metrics_addr": cfg.Server.MetricsAddr,
		"channel":      cfg.Channel.ID,
	}).Info("запускаем channel-sync")

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runService(ctx, config.LoadConfig, app.Run); err != nil {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("channel-sync остановлен")
}
