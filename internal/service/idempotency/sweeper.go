// Package idempotency очищает журнал доставок вебхуков от просроченных ключей.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
)

var (
	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pms_delivery_keys_sweep_duration_seconds",
		Help:    "Duration of delivery key sweeps by result.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 7),
	}, []string{"result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pms_delivery_keys_deleted_total",
		Help: "Expired webhook delivery keys removed by the sweeper.",
	})
)

// ExpiredDeleter удаляет не больше limit ключей с ttl не позже before.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Config задаёт расписание очистки. Нулевые поля заменяются значениями по умолчанию.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Logger    *log.Entry
	Clock     domain.Clock
}

// Sweeper периодически удаляет ключи доставок с истекшим ttl порциями по BatchSize.
type Sweeper struct {
	keys ExpiredDeleter
	cfg  Config
}

func NewSweeper(keys ExpiredDeleter, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "delivery-keys-sweeper")
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{keys: keys, cfg: cfg}
}

// SweepResult итог одного прохода.
type SweepResult struct {
	Deleted int
	Batches int
}

// Sweep удаляет все ключи с ttl <= before; нулевой before означает текущий момент.
// Проход заканчивается на первой неполной порции.
func (s *Sweeper) Sweep(ctx context.Context, before time.Time) (SweepResult, error) {
	if before.IsZero() {
		before = s.cfg.Clock()
	}

	var res SweepResult
	for ctx.Err() == nil {
		n, err := s.keys.DeleteExpired(ctx, before, s.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Deleted += n
		sweepDeleted.Add(float64(n))
		if n < s.cfg.BatchSize {
			return res, nil
		}
	}
	return res, ctx.Err()
}

// Run чистит журнал сразу и затем через Interval после окончания предыдущего прохода.
func (s *Sweeper) Run(ctx context.Context) {
	if s.keys == nil {
		s.cfg.Logger.Warn("delivery keys sweeper disabled: no delivery log")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	started := time.Now()
	res, err := s.Sweep(ctx, time.Time{})

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		s.cfg.Logger.WithError(err).WithField("deleted", res.Deleted).Warn("delivery keys sweep failed")
		return
	}

	sweepDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())
	if res.Deleted > 0 {
		s.cfg.Logger.WithFields(log.Fields{"deleted": res.Deleted, "batches": res.Batches}).Info("expired delivery keys removed")
	}
}
