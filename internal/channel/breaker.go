package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// BreakerState описывает состояние защиты от каскадных сбоев.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerClient размыкается после maxFailures подряд временных сбоев канала.
// Пока цепь разомкнута, вызовы сразу получают domain.ErrChannelUnavailable.
// После resetTimeout пропускается одна пробная отправка.
type BreakerClient struct {
	next         domain.ChannelClient
	maxFailures  int
	resetTimeout time.Duration
	now          domain.Clock
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       BreakerState
	probing     bool
}

// BreakerOption настраивает BreakerClient.
type BreakerOption func(*BreakerClient)

// WithBreakerClock подменяет источник времени.
func WithBreakerClock(now domain.Clock) BreakerOption {
	return func(b *BreakerClient) {
		if now != nil {
			b.now = now
		}
	}
}

// WithBreakerLogger задаёт логгер.
func WithBreakerLogger(logger *log.Entry) BreakerOption {
	return func(b *BreakerClient) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBreakerClient оборачивает next. maxFailures <= 0 приводится к 1.
func NewBreakerClient(next domain.ChannelClient, maxFailures int, resetTimeout time.Duration, opts ...BreakerOption) *BreakerClient {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	b := &BreakerClient{
		next:         next,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log.WithField("component", "channel-breaker"),
		state:        BreakerClosed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// State возвращает текущее состояние.
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerClient) PushAvailability(ctx context.Context, updates []domain.AvailabilityUpdate) error {
	return b.execute("availability", func() error { return b.next.PushAvailability(ctx, updates) })
}

func (b *BreakerClient) PushRates(ctx context.Context, updates []domain.RateUpdate) error {
	return b.execute("rates", func() error { return b.next.PushRates(ctx, updates) })
}

func (b *BreakerClient) execute(operation string, fn func() error) error {
	if err := b.allow(operation); err != nil {
		return err
	}

	err := fn()
	b.record(operation, err)
	return err
}

func (b *BreakerClient) allow(operation string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return fmt.Errorf("%w: circuit open after %d failures", domain.ErrChannelUnavailable, b.failures)
		}
		b.state = BreakerHalfOpen
		b.probing = true
		b.logger.WithField("operation", operation).Info("channel breaker half-open")
	case BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: probe in progress", domain.ErrChannelUnavailable)
		}
		b.probing = true
	}
	return nil
}

func (b *BreakerClient) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if errors.Is(err, context.Canceled) {
		if b.state == BreakerHalfOpen {
			b.state = BreakerOpen
		}
		return
	}

	// отказ канала по содержимому не говорит о его недоступности
	if err != nil && errors.Is(err, domain.ErrChannelTransient) {
		b.failures++
		b.lastFailure = b.now()
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			if b.state != BreakerOpen {
				b.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  b.failures,
				}).Warn("channel breaker opened")
			}
			b.state = BreakerOpen
		}
		return
	}

	if b.state == BreakerHalfOpen {
		b.logger.WithField("operation", operation).Info("channel breaker closed")
	}
	b.state = BreakerClosed
	b.failures = 0
}
