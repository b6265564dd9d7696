package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
)

const (
	defaultPollInterval   = 10 * time.Second
	defaultBatchSize      = 10
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultLeaseTTL       = 30 * time.Second
	defaultCurrency       = "EUR"
)

var (
	transmitAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pms_outbound_transmit_attempts_total",
		Help: "Total number of channel transmit attempts grouped by result.",
	}, []string{"result"})
)

// Repositories описывает репозитории, которые диспетчер читает вне транзакции.
// memory.Store и postgres.Store удовлетворяют интерфейсу.
type Repositories interface {
	Rooms() domain.RoomRepository
	Bookings() domain.BookingRepository
	Mappings() domain.ChannelMappingRepository
	Outbound() domain.OutboundRepository
}

// DispatcherOptions задаёт параметры диспетчера.
type DispatcherOptions struct {
	Logger           *log.Entry
	Metrics          *metrics.SyncMetrics
	Lease            domain.Lease
	LeaseTTL         time.Duration
	Clock            domain.Clock
	PollInterval     time.Duration
	BatchSize        int
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	FallbackRatePlan string
	Currency         string
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger для диспетчера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *DispatcherOptions) {
		opts.Metrics = m
	}
}

// WithLease включает аренду канала на время цикла.
func WithLease(lease domain.Lease, ttl time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.Lease = lease
		opts.LeaseTTL = ttl
	}
}

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(opts *DispatcherOptions) {
		opts.Clock = clock
	}
}

// WithPollInterval задаёт частоту опроса outbound store.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча.
func WithBatchSize(batchSize int) Option {
	return func(opts *DispatcherOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток передачи при временных сбоях канала.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *DispatcherOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithFallbackRatePlan задаёт тариф для маппингов без ExternalRatePlanID.
func WithFallbackRatePlan(ratePlanID string) Option {
	return func(opts *DispatcherOptions) {
		opts.FallbackRatePlan = ratePlanID
	}
}

// WithCurrency задаёт валюту цен, если событие её не содержит.
func WithCurrency(currency string) Option {
	return func(opts *DispatcherOptions) {
		opts.Currency = currency
	}
}

// Dispatcher выгружает pending-события outbound store в канал.
// Событие, завершившееся ошибкой, переходит в failed и больше не выбирается:
// вернуть его в очередь может только оператор.
type Dispatcher struct {
	repos            Repositories
	client           domain.ChannelClient
	channel          string
	logger           *log.Entry
	metrics          *metrics.SyncMetrics
	lease            domain.Lease
	leaseTTL         time.Duration
	now              domain.Clock
	pollInterval     time.Duration
	batchSize        int
	maxAttempts      int
	retryBaseDelay   time.Duration
	fallbackRatePlan string
	currency         string
}

// NewDispatcher создаёт диспетчер исходящих событий канала.
func NewDispatcher(repos Repositories, client domain.ChannelClient, channel string, options ...Option) *Dispatcher {
	opts := DispatcherOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		LeaseTTL:       defaultLeaseTTL,
		Currency:       defaultCurrency,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbound-dispatcher")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = defaultCurrency
	}

	return &Dispatcher{
		repos:            repos,
		client:           client,
		channel:          channel,
		logger:           logger.WithField("channel", channel),
		metrics:          opts.Metrics,
		lease:            opts.Lease,
		leaseTTL:         opts.LeaseTTL,
		now:              opts.Clock,
		pollInterval:     opts.PollInterval,
		batchSize:        opts.BatchSize,
		maxAttempts:      opts.MaxAttempts,
		retryBaseDelay:   opts.RetryBaseDelay,
		fallbackRatePlan: strings.TrimSpace(opts.FallbackRatePlan),
		currency:         strings.ToUpper(strings.TrimSpace(opts.Currency)),
	}
}

// Run запускает периодический polling до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repos == nil || d.client == nil {
		d.logger.Warn("outbound dispatcher is disabled: store or channel client is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл и возвращает число обработанных событий.
func (d *Dispatcher) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	if d.lease != nil {
		release, ok, err := d.lease.TryAcquire(ctx, "outbound:"+d.channel, d.leaseTTL)
		if err != nil {
			d.logger.WithError(err).Warn("failed to acquire outbound lease")
			return 0
		}
		if !ok {
			d.logger.Debug("outbound lease is held by another worker, skipping cycle")
			d.metrics.RecordLeaseSkipped(metrics.WorkerOutbound)
			return 0
		}
		defer release()
	}

	started := d.now()
	defer func() { d.metrics.ObserveCycle(metrics.WorkerOutbound, d.now().Sub(started)) }()

	d.refreshBacklogMetrics(ctx)

	events, err := d.repos.Outbound().PullPending(ctx, d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull pending outbound events")
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	handled := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if !d.handle(ctx, event) {
			break
		}
		handled++
	}

	d.refreshBacklogMetrics(ctx)
	return handled
}

// handle возвращает false, если канал недоступен и цикл нужно прервать.
// Событие при этом остаётся pending.
func (d *Dispatcher) handle(ctx context.Context, event domain.OutboundEvent) bool {
	logger := d.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	err := d.dispatch(ctx, event)
	if errors.Is(err, domain.ErrChannelUnavailable) {
		logger.WithError(err).Info("channel unavailable, leaving outbound event pending")
		return false
	}
	if err != nil {
		logger.WithError(err).Warn("outbound event failed")
		d.metrics.RecordOutbound(string(event.Type), string(domain.OutboundStatusFailed))
		if markErr := d.repos.Outbound().MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark outbound event as failed")
		}
		return true
	}

	d.metrics.RecordOutbound(string(event.Type), string(domain.OutboundStatusProcessed))
	if err := d.repos.Outbound().MarkProcessed(ctx, event.ID, d.now()); err != nil {
		logger.WithError(err).Warn("failed to mark outbound event as processed")
	}
	return true
}

func (d *Dispatcher) dispatch(ctx context.Context, event domain.OutboundEvent) error {
	switch event.Type {
	case domain.OutboundAvailabilityUpdate:
		return d.dispatchAvailability(ctx, event)
	case domain.OutboundRateUpdate:
		return d.dispatchRate(ctx, event)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEventType, event.Type)
	}
}

func (d *Dispatcher) dispatchAvailability(ctx context.Context, event domain.OutboundEvent) error {
	payload, err := event.AvailabilityPayload()
	if err != nil {
		return err
	}

	mapping, err := d.repos.Mappings().FindByCategory(ctx, d.channel, payload.Category)
	if errors.Is(err, domain.ErrMappingNotFound) {
		// категория не продаётся в канале
		d.logger.WithFields(log.Fields{
			"event_id": event.ID,
			"category": payload.Category,
		}).Debug("no channel mapping for category, skipping availability update")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve mapping for %q: %w", payload.Category, err)
	}

	updates, err := d.availabilityFor(ctx, mapping, payload)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	if err := d.transmit(ctx, func() error { return d.client.PushAvailability(ctx, updates) }); err != nil {
		return err
	}
	d.metrics.RecordPushed("availability", len(updates))
	return nil
}

func (d *Dispatcher) availabilityFor(ctx context.Context, mapping domain.ChannelRoomMapping, payload domain.AvailabilityPayload) ([]domain.AvailabilityUpdate, error) {
	rooms, err := d.repos.Rooms().ListByCategory(ctx, payload.Category)
	if err != nil {
		return nil, fmt.Errorf("list rooms of %q: %w", payload.Category, err)
	}
	segments, err := d.repos.Bookings().CategorySegments(ctx, payload.Category, payload.StartDate, payload.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load segments of %q: %w", payload.Category, err)
	}

	daily := domain.ComputeAvailability(rooms, segments, payload.StartDate, payload.EndDate)
	updates := make([]domain.AvailabilityUpdate, 0, len(daily))
	for _, day := range daily {
		updates = append(updates, domain.AvailabilityUpdate{
			ExternalRoomID: mapping.ExternalRoomID,
			Date:           day.Date,
			Available:      day.Available,
		})
	}
	return updates, nil
}

func (d *Dispatcher) dispatchRate(ctx context.Context, event domain.OutboundEvent) error {
	payload, err := event.RatePayload()
	if err != nil {
		return err
	}

	mapping, err := d.repos.Mappings().FindByCategory(ctx, d.channel, payload.Category)
	if err != nil {
		return fmt.Errorf("resolve mapping for %q: %w", payload.Category, err)
	}

	ratePlan := strings.TrimSpace(mapping.ExternalRatePlanID)
	if ratePlan == "" {
		ratePlan = d.fallbackRatePlan
	}
	currency := payload.Currency
	if currency == "" {
		currency = d.currency
	}

	update := domain.RateUpdate{
		ExternalRoomID:     mapping.ExternalRoomID,
		ExternalRatePlanID: ratePlan,
		StartDate:          payload.StartDate,
		EndDate:            payload.EndDate,
		AmountMinor:        payload.AmountMinor,
		Currency:           currency,
	}
	if err := d.transmit(ctx, func() error { return d.client.PushRates(ctx, []domain.RateUpdate{update}) }); err != nil {
		return err
	}
	d.metrics.RecordPushed("rate", 1)
	return nil
}

// transmit повторяет вызов канала только при domain.ErrChannelTransient.
func (d *Dispatcher) transmit(ctx context.Context, push func() error) error {
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := push()
		if err == nil {
			transmitAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrChannelUnavailable) {
			transmitAttempts.WithLabelValues("unavailable").Inc()
			return err
		}
		if !errors.Is(err, domain.ErrChannelTransient) {
			transmitAttempts.WithLabelValues("rejected").Inc()
			return err
		}
		transmitAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= d.maxAttempts {
			break
		}

		delay := d.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("transmit failed after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Dispatcher) refreshBacklogMetrics(ctx context.Context) {
	stats, err := d.repos.Outbound().Stats(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect outbound backlog stats")
		return
	}

	now := d.now()
	d.metrics.SetBacklog("outbound", string(domain.OutboundStatusPending), stats.PendingCount)
	d.metrics.SetBacklog("outbound", string(domain.OutboundStatusFailed), stats.FailedCount)
	d.metrics.SetOldestAge("outbound", stats.OldestPendingAt, now)
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return d.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := d.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
