// Package inbox сверяет входящие события канала с локальным инвентарём.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
	"github.com/vladislavdragonenkov/pms/internal/service/booking"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultLeaseTTL     = 30 * time.Second
)

// ErrUnmappedRoom означает, что для внешнего типа номера нет маппинга.
var ErrUnmappedRoom = errors.New("unmapped external room")

// InboundStore даёт доступ к очереди входящих событий вне транзакции.
type InboundStore interface {
	Inbound() domain.InboundRepository
}

// ReconcilerOptions задаёт параметры сверки.
type ReconcilerOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.SyncMetrics
	Lease        domain.Lease
	LeaseTTL     time.Duration
	Clock        domain.Clock
	PollInterval time.Duration
	BatchSize    int
}

// Option настраивает Reconciler.
type Option func(*ReconcilerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ReconcilerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *ReconcilerOptions) {
		opts.Metrics = m
	}
}

// WithLease включает аренду канала на время цикла.
func WithLease(lease domain.Lease, ttl time.Duration) Option {
	return func(opts *ReconcilerOptions) {
		opts.Lease = lease
		opts.LeaseTTL = ttl
	}
}

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(opts *ReconcilerOptions) {
		opts.Clock = clock
	}
}

// WithPollInterval задаёт частоту опроса.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *ReconcilerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча.
func WithBatchSize(batchSize int) Option {
	return func(opts *ReconcilerOptions) {
		opts.BatchSize = batchSize
	}
}

// Outcome описывает результат обработки одного события.
type Outcome string

const (
	OutcomeBooked    Outcome = "booked"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeError     Outcome = "error"
)

// Reconciler превращает входящие брони канала в локальные брони.
// Каждое событие обрабатывается в своей транзакции: ошибка одного события
// записывается в него и не прерывает батч.
type Reconciler struct {
	uow          domain.UnitOfWork
	store        InboundStore
	bookings     *booking.Service
	channel      string
	logger       *log.Entry
	metrics      *metrics.SyncMetrics
	lease        domain.Lease
	leaseTTL     time.Duration
	now          domain.Clock
	pollInterval time.Duration
	batchSize    int
}

// NewReconciler создаёт сверку входящих событий канала.
func NewReconciler(uow domain.UnitOfWork, store InboundStore, bookings *booking.Service, channel string, options ...Option) *Reconciler {
	opts := ReconcilerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		LeaseTTL:     defaultLeaseTTL,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "inbound-reconciler")
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
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}

	return &Reconciler{
		uow:          uow,
		store:        store,
		bookings:     bookings,
		channel:      channel,
		logger:       logger.WithField("channel", channel),
		metrics:      opts.Metrics,
		lease:        opts.Lease,
		leaseTTL:     opts.LeaseTTL,
		now:          opts.Clock,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
	}
}

// Run запускает периодическую сверку до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) {
	if r.uow == nil || r.store == nil || r.bookings == nil {
		r.logger.Warn("inbound reconciler is disabled: dependencies are nil")
		return
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл сверки и возвращает итог по каждому обработанному событию.
func (r *Reconciler) ProcessOnce(ctx context.Context) map[string]Outcome {
	if ctx.Err() != nil {
		return nil
	}

	if r.lease != nil {
		release, ok, err := r.lease.TryAcquire(ctx, "inbound:"+r.channel, r.leaseTTL)
		if err != nil {
			r.logger.WithError(err).Warn("failed to acquire inbound lease")
			return nil
		}
		if !ok {
			r.logger.Debug("inbound lease is held by another worker, skipping cycle")
			r.metrics.RecordLeaseSkipped(metrics.WorkerInbound)
			return nil
		}
		defer release()
	}

	started := r.now()
	defer func() { r.metrics.ObserveCycle(metrics.WorkerInbound, r.now().Sub(started)) }()

	events, err := r.store.Inbound().PullUnprocessed(ctx, r.channel, r.batchSize)
	if err != nil {
		r.logger.WithError(err).Warn("failed to pull unprocessed inbound events")
		return nil
	}

	outcomes := make(map[string]Outcome, len(events))
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		outcomes[event.ID] = r.handle(ctx, event)
	}

	r.refreshBacklogMetrics(ctx)
	return outcomes
}

func (r *Reconciler) handle(ctx context.Context, event domain.InboundEvent) Outcome {
	logger := r.logger.WithField("event_id", event.ID)

	outcome, bookingID, err := r.reconcile(ctx, event)
	if err == nil {
		logger.WithFields(log.Fields{
			"booking_id": bookingID,
			"outcome":    outcome,
		}).Info("inbound event reconciled")
		metric := metrics.InboundProcessed
		if outcome == OutcomeDuplicate {
			metric = metrics.InboundDuplicate
		}
		r.metrics.RecordInbound(r.channel, metric)
		return outcome
	}

	logger.WithError(err).Warn("inbound event failed, will retry next cycle")
	r.metrics.RecordInbound(r.channel, metrics.InboundError)

	recordErr := r.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Inbound().RecordError(ctx, event.ID, err.Error())
	})
	if recordErr != nil {
		logger.WithError(recordErr).Warn("failed to record inbound event error")
	}
	return OutcomeError
}

// reconcile выполняет разбор, поиск маппинга, подбор номера, поиск гостя и создание брони
// в одной транзакции вместе с отметкой processed.
func (r *Reconciler) reconcile(ctx context.Context, event domain.InboundEvent) (outcome Outcome, bookingID string, err error) {
	err = r.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		ext, err := domain.ParseExternalBooking(event.Payload)
		if err != nil {
			return err
		}

		existing, err := tx.Bookings().FindByExternalID(ctx, r.channel, ext.ReservationID)
		switch {
		case err == nil:
			outcome, bookingID = OutcomeDuplicate, existing.ID
			if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
				BookingID: existing.ID,
				Type:      domain.TimelineBookingDuplicate,
				Reason:    "inbound event " + event.ID,
				Actor:     domain.ChannelActor(r.channel),
				Occurred:  r.now(),
			}); err != nil {
				return fmt.Errorf("append timeline event: %w", err)
			}
			return tx.Inbound().MarkProcessed(ctx, event.ID, r.now())
		case !errors.Is(err, domain.ErrBookingNotFound):
			return fmt.Errorf("find booking by reservation %s: %w", ext.ReservationID, err)
		}

		mapping, err := tx.Mappings().FindByExternalRoom(ctx, r.channel, ext.Room.RoomID)
		if errors.Is(err, domain.ErrMappingNotFound) {
			return fmt.Errorf("%w %q", ErrUnmappedRoom, ext.Room.RoomID)
		}
		if err != nil {
			return fmt.Errorf("resolve mapping for %q: %w", ext.Room.RoomID, err)
		}

		room, err := booking.Allocate(ctx, tx, mapping.Category, ext.Stay)
		if err != nil {
			return err
		}

		guest, err := resolveGuest(ctx, tx, ext.Guest)
		if err != nil {
			return err
		}

		created, err := r.bookings.CreateInTx(ctx, tx, booking.CreateRequest{
			GuestID:               guest.ID,
			RoomID:                room.ID,
			Stay:                  ext.Stay,
			TotalAmountMinor:      ext.TotalAmountMinor,
			Currency:              ext.Currency,
			Channel:               r.channel,
			ExternalReservationID: ext.ReservationID,
			Actor:                 domain.ChannelActor(r.channel),
		})
		if err != nil {
			return err
		}

		outcome, bookingID = OutcomeBooked, created.ID
		return tx.Inbound().MarkProcessed(ctx, event.ID, r.now())
	})
	if err != nil {
		return OutcomeError, "", err
	}
	return outcome, bookingID, nil
}

// resolveGuest находит гостя по alias email или создаёт нового.
func resolveGuest(ctx context.Context, tx domain.Tx, ext domain.ExternalGuest) (domain.Guest, error) {
	guest, err := tx.Guests().FindByAliasEmail(ctx, ext.AliasEmail)
	if err == nil {
		return guest, nil
	}
	if !errors.Is(err, domain.ErrGuestNotFound) {
		return domain.Guest{}, fmt.Errorf("find guest: %w", err)
	}

	guest = domain.Guest{
		ID:         uuid.NewString(),
		FirstName:  ext.FirstName,
		LastName:   ext.LastName,
		AliasEmail: domain.NormalizeEmail(ext.AliasEmail),
	}
	if err := tx.Guests().Create(ctx, guest); err != nil {
		return domain.Guest{}, fmt.Errorf("create guest: %w", err)
	}
	return guest, nil
}

func (r *Reconciler) refreshBacklogMetrics(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	stats, err := r.store.Inbound().Stats(ctx, r.channel)
	if err != nil {
		r.logger.WithError(err).Warn("failed to collect inbound backlog stats")
		return
	}
	r.metrics.SetBacklog("inbound", "unprocessed", stats.UnprocessedCount)
	r.metrics.SetBacklog("inbound", "errored", stats.ErroredCount)
	r.metrics.SetOldestAge("inbound", stats.OldestUnprocessedAt, r.now())
}
