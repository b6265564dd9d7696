package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Имена воркеров для лейбла worker.
const (
	WorkerInbound  = "inbound"
	WorkerOutbound = "outbound"
)

// Результаты обработки входящих событий.
const (
	InboundProcessed = "processed"
	InboundDuplicate = "duplicate"
	InboundError     = "error"
)

// SyncMetrics содержит метрики синхронизации с каналом.
// Методы безопасно вызывать на nil: метрики необязательны для сервисов.
type SyncMetrics struct {
	inboundEvents  *prometheus.CounterVec
	outboundEvents *prometheus.CounterVec
	enqueued       *prometheus.CounterVec
	pushedUpdates  *prometheus.CounterVec
	bookings       *prometheus.CounterVec
	leaseSkipped   *prometheus.CounterVec
	webhooks       *prometheus.CounterVec

	cycleDuration *prometheus.HistogramVec

	backlog   *prometheus.GaugeVec
	oldestAge *prometheus.GaugeVec
}

// NewSyncMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewSyncMetrics() *SyncMetrics {
	return NewSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSyncMetricsWithRegisterer регистрирует метрики в registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		inboundEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_inbound_events_total",
			Help: "Inbound channel events handled by the reconciler grouped by result.",
		}, []string{"channel", "result"}),
		outboundEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_outbound_events_total",
			Help: "Outbound events handled by the dispatcher grouped by type and result.",
		}, []string{"type", "result"}),
		enqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_outbound_enqueued_total",
			Help: "Outbound events written to the outbox grouped by type.",
		}, []string{"type"}),
		pushedUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_channel_updates_pushed_total",
			Help: "Availability and rate lines transmitted to the channel.",
		}, []string{"kind"}),
		bookings: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_booking_operations_total",
			Help: "Booking mutations grouped by operation and result.",
		}, []string{"operation", "result"}),
		leaseSkipped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_sync_cycles_skipped_total",
			Help: "Sync cycles skipped because another instance holds the lease.",
		}, []string{"worker"}),
		webhooks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pms_webhook_deliveries_total",
			Help: "Webhook deliveries grouped by result.",
		}, []string{"result"}),
		cycleDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pms_sync_cycle_duration_seconds",
			Help:    "Duration of one worker cycle in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"worker"}),
		backlog: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "pms_queue_backlog",
			Help: "Current number of queued events by queue and state.",
		}, []string{"queue", "state"}),
		oldestAge: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "pms_queue_oldest_age_seconds",
			Help: "Age in seconds of the oldest waiting event by queue.",
		}, []string{"queue"}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordInbound учитывает результат обработки входящего события.
func (m *SyncMetrics) RecordInbound(channel, result string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(channel, result).Inc()
}

// RecordOutbound учитывает результат отправки исходящего события.
func (m *SyncMetrics) RecordOutbound(eventType, result string) {
	if m == nil {
		return
	}
	m.outboundEvents.WithLabelValues(eventType, result).Inc()
}

// RecordEnqueued учитывает событие, записанное в outbox.
func (m *SyncMetrics) RecordEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(eventType).Inc()
}

// RecordPushed учитывает число строк, переданных каналу.
func (m *SyncMetrics) RecordPushed(kind string, lines int) {
	if m == nil {
		return
	}
	m.pushedUpdates.WithLabelValues(kind).Add(float64(lines))
}

// RecordBooking учитывает мутацию брони.
func (m *SyncMetrics) RecordBooking(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.bookings.WithLabelValues(operation, result).Inc()
}

// RecordLeaseSkipped учитывает цикл, пропущенный из-за чужой аренды.
func (m *SyncMetrics) RecordLeaseSkipped(worker string) {
	if m == nil {
		return
	}
	m.leaseSkipped.WithLabelValues(worker).Inc()
}

// RecordWebhook учитывает доставку вебхука.
func (m *SyncMetrics) RecordWebhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

// ObserveCycle записывает длительность цикла воркера.
func (m *SyncMetrics) ObserveCycle(worker string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// SetBacklog выставляет размер очереди в состоянии state.
func (m *SyncMetrics) SetBacklog(queue, state string, count int) {
	if m == nil {
		return
	}
	m.backlog.WithLabelValues(queue, state).Set(float64(count))
}

// SetOldestAge выставляет возраст самого старого ожидающего события. Нулевое oldest сбрасывает gauge.
func (m *SyncMetrics) SetOldestAge(queue string, oldest, now time.Time) {
	if m == nil {
		return
	}
	if oldest.IsZero() {
		m.oldestAge.WithLabelValues(queue).Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestAge.WithLabelValues(queue).Set(age)
}
