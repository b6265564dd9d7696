package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewSyncMetrics_IsolatedRegistry(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	if m.inboundEvents == nil || m.outboundEvents == nil || m.enqueued == nil || m.bookings == nil {
		t.Fatal("counters must be initialised")
	}
	if m.cycleDuration == nil || m.backlog == nil || m.oldestAge == nil {
		t.Fatal("histograms and gauges must be initialised")
	}
}

func TestNewSyncMetrics_ReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSyncMetricsWithRegisterer(reg)
	second := NewSyncMetricsWithRegisterer(reg)

	first.RecordInbound("booking.com", InboundProcessed)
	second.RecordInbound("booking.com", InboundProcessed)

	if got := counterValue(t, first.inboundEvents, "booking.com", InboundProcessed); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordCounters(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordInbound("booking.com", InboundError)
	m.RecordOutbound("availability_update", "processed")
	m.RecordOutbound("availability_update", "processed")
	m.RecordEnqueued("rate_update")
	m.RecordPushed("availability", 3)
	m.RecordBooking("create", nil)
	m.RecordBooking("create", errors.New("room conflict"))
	m.RecordLeaseSkipped(WorkerInbound)
	m.RecordWebhook("accepted")

	cases := []struct {
		name string
		vec  *prometheus.CounterVec
		lbl  []string
		want float64
	}{
		{"inbound error", m.inboundEvents, []string{"booking.com", InboundError}, 1},
		{"outbound processed", m.outboundEvents, []string{"availability_update", "processed"}, 2},
		{"enqueued", m.enqueued, []string{"rate_update"}, 1},
		{"pushed lines", m.pushedUpdates, []string{"availability"}, 3},
		{"booking ok", m.bookings, []string{"create", "ok"}, 1},
		{"booking error", m.bookings, []string{"create", "error"}, 1},
		{"lease skipped", m.leaseSkipped, []string{WorkerInbound}, 1},
		{"webhook", m.webhooks, []string{"accepted"}, 1},
	}
	for _, tc := range cases {
		if got := counterValue(t, tc.vec, tc.lbl...); got != tc.want {
			t.Errorf("%s: expected %f, got %f", tc.name, tc.want, got)
		}
	}
}

func TestBacklogGauges(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	m.SetBacklog("outbound", "pending", 4)
	m.SetOldestAge("outbound", now.Add(-90*time.Second), now)

	if got := gaugeValue(t, m.backlog, "outbound", "pending"); got != 4 {
		t.Fatalf("expected backlog 4, got %f", got)
	}
	if got := gaugeValue(t, m.oldestAge, "outbound"); got != 90 {
		t.Fatalf("expected age 90, got %f", got)
	}

	m.SetOldestAge("outbound", time.Time{}, now)
	if got := gaugeValue(t, m.oldestAge, "outbound"); got != 0 {
		t.Fatalf("expected reset age, got %f", got)
	}

	m.SetOldestAge("inbound", now.Add(time.Minute), now)
	if got := gaugeValue(t, m.oldestAge, "inbound"); got != 0 {
		t.Fatalf("future timestamps must clamp to 0, got %f", got)
	}
}

func TestObserveCycle(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveCycle(WorkerOutbound, 100*time.Millisecond)
	m.ObserveCycle(WorkerOutbound, 500*time.Millisecond)

	metric := &dto.Metric{}
	observer := m.cycleDuration.WithLabelValues(WorkerOutbound)
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Fatalf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
	if sum := metric.Histogram.GetSampleSum(); sum < 0.59 || sum > 0.61 {
		t.Fatalf("expected sum around 0.6, got %f", sum)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *SyncMetrics

	m.RecordInbound("c", InboundProcessed)
	m.RecordOutbound("t", "r")
	m.RecordEnqueued("t")
	m.RecordPushed("availability", 1)
	m.RecordBooking("create", nil)
	m.RecordLeaseSkipped(WorkerInbound)
	m.RecordWebhook("accepted")
	m.ObserveCycle(WorkerInbound, time.Second)
	m.SetBacklog("q", "s", 1)
	m.SetOldestAge("q", time.Now(), time.Now())
}
