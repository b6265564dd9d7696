package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

// scriptedDeleter отдаёт заранее заданные результаты по одному на вызов.
type scriptedDeleter struct {
	mu      sync.Mutex
	results []int
	err     error
	limits  []int
}

func (d *scriptedDeleter) DeleteExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.limits = append(d.limits, limit)
	if d.err != nil {
		return 0, d.err
	}
	if len(d.results) == 0 {
		return 0, nil
	}
	n := d.results[0]
	d.results = d.results[1:]
	return n, nil
}

func (d *scriptedDeleter) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.limits)
}

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		results []int
		err     error
		want    SweepResult
		wantErr bool
	}{
		{name: "nothing expired", results: []int{0}, want: SweepResult{Batches: 1}},
		{name: "stops at partial batch", results: []int{2, 2, 1, 2}, want: SweepResult{Deleted: 5, Batches: 3}},
		{name: "exact multiple needs an empty batch", results: []int{2, 2, 0}, want: SweepResult{Deleted: 4, Batches: 3}},
		{name: "store failure", err: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			keys := &scriptedDeleter{results: tt.results, err: tt.err}
			got, err := NewSweeper(keys, Config{BatchSize: 2}).Sweep(context.Background(), time.Now())
			if tt.wantErr {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			for _, limit := range keys.limits {
				require.Equal(t, 2, limit)
			}
		})
	}
}

func TestSweeper_SweepCancelled(t *testing.T) {
	t.Parallel()

	keys := &scriptedDeleter{results: []int{10}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSweeper(keys, Config{}).Sweep(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, keys.calls())
}

func TestSweeper_KeepsLiveKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deliveries := memory.NewIdempotencyRepository(memory.WithDeliveryClock(func() time.Time { return now }))

	for id, ttl := range map[string]time.Duration{"d-1": -time.Minute, "d-2": -time.Hour, "d-3": time.Hour} {
		_, err := deliveries.CreateProcessing(ctx, domain.DeliveryKey("booking.com", id), "hash-"+id, now.Add(ttl))
		require.NoError(t, err)
	}

	sweeper := NewSweeper(deliveries, Config{BatchSize: 1, Clock: func() time.Time { return now }})
	res, err := sweeper.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, SweepResult{Deleted: 2, Batches: 3}, res)

	_, err = deliveries.Get(ctx, domain.DeliveryKey("booking.com", "d-3"))
	require.NoError(t, err)
	_, err = deliveries.Get(ctx, domain.DeliveryKey("booking.com", "d-1"))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestSweeper_RunRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	keys := &scriptedDeleter{}
	sweeper := NewSweeper(keys, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	require.Eventually(t, func() bool { return keys.calls() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeper_RunWithoutDeliveryLog(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSweeper(nil, Config{}).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return immediately without a delivery log")
	}
}
