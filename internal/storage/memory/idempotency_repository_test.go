package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

var deliveryNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newDeliveryLog() *memory.DeliveryLog {
	return memory.NewIdempotencyRepository(memory.WithDeliveryClock(func() time.Time { return deliveryNow }))
}

func TestDeliveryLog_FirstDeliveryIsProcessing(t *testing.T) {
	ctx := context.Background()
	log := newDeliveryLog()
	key := domain.DeliveryKey("booking.com", "delivery-1")

	created, err := log.CreateProcessing(ctx, key, domain.RequestHash([]byte(`{"reservation_id":"R-1"}`)), time.Time{})
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.Equal(t, deliveryNow, created.CreatedAt)
	require.Equal(t, deliveryNow.Add(24*time.Hour), created.TTLAt, "zero ttl falls back to a day")

	got, err := log.Get(ctx, " "+key+" ")
	require.NoError(t, err)
	require.Equal(t, created, got)
}

func TestDeliveryLog_Redelivery(t *testing.T) {
	ctx := context.Background()
	log := newDeliveryLog()
	key := domain.DeliveryKey("expedia", "delivery-2")
	ttl := deliveryNow.Add(time.Hour)

	_, err := log.CreateProcessing(ctx, key, "hash-a", ttl)
	require.NoError(t, err)
	require.NoError(t, log.MarkDone(ctx, key, []byte(`{"event_id":"e-1"}`), 202))

	stored, err := log.CreateProcessing(ctx, key, "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.True(t, domain.IsIdempotencyConflict(err))
	require.Equal(t, domain.IdempotencyStatusDone, stored.Status)
	require.Equal(t, 202, stored.HTTPStatus)
	require.JSONEq(t, `{"event_id":"e-1"}`, string(stored.ResponseBody))

	_, err = log.CreateProcessing(ctx, key, "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestDeliveryLog_Validation(t *testing.T) {
	ctx := context.Background()
	log := newDeliveryLog()

	_, err := log.CreateProcessing(ctx, " ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = log.CreateProcessing(ctx, "booking.com:d", " ", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = log.Get(ctx, "")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = log.Get(ctx, "booking.com:missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, log.MarkFailed(ctx, "booking.com:missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, log.MarkDone(ctx, "", nil, 202), domain.ErrIdempotencyKeyRequired)
}

func TestDeliveryLog_ResponseBodyIsCopied(t *testing.T) {
	ctx := context.Background()
	log := newDeliveryLog()
	body := []byte(`{"event_id":"e-1"}`)

	_, err := log.CreateProcessing(ctx, "booking.com:d-3", "hash", time.Time{})
	require.NoError(t, err)
	require.NoError(t, log.MarkFailed(ctx, "booking.com:d-3", body, 500))
	body[2] = 'X'

	got, err := log.Get(ctx, "booking.com:d-3")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	require.JSONEq(t, `{"event_id":"e-1"}`, string(got.ResponseBody))
}

func TestDeliveryLog_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	log := newDeliveryLog()

	for i, ttl := range []time.Duration{-2 * time.Minute, -time.Minute, time.Hour} {
		key := domain.DeliveryKey("booking.com", string(rune('a'+i)))
		_, err := log.CreateProcessing(ctx, key, "hash", deliveryNow.Add(ttl))
		require.NoError(t, err)
	}

	removed, err := log.DeleteExpired(ctx, deliveryNow, 1)
	require.NoError(t, err)
	require.Equal(t, 1, removed, "limit caps one pass")

	removed, err = log.DeleteExpired(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = log.Get(ctx, domain.DeliveryKey("booking.com", "c"))
	require.NoError(t, err, "live key survives")
}

func TestDeliveryLog_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log := newDeliveryLog()

	_, err := log.CreateProcessing(ctx, "booking.com:k", "h", time.Time{})
	require.ErrorIs(t, err, context.Canceled)
	_, err = log.DeleteExpired(ctx, deliveryNow, 0)
	require.ErrorIs(t, err, context.Canceled)
}
