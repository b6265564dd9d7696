package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestMemory_ExclusiveUntilReleased(t *testing.T) {
	l := NewMemory(nil)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "inbound:booking.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "inbound:booking.com", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second holder must be rejected")

	_, ok, err = l.TryAcquire(ctx, "outbound", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "different key must be independent")

	release()
	release2, ok, err := l.TryAcquire(ctx, "inbound:booking.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestMemory_ExpiredLeaseIsTakenOver(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	staleRelease, ok, err := l.TryAcquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok, err = l.TryAcquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Запоздалый release старого владельца не снимает новую аренду.
	staleRelease()
	_, ok, err = l.TryAcquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := NewMemory(nil).TryAcquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
}

func TestNoop_AlwaysAcquires(t *testing.T) {
	for i := 0; i < 2; i++ {
		release, ok, err := Noop{}.TryAcquire(context.Background(), "k", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		release()
	}
}

func TestRedis_SetNXLease(t *testing.T) {
	addr := os.Getenv("PMS_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("PMS_REDIS_TEST_ADDR is not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedis(client, nil)
	key := "test-" + time.Now().Format("150405.000000000")

	release, ok, err := l.TryAcquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	release()
	release2, ok, err := l.TryAcquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}
