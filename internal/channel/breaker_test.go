package channel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/domain/mocks"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errUpstream = fmt.Errorf("%w: status 503", domain.ErrChannelTransient)

func newBreaker(t *testing.T, maxFailures int) (*BreakerClient, *mocks.MockChannelClient, *manualClock) {
	t.Helper()
	ctrl := gomock.NewController(t)
	next := mocks.NewMockChannelClient(ctrl)
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewBreakerClient(next, maxFailures, time.Minute, WithBreakerClock(clock.Now)), next, clock
}

func TestBreakerClient_OpensAfterTransientFailures(t *testing.T) {
	breaker, next, _ := newBreaker(t, 2)
	ctx := context.Background()

	next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(errUpstream).Times(2)

	require.ErrorIs(t, breaker.PushAvailability(ctx, nil), domain.ErrChannelTransient)
	require.Equal(t, BreakerClosed, breaker.State())
	require.ErrorIs(t, breaker.PushAvailability(ctx, nil), domain.ErrChannelTransient)
	require.Equal(t, BreakerOpen, breaker.State())

	// цепь разомкнута, клиент больше не вызывается
	err := breaker.PushRates(ctx, nil)
	require.ErrorIs(t, err, domain.ErrChannelUnavailable)
	require.False(t, errors.Is(err, domain.ErrChannelTransient))
}

func TestBreakerClient_RejectionDoesNotOpen(t *testing.T) {
	breaker, next, _ := newBreaker(t, 1)
	ctx := context.Background()

	next.EXPECT().PushRates(ctx, gomock.Any()).Return(fmt.Errorf("%w: unknown room", domain.ErrChannelRejected)).Times(3)
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, breaker.PushRates(ctx, nil), domain.ErrChannelRejected)
	}
	require.Equal(t, BreakerClosed, breaker.State())
}

func TestBreakerClient_HalfOpenProbe(t *testing.T) {
	breaker, next, clock := newBreaker(t, 1)
	ctx := context.Background()

	next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(errUpstream)
	require.Error(t, breaker.PushAvailability(ctx, nil))
	require.Equal(t, BreakerOpen, breaker.State())

	clock.Advance(30 * time.Second)
	require.ErrorIs(t, breaker.PushAvailability(ctx, nil), domain.ErrChannelUnavailable)

	// неудачная проба снова размыкает цепь
	clock.Advance(31 * time.Second)
	next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(errUpstream)
	require.ErrorIs(t, breaker.PushAvailability(ctx, nil), domain.ErrChannelTransient)
	require.Equal(t, BreakerOpen, breaker.State())

	clock.Advance(time.Minute)
	next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(nil)
	require.NoError(t, breaker.PushAvailability(ctx, nil))
	require.Equal(t, BreakerClosed, breaker.State())
}

func TestBreakerClient_CanceledProbeKeepsCircuitOpen(t *testing.T) {
	breaker, next, clock := newBreaker(t, 1)
	ctx := context.Background()

	next.EXPECT().PushRates(ctx, gomock.Any()).Return(errUpstream)
	require.Error(t, breaker.PushRates(ctx, nil))

	clock.Advance(2 * time.Minute)
	next.EXPECT().PushRates(ctx, gomock.Any()).Return(context.Canceled)
	require.ErrorIs(t, breaker.PushRates(ctx, nil), context.Canceled)
	require.Equal(t, BreakerOpen, breaker.State())
}

func TestBreakerClient_SuccessResetsFailures(t *testing.T) {
	breaker, next, _ := newBreaker(t, 2)
	ctx := context.Background()

	gomock.InOrder(
		next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(errUpstream),
		next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(nil),
		next.EXPECT().PushAvailability(ctx, gomock.Any()).Return(errUpstream),
	)
	for i := 0; i < 3; i++ {
		_ = breaker.PushAvailability(ctx, nil)
	}
	require.Equal(t, BreakerClosed, breaker.State())
}

func TestBreakerState_String(t *testing.T) {
	require.Equal(t, "closed", BreakerClosed.String())
	require.Equal(t, "open", BreakerOpen.String())
	require.Equal(t, "half-open", BreakerHalfOpen.String())
}
