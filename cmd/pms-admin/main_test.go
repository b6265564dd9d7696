package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/service/outbox"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type AdminTestSuite struct {
	suite.Suite
	store  *memory.Store
	deps   *adminDeps
	dsn    string
	closed bool
}

func TestAdminSuite(t *testing.T) {
	suite.Run(t, new(AdminTestSuite))
}

func (s *AdminTestSuite) SetupTest() {
	clock := func() time.Time { return fixedNow }
	s.store = memory.NewStore(memory.WithClock(clock))
	s.deps = &adminDeps{
		uow:       s.store,
		inbound:   s.store.Inbound(),
		outbound:  s.store.Outbound(),
		generator: outbox.NewGenerator(clock, nil),
		now:       clock,
	}
	s.dsn = ""
	s.closed = false
}

func (s *AdminTestSuite) run(args ...string) (string, error) {
	connect := func(_ context.Context, dsn string) (*adminDeps, func() error, error) {
		s.dsn = dsn
		return s.deps, func() error { s.closed = true; return nil }, nil
	}
	env := func(key string) (string, bool) {
		if key == envPostgresDSN {
			return "postgres://env", true
		}
		return "", false
	}
	var out bytes.Buffer
	err := run(context.Background(), args, env, connect, &out)
	return out.String(), err
}

func (s *AdminTestSuite) failedEvent(category string) domain.OutboundEvent {
	ctx := context.Background()
	event, err := domain.NewAvailabilityEvent(category, fixedNow, fixedNow.AddDate(0, 0, 2))
	s.Require().NoError(err)
	stored, err := s.store.Outbound().Enqueue(ctx, event)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Outbound().MarkFailed(ctx, stored.ID, "channel rejected"))
	return stored
}

func (s *AdminTestSuite) erroredInbound(payload, message string) domain.InboundEvent {
	ctx := context.Background()
	event, err := s.store.Inbound().Append(ctx, domain.InboundEvent{Channel: "booking.com", Payload: payload})
	s.Require().NoError(err)
	if message != "" {
		s.Require().NoError(s.store.Inbound().RecordError(ctx, event.ID, message))
	}
	return event
}

func (s *AdminTestSuite) status(id string) domain.OutboundStatus {
	event, err := s.store.Outbound().Get(context.Background(), id)
	s.Require().NoError(err)
	return event.Status
}

func (s *AdminTestSuite) TestUsageErrors() {
	_, err := s.run()
	s.ErrorIs(err, errUsage)

	_, err = s.run("purge")
	s.ErrorIs(err, errUsage)

	_, err = s.run("backlog", "-bogus")
	s.Error(err)
}

func (s *AdminTestSuite) TestDSNFromFlagOrEnv() {
	_, err := s.run("backlog")
	s.Require().NoError(err)
	s.Equal("postgres://env", s.dsn)
	s.True(s.closed)

	_, err = s.run("backlog", "-dsn", " postgres://flag ")
	s.Require().NoError(err)
	s.Equal("postgres://flag", s.dsn)

	var out bytes.Buffer
	err = run(context.Background(), []string{"backlog"}, func(string) (string, bool) { return "", false }, nil, &out)
	s.ErrorContains(err, "is required")
}

func (s *AdminTestSuite) TestConnectErrorIsReturned() {
	connect := func(context.Context, string) (*adminDeps, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}
	err := run(context.Background(), []string{"backlog", "-dsn=x"}, func(string) (string, bool) { return "", false }, connect, &bytes.Buffer{})
	s.ErrorContains(err, "connection refused")
}

func (s *AdminTestSuite) TestRequeueOutbound_DryRunChangesNothing() {
	event := s.failedEvent("DBL")

	out, err := s.run("requeue-outbound")
	s.Require().NoError(err)
	s.Contains(out, "requeue-outbound dry-run: failed=1 requeued=0")
	s.Equal(domain.OutboundStatusFailed, s.status(event.ID))
}

func (s *AdminTestSuite) TestRequeueOutbound_ExecuteAll() {
	first := s.failedEvent("DBL")
	second := s.failedEvent("SGL")

	out, err := s.run("requeue-outbound", "-execute")
	s.Require().NoError(err)
	s.Contains(out, "failed=2 requeued=2")
	s.Equal(domain.OutboundStatusPending, s.status(first.ID))
	s.Equal(domain.OutboundStatusPending, s.status(second.ID))
}

func (s *AdminTestSuite) TestRequeueOutbound_SingleEvent() {
	first := s.failedEvent("DBL")
	second := s.failedEvent("SGL")

	_, err := s.run("requeue-outbound", "-execute", "-id", first.ID)
	s.Require().NoError(err)
	s.Equal(domain.OutboundStatusPending, s.status(first.ID))
	s.Equal(domain.OutboundStatusFailed, s.status(second.ID))

	_, err = s.run("requeue-outbound", "-execute", "-id", first.ID)
	s.ErrorContains(err, "only failed events can be requeued")

	_, err = s.run("requeue-outbound", "-id", "missing")
	s.ErrorIs(err, domain.ErrOutboundEventNotFound)

	_, err = s.run("requeue-outbound", "-limit", "0")
	s.ErrorContains(err, "limit must be")
}

func (s *AdminTestSuite) TestResolveInbound_ListsErroredEvents() {
	errored := s.erroredInbound(`{"reservation_id":"R-1"}`, "room mapping not found")
	clean := s.erroredInbound(`{"reservation_id":"R-2"}`, "")

	out, err := s.run("resolve-inbound", "-channel", "booking.com")
	s.Require().NoError(err)
	s.Contains(out, errored.ID)
	s.Contains(out, "room mapping not found")
	s.NotContains(out, clean.ID)
}

func (s *AdminTestSuite) TestResolveInbound_Skip() {
	event := s.erroredInbound(`{}`, "payload malformed")

	_, err := s.run("resolve-inbound", "-id", event.ID)
	s.Require().NoError(err)
	got, err := s.store.Inbound().Get(context.Background(), event.ID)
	s.Require().NoError(err)
	s.False(got.Processed, "dry-run must not change the event")

	out, err := s.run("resolve-inbound", "-id", event.ID, "-execute")
	s.Require().NoError(err)
	s.Contains(out, "action=skip")

	got, err = s.store.Inbound().Get(context.Background(), event.ID)
	s.Require().NoError(err)
	s.True(got.Processed)
	s.Equal(fixedNow, got.ProcessedAt)
	s.Empty(got.Error)

	_, err = s.run("resolve-inbound", "-id", event.ID, "-execute")
	s.ErrorContains(err, "already processed")
}

func (s *AdminTestSuite) TestResolveInbound_Clear() {
	event := s.erroredInbound(`{}`, "room conflict")

	_, err := s.run("resolve-inbound", "-id", event.ID, "-action", "clear", "-execute")
	s.Require().NoError(err)

	got, err := s.store.Inbound().Get(context.Background(), event.ID)
	s.Require().NoError(err)
	s.False(got.Processed)
	s.Empty(got.Error)
}

func (s *AdminTestSuite) TestResolveInbound_Validation() {
	_, err := s.run("resolve-inbound")
	s.ErrorContains(err, "channel or id is required")

	_, err = s.run("resolve-inbound", "-id", "x", "-action", "drop")
	s.ErrorContains(err, "unsupported action")

	_, err = s.run("resolve-inbound", "-id", "missing")
	s.ErrorIs(err, domain.ErrInboundEventNotFound)
}

func (s *AdminTestSuite) TestRateUpdate() {
	args := []string{"rate-update", "-category", "DBL", "-from", "2026-06-01", "-to", "2026-06-30", "-amount", "120.5"}

	out, err := s.run(args...)
	s.Require().NoError(err)
	s.Contains(out, "rate-update dry-run")
	stats, err := s.store.Outbound().Stats(context.Background())
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)

	out, err = s.run(append(args, "-execute")...)
	s.Require().NoError(err)
	s.Contains(out, "rate-update execute: category=DBL")

	pending, err := s.store.Outbound().PullPending(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	payload, err := pending[0].RatePayload()
	s.Require().NoError(err)
	s.Equal(int64(12050), payload.AmountMinor)
	s.Equal("EUR", payload.Currency)
	s.Equal(fixedNow, pending[0].CreatedAt)
}

func (s *AdminTestSuite) TestRateUpdate_Validation() {
	tests := map[string][]string{
		"bad from":     {"-category", "DBL", "-from", "June", "-to", "2026-06-30", "-amount", "1"},
		"bad amount":   {"-category", "DBL", "-from", "2026-06-01", "-to", "2026-06-30", "-amount", "1.234"},
		"no category":  {"-from", "2026-06-01", "-to", "2026-06-30", "-amount", "1"},
		"reversed":     {"-category", "DBL", "-from", "2026-06-30", "-to", "2026-06-01", "-amount", "1"},
		"bad currency": {"-category", "DBL", "-from", "2026-06-01", "-to", "2026-06-30", "-amount", "1", "-currency", "EURO"},
	}
	for name, args := range tests {
		_, err := s.run(append([]string{"rate-update"}, args...)...)
		s.Error(err, name)
	}
}

func (s *AdminTestSuite) TestBacklog() {
	s.failedEvent("DBL")
	s.erroredInbound(`{}`, "boom")
	s.erroredInbound(`{}`, "")

	out, err := s.run("backlog", "-channels", "booking.com, expedia")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 4)
	s.Regexp(`^inbound/booking\.com\s+2\s+1\s+0s$`, lines[1])
	s.Regexp(`^inbound/expedia\s+0\s+0\s+-$`, lines[2])
	s.Regexp(`^outbound\s+0\s+1\s+-$`, lines[3])
}

func TestAge(t *testing.T) {
	t.Parallel()

	require.Equal(t, "-", age(fixedNow, time.Time{}))
	require.Equal(t, "1m30s", age(fixedNow, fixedNow.Add(-90*time.Second-300*time.Millisecond)))
}
