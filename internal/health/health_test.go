package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func storeCheck(err error) *SimpleChecker {
	return NewSimpleChecker("store", func(context.Context) error { return err })
}

func backlogCheck(oldest time.Time, err error) *BacklogAgeChecker {
	return NewBacklogAgeChecker("outbound_backlog", 5*time.Minute, func(context.Context) (time.Time, error) {
		return oldest, err
	})
}

func TestHandler_Healthz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name: "store and empty backlog",
			checkers: map[string]Checker{
				"store":            storeCheck(nil),
				"outbound_backlog": backlogCheck(time.Time{}, nil),
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name: "stale backlog degrades but keeps 200",
			checkers: map[string]Checker{
				"store":            storeCheck(nil),
				"outbound_backlog": backlogCheck(time.Now().Add(-time.Hour), nil),
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "store down wins over degraded",
			checkers: map[string]Checker{
				"store":            storeCheck(errors.New("connection refused")),
				"outbound_backlog": backlogCheck(time.Now().Add(-time.Hour), nil),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("v1.4.0")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.Equal(t, tt.wantStatus, body.Status)
			require.Equal(t, "v1.4.0", body.Version)
			require.Len(t, body.Checks, len(tt.checkers))
		})
	}
}

func TestHandler_Probes(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	handler := NewHandler("dev")
	handler.RegisterChecker("outbound_backlog", backlogCheck(time.Now().Add(-time.Hour), nil))
	rec = httptest.NewRecorder()
	handler.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "degraded service still accepts webhooks")
	require.Equal(t, "ready", rec.Body.String())

	handler.RegisterChecker("store", storeCheck(errors.New("no connection")))
	rec = httptest.NewRecorder()
	handler.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "not ready", rec.Body.String())
}

func TestSimpleChecker(t *testing.T) {
	check := storeCheck(nil).Check(context.Background())
	require.Equal(t, Check{Name: "store", Status: StatusHealthy, Duration: check.Duration}, check)

	check = NewSimpleChecker("redis_lease", func(context.Context) error {
		return errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	}).Check(context.Background())
	require.Equal(t, StatusUnhealthy, check.Status)
	require.Contains(t, check.Message, "connection refused")
}

func TestBacklogAgeChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		oldest  time.Time
		err     error
		want    Status
		message string
	}{
		{name: "empty queue", want: StatusHealthy},
		{name: "fresh backlog", oldest: now.Add(-30 * time.Second), want: StatusHealthy},
		{name: "stale backlog", oldest: now.Add(-10 * time.Minute), want: StatusDegraded, message: "oldest pending event is 10m0s old"},
		{name: "stats failure", err: errors.New("connection refused"), want: StatusUnhealthy, message: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := backlogCheck(tt.oldest, tt.err)
			checker.now = func() time.Time { return now }

			check := checker.Check(context.Background())
			require.Equal(t, tt.want, check.Status)
			require.Equal(t, tt.message, check.Message)
		})
	}
}

func TestHandler_ChecksShareDeadline(t *testing.T) {
	handler := NewHandler("dev")
	handler.checkTimeout = 20 * time.Millisecond
	handler.RegisterChecker("store", NewSimpleChecker("store", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	handler.RegisterChecker("outbound_backlog", backlogCheck(time.Time{}, nil))

	start := time.Now()
	status, checks := handler.Run(context.Background())
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, StatusUnhealthy, status)
	require.Equal(t, context.DeadlineExceeded.Error(), checks["store"].Message)
	require.Equal(t, StatusHealthy, checks["outbound_backlog"].Status)
}
