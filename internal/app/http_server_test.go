package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/pms/internal/health"
)

func TestOpsHandler(t *testing.T) {
	health := healthcheck.NewHandler("test")
	handler := opsHandler(health)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	for _, path := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		rec := get(path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.NotEmpty(t, rec.Body.String(), path)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	health.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))
	require.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	require.Equal(t, http.StatusOK, get("/livez").Code, "liveness ignores dependency checks")
}

func TestListenHTTP_ServesUntilShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "pong")
	})

	errCh := make(chan error, 1)
	srv, err := listenHTTP("test", "127.0.0.1:0", mux, log.WithField("test", "listen"), errCh)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "pong", string(body))

	srv.Shutdown()
	require.Empty(t, errCh, "a clean shutdown is not a serve error")

	_, err = http.Get("http://" + srv.Addr() + "/ping")
	require.Error(t, err)
}

func TestListenHTTP_AddressInUse(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	_, err = listenHTTP("test", lis.Addr().String(), http.NewServeMux(), log.WithField("test", "in-use"), make(chan error, 1))
	require.Error(t, err)
}

func TestHTTPServer_ShutdownNil(t *testing.T) {
	var srv *httpServer
	require.NotPanics(t, srv.Shutdown)
}
