package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/pms/internal/health"
)

const (
	httpShutdownTimeout = 5 * time.Second
	readHeaderTimeout   = 5 * time.Second
)

// opsHandler отдаёт служебные эндпоинты: метрики Prometheus и проверки здоровья.
func opsHandler(health *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", health)
	mux.HandleFunc("GET /livez", healthcheck.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	return mux
}

// httpServer запущенный HTTP-сервер с именем для логов.
type httpServer struct {
	name   string
	srv    *http.Server
	logger *log.Entry
}

// listenHTTP открывает порт синхронно, так что занятый адрес виден сразу.
// Ошибка Serve уходит в errCh без блокировки.
func listenHTTP(name, addr string, handler http.Handler, logger *log.Entry, errCh chan<- error) (*httpServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &httpServer{
		name:   name,
		srv:    &http.Server{Addr: lis.Addr().String(), Handler: handler, ReadHeaderTimeout: readHeaderTimeout},
		logger: logger.WithField("server", name),
	}
	go func() {
		s.logger.Infof("%s слушает %s", name, lis.Addr())
		err := s.srv.Serve(lis)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		select {
		case errCh <- err:
		default:
			s.logger.WithError(err).Error("http server stopped")
		}
	}()
	return s, nil
}

func (s *httpServer) Addr() string { return s.srv.Addr }

// Shutdown дожидается активных запросов не дольше httpShutdownTimeout. nil безопасен.
func (s *httpServer) Shutdown() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.WithError(err).Warn("http shutdown with error")
	}
}
