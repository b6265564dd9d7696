// Package health отдаёт состояние хранилища, аренды и очередей синхронизации.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы: общий статус равен худшему из проверок.
func (s Status) severity() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}

// Check результат одной проверки.
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Response тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент. Check не должен блокироваться дольше ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler хранит зарегистрированные проверки и отдаёт их по HTTP.
type Handler struct {
	mu           sync.RWMutex
	checkers     map[string]Checker
	version      string
	startTime    time.Time
	checkTimeout time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:     make(map[string]Checker),
		version:      version,
		startTime:    time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

// RegisterChecker добавляет проверку или заменяет проверку с тем же именем.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет все проверки параллельно под общим дедлайном и возвращает худший статус.
// Degraded не мешает готовности: отставание очереди не мешает принимать вебхуки.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	timeout := h.checkTimeout
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names := slices.Sorted(maps.Keys(checkers))
	results := make([]Check, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = checkers[name].Check(ctx)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(names))
	for i, name := range names {
		checks[name] = results[i]
		if results[i].Status.severity() > overall.severity() {
			overall = results[i].Status
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт JSON-отчёт; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, checks := h.Run(r.Context())

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime) / time.Second),
	})
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// ReadinessHandler отвечает 503, пока хотя бы одна проверка unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if status, _ := h.Run(r.Context()); status == StatusUnhealthy {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// SimpleChecker unhealthy при любой ошибке функции. Подходит для Ping хранилища и redis.
type SimpleChecker struct {
	name  string
	probe func(ctx context.Context) error
}

func NewSimpleChecker(name string, probe func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, probe: probe}
}

func (c *SimpleChecker) Check(ctx context.Context) Check {
	started := time.Now()
	check := Check{Name: c.name, Status: StatusHealthy}
	if err := c.probe(ctx); err != nil {
		check.Status, check.Message = StatusUnhealthy, err.Error()
	}
	check.Duration = time.Since(started)
	return check
}

// BacklogAgeChecker помечает сервис degraded, если самое старое необработанное событие
// ждёт дольше maxAge. Ошибка чтения очереди даёт unhealthy.
type BacklogAgeChecker struct {
	name   string
	maxAge time.Duration
	oldest func(ctx context.Context) (time.Time, error)
	now    func() time.Time
}

// NewBacklogAgeChecker создаёт проверку. oldest возвращает нулевое время для пустой очереди.
func NewBacklogAgeChecker(name string, maxAge time.Duration, oldest func(ctx context.Context) (time.Time, error)) *BacklogAgeChecker {
	return &BacklogAgeChecker{name: name, maxAge: maxAge, oldest: oldest, now: time.Now}
}

func (c *BacklogAgeChecker) Check(ctx context.Context) Check {
	started := time.Now()
	check := Check{Name: c.name, Status: StatusHealthy}

	oldest, err := c.oldest(ctx)
	switch {
	case err != nil:
		check.Status, check.Message = StatusUnhealthy, err.Error()
	case oldest.IsZero() || c.maxAge <= 0:
	default:
		if age := c.now().Sub(oldest); age > c.maxAge {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("oldest pending event is %s old", age.Round(time.Second))
		}
	}
	check.Duration = time.Since(started)
	return check
}
