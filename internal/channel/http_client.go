// Package channel содержит транспорты передачи ARI-обновлений во внешний канал.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRatePerSec = 5
	maxErrorBody      = 512
)

type availabilityLine struct {
	RoomID    string `json:"room_id"`
	Date      string `json:"date"`
	Available int    `json:"available"`
}

type rateLine struct {
	RoomID     string `json:"room_id"`
	RatePlanID string `json:"rate_plan_id"`
	DateFrom   string `json:"date_from"`
	DateTo     string `json:"date_to"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

type ariRequest[T any] struct {
	Channel string `json:"channel"`
	Updates []T    `json:"updates"`
}

// HTTPOptions задаёт параметры HTTP-клиента канала.
type HTTPOptions struct {
	APIKey     string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Entry
}

// HTTPClient отправляет обновления JSON-запросами на ARI endpoint канала.
// Запросы ограничены по частоте: при исчерпании лимита вызов ждёт, пока ctx не отменён.
type HTTPClient struct {
	baseURL string
	channel string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Entry
}

// NewHTTPClient создаёт клиент для endpoint. Пути /availability и /rates добавляются к baseURL.
func NewHTTPClient(baseURL, channel string, opts HTTPOptions) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("channel endpoint is required")
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRatePerSec
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "channel-http-client")
	}

	return &HTTPClient{
		baseURL: baseURL,
		channel: channel,
		apiKey:  opts.APIKey,
		client:  opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		logger:  opts.Logger.WithField("channel", channel),
	}, nil
}

func (c *HTTPClient) PushAvailability(ctx context.Context, updates []domain.AvailabilityUpdate) error {
	lines := make([]availabilityLine, 0, len(updates))
	for _, u := range updates {
		lines = append(lines, availabilityLine{
			RoomID:    u.ExternalRoomID,
			Date:      domain.FormatDate(u.Date),
			Available: u.Available,
		})
	}
	return c.post(ctx, "/availability", ariRequest[availabilityLine]{Channel: c.channel, Updates: lines})
}

func (c *HTTPClient) PushRates(ctx context.Context, updates []domain.RateUpdate) error {
	lines := make([]rateLine, 0, len(updates))
	for _, u := range updates {
		lines = append(lines, rateLine{
			RoomID:     u.ExternalRoomID,
			RatePlanID: u.ExternalRatePlanID,
			DateFrom:   domain.FormatDate(u.StartDate),
			DateTo:     domain.FormatDate(u.EndDate),
			Amount:     domain.FormatMinor(u.AmountMinor),
			Currency:   u.Currency,
		})
	}
	return c.post(ctx, "/rates", ariRequest[rateLine]{Channel: c.channel, Updates: lines})
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", domain.ErrChannelTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrChannelTransient, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(log.Fields{
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("channel request completed")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := strings.TrimSpace(string(snippet))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrChannelTransient, path, resp.StatusCode, reason)
	}
	return fmt.Errorf("%w: %s: status %d: %s", domain.ErrChannelRejected, path, resp.StatusCode, reason)
}

var _ domain.ChannelClient = (*HTTPClient)(nil)
