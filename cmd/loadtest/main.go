// Команда loadtest нагружает приём вебхуков бронирований и печатает сводку по задержкам.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pms/internal/transport/webhook"
)

const (
	dateLayout    = "2006-01-02"
	tokenLifetime = time.Hour

	statusTransport = "transport_error"

	stepScenario = "scenario"
	stepDeliver  = "deliver"
	stepReplay   = "redeliver"
)

type loadMode string

const (
	modeDeliver       loadMode = "deliver"
	modeDeliverReplay loadMode = "deliver-replay"
)

type config struct {
	baseURL     string
	channel     string
	secret      string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	replayRate  int
	roomID      string
	ratePlanID  string
	checkIn     time.Time
	nights      int
	amountMinor int64
	currency    string
	outputPath  string
}

// bounded сообщает, ограничен ли прогон числом сценариев.
func (c config) bounded() bool { return c.duration <= 0 || c.totalSet }

func (c config) plan() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("%d scenarios", c.total)
	case c.totalSet:
		return fmt.Sprintf("for %s, at most %d scenarios", c.duration, c.total)
	default:
		return fmt.Sprintf("for %s", c.duration)
	}
}

func parseConfig(args []string) (config, error) {
	cfg := config{}
	var modeValue, checkInValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8081", "webhook server base URL")
	fs.StringVar(&cfg.channel, "channel", "booking.com", "channel id used in the webhook path")
	fs.StringVar(&cfg.secret, "secret", "", "webhook signing secret (empty disables Authorization header)")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count (e.g. 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeDeliver), "deliver | deliver-replay")
	fs.IntVar(&cfg.replayRate, "replay-rate", 100, "share of scenarios redelivered in deliver-replay mode, percent")
	fs.StringVar(&cfg.roomID, "room-id", "DBL", "channel room type id")
	fs.StringVar(&cfg.ratePlanID, "rate-plan-id", "BAR", "channel rate plan id")
	fs.StringVar(&checkInValue, "check-in", time.Now().UTC().AddDate(0, 0, 30).Format(dateLayout), "first check-in date (YYYY-MM-DD)")
	fs.IntVar(&cfg.nights, "nights", 2, "nights per reservation")
	fs.Int64Var(&cfg.amountMinor, "amount-minor", 25000, "reservation total in minor units")
	fs.StringVar(&cfg.currency, "currency", "EUR", "reservation currency")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.channel = strings.TrimSpace(cfg.channel)
	cfg.mode = loadMode(strings.TrimSpace(modeValue))

	var problems []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	checkIn, err := time.Parse(dateLayout, strings.TrimSpace(checkInValue))
	check(err != nil, "check-in %q is not a YYYY-MM-DD date", checkInValue)
	cfg.checkIn = checkIn

	check(cfg.mode != modeDeliver && cfg.mode != modeDeliverReplay, "unsupported mode %q", modeValue)
	check(cfg.baseURL == "", "url is required")
	check(cfg.channel == "", "channel is required")
	check(cfg.duration < 0, "duration cannot be negative")
	check(cfg.bounded() && cfg.total <= 0, "total must be positive")
	check(cfg.concurrency <= 0, "concurrency must be positive")
	check(cfg.timeout <= 0, "timeout must be positive")
	check(cfg.replayRate < 0 || cfg.replayRate > 100, "replay-rate %d is outside 0..100", cfg.replayRate)
	check(cfg.nights <= 0, "nights must be positive")
	check(cfg.amountMinor < 0, "amount-minor cannot be negative")
	check(strings.TrimSpace(cfg.roomID) == "", "room-id is required")
	check(strings.TrimSpace(cfg.currency) == "", "currency is required")

	return cfg, errors.Join(problems...)
}

// doer покрывает *http.Client.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		exit("invalid config: %v", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	result, err := run(context.Background(), cfg, client)
	if err != nil {
		exit("load test failed: %v", err)
	}
	if err := result.writeText(os.Stdout, cfg); err != nil {
		exit("print report: %v", err)
	}
	if cfg.outputPath != "" {
		if err := saveSummary(cfg.outputPath, result); err != nil {
			exit("%v", err)
		}
	}
	if result.failed() {
		os.Exit(1)
	}
}

func exit(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadRun общее состояние одного прогона.
type loadRun struct {
	cfg    config
	client doer
	token  string
	runID  string
	rec    *recorder
}

func run(ctx context.Context, cfg config, client doer) (summary, error) {
	lr := &loadRun{cfg: cfg, client: client, runID: uuid.NewString()[:8], rec: &recorder{}}
	if cfg.secret != "" {
		token, err := webhook.NewTokenVerifier(cfg.secret).Sign(cfg.channel, tokenLifetime)
		if err != nil {
			return summary{}, fmt.Errorf("sign webhook token: %w", err)
		}
		lr.token = token
	}

	started := time.Now()
	ids := schedule(ctx, cfg)

	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				_ = lr.scenario(ctx, id)
			}
		}()
	}
	wg.Wait()

	return lr.rec.summary(started, time.Since(started)), nil
}

// schedule выдаёт номера сценариев, пока не исчерпан лимит, время или контекст.
func schedule(ctx context.Context, cfg config) <-chan int {
	ids := make(chan int)
	go func() {
		defer close(ids)
		if cfg.duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.duration)
			defer cancel()
		}
		for id := 0; !cfg.bounded() || id < cfg.total; id++ {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ids <- id:
			}
		}
	}()
	return ids
}

type reservationPayload struct {
	ReservationID string            `json:"reservation_id"`
	Guest         map[string]string `json:"guest"`
	Room          map[string]string `json:"room"`
	CheckIn       string            `json:"check_in"`
	CheckOut      string            `json:"check_out"`
	TotalAmount   string            `json:"total_amount"`
	Currency      string            `json:"currency"`
}

// buildPayload собирает уведомление в формате канала; заезды сдвигаются по кругу в пределах 28 дней.
func buildPayload(cfg config, index int, runID string) ([]byte, error) {
	checkIn := cfg.checkIn.AddDate(0, 0, index%28)
	return json.Marshal(reservationPayload{
		ReservationID: fmt.Sprintf("LT-%s-%d", runID, index),
		Guest: map[string]string{
			"first_name":  "Load",
			"last_name":   "Test " + strconv.Itoa(index),
			"alias_email": fmt.Sprintf("lt-%s-%d@guest.%s", runID, index, cfg.channel),
		},
		Room: map[string]string{
			"room_id":      cfg.roomID,
			"rate_plan_id": cfg.ratePlanID,
		},
		CheckIn:     checkIn.Format(dateLayout),
		CheckOut:    checkIn.AddDate(0, 0, cfg.nights).Format(dateLayout),
		TotalAmount: formatMinor(cfg.amountMinor),
		Currency:    strings.ToUpper(cfg.currency),
	})
}

func formatMinor(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// scenario доставляет одно бронирование и, в режиме deliver-replay, повторяет доставку.
// Повтор обязан вернуться из журнала доставок, а не создать второе событие.
func (lr *loadRun) scenario(ctx context.Context, index int) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		lr.rec.observe(stepScenario, status, time.Since(start), err == nil)
	}()

	body, err := buildPayload(lr.cfg, index, lr.runID)
	if err != nil {
		return err
	}
	deliveryID := fmt.Sprintf("lt-%s-%d", lr.runID, index)

	if _, err := lr.deliver(ctx, stepDeliver, body, deliveryID); err != nil {
		return err
	}
	if lr.cfg.mode != modeDeliverReplay || !shouldReplay(index, lr.cfg.replayRate) {
		return nil
	}

	replayed, err := lr.deliver(ctx, stepReplay, body, deliveryID)
	if err != nil {
		return err
	}
	if !replayed {
		return fmt.Errorf("delivery %s was stored twice", deliveryID)
	}
	return nil
}

// deliver отправляет одно уведомление и сообщает, был ли ответ взят из сохранённой доставки.
func (lr *loadRun) deliver(ctx context.Context, step string, body []byte, deliveryID string) (bool, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, lr.cfg.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/webhooks/%s/reservations", lr.cfg.baseURL, lr.cfg.channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderDeliveryID, deliveryID)
	if lr.token != "" {
		req.Header.Set("Authorization", "Bearer "+lr.token)
	}

	resp, err := lr.client.Do(req)
	if err != nil {
		lr.rec.observe(step, statusTransport, time.Since(start), false)
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	lr.rec.observe(step, strconv.Itoa(resp.StatusCode), time.Since(start), ok)
	if !ok {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Header.Get(webhook.HeaderReplay) == "true", nil
}

// shouldReplay отбирает replayRate процентов сценариев детерминированно по номеру.
func shouldReplay(index, rate int) bool {
	return index%100 < rate
}
