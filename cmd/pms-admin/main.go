// Команда pms-admin выполняет ручные операции над очередями синхронизации каналов.
// Без -execute команды только показывают, что будет сделано.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/service/outbox"
	"github.com/vladislavdragonenkov/pms/internal/storage/postgres"
)

const (
	envPostgresDSN = "POSTGRES_DSN"
	defaultTimeout = 30 * time.Second
	defaultLimit   = 100

	actionSkip  = "skip"
	actionClear = "clear"
)

var errUsage = errors.New("usage: pms-admin <requeue-outbound|resolve-inbound|rate-update|backlog> [flags]")

// adminDeps собирает репозитории, с которыми работают команды.
type adminDeps struct {
	uow       domain.UnitOfWork
	inbound   domain.InboundRepository
	outbound  domain.OutboundRepository
	generator *outbox.Generator
	now       domain.Clock
}

type connector func(ctx context.Context, dsn string) (*adminDeps, func() error, error)

type commonFlags struct {
	dsn     string
	execute bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.BoolVar(&c.execute, "execute", false, "apply changes (default is dry-run)")
}

func (c *commonFlags) resolveDSN(lookupEnv func(string) (string, bool)) error {
	c.dsn = strings.TrimSpace(c.dsn)
	if c.dsn == "" {
		if v, ok := lookupEnv(envPostgresDSN); ok {
			c.dsn = strings.TrimSpace(v)
		}
	}
	if c.dsn == "" {
		return errors.New(envPostgresDSN + " (or -dsn) is required")
	}
	return nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.LookupEnv, connectPostgres, os.Stdout); err != nil {
		cancel()
		fail("%v", err)
	}
}

func connectPostgres(ctx context.Context, dsn string) (*adminDeps, func() error, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	logger := log.WithField("component", "pms-admin")
	return &adminDeps{
		uow:       postgres.NewUnitOfWork(store, postgres.WithTxLogger(logger)),
		inbound:   store.Inbound(),
		outbound:  store.Outbound(),
		generator: outbox.NewGenerator(nil, nil),
		now:       func() time.Time { return time.Now().UTC() },
	}, store.Close, nil
}

func run(ctx context.Context, args []string, lookupEnv func(string) (string, bool), connect connector, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	var cmd func(context.Context, *adminDeps, io.Writer) error
	var common commonFlags
	var err error

	switch args[0] {
	case "requeue-outbound":
		cmd, err = parseRequeueOutbound(args[1:], &common)
	case "resolve-inbound":
		cmd, err = parseResolveInbound(args[1:], &common)
	case "rate-update":
		cmd, err = parseRateUpdate(args[1:], &common)
	case "backlog":
		cmd, err = parseBacklog(args[1:], &common)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	if err != nil {
		return err
	}
	if err := common.resolveDSN(lookupEnv); err != nil {
		return err
	}

	deps, closeFn, err := connect(ctx, common.dsn)
	if err != nil {
		return err
	}
	defer func() {
		if closeFn != nil {
			_ = closeFn()
		}
	}()
	return cmd(ctx, deps, out)
}

func newFlagSet(name string, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	common.register(fs)
	return fs
}

func mode(execute bool) string {
	if execute {
		return "execute"
	}
	return "dry-run"
}

// requeue-outbound

func parseRequeueOutbound(args []string, common *commonFlags) (func(context.Context, *adminDeps, io.Writer) error, error) {
	var id string
	var limit int
	fs := newFlagSet("requeue-outbound", common)
	fs.StringVar(&id, "id", "", "requeue a single failed event")
	fs.IntVar(&limit, "limit", defaultLimit, "max failed events to requeue")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	id = strings.TrimSpace(id)

	return func(ctx context.Context, deps *adminDeps, out io.Writer) error {
		return requeueOutbound(ctx, deps, out, id, limit, common.execute)
	}, nil
}

func requeueOutbound(ctx context.Context, deps *adminDeps, out io.Writer, id string, limit int, execute bool) error {
	var events []domain.OutboundEvent
	if id != "" {
		event, err := deps.outbound.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get outbound event %s: %w", id, err)
		}
		if event.Status != domain.OutboundStatusFailed {
			return fmt.Errorf("outbound event %s is %s, only failed events can be requeued", id, event.Status)
		}
		events = append(events, event)
	} else {
		failed, err := deps.outbound.ListFailed(ctx, limit)
		if err != nil {
			return fmt.Errorf("list failed outbound events: %w", err)
		}
		events = failed
	}

	requeued := 0
	for _, event := range events {
		fields := log.Fields{"event_id": event.ID, "type": event.Type, "retry_count": event.RetryCount}
		if !execute {
			log.WithFields(fields).WithField("error", event.Error).Info("requeue candidate")
			continue
		}
		if err := deps.outbound.Requeue(ctx, event.ID); err != nil {
			return fmt.Errorf("requeue outbound event %s: %w", event.ID, err)
		}
		requeued++
		log.WithFields(fields).Info("outbound event requeued")
	}

	_, _ = fmt.Fprintf(out, "requeue-outbound %s: failed=%d requeued=%d\n", mode(execute), len(events), requeued)
	return nil
}

// resolve-inbound

func parseResolveInbound(args []string, common *commonFlags) (func(context.Context, *adminDeps, io.Writer) error, error) {
	var channel, id, action string
	var limit int
	fs := newFlagSet("resolve-inbound", common)
	fs.StringVar(&channel, "channel", "", "channel id")
	fs.StringVar(&id, "id", "", "inbound event id (empty lists errored events)")
	fs.StringVar(&action, "action", actionSkip, "skip (mark processed) | clear (drop error, keep for retry)")
	fs.IntVar(&limit, "limit", defaultLimit, "max events scanned when listing")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	channel = strings.TrimSpace(channel)
	id = strings.TrimSpace(id)
	action = strings.TrimSpace(action)
	if channel == "" && id == "" {
		return nil, errors.New("channel or id is required")
	}
	if action != actionSkip && action != actionClear {
		return nil, fmt.Errorf("unsupported action %q (use %s|%s)", action, actionSkip, actionClear)
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	return func(ctx context.Context, deps *adminDeps, out io.Writer) error {
		if id == "" {
			return listErroredInbound(ctx, deps, out, channel, limit)
		}
		return resolveInbound(ctx, deps, out, id, action, common.execute)
	}, nil
}

func listErroredInbound(ctx context.Context, deps *adminDeps, out io.Writer, channel string, limit int) error {
	events, err := deps.inbound.PullUnprocessed(ctx, channel, limit)
	if err != nil {
		return fmt.Errorf("pull unprocessed inbound events: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tRECEIVED AT\tERROR")
	for _, event := range events {
		if event.Error == "" {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", event.ID, event.ReceivedAt.Format(time.RFC3339), event.Error)
	}
	return tw.Flush()
}

func resolveInbound(ctx context.Context, deps *adminDeps, out io.Writer, id, action string, execute bool) error {
	event, err := deps.inbound.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get inbound event %s: %w", id, err)
	}
	if event.Processed {
		return fmt.Errorf("inbound event %s is already processed", id)
	}

	logger := log.WithFields(log.Fields{"event_id": event.ID, "channel": event.Channel, "action": action})
	if execute {
		switch action {
		case actionSkip:
			err = deps.inbound.MarkProcessed(ctx, event.ID, deps.now())
		case actionClear:
			err = deps.inbound.RecordError(ctx, event.ID, "")
		}
		if err != nil {
			return fmt.Errorf("resolve inbound event %s: %w", id, err)
		}
		logger.Info("inbound event resolved")
	} else {
		logger.WithField("error", event.Error).Info("resolve candidate")
	}

	_, _ = fmt.Fprintf(out, "resolve-inbound %s: id=%s action=%s\n", mode(execute), event.ID, action)
	return nil
}

// rate-update

func parseRateUpdate(args []string, common *commonFlags) (func(context.Context, *adminDeps, io.Writer) error, error) {
	var category, from, to, amount, currency string
	fs := newFlagSet("rate-update", common)
	fs.StringVar(&category, "category", "", "room category")
	fs.StringVar(&from, "from", "", "first date (YYYY-MM-DD)")
	fs.StringVar(&to, "to", "", "last date inclusive (YYYY-MM-DD)")
	fs.StringVar(&amount, "amount", "", "nightly amount, e.g. 120.00")
	fs.StringVar(&currency, "currency", "EUR", "ISO 4217 currency")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	payload, err := buildRatePayload(category, from, to, amount, currency)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, deps *adminDeps, out io.Writer) error {
		return rateUpdate(ctx, deps, out, payload, common.execute)
	}, nil
}

func buildRatePayload(category, from, to, amount, currency string) (domain.RatePayload, error) {
	start, err := domain.ParseDate(from)
	if err != nil {
		return domain.RatePayload{}, fmt.Errorf("from: %w", err)
	}
	end, err := domain.ParseDate(to)
	if err != nil {
		return domain.RatePayload{}, fmt.Errorf("to: %w", err)
	}
	minor, err := domain.ParseMinor(amount)
	if err != nil {
		return domain.RatePayload{}, fmt.Errorf("amount: %w", err)
	}
	payload := domain.RatePayload{
		Category:    strings.TrimSpace(category),
		StartDate:   start,
		EndDate:     end,
		AmountMinor: minor,
		Currency:    strings.ToUpper(strings.TrimSpace(currency)),
	}
	// валидация та же, что при записи события
	if _, err := domain.NewRateEvent(payload); err != nil {
		return domain.RatePayload{}, err
	}
	return payload, nil
}

func rateUpdate(ctx context.Context, deps *adminDeps, out io.Writer, payload domain.RatePayload, execute bool) error {
	fields := log.Fields{
		"category": payload.Category,
		"from":     domain.FormatDate(payload.StartDate),
		"to":       domain.FormatDate(payload.EndDate),
		"amount":   domain.FormatMinor(payload.AmountMinor),
	}
	if !execute {
		log.WithFields(fields).Info("rate update candidate")
		_, _ = fmt.Fprintf(out, "rate-update dry-run: category=%s\n", payload.Category)
		return nil
	}

	var stored domain.OutboundEvent
	err := deps.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		event, err := deps.generator.EnqueueRateUpdate(ctx, tx, payload)
		stored = event
		return err
	})
	if err != nil {
		return fmt.Errorf("enqueue rate update: %w", err)
	}

	log.WithFields(fields).WithField("event_id", stored.ID).Info("rate update enqueued")
	_, _ = fmt.Fprintf(out, "rate-update execute: category=%s event=%s\n", payload.Category, stored.ID)
	return nil
}

// backlog

func parseBacklog(args []string, common *commonFlags) (func(context.Context, *adminDeps, io.Writer) error, error) {
	var channels string
	fs := newFlagSet("backlog", common)
	fs.StringVar(&channels, "channels", "", "comma-separated channel ids for inbound stats")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	list := make([]string, 0)
	for _, ch := range strings.Split(channels, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			list = append(list, ch)
		}
	}
	return func(ctx context.Context, deps *adminDeps, out io.Writer) error {
		return backlog(ctx, deps, out, list)
	}, nil
}

func backlog(ctx context.Context, deps *adminDeps, out io.Writer, channels []string) error {
	now := deps.now()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tERRORED/FAILED\tOLDEST AGE")

	for _, ch := range channels {
		stats, err := deps.inbound.Stats(ctx, ch)
		if err != nil {
			return fmt.Errorf("inbound stats for %s: %w", ch, err)
		}
		_, _ = fmt.Fprintf(tw, "inbound/%s\t%d\t%d\t%s\n", ch, stats.UnprocessedCount, stats.ErroredCount, age(now, stats.OldestUnprocessedAt))
	}

	stats, err := deps.outbound.Stats(ctx)
	if err != nil {
		return fmt.Errorf("outbound stats: %w", err)
	}
	_, _ = fmt.Fprintf(tw, "outbound\t%d\t%d\t%s\n", stats.PendingCount, stats.FailedCount, age(now, stats.OldestPendingAt))
	return tw.Flush()
}

func age(now, oldest time.Time) string {
	if oldest.IsZero() {
		return "-"
	}
	return now.Sub(oldest).Truncate(time.Second).String()
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
