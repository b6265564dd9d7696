// Команда dlq-reprocess возвращает входящие брони из DLQ в исходный топик.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var (
	errNotDeadLetter = errors.New("message is not a dead letter")
	errIdle          = errors.New("partition idle")
)

type replayConfig struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	channel     string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c replayConfig) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// replayMessage исходное сообщение, восстановленное из DeadLetter.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	channel string
}

// partitionStream поток сообщений одной партиции DLQ.
type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqSource читает партиции топика DLQ.
type dlqSource interface {
	Partitions(topic string) ([]int32, error)
	Bounds(topic string, partition int32) (oldest, newest int64, err error)
	Open(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func newSaramaSource(brokers []string) (*saramaSource, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &saramaSource{client: client, consumer: consumer}, nil
}

func (s *saramaSource) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s *saramaSource) Bounds(topic string, partition int32) (int64, int64, error) {
	oldest, err := s.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, err
	}
	newest, err := s.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, err
	}
	return oldest, newest, nil
}

func (s *saramaSource) Open(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s *saramaSource) Close() error {
	return errors.Join(s.consumer.Close(), s.client.Close())
}

// connect создаёт источник и, в режиме execute, producer для повторной публикации.
var connect = func(cfg replayConfig) (dlqSource, sarama.SyncProducer, error) {
	source, err := newSaramaSource(cfg.brokers)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.execute {
		return source, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseReplayConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseReplayConfig(args []string, lookupEnv func(string) (string, bool)) (replayConfig, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		cfg        replayConfig
		brokersRaw string
	)
	fs.StringVar(&brokersRaw, "brokers", "", "kafka brokers, comma separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicInboundReservations, "topic for letters without original topic")
	fs.StringVar(&cfg.channel, "channel", "", "replay only letters of this channel")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max letters to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish letters back; dry-run otherwise")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest letters of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this pause")
	if err := fs.Parse(args); err != nil {
		return replayConfig{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookupEnv("KAFKA_BROKERS")
	}
	cfg.brokers = splitList(brokersRaw)
	cfg.channel = strings.TrimSpace(cfg.channel)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)"))
	}
	if cfg.sourceTopic == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if cfg.targetTopic == "" {
		errs = append(errs, errors.New("target-topic is required"))
	}
	if cfg.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, cfg replayConfig, out io.Writer) error {
	source, producer, err := connect(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = source.Close()
	}()

	stats, err := newReplayer(cfg, source, producer).run(ctx)
	_, _ = fmt.Fprintf(out, "dlq-reprocess %s: scanned=%d replayed=%d skipped=%d\n",
		cfg.mode(), stats.scanned, stats.replayed, stats.skipped)
	return err
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

// replayer проходит по партициям DLQ в порядке номеров, пока не исчерпан лимит.
type replayer struct {
	cfg      replayConfig
	source   dlqSource
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
	stats    replayStats
}

func newReplayer(cfg replayConfig, source dlqSource, producer sarama.SyncProducer) *replayer {
	return &replayer{
		cfg:      cfg,
		source:   source,
		producer: producer,
		logger:   log.WithFields(log.Fields{"component": "dlq-reprocess", "mode": cfg.mode()}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	if r.cfg.execute && r.producer == nil {
		return r.stats, errors.New("producer is required in execute mode")
	}

	partitions, err := r.source.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return r.stats, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if r.stats.scanned >= r.cfg.limit {
			break
		}
		if err := r.scanPartition(ctx, partition); err != nil {
			return r.stats, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  r.stats.scanned,
		"replayed": r.stats.replayed,
		"skipped":  r.stats.skipped,
	}).Info("dlq replay finished")
	return r.stats, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32) error {
	oldest, newest, err := r.source.Bounds(r.cfg.sourceTopic, partition)
	if err != nil {
		return fmt.Errorf("offsets of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(r.cfg.limit-r.stats.scanned), oldest)
	}

	stream, err := r.source.Open(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("open partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	for r.stats.scanned < r.cfg.limit {
		msg, err := r.receive(ctx, stream)
		if errors.Is(err, errIdle) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("partition %d: %w", partition, err)
		}
		if msg == nil || msg.Offset >= newest {
			return nil
		}

		r.stats.scanned++
		if err := r.handle(msg); err != nil {
			return err
		}
		if msg.Offset+1 >= newest {
			return nil
		}
	}
	return nil
}

// receive ждёт следующее сообщение не дольше idleTimeout.
// Закрытый канал сообщений даёт (nil, nil).
func (r *replayer) receive(ctx context.Context, stream partitionStream) (*sarama.ConsumerMessage, error) {
	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	errs := stream.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				return nil, cerr
			}
		case msg := <-stream.Messages():
			return msg, nil
		case <-idle.C:
			return nil, errIdle
		}
	}
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	replay, err := decodeDeadLetter(msg, r.cfg.targetTopic)
	if err != nil {
		r.stats.skipped++
		r.logger.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
		return nil
	}
	if r.cfg.channel != "" && replay.channel != r.cfg.channel {
		r.stats.skipped++
		return nil
	}

	fields["target_topic"] = replay.topic
	fields["reservation_key"] = replay.key
	fields["channel"] = replay.channel
	if !r.cfg.execute {
		r.stats.replayed++
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}

	if _, _, err := r.producer.SendMessage(replay.producerMessage(r.now())); err != nil {
		return fmt.Errorf("republish %s: %w", replay.key, err)
	}
	r.stats.replayed++
	r.logger.WithFields(fields).Info("dlq message replayed")
	return nil
}

// producerMessage сбрасывает счётчик попыток: consumer снова даст сообщению полный набор повторов.
func (m replayMessage) producerMessage(now time.Time) *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{{Key: []byte(kafka.HeaderRetryCount), Value: []byte("0")}}
	if m.channel != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(kafka.HeaderChannel), Value: []byte(m.channel)})
	}
	return &sarama.ProducerMessage{
		Topic:     m.topic,
		Key:       sarama.StringEncoder(m.key),
		Value:     sarama.ByteEncoder(m.value),
		Headers:   headers,
		Timestamp: now,
	}
}

// decodeDeadLetter восстанавливает исходное сообщение. Письма без исходного значения пропускаются.
func decodeDeadLetter(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err != nil {
		return replayMessage{}, fmt.Errorf("%w: %v", errNotDeadLetter, err)
	}
	if letter.OriginalValue == "" {
		return replayMessage{}, errNotDeadLetter
	}

	replay := replayMessage{
		topic:   strings.TrimSpace(letter.OriginalTopic),
		key:     letter.OriginalKey,
		value:   []byte(letter.OriginalValue),
		channel: strings.TrimSpace(letter.Channel),
	}
	if replay.topic == "" {
		replay.topic = defaultTopic
	}
	if replay.channel == "" {
		for _, header := range msg.Headers {
			if header != nil && string(header.Key) == kafka.HeaderChannel {
				replay.channel = strings.TrimSpace(string(header.Value))
			}
		}
	}
	return replay, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
