package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибка означает, что сообщение нужно повторить.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOptions задаёт группу, топики и политику повторов.
type ConsumerOptions struct {
	GroupID    string
	Topics     []string
	MaxRetries int
	RetryDelay time.Duration
	// DeadLetters получает сообщения, исчерпавшие попытки. nil оставляет их непомеченными.
	DeadLetters *Producer
}

// Consumer читает входящие брони канала из consumer group.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	deadLetters *Producer
	maxRetries  int
	retryDelay  time.Duration
	logger      *log.Entry
	now         func() time.Time
	wg          sync.WaitGroup
}

func consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// NewConsumer подключается к brokers. Нулевые MaxRetries и RetryDelay заменяются значениями по умолчанию.
func NewConsumer(brokers []string, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, opts.GroupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("join kafka group %q: %w", opts.GroupID, err)
	}
	return newConsumer(group, handler, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, handler MessageHandler, opts ConsumerOptions) *Consumer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Consumer{
		group:       group,
		topics:      opts.Topics,
		handler:     handler,
		deadLetters: opts.DeadLetters,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
		logger:      log.WithFields(log.Fields{"component": "kafka-consumer", "group": opts.GroupID}),
		now:         time.Now,
	}
}

// Start запускает чтение в фоне и сразу возвращается. Остановка через отмену ctx и Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается после каждой перебалансировки
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.WithError(err).Error("consume session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию по порядку. Offset помечается только после успешной
// обработки или публикации в DLQ; иначе сообщение будет прочитано снова после рестарта.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
			if err := c.process(ctx, msg); err != nil {
				entry.WithError(err).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process вызывает handler с повторами. Попытки, уже сделанные до переотправки
// (заголовок x-retry-count), вычитаются из бюджета; хотя бы одна попытка делается всегда.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	prior := priorAttempts(msg)
	budget := max(c.maxRetries-prior, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		if attempt >= budget {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   msg.Topic,
			"attempt": prior + attempt,
			"of":      c.maxRetries,
		}).Warn("message handling failed, retrying")
		if werr := sleepCtx(ctx, c.retryDelay); werr != nil {
			return werr
		}
	}

	if c.deadLetters == nil {
		return err
	}
	if dlqErr := c.bury(msg, err); dlqErr != nil {
		return fmt.Errorf("dead-letter %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":    msg.Topic,
		"offset":   msg.Offset,
		"attempts": prior + budget,
	}).Warn("message moved to dead letter queue")
	return nil
}

// bury публикует конверт DeadLetter в TopicDeadLetterQueue с исходным ключом.
func (c *Consumer) bury(msg *sarama.ConsumerMessage, cause error) error {
	letter := DeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		Channel:           headerValue(msg, HeaderChannel),
		ErrorMessage:      cause.Error(),
		FailedAt:          c.now().UTC(),
		Attempts:          c.maxRetries,
	}

	out, err := encodeMessage(TopicDeadLetterQueue, letter.OriginalKey, letter, letter.FailedAt)
	if err != nil {
		return err
	}
	out.Headers = []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(letter.OriginalTopic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(letter.ErrorMessage)},
		{Key: []byte(HeaderFailedAt), Value: []byte(letter.FailedAt.Format(time.RFC3339))},
	}
	if letter.Channel != "" {
		out.Headers = append(out.Headers, sarama.RecordHeader{Key: []byte(HeaderChannel), Value: []byte(letter.Channel)})
	}
	return c.deadLetters.Publish(out)
}

// priorAttempts читает x-retry-count; отсутствующий или битый заголовок даёт 0.
func priorAttempts(msg *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(headerValue(msg, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// headerValue возвращает значение первого заголовка key или пустую строку.
func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
