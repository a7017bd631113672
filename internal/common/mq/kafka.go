package mq

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"judgehub/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Reserved headers carried next to the caller's own.
const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"
)

// fetchBackoff is the pause after a failed fetch before asking the broker again.
const fetchBackoff = 100 * time.Millisecond

// KafkaConfig configures KafkaQueue.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout time.Duration
}

func (c *KafkaConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
}

// KafkaQueue publishes record events and consumes task topics through Kafka.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu        sync.Mutex
	consumers []*kafkaConsumer
	running   bool
	closed    bool
}

// NewKafkaQueue creates a Kafka-backed queue. Consumers start on Start.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.setDefaults()

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
		},
	}
	return &KafkaQueue{cfg: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes message to topic, partitioned by its key.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if message == nil {
		return errors.New("message is nil")
	}
	return k.writer.WriteMessages(ctx, encodeMessage(topic, message))
}

// Subscribe registers handler for topic; it runs once the queue is started.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	c := &kafkaConsumer{topic: topic, handler: handler, parent: ctx}
	if opts != nil {
		c.opts = *opts
	}
	c.opts.setDefaults(topic)
	if c.parent == nil {
		c.parent = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.consumers = append(k.consumers, c)
	if k.running {
		c.start(k.readerConfig(c))
	}
	return nil
}

// Start runs every registered consumer.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.running {
		return nil
	}
	for _, c := range k.consumers {
		c.start(k.readerConfig(c))
	}
	k.running = true
	return nil
}

// Stop halts consumers and waits for in-flight handlers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range k.consumers {
		c.stop()
	}
	k.running = false
	return nil
}

// Ping dials the first broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close stops consumers and flushes the writer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

func (k *KafkaQueue) readerConfig(c *kafkaConsumer) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     k.cfg.Brokers,
		Topic:       c.topic,
		GroupID:     c.opts.ConsumerGroup,
		MinBytes:    k.cfg.MinBytes,
		MaxBytes:    k.cfg.MaxBytes,
		MaxWait:     k.cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
		Dialer:      k.dialer,
	}
}

// kafkaConsumer is one topic subscription. Offsets are committed explicitly
// after the handler settles a message.
type kafkaConsumer struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *kafkaConsumer) start(cfg kafka.ReaderConfig) {
	c.reader = kafka.NewReader(cfg)
	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel

	inbox := make(chan kafka.Message, c.opts.Concurrency)
	c.wg.Add(1 + c.opts.Concurrency)
	go c.fetch(ctx, inbox)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func() {
			defer c.wg.Done()
			for msg := range inbox {
				c.deliver(ctx, msg)
			}
		}()
	}
}

func (c *kafkaConsumer) stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	_ = c.reader.Close()
	c.reader = nil
	c.cancel = nil
}

func (c *kafkaConsumer) fetch(ctx context.Context, inbox chan<- kafka.Message) {
	defer c.wg.Done()
	defer close(inbox)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "fetch kafka message failed", zap.String("topic", c.topic), zap.Error(err))
			if !sleepCtx(ctx, fetchBackoff) {
				return
			}
			continue
		}
		select {
		case inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// deliver runs the handler until it succeeds or attempts run out, then commits.
// A message abandoned on shutdown stays uncommitted and is redelivered.
func (c *kafkaConsumer) deliver(ctx context.Context, msg kafka.Message) {
	m := decodeMessage(msg)
	delay := c.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, m)
		if err == nil {
			break
		}
		if attempt >= c.opts.MaxAttempts {
			logger.Error(ctx, "give up kafka message",
				zap.String("topic", c.topic),
				zap.String("message_id", m.ID),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			break
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > c.opts.MaxRetryDelay {
			delay = c.opts.MaxRetryDelay
		}
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "commit kafka message failed", zap.String("topic", c.topic), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func encodeMessage(topic string, m *Message) kafka.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	key := m.Key
	if key == "" {
		key = m.ID
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+2)
	for name, value := range m.Headers {
		headers = append(headers, kafka.Header{Key: name, Value: []byte(value)})
	}
	if m.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(m.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(m.Timestamp.Format(time.RFC3339Nano))})
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   m.Body,
		Headers: headers,
		Time:    m.Timestamp,
	}
}

func decodeMessage(msg kafka.Message) *Message {
	m := &Message{
		Key:       string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = m.Key
	}
	return m
}

var _ MessageQueue = (*KafkaQueue)(nil)
