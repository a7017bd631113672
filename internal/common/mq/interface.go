package mq

import (
	"context"
	"time"
)

// MessageQueue is the broker surface used for record events and task intake.
type MessageQueue interface {
	Producer
	Consumer

	Ping(ctx context.Context) error
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers messages of subscribed topics to handlers.
type Consumer interface {
	// Subscribe registers handler for topic. A message is committed once the
	// handler returns nil or after MaxAttempts failed deliveries.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// Message is one broker message. Messages sharing a Key keep their order.
type Message struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}

// HandlerFunc handles one delivered message.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	ConsumerGroup string
	// Concurrency is the number of handler goroutines.
	Concurrency int
	MaxAttempts int
	// RetryDelay is the first pause between attempts; it doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (o *SubscribeOptions) setDefaults(topic string) {
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "judgehub-" + topic
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 200 * time.Millisecond
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = 5 * time.Second
		if o.MaxRetryDelay < o.RetryDelay {
			o.MaxRetryDelay = o.RetryDelay
		}
	}
}

// NewMessage creates a message stamped with the current time.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}
