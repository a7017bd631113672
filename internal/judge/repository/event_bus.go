package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"judgehub/internal/common/mq"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

// EventBus broadcasts record changes. Delivery is best effort.
type EventBus interface {
	Broadcast(ctx context.Context, name string, change model.RecordChange) error
}

// RecordEvent is the published envelope.
type RecordEvent struct {
	Name      string             `json:"name"`
	Change    model.RecordChange `json:"change"`
	CreatedAt int64              `json:"createdAt"`
}

// MQEventBus publishes record events to a message queue topic.
// Events of one record share a message key so consumers see them in order.
type MQEventBus struct {
	queue mq.Producer
	topic string
}

// NewMQEventBus creates a new MQ event bus.
func NewMQEventBus(queue mq.Producer, topic string) *MQEventBus {
	return &MQEventBus{queue: queue, topic: topic}
}

// Broadcast publishes one event.
func (b *MQEventBus) Broadcast(ctx context.Context, name string, change model.RecordChange) error {
	if b == nil || b.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event bus is not configured")
	}
	if b.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if change.Record == nil {
		return appErr.ValidationError("record", "required")
	}
	payload, err := json.Marshal(RecordEvent{Name: name, Change: change, CreatedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal record event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.Key = change.Record.DomainID + ":" + change.Record.ID
	message.ID = message.Key
	message.SetHeader("event", name)
	if err := b.queue.Publish(ctx, b.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.EventPublishFailed, "publish record event failed")
	}
	return nil
}

// LocalEventBus fans events out to in-process subscribers.
type LocalEventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan RecordEvent
}

// NewLocalEventBus creates an empty in-process bus.
func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{subs: make(map[int]chan RecordEvent)}
}

// Subscribe returns a buffered event channel and a cancel func.
// Events are dropped for subscribers whose buffer is full.
func (b *LocalEventBus) Subscribe(buffer int) (<-chan RecordEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan RecordEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers the event to every subscriber without blocking.
func (b *LocalEventBus) Broadcast(ctx context.Context, name string, change model.RecordChange) error {
	event := RecordEvent{Name: name, Change: change, CreatedAt: time.Now().Unix()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// FanoutEventBus broadcasts to several buses and reports the first failure.
type FanoutEventBus []EventBus

// Broadcast tries every bus even when an earlier one fails.
func (f FanoutEventBus) Broadcast(ctx context.Context, name string, change model.RecordChange) error {
	var firstErr error
	for _, bus := range f {
		if err := bus.Broadcast(ctx, name, change); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ EventBus = (*MQEventBus)(nil)
	_ EventBus = (*LocalEventBus)(nil)
	_ EventBus = FanoutEventBus(nil)
)
