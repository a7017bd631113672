package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaMessageEncoding(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := &Message{
		ID:        "evt-1",
		Key:       "d1:r1",
		Body:      []byte(`{"k":1}`),
		Headers:   map[string]string{"event": "record/change"},
		Timestamp: ts,
	}

	encoded := encodeMessage("judge.record.events", in)
	if string(encoded.Key) != "d1:r1" {
		t.Fatalf("partition key should come from Key, got %s", encoded.Key)
	}
	out := decodeMessage(encoded)
	if out.ID != "evt-1" || out.Key != "d1:r1" {
		t.Fatalf("unexpected id/key: %s/%s", out.ID, out.Key)
	}
	if !out.Timestamp.Equal(ts) {
		t.Fatalf("unexpected timestamp: %v", out.Timestamp)
	}
	if out.Headers["event"] != "record/change" {
		t.Fatalf("custom header lost: %v", out.Headers)
	}
	if _, ok := out.Headers[headerID]; ok {
		t.Fatalf("reserved header leaked into custom headers")
	}
}

func TestKafkaMessageKeyFallsBackToID(t *testing.T) {
	encoded := encodeMessage("t", &Message{ID: "d1:r1"})
	if string(encoded.Key) != "d1:r1" {
		t.Fatalf("expected id as key, got %s", encoded.Key)
	}

	out := decodeMessage(kafka.Message{Key: []byte("d2:r9")})
	if out.ID != "d2:r9" {
		t.Fatalf("expected key as id, got %s", out.ID)
	}
}

func TestSubscribeOptionsDefaults(t *testing.T) {
	var opts SubscribeOptions
	opts.setDefaults("judge.tasks")
	if opts.ConsumerGroup != "judgehub-judge.tasks" {
		t.Fatalf("unexpected group: %s", opts.ConsumerGroup)
	}
	if opts.Concurrency != 1 || opts.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		t.Fatalf("max retry delay below first delay: %+v", opts)
	}

	custom := SubscribeOptions{RetryDelay: 10 * time.Second}
	custom.setDefaults("t")
	if custom.MaxRetryDelay != 10*time.Second {
		t.Fatalf("max retry delay should be raised to the first delay, got %v", custom.MaxRetryDelay)
	}
}

func TestSleepCtxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatalf("expected sleep to stop on canceled context")
	}
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatalf("expected sleep to complete")
	}
}

func TestKafkaQueueValidation(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	if q.cfg.MaxBytes != 10<<20 || q.cfg.RequiredAcks != kafka.RequireOne {
		t.Fatalf("defaults not applied: %+v", q.cfg)
	}
	ctx := context.Background()
	if err := q.Publish(ctx, "", &Message{}); err == nil {
		t.Fatalf("expected error without topic")
	}
	if err := q.Publish(ctx, "t", nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
	handler := func(context.Context, *Message) error { return errors.New("unused") }
	if err := q.Subscribe(ctx, "t", nil, nil); err == nil {
		t.Fatalf("expected error without handler")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := q.Subscribe(ctx, "t", handler, nil); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := q.Start(); err == nil {
		t.Fatalf("expected start to fail after close")
	}
}
