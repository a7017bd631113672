package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

func TestTxPipelineAppliesAll(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	err := c.TxPipeline(ctx, func(pipe Pipeliner) error {
		pipe.HMSet("h", map[string]interface{}{"a": "1", "b": "2"})
		pipe.RPush("l", "x", "y")
		pipe.HDel("h", "b")
		return nil
	})
	if err != nil {
		t.Fatalf("tx pipeline: %v", err)
	}
	if got := mr.HGet("h", "a"); got != "1" {
		t.Fatalf("expected a=1, got %q", got)
	}
	if mr.HGet("h", "b") != "" {
		t.Fatalf("expected b removed")
	}
	items, _ := mr.List("l")
	if len(items) != 2 || items[0] != "x" {
		t.Fatalf("unexpected list: %v", items)
	}
}

func TestEvalNilReply(t *testing.T) {
	c, _ := newTestCache(t)
	script := NewScript(`if redis.call("EXISTS", KEYS[1]) == 0 then return false end return 1`)

	got, err := c.Eval(context.Background(), script, []string{"missing"})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil reply, got %v", got)
	}
}

func TestLPopEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	v, err := c.LPop(context.Background(), "empty")
	if err != nil || v != "" {
		t.Fatalf("expected empty pop, got %q %v", v, err)
	}
}
