package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	"judgehub/internal/testutil"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPropagator struct {
	mu      sync.Mutex
	records []*model.Record
	err     error
}

func (p *recordingPropagator) Propagate(ctx context.Context, record *model.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, record)
	return p.err
}

func (p *recordingPropagator) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

type harness struct {
	cache      cache.Cache
	store      *repository.RedisRecordStore
	queue      *repository.RedisTaskQueue
	aggregates *repository.RedisAggregateStore
	bus        *repository.LocalEventBus
	merge      *service.MergeEngine
}

func newHarness(t *testing.T, propagator service.Propagator) *harness {
	t.Helper()
	c, _ := testutil.NewRedis(t)
	h := &harness{
		cache:      c,
		store:      repository.NewRedisRecordStore(c),
		queue:      repository.NewRedisTaskQueue(c),
		aggregates: repository.NewRedisAggregateStore(c),
		bus:        repository.NewLocalEventBus(),
	}
	if propagator == nil {
		propagator = service.NewPostJudgePropagator(h.aggregates, h.aggregates, h.aggregates.Contests(), service.RetryPolicy{MaxAttempts: 1})
	}
	merge, err := service.NewMergeEngine(service.MergeConfig{
		Store:      h.store,
		Bus:        h.bus,
		Propagator: propagator,
		Now:        func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new merge engine: %v", err)
	}
	h.merge = merge
	return h
}

func (h *harness) insert(t *testing.T, domainID, recordID string) {
	t.Helper()
	err := h.store.Insert(context.Background(), &model.Record{
		DomainID:  domainID,
		ID:        recordID,
		ProblemID: "p1",
		UserID:    7,
		Status:    model.StatusWaiting,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", recordID, err)
	}
}

func (h *harness) record(t *testing.T, domainID, recordID string) *model.Record {
	t.Helper()
	rec, err := h.store.Get(context.Background(), domainID, recordID)
	if err != nil {
		t.Fatalf("get %s: %v", recordID, err)
	}
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextEvent(t *testing.T, events <-chan repository.RecordEvent) repository.RecordEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for record event")
	}
	return repository.RecordEvent{}
}

func statusOf(s model.Status) *model.Status { return &s }
func float(v float64) *float64              { return &v }
func text(v string) *string                 { return &v }

func nextCase(domainID, recordID string, seq uint64, tc model.TestCase) model.JudgeMessage {
	return model.JudgeMessage{Key: model.MessageKeyNext, DomainID: domainID, RecordID: recordID, Seq: seq, Case: &tc}
}

func endMessage(domainID, recordID string, seq uint64, status model.Status, score float64) model.JudgeMessage {
	return model.JudgeMessage{
		Key:      model.MessageKeyEnd,
		DomainID: domainID,
		RecordID: recordID,
		Seq:      seq,
		Status:   &status,
		Score:    &score,
	}
}
