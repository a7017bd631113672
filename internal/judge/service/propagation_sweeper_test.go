package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	appErr "judgehub/pkg/errors"
)

type flakyPropagator struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (p *flakyPropagator) Propagate(ctx context.Context, record *model.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fails > 0 {
		p.fails--
		return errors.New("aggregates down")
	}
	return nil
}

func (p *flakyPropagator) failNext(n int) {
	p.mu.Lock()
	p.fails = n
	p.mu.Unlock()
}

func (p *flakyPropagator) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestPropagationSweeperRetriesBacklog(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &recordingPropagator{})
	h.insert(t, "d1", "r1")
	h.insert(t, "d1", "r2")
	ctx := context.Background()

	prop := &flakyPropagator{fails: 1}
	backlog := repository.NewRedisPropagationBacklog(h.cache)
	merge, err := service.NewMergeEngine(service.MergeConfig{
		Store:      h.store,
		Bus:        h.bus,
		Propagator: prop,
		Backlog:    backlog,
		Now:        func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new merge engine: %v", err)
	}
	if _, err := merge.End(ctx, endMessage("d1", "r1", 0, model.StatusAccepted, 100), 4); !appErr.Is(err, appErr.PropagationFailed) {
		t.Fatalf("expected PropagationFailed, got %v", err)
	}
	if n, _ := backlog.Len(ctx); n != 1 {
		t.Fatalf("failed propagation must land in the backlog, got %d", n)
	}
	// r2 was rejudged and is waiting again; "gone" no longer exists.
	for _, rid := range []string{"r2", "gone"} {
		if err := backlog.Add(ctx, repository.RecordRef{DomainID: "d1", RecordID: rid}, fixedNow); err != nil {
			t.Fatalf("add %s: %v", rid, err)
		}
	}

	sweeper, err := service.NewPropagationSweeper(service.SweeperConfig{
		Store:      h.store,
		Backlog:    backlog,
		Propagator: prop,
		Interval:   time.Minute,
		Now:        func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	settled, err := sweeper.Sweep(ctx)
	if err != nil || settled != 3 {
		t.Fatalf("expected 3 settled entries, got %d (%v)", settled, err)
	}
	if prop.count() != 2 {
		t.Fatalf("only the final record may be propagated again, got %d calls", prop.count())
	}
	if n, _ := backlog.Len(ctx); n != 0 {
		t.Fatalf("expected empty backlog, got %d", n)
	}
}

func TestPropagationSweeperReschedulesFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &recordingPropagator{})
	h.insert(t, "d1", "r1")
	ctx := context.Background()
	if _, err := h.merge.End(ctx, endMessage("d1", "r1", 0, model.StatusWrongAnswer, 0), 4); err != nil {
		t.Fatalf("end: %v", err)
	}

	prop := &flakyPropagator{}
	prop.failNext(1)
	backlog := repository.NewRedisPropagationBacklog(h.cache)
	ref := repository.RecordRef{DomainID: "d1", RecordID: "r1"}
	if err := backlog.Add(ctx, ref, fixedNow); err != nil {
		t.Fatalf("add: %v", err)
	}
	now := fixedNow
	sweeper, err := service.NewPropagationSweeper(service.SweeperConfig{
		Store:      h.store,
		Backlog:    backlog,
		Propagator: prop,
		Interval:   time.Minute,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	if settled, err := sweeper.Sweep(ctx); err != nil || settled != 0 {
		t.Fatalf("failed retry must not settle, got %d (%v)", settled, err)
	}
	due, err := backlog.Due(ctx, fixedNow, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("failed retry must be pushed back, got %v (%v)", due, err)
	}

	now = fixedNow.Add(time.Minute)
	if settled, err := sweeper.Sweep(ctx); err != nil || settled != 1 {
		t.Fatalf("expected retry to settle, got %d (%v)", settled, err)
	}
	if prop.count() != 2 {
		t.Fatalf("expected two attempts, got %d", prop.count())
	}
}
