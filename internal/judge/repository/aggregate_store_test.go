package repository_test

import (
	"context"
	"testing"

	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/testutil"
)

func TestProblemStatusFirstAcceptance(t *testing.T) {
	t.Parallel()
	c, _ := testutil.NewRedis(t)
	store := repository.NewRedisAggregateStore(c)
	ctx := context.Background()

	updated, err := store.UpdateStatus(ctx, "d1", "p1", 7, "r1", model.StatusWrongAnswer)
	if err != nil || updated {
		t.Fatalf("wrong answer must not count as acceptance: %v %v", updated, err)
	}
	updated, err = store.UpdateStatus(ctx, "d1", "p1", 7, "r2", model.StatusAccepted)
	if err != nil || !updated {
		t.Fatalf("expected first acceptance: %v %v", updated, err)
	}
	updated, err = store.UpdateStatus(ctx, "d1", "p1", 7, "r3", model.StatusAccepted)
	if err != nil || updated {
		t.Fatalf("second acceptance by another record must not update: %v %v", updated, err)
	}
	updated, err = store.UpdateStatus(ctx, "d1", "p1", 7, "r2", model.StatusAccepted)
	if err != nil || !updated {
		t.Fatalf("replay of the accepting record should report updated: %v %v", updated, err)
	}
	updated, err = store.UpdateStatus(ctx, "d1", "p1", 7, "r4", model.StatusWrongAnswer)
	if err != nil || updated {
		t.Fatalf("later failure must keep acceptance: %v %v", updated, err)
	}
}

func TestCountersApplyOncePerRecord(t *testing.T) {
	t.Parallel()
	c, _ := testutil.NewRedis(t)
	store := repository.NewRedisAggregateStore(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Inc(ctx, "d1", "p1", repository.FieldNAccept, 1, "r1"); err != nil {
			t.Fatalf("inc: %v", err)
		}
		if err := store.IncUser(ctx, "d1", 7, repository.FieldNAccept, 1, "r1"); err != nil {
			t.Fatalf("inc user: %v", err)
		}
	}
	if err := store.Inc(ctx, "d1", "p1", repository.FieldNAccept, 1, "r2"); err != nil {
		t.Fatalf("inc: %v", err)
	}

	n, err := store.ProblemCounter(ctx, "d1", "p1", repository.FieldNAccept)
	if err != nil || n != 2 {
		t.Fatalf("expected problem counter 2, got %d (%v)", n, err)
	}
	n, err = store.UserCounter(ctx, "d1", 7, repository.FieldNAccept)
	if err != nil || n != 1 {
		t.Fatalf("expected user counter 1, got %d (%v)", n, err)
	}
	n, err = store.ProblemCounter(ctx, "d1", "p-none", repository.FieldNAccept)
	if err != nil || n != 0 {
		t.Fatalf("expected missing counter 0, got %d (%v)", n, err)
	}
}

func TestContestStandingACM(t *testing.T) {
	t.Parallel()
	c, _ := testutil.NewRedis(t)
	contests := repository.NewRedisAggregateStore(c).Contests()
	ctx := context.Background()

	steps := []struct {
		uid      int64
		rid, pid string
		accepted bool
	}{
		{1, "r1", "A", false},
		{1, "r2", "A", true},
		{1, "r3", "B", true},
		{1, "r3", "B", true},
		{2, "r4", "A", true},
	}
	for _, s := range steps {
		if err := contests.UpdateStatus(ctx, "d1", "c1", s.uid, s.rid, s.pid, s.accepted, 0, model.ContestTypeACM); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	standing, err := contests.Standing(ctx, "d1", "c1", 10)
	if err != nil {
		t.Fatalf("standing: %v", err)
	}
	testutil.AssertEqual(t, standing, []repository.StandingEntry{{UserID: 1, Value: 2}, {UserID: 2, Value: 1}})
}

func TestContestStandingOIKeepsBestScore(t *testing.T) {
	t.Parallel()
	c, _ := testutil.NewRedis(t)
	contests := repository.NewRedisAggregateStore(c).Contests()
	ctx := context.Background()

	for _, s := range []struct {
		rid, pid string
		score    float64
	}{
		{"r1", "A", 60},
		{"r2", "A", 40},
		{"r3", "B", 25.5},
	} {
		if err := contests.UpdateStatus(ctx, "d1", "c2", 5, s.rid, s.pid, false, s.score, model.ContestTypeOI); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	standing, err := contests.Standing(ctx, "d1", "c2", 0)
	if err != nil {
		t.Fatalf("standing: %v", err)
	}
	testutil.AssertEqual(t, standing, []repository.StandingEntry{{UserID: 5, Value: 85.5}})
}
