package service_test

import (
	"context"
	"testing"

	"judgehub/internal/common/mq"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/service"
	"judgehub/internal/testutil"
	appErr "judgehub/pkg/errors"
)

func TestTaskIntakeEnqueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &recordingPropagator{})
	h.insert(t, "d1", "r1")
	intake := service.NewTaskIntake(h.queue, h.store)
	ctx := context.Background()

	if err := intake.Enqueue(ctx, &model.Task{Type: model.TaskTypeJudge, DomainID: "d1", RecordID: "r1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := intake.Enqueue(ctx, &model.Task{Type: model.TaskTypeJudge, DomainID: "d1", RecordID: "missing"})
	if !appErr.Is(err, appErr.RecordNotFound) {
		t.Fatalf("expected RecordNotFound, got %v", err)
	}
	err = intake.Enqueue(ctx, &model.Task{Type: model.TaskTypeJudge, DomainID: "d1", RecordID: "r1"})
	if !appErr.Is(err, appErr.TaskDuplicate) {
		t.Fatalf("expected TaskDuplicate for a queued record, got %v", err)
	}
	if err := intake.Rejudge(ctx, "d1", "r1"); !appErr.Is(err, appErr.TaskDuplicate) {
		t.Fatalf("expected rejudge of a queued record to be refused, got %v", err)
	}
	if n := h.queueLen(t); n != 1 {
		t.Fatalf("expected 1 queued task, got %d", n)
	}
}

func TestTaskIntakeHandleMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &recordingPropagator{})
	h.insert(t, "d1", "r1")
	intake := service.NewTaskIntake(h.queue, h.store)
	ctx := context.Background()

	valid := mq.NewMessage(testutil.MustMarshalJSON(t, model.Task{Type: model.TaskTypeJudge, DomainID: "d1", RecordID: "r1"}))
	if err := intake.HandleMessage(ctx, valid); err != nil {
		t.Fatalf("handle valid: %v", err)
	}
	if err := intake.HandleMessage(ctx, valid); err != nil {
		t.Fatalf("redelivered task must be dropped, got %v", err)
	}
	for _, body := range []string{"{not json", `{"type":"judge","domainId":"d1"}`, `{"type":"judge","domainId":"d1","rid":"ghost"}`} {
		if err := intake.HandleMessage(ctx, mq.NewMessage([]byte(body))); err != nil {
			t.Fatalf("malformed task %q must be dropped, got %v", body, err)
		}
	}
	if n := h.queueLen(t); n != 1 {
		t.Fatalf("expected 1 queued task, got %d", n)
	}
}
