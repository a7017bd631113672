package service

import (
	"context"
	"encoding/json"
	"errors"

	"judgehub/internal/common/mq"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// TaskIntake moves new judging work into the task queue.
type TaskIntake struct {
	queue repository.TaskQueue
	store repository.RecordStore
}

// NewTaskIntake creates a task intake.
func NewTaskIntake(queue repository.TaskQueue, store repository.RecordStore) *TaskIntake {
	return &TaskIntake{queue: queue, store: store}
}

// Enqueue validates task and appends it to its queue.
// The record must already exist so workers never receive work nobody can finalize.
func (i *TaskIntake) Enqueue(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if _, err := i.store.Get(ctx, task.DomainID, task.RecordID); err != nil {
		return err
	}
	if err := i.queue.Reserve(ctx, task); err != nil {
		return err
	}
	if err := i.queue.Push(ctx, task); err != nil {
		i.release(ctx, task)
		return err
	}
	logger.Info(ctx, "task enqueued",
		zap.String("type", task.Type),
		zap.String("domain_id", task.DomainID),
		zap.String("rid", task.RecordID),
	)
	return nil
}

// Rejudge resets a record, flags it as rejudged and queues it again.
// A record that is still queued or held by a worker is refused with TaskDuplicate
// and left untouched.
func (i *TaskIntake) Rejudge(ctx context.Context, domainID, recordID string) error {
	task := &model.Task{Type: model.TaskTypeJudge, DomainID: domainID, RecordID: recordID}
	if err := i.queue.Reserve(ctx, task); err != nil {
		return err
	}
	if err := i.store.Reset(ctx, domainID, recordID, true); err != nil {
		i.release(ctx, task)
		return err
	}
	if err := i.queue.Push(ctx, task); err != nil {
		i.release(ctx, task)
		return err
	}
	logger.Info(ctx, "record queued for rejudge", zap.String("domain_id", domainID), zap.String("rid", recordID))
	return nil
}

func (i *TaskIntake) release(ctx context.Context, task *model.Task) {
	if err := i.queue.Release(ctx, task); err != nil {
		logger.Warn(ctx, "release task reservation failed",
			zap.String("domain_id", task.DomainID),
			zap.String("rid", task.RecordID),
			zap.Error(err),
		)
	}
}

// Subscribe consumes tasks published on topic and starts the consumer.
func (i *TaskIntake) Subscribe(ctx context.Context, consumer mq.Consumer, topic, group string) error {
	if consumer == nil {
		return errors.New("message queue is nil")
	}
	opts := &mq.SubscribeOptions{ConsumerGroup: group, Concurrency: 2}
	if err := consumer.Subscribe(ctx, topic, i.HandleMessage, opts); err != nil {
		return err
	}
	return consumer.Start()
}

// HandleMessage enqueues one published task. Malformed tasks are dropped.
func (i *TaskIntake) HandleMessage(ctx context.Context, message *mq.Message) error {
	if message == nil {
		return nil
	}
	var task model.Task
	if err := json.Unmarshal(message.Body, &task); err != nil {
		logger.Warn(ctx, "parse task message failed", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	err := i.Enqueue(ctx, &task)
	if err == nil {
		return nil
	}
	if appErr.Is(err, appErr.ValidationFailed) || appErr.Is(err, appErr.TaskInvalid) ||
		appErr.Is(err, appErr.RecordNotFound) || appErr.Is(err, appErr.TaskDuplicate) {
		logger.Warn(ctx, "drop task message", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	return err
}
