package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

const (
	taskQueueKeyPrefix       = "judge:task:queue:"
	taskReservationKeyPrefix = "judge:task:reserved:"

	// A reservation outlives any real judging run; the ttl only clears records
	// stranded by a dispatcher that died while holding them.
	taskReservationTTL = 24 * time.Hour
)

// reserveScript takes KEYS[1] only if nobody holds it.
var reserveScript = cache.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
	return 1
end
return 0
`)

// TaskQueue holds pending tasks per type.
// Claim is a destructive read: two concurrent claims never return the same task.
// Claim returns (nil, nil) when the queue is empty.
//
// A reservation marks a record as queued or held by a session. Producers reserve
// before pushing and the holder releases once the record is final or dropped, so
// one record is never queued twice or judged by two workers at once.
type TaskQueue interface {
	Claim(ctx context.Context, taskType string) (*model.Task, error)
	// Requeue puts a task back at the head so it is claimed next. The reservation is kept.
	Requeue(ctx context.Context, task *model.Task) error
	Push(ctx context.Context, task *model.Task) error
	Len(ctx context.Context, taskType string) (int64, error)
	// Reserve fails with TaskDuplicate while the task's record is reserved.
	Reserve(ctx context.Context, task *model.Task) error
	Release(ctx context.Context, task *model.Task) error
}

// RedisTaskQueue is a FIFO list per task type.
type RedisTaskQueue struct {
	cache cache.Cache
}

// NewRedisTaskQueue creates a Redis-backed task queue.
func NewRedisTaskQueue(cacheClient cache.Cache) *RedisTaskQueue {
	return &RedisTaskQueue{cache: cacheClient}
}

// Claim pops the oldest task of taskType.
func (q *RedisTaskQueue) Claim(ctx context.Context, taskType string) (*model.Task, error) {
	if taskType == "" {
		return nil, appErr.ValidationError("type", "required")
	}
	raw, err := q.cache.LPop(ctx, taskQueueKey(taskType))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TaskQueueError, "claim task failed")
	}
	if raw == "" {
		return nil, nil
	}
	var task model.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// The entry is already popped; surface it so the caller can log the payload.
		return nil, appErr.Wrapf(err, appErr.TaskDecodeFailed, "decode task failed").WithDetail("raw", raw)
	}
	// The task is already popped; a failed refresh only shortens the reservation.
	_ = q.cache.Expire(ctx, taskReservationKey(&task), taskReservationTTL)
	return &task, nil
}

// Requeue pushes task to the head of its queue unchanged.
func (q *RedisTaskQueue) Requeue(ctx context.Context, task *model.Task) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.cache.LPush(ctx, taskQueueKey(task.Type), payload); err != nil {
		return appErr.Wrapf(err, appErr.TaskQueueError, "requeue task failed")
	}
	return nil
}

// Push appends a new task at the tail.
func (q *RedisTaskQueue) Push(ctx context.Context, task *model.Task) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.cache.RPush(ctx, taskQueueKey(task.Type), payload); err != nil {
		return appErr.Wrapf(err, appErr.TaskQueueError, "push task failed")
	}
	return nil
}

// Reserve marks task's record as queued or held.
func (q *RedisTaskQueue) Reserve(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	reply, err := q.cache.Eval(ctx, reserveScript, []string{taskReservationKey(task)}, taskReservationTTL.Milliseconds())
	if err != nil {
		return appErr.Wrapf(err, appErr.TaskQueueError, "reserve task failed")
	}
	if n, _ := reply.(int64); n != 1 {
		return appErr.New(appErr.TaskDuplicate).
			WithMessagef("record %s/%s is already queued or being judged", task.DomainID, task.RecordID).
			WithDetail("domain_id", task.DomainID).
			WithDetail("record_id", task.RecordID)
	}
	return nil
}

// Release drops the reservation of task's record.
func (q *RedisTaskQueue) Release(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if err := q.cache.Del(ctx, taskReservationKey(task)); err != nil {
		return appErr.Wrapf(err, appErr.TaskQueueError, "release task reservation failed")
	}
	return nil
}

// Len returns the number of pending tasks of taskType.
func (q *RedisTaskQueue) Len(ctx context.Context, taskType string) (int64, error) {
	if taskType == "" {
		return 0, appErr.ValidationError("type", "required")
	}
	n, err := q.cache.LLen(ctx, taskQueueKey(taskType))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.TaskQueueError, "queue length failed")
	}
	return n, nil
}

func encodeTask(task *model.Task) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task failed: %w", err)
	}
	return string(payload), nil
}

func taskQueueKey(taskType string) string {
	return taskQueueKeyPrefix + taskType
}

func taskReservationKey(task *model.Task) string {
	return taskReservationKeyPrefix + task.Type + ":" + task.DomainID + ":" + task.RecordID
}

var _ TaskQueue = (*RedisTaskQueue)(nil)
