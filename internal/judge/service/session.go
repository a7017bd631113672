package service

import (
	"context"
	"sync"
	"time"

	"judgehub/internal/common/metrics"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// SessionState is the lifecycle state of a worker connection.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateClaiming
	StateDispatched
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClaiming:
		return "claiming"
	case StateDispatched:
		return "dispatched"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Requeue reasons.
const (
	requeueSendFailed     = "send_failed"
	requeueDisconnect     = "disconnect"
	requeueFinalizeFailed = "finalize_failed"
)

// Sender delivers a claimed task to the worker.
type Sender interface {
	Send(ctx context.Context, msg model.TaskMessage) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg model.TaskMessage) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg model.TaskMessage) error {
	return f(ctx, msg)
}

// Identity is the authenticated worker behind a connection.
type Identity struct {
	JudgerID int64
	Name     string
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID          string      `json:"id"`
	JudgerID    int64       `json:"judgerId"`
	Name        string      `json:"name,omitempty"`
	State       string      `json:"state"`
	Task        *model.Task `json:"task,omitempty"`
	ConnectedAt time.Time   `json:"connectedAt"`
	Handled     uint64      `json:"handled"`
}

// Session drives one worker connection: it claims a task, hands it to the worker,
// applies the worker's reports and claims again once the record is final.
// At most one task is held at a time.
type Session struct {
	id       string
	identity Identity
	sender   Sender

	queue          repository.TaskQueue
	store          repository.RecordStore
	merge          *MergeEngine
	taskType       string
	claimInterval  time.Duration
	cleanupTimeout time.Duration
	onClose        func()

	mu          sync.Mutex
	state       SessionState
	task        *model.Task
	connectedAt time.Time
	handled     uint64
	closeOnce   sync.Once
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Task returns the held task or nil.
func (s *Session) Task() *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.id,
		JudgerID:    s.identity.JudgerID,
		Name:        s.identity.Name,
		State:       s.state.String(),
		Task:        s.task,
		ConnectedAt: s.connectedAt,
		Handled:     s.handled,
	}
}

// Run claims tasks and applies inbound messages until ctx ends or inbound is closed.
// A task still held on return is reset and requeued.
func (s *Session) Run(ctx context.Context, inbound <-chan model.JudgeMessage) error {
	ctx = context.WithValue(ctx, contextkey.ConnID, s.id)
	ctx = context.WithValue(ctx, contextkey.JudgeID, s.identity.JudgerID)
	defer s.Cleanup(ctx)

	s.setState(StateClaiming)
	logger.Info(ctx, "judge session started", zap.String("name", s.identity.Name))
	s.claim(ctx)

	ticker := time.NewTicker(s.claimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
		case <-ticker.C:
			if s.Task() == nil {
				s.claim(ctx)
			}
		}
	}
}

// Cleanup returns a held task to the queue after resetting its record.
// It runs with a detached context so a canceled connection still cleans up.
func (s *Session) Cleanup(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		task := s.task
		s.task = nil
		s.state = StateClosed
		s.mu.Unlock()

		if task != nil {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
			s.resetAndRequeue(cleanupCtx, task, requeueDisconnect)
			cancel()
		}
		logger.Info(ctx, "judge session closed", zap.Bool("requeued", task != nil))
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *Session) claim(ctx context.Context) {
	task, err := s.queue.Claim(ctx, s.taskType)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if appErr.Is(err, appErr.TaskDecodeFailed) {
			logger.Error(ctx, "dropped undecodable task", zap.Error(err))
			return
		}
		logger.Warn(ctx, "claim task failed", zap.Error(err))
		return
	}
	if task == nil {
		return
	}
	metrics.TasksClaimed.WithLabelValues(task.Type).Inc()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		// Lost the race with Cleanup; hand the task back untouched.
		s.requeue(context.WithoutCancel(ctx), task, requeueDisconnect)
		return
	}
	s.task = task
	s.state = StateDispatched
	s.mu.Unlock()

	fields := []zap.Field{zap.String("domain_id", task.DomainID), zap.String("rid", task.RecordID)}
	if err := s.sender.Send(ctx, model.TaskMessage{Task: task}); err != nil {
		logger.Warn(ctx, "send task to judge failed", append(fields, zap.Error(err))...)
		if s.releaseIf(task) {
			s.requeue(context.WithoutCancel(ctx), task, requeueSendFailed)
		}
		return
	}
	if _, err := s.merge.MarkFetched(ctx, task); err != nil {
		if appErr.Is(err, appErr.RecordNotFound) {
			logger.Warn(ctx, "drop task for missing record", append(fields, zap.Error(err))...)
			s.merge.Forget(task.DomainID, task.RecordID)
			s.release(context.WithoutCancel(ctx), task)
			s.releaseIf(task)
			return
		}
		logger.Warn(ctx, "mark record fetched failed", append(fields, zap.Error(err))...)
	}
	logger.Info(ctx, "task dispatched", fields...)
}

func (s *Session) handle(ctx context.Context, msg model.JudgeMessage) {
	key := string(msg.Key)
	task := s.Task()
	if task == nil || task.DomainID != msg.DomainID || task.RecordID != msg.RecordID {
		metrics.JudgeMessages.WithLabelValues(key, "ignored").Inc()
		logger.Warn(ctx, "judge message for a record this connection does not hold",
			zap.String("domain_id", msg.DomainID),
			zap.String("rid", msg.RecordID),
		)
		return
	}

	res, err := s.merge.Handle(ctx, msg, s.identity.JudgerID)
	s.mu.Lock()
	s.handled++
	s.mu.Unlock()

	result := "ok"
	switch {
	case err != nil:
		result = "error"
		logger.Warn(ctx, "apply judge message failed",
			zap.String("key", key),
			zap.String("rid", msg.RecordID),
			zap.Uint64("seq", msg.Seq),
			zap.Error(err),
		)
	case res.Buffered:
		result = "buffered"
	}
	metrics.JudgeMessages.WithLabelValues(key, result).Inc()

	if !res.Finished {
		return
	}
	if res.TerminalFailed && !finalized(err) {
		if s.releaseIf(task) {
			s.resetAndRequeue(ctx, task, requeueFinalizeFailed)
		}
		return
	}
	// Reservation first: once the session reports no task, the record is open to rejudge.
	s.release(ctx, task)
	s.releaseIf(task)
}

// releaseIf drops task if it is still the held one and reports whether it did.
func (s *Session) releaseIf(task *model.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != task {
		return false
	}
	s.task = nil
	if s.state != StateClosed {
		s.state = StateClaiming
	}
	return true
}

func (s *Session) resetAndRequeue(ctx context.Context, task *model.Task, reason string) {
	s.merge.Forget(task.DomainID, task.RecordID)
	fields := []zap.Field{
		zap.String("domain_id", task.DomainID),
		zap.String("rid", task.RecordID),
		zap.String("reason", reason),
	}
	if err := s.store.Reset(ctx, task.DomainID, task.RecordID, false); err != nil {
		if appErr.Is(err, appErr.RecordNotFound) {
			logger.Warn(ctx, "drop task for missing record", append(fields, zap.Error(err))...)
			s.release(ctx, task)
			return
		}
		logger.Error(ctx, "reset record failed", append(fields, zap.Error(err))...)
	}
	s.requeue(ctx, task, reason)
}

// release hands the record's reservation back so it can be queued again.
func (s *Session) release(ctx context.Context, task *model.Task) {
	if err := s.queue.Release(ctx, task); err != nil {
		logger.Error(ctx, "release task reservation failed",
			zap.String("domain_id", task.DomainID),
			zap.String("rid", task.RecordID),
			zap.Error(err),
		)
	}
}

func (s *Session) requeue(ctx context.Context, task *model.Task, reason string) {
	if err := s.queue.Requeue(ctx, task); err != nil {
		logger.Error(ctx, "requeue task failed",
			zap.String("domain_id", task.DomainID),
			zap.String("rid", task.RecordID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		// The task is gone; let an operator enqueue the record again.
		s.release(ctx, task)
		return
	}
	metrics.TasksRequeued.WithLabelValues(reason).Inc()
	logger.Info(ctx, "task requeued",
		zap.String("domain_id", task.DomainID),
		zap.String("rid", task.RecordID),
		zap.String("reason", reason),
	)
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.mu.Unlock()
}
