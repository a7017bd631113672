package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"judgehub/internal/common/metrics"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"

	"github.com/google/uuid"
)

const (
	defaultClaimInterval  = 100 * time.Millisecond
	defaultCleanupTimeout = 5 * time.Second
)

// DispatcherConfig holds the collaborators shared by every session.
type DispatcherConfig struct {
	Queue          repository.TaskQueue
	Store          repository.RecordStore
	Merge          *MergeEngine
	TaskType       string
	ClaimInterval  time.Duration
	CleanupTimeout time.Duration
}

// Dispatcher creates worker sessions and tracks the live ones.
type Dispatcher struct {
	cfg DispatcherConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewDispatcher validates cfg and applies defaults.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("task queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Merge == nil {
		return nil, fmt.Errorf("merge engine is required")
	}
	if cfg.TaskType == "" {
		cfg.TaskType = model.TaskTypeJudge
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = defaultClaimInterval
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	return &Dispatcher{cfg: cfg, sessions: make(map[string]*Session)}, nil
}

// NewSession registers a session for one worker connection.
// The session unregisters itself when Run returns.
func (d *Dispatcher) NewSession(identity Identity, sender Sender) *Session {
	if identity.JudgerID <= 0 {
		identity.JudgerID = model.SystemJudgerID
	}
	s := &Session{
		id:             uuid.NewString(),
		identity:       identity,
		sender:         sender,
		queue:          d.cfg.Queue,
		store:          d.cfg.Store,
		merge:          d.cfg.Merge,
		taskType:       d.cfg.TaskType,
		claimInterval:  d.cfg.ClaimInterval,
		cleanupTimeout: d.cfg.CleanupTimeout,
		state:          StateIdle,
		connectedAt:    time.Now(),
	}
	s.onClose = func() { d.remove(s.id) }

	d.mu.Lock()
	d.sessions[s.id] = s
	d.mu.Unlock()
	metrics.ConnectedJudges.Inc()
	return s
}

// Sessions returns a snapshot of live sessions, oldest first.
func (d *Dispatcher) Sessions() []SessionInfo {
	d.mu.RLock()
	out := make([]SessionInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s.Info())
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Queue returns the shared task queue.
func (d *Dispatcher) Queue() repository.TaskQueue {
	return d.cfg.Queue
}

// TaskType returns the task type sessions claim.
func (d *Dispatcher) TaskType() string {
	return d.cfg.TaskType
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	_, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()
	if ok {
		metrics.ConnectedJudges.Dec()
	}
}
