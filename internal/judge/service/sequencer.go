package service

import (
	"context"
	"errors"
	"sync"

	"judgehub/internal/common/metrics"
)

// StepFunc applies one worker message.
type StepFunc func(ctx context.Context) error

// SubmitResult reports what a Submit call ran.
type SubmitResult struct {
	// Buffered is set when the submitted step waits for an earlier sequence number.
	Buffered bool
	// Finished is set once the terminal step of the record has run.
	Finished bool
	// TerminalFailed is set when that terminal step returned an error.
	TerminalFailed bool
}

// Sequencer serializes steps per record. Steps carrying a sequence number run
// strictly in order starting at 1; later numbers wait for the gap to close and
// repeated numbers are dropped. Steps without a number run on arrival.
type Sequencer struct {
	mu      sync.Mutex
	records map[string]*recordSequence
}

type recordSequence struct {
	mu      sync.Mutex
	refs    int
	next    uint64
	pending map[uint64]pendingStep
}

type pendingStep struct {
	terminal bool
	buffered bool
	apply    StepFunc
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{records: make(map[string]*recordSequence)}
}

// Submit runs apply for key in order. err joins the failures of every step run by this call.
func (s *Sequencer) Submit(ctx context.Context, key string, seq uint64, terminal bool, apply StepFunc) (SubmitResult, error) {
	rs := s.acquire(key)
	defer s.release(key, rs)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if seq == 0 {
		err := apply(ctx)
		if !terminal {
			return SubmitResult{}, err
		}
		rs.reset()
		return SubmitResult{Finished: true, TerminalFailed: err != nil}, err
	}

	if rs.next == 0 {
		rs.next = 1
	}
	if seq < rs.next {
		return SubmitResult{}, nil
	}
	if _, dup := rs.pending[seq]; dup {
		return SubmitResult{}, nil
	}
	if rs.pending == nil {
		rs.pending = make(map[uint64]pendingStep)
	}
	if seq > rs.next {
		rs.pending[seq] = pendingStep{terminal: terminal, buffered: true, apply: apply}
		metrics.PendingSequences.Inc()
		return SubmitResult{Buffered: true}, nil
	}
	rs.pending[seq] = pendingStep{terminal: terminal, apply: apply}
	return rs.drain(ctx)
}

// Forget drops buffered steps and the expected sequence number for key.
func (s *Sequencer) Forget(key string) {
	rs := s.acquire(key)
	rs.mu.Lock()
	rs.reset()
	rs.mu.Unlock()
	s.release(key, rs)
}

// Pending returns the number of buffered steps for key.
func (s *Sequencer) Pending(key string) int {
	s.mu.Lock()
	rs, ok := s.records[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.pending)
}

// drain runs every contiguous step from next on. Callers hold rs.mu.
func (rs *recordSequence) drain(ctx context.Context) (SubmitResult, error) {
	var errs []error
	for {
		step, ok := rs.pending[rs.next]
		if !ok {
			return SubmitResult{}, errors.Join(errs...)
		}
		delete(rs.pending, rs.next)
		if step.buffered {
			metrics.PendingSequences.Dec()
		}
		rs.next++
		err := step.apply(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if step.terminal {
			rs.reset()
			return SubmitResult{Finished: true, TerminalFailed: err != nil}, errors.Join(errs...)
		}
	}
}

func (rs *recordSequence) reset() {
	for _, step := range rs.pending {
		if step.buffered {
			metrics.PendingSequences.Dec()
		}
	}
	rs.pending = nil
	rs.next = 0
}

func (s *Sequencer) acquire(key string) *recordSequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.records[key]
	if !ok {
		rs = &recordSequence{}
		s.records[key] = rs
	}
	rs.refs++
	return rs
}

// release drops the entry once nobody uses it and it holds no ordering state.
func (s *Sequencer) release(key string, rs *recordSequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs.refs--
	if rs.refs > 0 {
		return
	}
	rs.mu.Lock()
	idle := rs.next == 0 && len(rs.pending) == 0
	rs.mu.Unlock()
	if idle {
		delete(s.records, key)
	}
}
