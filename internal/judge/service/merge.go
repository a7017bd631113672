package service

import (
	"context"
	"fmt"
	"time"

	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// MergeEngine applies worker reports to records.
type MergeEngine struct {
	store      repository.RecordStore
	bus        repository.EventBus
	propagator Propagator
	backlog    repository.PropagationBacklog
	sequencer  *Sequencer
	now        func() time.Time
}

// MergeConfig holds merge engine dependencies.
type MergeConfig struct {
	Store      repository.RecordStore
	Bus        repository.EventBus
	Propagator Propagator
	// Backlog, when set, receives records whose propagation failed so a sweeper can retry them.
	Backlog   repository.PropagationBacklog
	Sequencer *Sequencer
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewMergeEngine creates a merge engine.
func NewMergeEngine(cfg MergeConfig) (*MergeEngine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Propagator == nil {
		return nil, fmt.Errorf("propagator is required")
	}
	if cfg.Sequencer == nil {
		cfg.Sequencer = NewSequencer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MergeEngine{
		store:      cfg.Store,
		bus:        cfg.Bus,
		propagator: cfg.Propagator,
		backlog:    cfg.Backlog,
		sequencer:  cfg.Sequencer,
		now:        cfg.Now,
	}, nil
}

// Handle routes msg through the record's sequencer to Next or End.
func (m *MergeEngine) Handle(ctx context.Context, msg model.JudgeMessage, judger int64) (SubmitResult, error) {
	if err := msg.Validate(); err != nil {
		return SubmitResult{}, err
	}
	terminal := msg.IsTerminal()
	apply := func(ctx context.Context) error {
		if terminal {
			_, err := m.End(ctx, msg, judger)
			return err
		}
		_, err := m.Next(ctx, msg)
		return err
	}
	return m.sequencer.Submit(ctx, sequenceKey(msg.DomainID, msg.RecordID), msg.Seq, terminal, apply)
}

// Next applies an incremental report and broadcasts exactly the applied delta.
func (m *MergeEngine) Next(ctx context.Context, msg model.JudgeMessage) (*model.Record, error) {
	update := buildUpdate(msg)
	if update.IsEmpty() {
		return m.store.Get(ctx, msg.DomainID, msg.RecordID)
	}
	record, err := m.store.Update(ctx, msg.DomainID, msg.RecordID, update)
	if err != nil {
		return nil, err
	}
	set, push := update.Set, update.Push
	m.broadcast(ctx, model.RecordChange{Record: record, Set: &set, Push: &push})
	return record, nil
}

// End finalizes a record, propagates it and broadcasts the full record.
// A propagation failure is returned after the record is already final.
func (m *MergeEngine) End(ctx context.Context, msg model.JudgeMessage, judger int64) (*model.Record, error) {
	if msg.Status == nil || !msg.Status.IsTerminal() {
		return nil, appErr.New(appErr.InvalidJudgeMessage).WithMessage("end requires a terminal status")
	}
	if judger <= 0 {
		judger = model.SystemJudgerID
	}
	update := buildUpdate(msg)
	now := m.now()
	update.Set.Progress = nil
	update.Set.JudgeAt = &now
	update.Set.Judger = &judger
	update.Unset = append(update.Unset, model.FieldProgress)

	record, err := m.store.Update(ctx, msg.DomainID, msg.RecordID, update)
	if err != nil {
		return nil, err
	}
	propagateErr := m.propagator.Propagate(ctx, record)
	if propagateErr != nil {
		logger.Error(ctx, "post-judge propagation failed",
			zap.String("domain_id", record.DomainID),
			zap.String("rid", record.ID),
			zap.Error(propagateErr),
		)
		m.postpone(ctx, record)
	}
	m.broadcast(ctx, model.RecordChange{Record: record, Full: true})
	if propagateErr != nil {
		return record, appErr.Wrapf(propagateErr, appErr.PropagationFailed, "propagate record %s/%s failed", record.DomainID, record.ID)
	}
	logger.Info(ctx, "record finalized",
		zap.String("domain_id", record.DomainID),
		zap.String("rid", record.ID),
		zap.String("status", record.Status.String()),
		zap.Int64("judger", judger),
	)
	return record, nil
}

// MarkFetched moves the task's record to fetched and starts a fresh ordering window.
func (m *MergeEngine) MarkFetched(ctx context.Context, task *model.Task) (*model.Record, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	m.sequencer.Forget(sequenceKey(task.DomainID, task.RecordID))
	status := model.StatusFetched
	update := model.RecordUpdate{Set: model.RecordSet{Status: &status}}
	record, err := m.store.Update(ctx, task.DomainID, task.RecordID, update)
	if err != nil {
		return nil, err
	}
	set := update.Set
	m.broadcast(ctx, model.RecordChange{Record: record, Set: &set})
	return record, nil
}

// postpone hands a record with failed propagation to the backlog.
func (m *MergeEngine) postpone(ctx context.Context, record *model.Record) {
	if m.backlog == nil {
		return
	}
	ref := repository.RecordRef{DomainID: record.DomainID, RecordID: record.ID}
	if err := m.backlog.Add(context.WithoutCancel(ctx), ref, m.now()); err != nil {
		logger.Error(ctx, "queue propagation retry failed",
			zap.String("domain_id", record.DomainID),
			zap.String("rid", record.ID),
			zap.Error(err),
		)
	}
}

// Forget drops ordering state for a record that is no longer being judged.
func (m *MergeEngine) Forget(domainID, recordID string) {
	m.sequencer.Forget(sequenceKey(domainID, recordID))
}

func (m *MergeEngine) broadcast(ctx context.Context, change model.RecordChange) {
	if err := m.bus.Broadcast(ctx, model.EventRecordChange, change); err != nil {
		logger.Warn(ctx, "broadcast record change failed",
			zap.String("rid", change.Record.ID),
			zap.Error(err),
		)
	}
}

// buildUpdate maps present message fields to sets and appends. Empty text chunks are skipped.
func buildUpdate(msg model.JudgeMessage) model.RecordUpdate {
	var update model.RecordUpdate
	if msg.Case != nil {
		tc := *msg.Case
		update.Push.TestCase = &tc
	}
	if msg.Message != nil && *msg.Message != "" {
		text := *msg.Message
		update.Push.JudgeText = &text
	}
	if msg.CompilerText != nil && *msg.CompilerText != "" {
		text := *msg.CompilerText
		update.Push.CompilerText = &text
	}
	update.Set.Status = msg.Status
	update.Set.Score = msg.Score
	update.Set.Time = msg.Time
	update.Set.Memory = msg.Memory
	update.Set.Progress = msg.Progress
	return update
}

func sequenceKey(domainID, recordID string) string {
	return domainID + "/" + recordID
}

// finalized reports whether a terminal step error left the record final.
func finalized(err error) bool {
	return appErr.Is(err, appErr.PropagationFailed)
}
