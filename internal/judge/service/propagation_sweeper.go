package service

import (
	"context"
	"fmt"
	"time"

	"judgehub/internal/common/metrics"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

// SweeperConfig holds the propagation sweeper dependencies.
type SweeperConfig struct {
	Store      repository.RecordStore
	Backlog    repository.PropagationBacklog
	Propagator Propagator
	Interval   time.Duration
	Batch      int64
	Now        func() time.Time
}

// PropagationSweeper re-runs propagation for records left in the backlog.
// Aggregate updates are idempotent per record, so a record that partly
// propagated before failing is safe to replay.
type PropagationSweeper struct {
	store      repository.RecordStore
	backlog    repository.PropagationBacklog
	propagator Propagator
	interval   time.Duration
	batch      int64
	now        func() time.Time
}

// NewPropagationSweeper validates cfg and applies defaults.
func NewPropagationSweeper(cfg SweeperConfig) (*PropagationSweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Backlog == nil {
		return nil, fmt.Errorf("propagation backlog is required")
	}
	if cfg.Propagator == nil {
		return nil, fmt.Errorf("propagator is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultSweepBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PropagationSweeper{
		store:      cfg.Store,
		backlog:    cfg.Backlog,
		propagator: cfg.Propagator,
		interval:   cfg.Interval,
		batch:      cfg.Batch,
		now:        cfg.Now,
	}, nil
}

// Run sweeps every interval until ctx ends.
func (s *PropagationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "propagation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep retries one batch of due records and returns how many were settled.
// A record that is gone or no longer terminal is dropped: a later end propagates it again.
// Failures are rescheduled one interval later.
func (s *PropagationSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	refs, err := s.backlog.Due(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, ref := range refs {
		fields := []zap.Field{zap.String("domain_id", ref.DomainID), zap.String("rid", ref.RecordID)}
		record, err := s.store.Get(ctx, ref.DomainID, ref.RecordID)
		if err != nil {
			if !appErr.Is(err, appErr.RecordNotFound) {
				logger.Warn(ctx, "load backlog record failed", append(fields, zap.Error(err))...)
				continue
			}
			logger.Warn(ctx, "drop backlog entry for missing record", fields...)
		} else if record.Status.IsTerminal() {
			if err := s.propagator.Propagate(ctx, record); err != nil {
				logger.Warn(ctx, "propagation retry failed", append(fields, zap.Error(err))...)
				if err := s.backlog.Add(ctx, ref, now.Add(s.interval)); err != nil {
					logger.Error(ctx, "reschedule propagation retry failed", append(fields, zap.Error(err))...)
				}
				continue
			}
			metrics.PropagationRecovered.Inc()
			logger.Info(ctx, "propagation recovered", fields...)
		}
		if err := s.backlog.Remove(ctx, ref); err != nil {
			logger.Error(ctx, "remove backlog entry failed", append(fields, zap.Error(err))...)
			continue
		}
		settled++
	}
	return settled, nil
}
