package service

import (
	"context"

	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// Propagation step names, used in logs and metrics.
const (
	StepProblemStatus  = "problem_status"
	StepContestStatus  = "contest_status"
	StepDomainCounter  = "domain_counter"
	StepProblemCounter = "problem_counter"
)

// Propagator pushes a finalized record into aggregate state.
type Propagator interface {
	Propagate(ctx context.Context, record *model.Record) error
}

// PostJudgePropagator updates problem status, counters and contest standings.
type PostJudgePropagator struct {
	problems repository.ProblemStats
	domains  repository.DomainStats
	contests repository.ContestStanding
	retry    RetryPolicy
}

// NewPostJudgePropagator wires the aggregate collaborators. contests may be nil
// when no contest records are judged.
func NewPostJudgePropagator(problems repository.ProblemStats, domains repository.DomainStats, contests repository.ContestStanding, retry RetryPolicy) *PostJudgePropagator {
	return &PostJudgePropagator{problems: problems, domains: domains, contests: contests, retry: retry}
}

// Propagate applies the aggregate updates for one finalized record.
// Runs against user-supplied input are skipped.
func (p *PostJudgePropagator) Propagate(ctx context.Context, record *model.Record) error {
	if record == nil {
		return appErr.ValidationError("record", "required")
	}
	if record.IsPretest() {
		logger.Debug(ctx, "skip propagation for pretest record", zap.String("rid", record.ID))
		return nil
	}
	if p.problems == nil || p.domains == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("aggregate stores are not configured")
	}

	accepted := record.Status == model.StatusAccepted
	var updated bool
	err := p.retry.Do(ctx, StepProblemStatus, func(ctx context.Context) error {
		var err error
		updated, err = p.problems.UpdateStatus(ctx, record.DomainID, record.ProblemID, record.UserID, record.ID, record.Status)
		return err
	})
	if err != nil {
		return err
	}

	if record.InContest() {
		if p.contests == nil {
			return appErr.New(appErr.ServiceUnavailable).WithMessage("contest standing store is not configured")
		}
		err = p.retry.Do(ctx, StepContestStatus, func(ctx context.Context) error {
			return p.contests.UpdateStatus(ctx, record.DomainID, record.Contest.ID, record.UserID,
				record.ID, record.ProblemID, accepted, record.Score, record.Contest.Type)
		})
	} else if updated {
		err = p.retry.Do(ctx, StepDomainCounter, func(ctx context.Context) error {
			return p.domains.IncUser(ctx, record.DomainID, record.UserID, repository.FieldNAccept, 1, record.ID)
		})
	}
	if err != nil {
		return err
	}

	if accepted && updated {
		err = p.retry.Do(ctx, StepProblemCounter, func(ctx context.Context) error {
			return p.problems.Inc(ctx, record.DomainID, record.ProblemID, repository.FieldNAccept, 1, record.ID)
		})
		if err != nil {
			return err
		}
	}

	logger.Info(ctx, "record propagated",
		zap.String("domain_id", record.DomainID),
		zap.String("rid", record.ID),
		zap.Bool("accepted", accepted),
		zap.Bool("updated", updated),
	)
	return nil
}

var _ Propagator = (*PostJudgePropagator)(nil)
