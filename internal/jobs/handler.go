package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"github.com/dvloznov/statement-ingest/internal/pipeline"
)

// Processor runs statements. *pipeline.Orchestrator implements it.
type Processor interface {
	ProcessWith(ctx context.Context, statementID string, run pipeline.RunOptions) error
	RetryWith(ctx context.Context, statementID string, phase domain.Phase, run pipeline.RunOptions) error
}

// StatementHandler runs ProcessStatementJobs against p. When a phase fails,
// the job is pointed at that phase so the queue's next attempt retries only
// it; failures that cannot succeed on retry are marked Permanent.
func StatementHandler(p Processor) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ProcessStatementJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type %s", job.GetType()))
		}
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With().
			Str("job_id", j.JobID).
			Int("attempt", j.RetryCount+1).
			Logger())

		run := pipeline.RunOptions{Password: j.Password}
		var err error
		if j.Phase == "" {
			err = p.ProcessWith(ctx, j.StatementID, run)
		} else {
			err = p.RetryWith(ctx, j.StatementID, j.Phase, run)
		}
		if err == nil {
			return nil
		}

		var perr *pipeline.PhaseError
		if errors.As(err, &perr) {
			j.Phase = perr.Phase
		}
		if !pipeline.Retryable(err) {
			return Permanent(err)
		}
		return err
	}
}
