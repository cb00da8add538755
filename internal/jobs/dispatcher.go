package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"github.com/patrickmn/go-cache"
)

// StatementLister finds statements waiting to be processed.
type StatementLister interface {
	StatementsByStatus(ctx context.Context, statuses []domain.Status, limit int) ([]*domain.Statement, error)
}

// Sweeper releases abandoned claims.
type Sweeper interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Dispatcher publishes a ProcessStatementJob for every statement that is
// ready to run. A statement is published at most once per dedupe window,
// and never while the job ledger still has an unfinished job for it.
type Dispatcher struct {
	lister    StatementLister
	publisher Publisher
	batch     int
	window    time.Duration
	published *cache.Cache
	jobs      JobStore
}

// NewDispatcher creates a dispatcher. window bounds how long a published
// statement is skipped by later polls.
func NewDispatcher(lister StatementLister, publisher Publisher, batch int, window time.Duration) *Dispatcher {
	if batch <= 0 {
		batch = 50
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Dispatcher{
		lister:    lister,
		publisher: publisher,
		batch:     batch,
		window:    window,
		published: cache.New(window, 2*window),
	}
}

// WithJobStore makes the dispatcher consult store before publishing, and
// prune finished jobs older than the dedupe window on every sweep.
func (d *Dispatcher) WithJobStore(store JobStore) *Dispatcher {
	d.jobs = store
	return d
}

// Poll publishes jobs for uploaded and pending statements and returns how
// many were published.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	ready, err := d.lister.StatementsByStatus(ctx, []domain.Status{domain.StatusUploaded, domain.StatusPending}, d.batch)
	if err != nil {
		return 0, fmt.Errorf("list ready statements: %w", err)
	}

	n := 0
	for _, s := range ready {
		if _, seen := d.published.Get(s.ID); seen {
			continue
		}
		if d.jobs != nil {
			busy, err := d.jobs.InFlight(ctx, s.ID)
			if err != nil {
				return n, fmt.Errorf("check jobs for %s: %w", s.ID, err)
			}
			if busy {
				continue
			}
		}
		job := &ProcessStatementJob{StatementID: s.ID, MaxRetries: s.MaxRetries}
		if err := d.publisher.PublishProcessStatement(ctx, job); err != nil {
			return n, fmt.Errorf("publish %s: %w", s.ID, err)
		}
		d.published.SetDefault(s.ID, job.JobID)
		n++
	}
	return n, nil
}

// Run polls every interval until ctx is cancelled. Stale claims are swept
// every staleAfter; a nil sweeper disables sweeping.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, sweeper Sweeper, staleAfter time.Duration) {
	log := logger.FromContext(ctx)

	poll := time.NewTicker(interval)
	defer poll.Stop()
	sweep := time.NewTicker(staleAfter)
	defer sweep.Stop()

	d.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			d.poll(ctx)
		case <-sweep.C:
			d.prune(ctx)
			if sweeper == nil {
				continue
			}
			released, err := sweeper.ReleaseStale(ctx, staleAfter)
			if err != nil {
				log.Error().Err(err).Msg("Failed to release stale claims")
				continue
			}
			if released > 0 {
				log.Warn().Int("released", released).Msg("Released stale claims")
			}
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	log := logger.FromContext(ctx)
	n, err := d.Poll(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Failed to dispatch statements")
	}
	if n > 0 {
		log.Info().Int("published", n).Msg("Dispatched statements")
	}
}

func (d *Dispatcher) prune(ctx context.Context) {
	if d.jobs == nil {
		return
	}
	log := logger.FromContext(ctx)
	n, err := d.jobs.Prune(ctx, time.Now().Add(-d.window))
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune finished jobs")
		return
	}
	if n > 0 {
		log.Debug().Int("pruned", n).Msg("Pruned finished jobs")
	}
}
