package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-ingest/internal/jobs"
)

// Store is an in-memory job ledger, safe for concurrent use. It tracks the
// jobs of one worker process and is lost on restart; statement state in the
// database stays authoritative.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.ProcessStatementJob
}

// NewStore creates an empty job ledger.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.ProcessStatementJob),
	}
}

// SaveJob records the current state of job. Passwords are never kept.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ProcessStatementJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *job
	saved.Password = ""
	s.jobs[job.JobID] = &saved
	return nil
}

// InFlight reports whether a pending, running or retrying job exists for
// the statement.
func (s *Store) InFlight(ctx context.Context, statementID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.StatementID == statementID && !job.Status.Finished() {
			return true, nil
		}
	}
	return false, nil
}

// Counts returns how many jobs are recorded per status.
func (s *Store) Counts(ctx context.Context) (map[jobs.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[jobs.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Prune forgets finished jobs whose CompletedAt is before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if job.Status.Finished() && job.CompletedAt != nil && job.CompletedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

var _ jobs.JobStore = (*Store)(nil)
