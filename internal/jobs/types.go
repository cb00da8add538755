// Package jobs queues statement processing for background workers. Workers
// run the same orchestration as inline callers.
package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessStatement runs a statement, or retries one of its phases.
	JobTypeProcessStatement JobType = "process_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Finished reports whether no further attempt follows this status.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// DefaultMaxRetries is used for jobs published without a retry budget.
const DefaultMaxRetries = 3

// ProcessStatementJob represents a job to process one statement.
type ProcessStatementJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// StatementID is the statement to process.
	StatementID string `json:"statement_id"`

	// Phase is empty for a full run, or the failed phase to retry.
	Phase domain.Phase `json:"phase,omitempty"`

	// Password unlocks encrypted documents. It is never persisted.
	Password string `json:"-"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ProcessStatementJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ProcessStatementJob) GetType() JobType {
	return JobTypeProcessStatement
}

// GetStatus implements the Job interface.
func (j *ProcessStatementJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishProcessStatement publishes a statement processing job.
	PublishProcessStatement(ctx context.Context, job *ProcessStatementJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It returns an error if the job failed; errors wrapped with Permanent are
// not retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore records the lifecycle of published jobs.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ProcessStatementJob) error

	// InFlight reports whether the statement has a job that has not finished.
	InFlight(ctx context.Context, statementID string) (bool, error)

	// Counts returns the number of recorded jobs per status.
	Counts(ctx context.Context) (map[JobStatus]int, error)

	// Prune drops jobs that finished before the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}
