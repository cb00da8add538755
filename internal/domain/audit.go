package domain

import "time"

// Extraction run outcomes.
const (
	RunSucceeded = "SUCCESS"
	RunFailed    = "FAILED"
)

// ExtractionRun records one extraction attempt of a statement for audit.
type ExtractionRun struct {
	ID          string
	StatementID string
	UserID      string
	Strategy    string
	ModelName   string

	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string

	Candidates int
	Accepted   int
	Excluded   int
	Skipped    map[string]int

	PromptTokens int64
	OutputTokens int64
	// RawOutput is the unparsed model response, empty for pattern runs.
	RawOutput string
}
