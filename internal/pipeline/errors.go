package pipeline

import (
	"errors"
	"fmt"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/reader"
	"github.com/dvloznov/statement-ingest/internal/statement"
)

// ErrNoValidTransactions is returned when every extracted candidate was
// rejected by the normalizer.
var ErrNoValidTransactions = errors.New("no valid transactions")

// Class groups errors by how callers should react to them.
type Class string

const (
	// ClassInput errors come from the uploaded file and are never retried.
	ClassInput Class = "input"
	// ClassExtraction errors are retryable up to the statement's budget.
	ClassExtraction Class = "extraction"
	// ClassPersistence errors are failed commits; retryable.
	ClassPersistence Class = "persistence"
	// ClassLifecycle errors are rejected transitions: the statement is not in
	// a state that allows the request.
	ClassLifecycle Class = "lifecycle"
)

// PhaseError is returned by Process and Retry when a phase failed after the
// statement was claimed. The statement has already been moved to failed.
type PhaseError struct {
	StatementID string
	Phase       domain.Phase
	Class       Class
	Err         error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("statement %s: %s: %v", e.StatementID, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// persistenceError marks a storage failure inside a phase.
type persistenceError struct{ err error }

func (e *persistenceError) Error() string { return e.err.Error() }

func (e *persistenceError) Unwrap() error { return e.err }

func persistence(err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{err: err}
}

// Classify returns the class of err.
func Classify(err error) Class {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Class
	}
	switch {
	case reader.IsInputError(err):
		return ClassInput
	case errors.Is(err, statement.ErrRetryLimitExceeded),
		errors.Is(err, statement.ErrInvalidTransition),
		errors.Is(err, statement.ErrAlreadyClaimed),
		errors.Is(err, statement.ErrNotFound):
		return ClassLifecycle
	}
	var se *persistenceError
	if errors.As(err, &se) {
		return ClassPersistence
	}
	return ClassExtraction
}

// Retryable reports whether running the failed phase again can succeed.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassExtraction, ClassPersistence:
		return !errors.Is(err, statement.ErrRetryLimitExceeded)
	default:
		return false
	}
}
