// Package statement implements the lifecycle of an uploaded statement: the
// overall status, the independent extraction and categorization
// sub-statuses, and per-phase retry budgets.
//
//	uploaded/pending -> extracting -> extracted -> categorizing -> completed
//	                        |                          |
//	                        +--------> failed <--------+
//
// A failed phase can be retried while its retry counter is below MaxRetries.
package statement

import (
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-ingest/internal/domain"
)

var (
	// ErrRetryLimitExceeded is returned when a phase has used its retry budget.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	// ErrInvalidTransition is returned for a move the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyClaimed is returned when a compare-and-swap claim loses the race.
	ErrAlreadyClaimed = errors.New("statement already claimed")
	// ErrNotFound is returned by stores for unknown statement ids.
	ErrNotFound = errors.New("statement not found")
)

// maxErrorLen bounds the stored error message.
const maxErrorLen = 2000

// Transition is a computed move: the statuses the statement must still be in
// when the patch is written, and the patch itself.
type Transition struct {
	From  []domain.Status
	Patch domain.StatementPatch
}

// InitialStatuses are the statuses of a statement that was never claimed.
var InitialStatuses = []domain.Status{domain.StatusUploaded, domain.StatusPending}

// ClaimExtraction moves a fresh statement into extracting.
func ClaimExtraction(s *domain.Statement, now time.Time) (Transition, error) {
	if s.Status != domain.StatusUploaded && s.Status != domain.StatusPending {
		return Transition{}, invalid(s, domain.StatusExtracting)
	}
	return Transition{
		From:  InitialStatuses,
		Patch: claimPatch(domain.PhaseExtraction, now),
	}, nil
}

// CompleteExtraction records a successful extraction. snapshot holds the
// extracted rows so that categorization can be retried on its own.
func CompleteExtraction(s *domain.Statement, snapshot []byte, count int) (Transition, error) {
	if s.Status != domain.StatusExtracting {
		return Transition{}, invalid(s, domain.StatusExtracted)
	}
	return Transition{
		From: []domain.Status{domain.StatusExtracting},
		Patch: domain.StatementPatch{
			Status:               ptr(domain.StatusExtracted),
			ExtractionStatus:     ptr(domain.PhaseCompleted),
			CategorizationStatus: ptr(domain.PhasePending),
			ErrorMessage:         ptr(""),
			ProcessedSnapshot:    snapshot,
			TransactionCount:     ptr(count),
			ClearClaim:           true,
		},
	}, nil
}

// FailExtraction moves an extracting statement to failed and spends one
// extraction retry.
func FailExtraction(s *domain.Statement, cause error) (Transition, error) {
	if s.Status != domain.StatusExtracting {
		return Transition{}, invalid(s, domain.StatusFailed)
	}
	return Transition{
		From: []domain.Status{domain.StatusExtracting},
		Patch: domain.StatementPatch{
			Status:            ptr(domain.StatusFailed),
			ExtractionStatus:  ptr(domain.PhaseFailed),
			ExtractionRetries: ptr(s.ExtractionRetries + 1),
			ErrorMessage:      ptr(ErrorMessage(cause)),
			ClearClaim:        true,
		},
	}, nil
}

// ClaimCategorization moves an extracted statement into categorizing.
func ClaimCategorization(s *domain.Statement, now time.Time) (Transition, error) {
	if s.Status != domain.StatusExtracted {
		return Transition{}, invalid(s, domain.StatusCategorizing)
	}
	return Transition{
		From:  []domain.Status{domain.StatusExtracted},
		Patch: claimPatch(domain.PhaseCategorization, now),
	}, nil
}

// CompleteCategorization finishes the statement.
func CompleteCategorization(s *domain.Statement, snapshot []byte, count int) (Transition, error) {
	if s.Status != domain.StatusCategorizing {
		return Transition{}, invalid(s, domain.StatusCompleted)
	}
	return Transition{
		From: []domain.Status{domain.StatusCategorizing},
		Patch: domain.StatementPatch{
			Status:               ptr(domain.StatusCompleted),
			CategorizationStatus: ptr(domain.PhaseCompleted),
			ErrorMessage:         ptr(""),
			ProcessedSnapshot:    snapshot,
			TransactionCount:     ptr(count),
			ClearClaim:           true,
		},
	}, nil
}

// FailCategorization moves a categorizing statement to failed and spends one
// categorization retry. Only persistence failures should get here.
func FailCategorization(s *domain.Statement, cause error) (Transition, error) {
	if s.Status != domain.StatusCategorizing {
		return Transition{}, invalid(s, domain.StatusFailed)
	}
	return Transition{
		From: []domain.Status{domain.StatusCategorizing},
		Patch: domain.StatementPatch{
			Status:                ptr(domain.StatusFailed),
			CategorizationStatus:  ptr(domain.PhaseFailed),
			CategorizationRetries: ptr(s.CategorizationRetries + 1),
			ErrorMessage:          ptr(ErrorMessage(cause)),
			ClearClaim:            true,
		},
	}, nil
}

// Fail dispatches to the failure transition of the phase the statement is in.
func Fail(s *domain.Statement, cause error) (Transition, error) {
	switch s.Status {
	case domain.StatusExtracting:
		return FailExtraction(s, cause)
	case domain.StatusCategorizing:
		return FailCategorization(s, cause)
	default:
		return Transition{}, invalid(s, domain.StatusFailed)
	}
}

// Retry re-claims the failed phase of a failed statement.
func Retry(s *domain.Statement, phase domain.Phase, now time.Time) (Transition, error) {
	if s.Status != domain.StatusFailed || s.PhaseStatusOf(phase) != domain.PhaseFailed {
		return Transition{}, fmt.Errorf("retry %s from %s/%s: %w", phase, s.Status, s.PhaseStatusOf(phase), ErrInvalidTransition)
	}
	if s.Retries(phase) >= maxRetries(s) {
		return Transition{}, fmt.Errorf("retry %s after %d attempts: %w", phase, s.Retries(phase), ErrRetryLimitExceeded)
	}

	patch := claimPatch(phase, now)
	if phase == domain.PhaseExtraction {
		// Categorization results are rebuilt from the new extraction.
		patch.CategorizationStatus = ptr(domain.PhasePending)
	}
	return Transition{
		From:  []domain.Status{domain.StatusFailed},
		Patch: patch,
	}, nil
}

// FailedPhase returns the phase whose sub-status is failed.
func FailedPhase(s *domain.Statement) (domain.Phase, bool) {
	if s.ExtractionStatus == domain.PhaseFailed {
		return domain.PhaseExtraction, true
	}
	if s.CategorizationStatus == domain.PhaseFailed {
		return domain.PhaseCategorization, true
	}
	return "", false
}

// Terminal reports whether no further processing can happen: the statement
// completed, or it failed and the failed phase has no retries left.
func Terminal(s *domain.Statement) bool {
	switch s.Status {
	case domain.StatusCompleted:
		return true
	case domain.StatusFailed:
		phase, ok := FailedPhase(s)
		return !ok || s.Retries(phase) >= maxRetries(s)
	default:
		return false
	}
}

// ErrorMessage renders err for storage, bounded to 2000 bytes.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

func claimPatch(phase domain.Phase, now time.Time) domain.StatementPatch {
	p := domain.StatementPatch{
		ErrorMessage: ptr(""),
		ClaimedAt:    ptr(now.UTC()),
	}
	if phase == domain.PhaseCategorization {
		p.Status = ptr(domain.StatusCategorizing)
		p.CategorizationStatus = ptr(domain.PhaseInProgress)
	} else {
		p.Status = ptr(domain.StatusExtracting)
		p.ExtractionStatus = ptr(domain.PhaseInProgress)
	}
	return p
}

func maxRetries(s *domain.Statement) int {
	if s.MaxRetries <= 0 {
		return domain.DefaultMaxRetries
	}
	return s.MaxRetries
}

func invalid(s *domain.Statement, to domain.Status) error {
	return fmt.Errorf("%s -> %s: %w", s.Status, to, ErrInvalidTransition)
}

func ptr[T any](v T) *T { return &v }
