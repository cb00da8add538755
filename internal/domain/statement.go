package domain

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
)

// FileKind is the kind of uploaded document.
type FileKind string

const (
	FileKindPDF FileKind = "pdf"
	FileKindCSV FileKind = "csv"
)

// Status is the overall lifecycle status of a statement.
type Status string

const (
	StatusUploaded     Status = "uploaded"
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusExtracted    Status = "extracted"
	StatusCategorizing Status = "categorizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// PhaseStatus is the status of a single phase (extraction or categorization).
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// Phase identifies one of the two independently retryable pipeline stages.
type Phase string

const (
	PhaseExtraction     Phase = "extraction"
	PhaseCategorization Phase = "categorization"
)

// DefaultMaxRetries is the per-phase retry budget of a new statement.
const DefaultMaxRetries = 3

// Statement is one uploaded source document and its processing state.
type Statement struct {
	ID          string
	UserID      string
	CardID      string
	Filename    string
	StoragePath string
	FileKind    FileKind

	// Password is supplied per request and never persisted.
	Password string `json:"-"`

	Status               Status
	ExtractionStatus     PhaseStatus
	CategorizationStatus PhaseStatus

	ExtractionRetries     int
	CategorizationRetries int
	MaxRetries            int

	ErrorMessage      string
	TransactionCount  int
	ProcessedSnapshot json.RawMessage

	PeriodStart *civil.Date
	PeriodEnd   *civil.Date

	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Retries returns the retry counter of the given phase.
func (s *Statement) Retries(p Phase) int {
	if p == PhaseCategorization {
		return s.CategorizationRetries
	}
	return s.ExtractionRetries
}

// PhaseStatusOf returns the sub-status of the given phase.
func (s *Statement) PhaseStatusOf(p Phase) PhaseStatus {
	if p == PhaseCategorization {
		return s.CategorizationStatus
	}
	return s.ExtractionStatus
}

// StatementPatch enumerates the mutable fields of a statement. Nil fields are
// left untouched.
type StatementPatch struct {
	Status               *Status
	ExtractionStatus     *PhaseStatus
	CategorizationStatus *PhaseStatus

	ExtractionRetries     *int
	CategorizationRetries *int

	ErrorMessage      *string
	TransactionCount  *int
	ProcessedSnapshot json.RawMessage

	CardID      *string
	PeriodStart *civil.Date
	PeriodEnd   *civil.Date

	// ClaimedAt is set on claims; ClearClaim resets it to NULL.
	ClaimedAt  *time.Time
	ClearClaim bool
}

// Apply copies the non-nil fields of p onto s.
func (p StatementPatch) Apply(s *Statement) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ExtractionStatus != nil {
		s.ExtractionStatus = *p.ExtractionStatus
	}
	if p.CategorizationStatus != nil {
		s.CategorizationStatus = *p.CategorizationStatus
	}
	if p.ExtractionRetries != nil {
		s.ExtractionRetries = *p.ExtractionRetries
	}
	if p.CategorizationRetries != nil {
		s.CategorizationRetries = *p.CategorizationRetries
	}
	if p.ErrorMessage != nil {
		s.ErrorMessage = *p.ErrorMessage
	}
	if p.TransactionCount != nil {
		s.TransactionCount = *p.TransactionCount
	}
	if p.ProcessedSnapshot != nil {
		s.ProcessedSnapshot = append(json.RawMessage(nil), p.ProcessedSnapshot...)
	}
	if p.CardID != nil {
		s.CardID = *p.CardID
	}
	if p.PeriodStart != nil {
		d := *p.PeriodStart
		s.PeriodStart = &d
	}
	if p.PeriodEnd != nil {
		d := *p.PeriodEnd
		s.PeriodEnd = &d
	}
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		s.ClaimedAt = &t
	}
	if p.ClearClaim {
		s.ClaimedAt = nil
	}
}

// Merge returns a patch with the fields of other layered over p.
func (p StatementPatch) Merge(other StatementPatch) StatementPatch {
	out := p
	if other.Status != nil {
		out.Status = other.Status
	}
	if other.ExtractionStatus != nil {
		out.ExtractionStatus = other.ExtractionStatus
	}
	if other.CategorizationStatus != nil {
		out.CategorizationStatus = other.CategorizationStatus
	}
	if other.ExtractionRetries != nil {
		out.ExtractionRetries = other.ExtractionRetries
	}
	if other.CategorizationRetries != nil {
		out.CategorizationRetries = other.CategorizationRetries
	}
	if other.ErrorMessage != nil {
		out.ErrorMessage = other.ErrorMessage
	}
	if other.TransactionCount != nil {
		out.TransactionCount = other.TransactionCount
	}
	if other.ProcessedSnapshot != nil {
		out.ProcessedSnapshot = other.ProcessedSnapshot
	}
	if other.CardID != nil {
		out.CardID = other.CardID
	}
	if other.PeriodStart != nil {
		out.PeriodStart = other.PeriodStart
	}
	if other.PeriodEnd != nil {
		out.PeriodEnd = other.PeriodEnd
	}
	if other.ClaimedAt != nil {
		out.ClaimedAt = other.ClaimedAt
	}
	if other.ClearClaim {
		out.ClearClaim = true
	}
	return out
}

// StatusView is the status query output exposed to collaborators.
type StatusView struct {
	StatementID           string      `json:"statement_id"`
	Status                Status      `json:"status"`
	ExtractionStatus      PhaseStatus `json:"extraction_status"`
	CategorizationStatus  PhaseStatus `json:"categorization_status"`
	ExtractionRetries     int         `json:"extraction_retries"`
	CategorizationRetries int         `json:"categorization_retries"`
	MaxRetries            int         `json:"max_retries"`
	ErrorMessage          string      `json:"error_message,omitempty"`
	TransactionsCount     int         `json:"transactions_count"`
}

// View builds the status query output for s.
func (s *Statement) View() StatusView {
	return StatusView{
		StatementID:           s.ID,
		Status:                s.Status,
		ExtractionStatus:      s.ExtractionStatus,
		CategorizationStatus:  s.CategorizationStatus,
		ExtractionRetries:     s.ExtractionRetries,
		CategorizationRetries: s.CategorizationRetries,
		MaxRetries:            s.MaxRetries,
		ErrorMessage:          s.ErrorMessage,
		TransactionsCount:     s.TransactionCount,
	}
}
