// Package extract turns decoded statement documents into raw transaction
// candidates. Strategies never validate or persist; that is left to the
// normalize package and the pipeline.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/normalize"
	"github.com/dvloznov/statement-ingest/internal/reader"
)

// Candidate sources.
const (
	SourcePattern = "pattern"
	SourceGemini  = "gemini"
)

// ErrNoTransactionsFound is returned when a full pass yields zero candidates.
var ErrNoTransactionsFound = errors.New("no transactions found")

// ExternalServiceError wraps a failure of the text-generation service:
// transport errors, timeouts, and responses that could not be repaired.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsExternal reports whether err came from the external service.
func IsExternal(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}

// Input is what a strategy extracts from.
type Input struct {
	Document *reader.Document
	// Period is the detected statement period, if any.
	Period *normalize.Period
	// Categories are the user's category names, offered to model-based
	// strategies as suggestions.
	Categories []string
}

// Strategy extracts candidates from one document.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, in Input) ([]domain.Candidate, error)
}

// Usage is the model accounting of one extraction.
type Usage struct {
	Calls        int
	PromptTokens int64
	OutputTokens int64
	// RawOutput is the last unparsed model response.
	RawOutput string
}

type usageKey struct{}

// UsageRecorder collects Usage for the extraction running under its context.
type UsageRecorder struct {
	mu    sync.Mutex
	usage Usage
}

// WithUsage returns a context that records model usage of strategies run
// under it.
func WithUsage(ctx context.Context) (context.Context, *UsageRecorder) {
	rec := &UsageRecorder{}
	return context.WithValue(ctx, usageKey{}, rec), rec
}

// Usage returns the accumulated usage.
func (r *UsageRecorder) Usage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

func recordUsage(ctx context.Context, u Usage) {
	rec, ok := ctx.Value(usageKey{}).(*UsageRecorder)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.usage.Calls++
	rec.usage.PromptTokens += u.PromptTokens
	rec.usage.OutputTokens += u.OutputTokens
	rec.usage.RawOutput = u.RawOutput
}
