package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
)

// Primary strategy names accepted by Selector.
const (
	PrimaryPattern = "pattern"
	PrimaryLLM     = "llm"
)

// Fallback runs Secondary exactly once when Primary fails or finds nothing.
type Fallback struct {
	Primary   Strategy
	Secondary Strategy
}

func (f *Fallback) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// Extract runs the strategies in order.
func (f *Fallback) Extract(ctx context.Context, in Input) ([]domain.Candidate, error) {
	out, err := f.Primary.Extract(ctx, in)
	if err == nil && len(out) > 0 {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		err = ErrNoTransactionsFound
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("primary", f.Primary.Name()).
		Str("secondary", f.Secondary.Name()).
		Err(err).
		Msg("primary extraction strategy failed, falling back")

	out, secondErr := f.Secondary.Extract(ctx, in)
	if secondErr == nil && len(out) > 0 {
		return out, nil
	}
	if secondErr == nil {
		secondErr = ErrNoTransactionsFound
	}
	return nil, errors.Join(
		fmt.Errorf("%s: %w", f.Secondary.Name(), secondErr),
		fmt.Errorf("%s: %w", f.Primary.Name(), err),
	)
}

// Selector picks the strategy for a document kind.
type Selector struct {
	Pattern Strategy
	Table   Strategy
	// LLM is nil when no model is configured.
	LLM             Strategy
	Primary         string
	FallbackEnabled bool
}

// For returns the strategy for kind. CSV files are read by column, then by
// line pattern; PDFs use the configured primary with the other as fallback.
func (s *Selector) For(kind domain.FileKind) Strategy {
	if kind == domain.FileKindCSV {
		if s.Table == nil {
			return s.Pattern
		}
		return &Fallback{Primary: s.Table, Secondary: s.Pattern}
	}

	primary, secondary := s.Pattern, s.LLM
	if s.Primary == PrimaryLLM && s.LLM != nil {
		primary, secondary = s.LLM, s.Pattern
	}
	if !s.FallbackEnabled || secondary == nil {
		return primary
	}
	return &Fallback{Primary: primary, Secondary: secondary}
}
