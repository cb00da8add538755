package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
)

// Generator is the text-generation service behind GeminiStrategy.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// GenerateRequest is one model call. PDF, when set, is attached inline.
type GenerateRequest struct {
	Prompt string
	PDF    []byte
}

// GenerateResponse is the model's raw text output and token accounting.
type GenerateResponse struct {
	Text         string
	PromptTokens int64
	OutputTokens int64
}

// GeminiOptions bounds the model calls of a GeminiStrategy.
type GeminiOptions struct {
	Timeout       time.Duration
	MaxInputChars int
	MaxPages      int
	// RatePerMinute is the call budget; zero disables limiting.
	RatePerMinute int
}

// supportedCurrencies are the currency codes accepted from the model.
var supportedCurrencies = map[string]bool{
	"PEN": true, "USD": true, "EUR": true, "GBP": true, "BRL": true,
	"CLP": true, "COP": true, "MXN": true, "ARS": true, "BOB": true,
	"CAD": true, "JPY": true, "CHF": true,
}

// GeminiStrategy extracts candidates with an external text-generation model.
type GeminiStrategy struct {
	gen     Generator
	opts    GeminiOptions
	limiter *rate.Limiter
}

// NewGeminiStrategy creates a GeminiStrategy over gen.
func NewGeminiStrategy(gen Generator, opts GeminiOptions) *GeminiStrategy {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = 60000
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	return &GeminiStrategy{gen: gen, opts: opts, limiter: limiter}
}

func (s *GeminiStrategy) Name() string { return SourceGemini }

// Extract sends the document text to the model. A PDF without any text
// layer is attached inline instead, when it is short enough.
func (s *GeminiStrategy) Extract(ctx context.Context, in Input) ([]domain.Candidate, error) {
	if in.Document == nil {
		return nil, ErrNoTransactionsFound
	}
	log := logger.FromContext(ctx)

	req := GenerateRequest{}
	text := strings.TrimSpace(in.Document.Text)
	switch {
	case text != "":
		bounded := boundInput(text, s.opts.MaxInputChars)
		if len(bounded) < len(text) {
			log.Debug().Int("chars", len(text)).Int("sent", len(bounded)).Msg("bounded model input")
		}
		req.Prompt = buildPrompt(bounded, in.Period, in.Categories)
	case len(in.Document.PDF) > 0 && in.Document.Pages > 0 && in.Document.Pages <= s.opts.MaxPages:
		log.Info().Int("pages", in.Document.Pages).Msg("document has no text layer, sending PDF inline")
		req.Prompt = buildPrompt("", in.Period, in.Categories)
		req.PDF = in.Document.PDF
	default:
		return nil, fmt.Errorf("%w: document has no text and %d pages exceed the page limit", ErrNoTransactionsFound, in.Document.Pages)
	}

	resp, err := s.call(ctx, req)
	if err != nil {
		return nil, err
	}

	items, err := decodeTransactions(resp.Text)
	if err != nil {
		return nil, &ExternalServiceError{Service: SourceGemini, Err: err}
	}

	var out []domain.Candidate
	for _, it := range items {
		if IsNonPurchase(it.OperationType, it.Description) {
			continue
		}
		currency := strings.ToUpper(strings.TrimSpace(it.Currency))
		if !supportedCurrencies[currency] {
			currency = ""
		}
		out = append(out, domain.Candidate{
			DateString:        strings.TrimSpace(it.Date),
			Description:       strings.TrimSpace(it.Description),
			MerchantGuess:     strings.TrimSpace(it.Merchant),
			AmountString:      strings.TrimSpace(string(it.Amount)),
			CurrencyHint:      currency,
			OperationType:     strings.TrimSpace(it.OperationType),
			SuggestedCategory: strings.TrimSpace(it.Category),
			Source:            SourceGemini,
		})
	}

	if len(out) == 0 {
		return nil, ErrNoTransactionsFound
	}
	return out, nil
}

func (s *GeminiStrategy) call(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return GenerateResponse{}, &ExternalServiceError{Service: SourceGemini, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	resp, err := s.gen.Generate(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.opts.Timeout, err)
		}
		return GenerateResponse{}, &ExternalServiceError{Service: SourceGemini, Err: err}
	}

	recordUsage(ctx, Usage{
		PromptTokens: resp.PromptTokens,
		OutputTokens: resp.OutputTokens,
		RawOutput:    resp.Text,
	})

	if strings.TrimSpace(resp.Text) == "" {
		return GenerateResponse{}, &ExternalServiceError{Service: SourceGemini, Err: errors.New("empty response from model")}
	}
	return resp, nil
}
