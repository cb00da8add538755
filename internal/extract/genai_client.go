package extract

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// transactionsSchema constrains the model output to the array that
// decodeTransactions expects.
var transactionsSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"date":           {Type: genai.TypeString},
			"merchant":       {Type: genai.TypeString},
			"description":    {Type: genai.TypeString},
			"amount":         {Type: genai.TypeNumber},
			"currency":       {Type: genai.TypeString},
			"operation_type": {Type: genai.TypeString},
			"category":       {Type: genai.TypeString},
		},
		Required: []string{"date", "description", "amount", "currency"},
	},
}

// GeminiClient is a Generator backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client. With an empty apiKey the client is
// configured from the environment (Vertex AI project and location).
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg = &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate sends one prompt, optionally with an inline PDF, and requests a
// JSON response matching transactionsSchema.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	parts := []*genai.Part{{Text: req.Prompt}}
	if len(req.PDF) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "application/pdf",
				Data:     req.PDF,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  8192,
		ResponseMIMEType: "application/json",
		ResponseSchema:   transactionsSchema,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("Generate: generate content: %w", err)
	}

	out := GenerateResponse{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
