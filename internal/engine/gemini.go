package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/heimdex/heimdex-studio/internal/analysis"
)

// GeminiProvider describes frames through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	models []string
	logger *slog.Logger
}

// NewGeminiProvider creates a Gemini API client for apiKey.
func NewGeminiProvider(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{
		client: client,
		models: DefaultPricing.Models(ProviderGemini),
		logger: logger,
	}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) Models() []string { return p.models }

func (p *GeminiProvider) Describe(ctx context.Context, req FrameRequest) (Description, error) {
	mime := req.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mime, Data: req.Image}},
		{Text: req.Prompt},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction(req)}},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Description{}, &ProviderError{Provider: ProviderGemini, StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return Description{}, fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Description{}, fmt.Errorf("gemini returned an empty response for frame %d", req.FrameNumber)
	}

	var usage analysis.TokenUsage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	if p.logger != nil {
		p.logger.Debug("gemini frame described",
			"model", req.Model,
			"frame_number", req.FrameNumber,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
		)
	}

	raw, _ := json.Marshal(resp)
	return Description{Text: text, Usage: usage, Raw: raw}, nil
}

// CountPromptTokens asks the API for the exact token count of a prompt.
func (p *GeminiProvider) CountPromptTokens(ctx context.Context, model, prompt string) (int64, error) {
	resp, err := p.client.Models.CountTokens(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return 0, fmt.Errorf("gemini count tokens: %w", err)
	}
	return int64(resp.TotalTokens), nil
}
