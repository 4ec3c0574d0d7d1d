package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heimdex/heimdex-studio/internal/analysis"
)

const maxResponseBytes = 1 << 20

// OpenAIProvider calls the chat completions endpoint with an inline image.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	models     []string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIProvider(baseURL, apiKey string, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  DefaultPricing.Models(ProviderOpenAI),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) Models() []string { return p.models }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Describe(ctx context.Context, req FrameRequest) (Description, error) {
	mime := req.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	payload := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction(req)},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
					Detail: req.Detail,
				}},
			}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Description{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Description{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Description{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Description{}, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Body: truncateBody(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Description{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Description{}, fmt.Errorf("chat response has no choices")
	}

	if p.logger != nil {
		p.logger.Debug("openai frame described",
			"model", req.Model,
			"frame_number", req.FrameNumber,
			"input_tokens", parsed.Usage.PromptTokens,
			"output_tokens", parsed.Usage.CompletionTokens,
		)
	}

	return Description{
		Text: strings.TrimSpace(parsed.Choices[0].Message.Content),
		Usage: analysis.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
		Raw: respBody,
	}, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
