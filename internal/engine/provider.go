// Package engine adapts hosted vision models to the analysis engine contract:
// it samples frames with ffmpeg, routes each frame to the provider that serves
// the configured model, and prices estimates from a static table.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heimdex/heimdex-studio/internal/analysis"
)

// FrameRequest is one frame sent to a provider.
type FrameRequest struct {
	Model       string
	Prompt      string
	Detail      string
	FrameNumber int
	Timestamp   float64
	Image       []byte
	MIMEType    string
}

// Description is a provider's answer for one frame.
type Description struct {
	Text  string
	Usage analysis.TokenUsage
	Raw   json.RawMessage
}

// Provider describes frames with a family of hosted models.
type Provider interface {
	Name() string
	Models() []string
	Describe(ctx context.Context, req FrameRequest) (Description, error)
}

// ProviderError is a non-2xx response from a provider API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limiting and server errors (5xx).
// Other client errors are considered permanent.
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func systemInstruction(req FrameRequest) string {
	return fmt.Sprintf("You are analyzing frame %d of a video, sampled at %.2f seconds. "+
		"Answer the request about this single frame in plain prose.", req.FrameNumber, req.Timestamp)
}
