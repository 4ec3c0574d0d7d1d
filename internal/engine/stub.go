package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heimdex/heimdex-studio/internal/analysis"
)

// StubProvider answers every frame without calling a hosted model. It serves
// all priced models so the studio stays usable without API keys.
type StubProvider struct {
	models []string
	logger *slog.Logger
}

func NewStubProvider(models []string, logger *slog.Logger) *StubProvider {
	return &StubProvider{models: models, logger: logger}
}

func (p *StubProvider) Name() string { return "stub" }

func (p *StubProvider) Models() []string { return p.models }

func (p *StubProvider) Describe(ctx context.Context, req FrameRequest) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}
	if p.logger != nil {
		p.logger.Info("engine stub: frame description requested",
			"model", req.Model, "frame_number", req.FrameNumber)
	}
	return Description{
		Text: fmt.Sprintf("Frame %d at %.2fs (%d bytes): no inference provider configured.",
			req.FrameNumber, req.Timestamp, len(req.Image)),
		Usage: analysis.TokenUsage{InputTokens: PromptTokens(req.Prompt)},
	}, nil
}
