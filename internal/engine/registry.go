package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/media"
)

// ErrMediaUnavailable is returned when no ffmpeg runner is configured.
var ErrMediaUnavailable = errors.New("media runner unavailable: ffmpeg and ffprobe are required")

const defaultRetryBackoff = 500 * time.Millisecond

// promptCounter is implemented by providers that can count prompt tokens exactly.
type promptCounter interface {
	CountPromptTokens(ctx context.Context, model, prompt string) (int64, error)
}

// RegistryConfig wires providers and the media runner into a Registry.
type RegistryConfig struct {
	Media        media.Runner
	Pricing      Pricing
	Providers    []Provider
	Retries      int
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// Registry implements analysis.Engine by routing each model to the provider
// that serves it.
type Registry struct {
	media        media.Runner
	pricing      Pricing
	byModel      map[string]Provider
	names        []string
	retries      int
	retryBackoff time.Duration
	logger       *slog.Logger

	promptTokens sync.Map // model + "\x00" + prompt -> int64
}

// NewRegistry indexes providers by model. A model served by several providers
// is routed to the first one listed. Models without a price are ignored.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	r := &Registry{
		media:        cfg.Media,
		pricing:      cfg.Pricing,
		byModel:      make(map[string]Provider),
		retries:      cfg.Retries,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger,
	}
	for _, p := range cfg.Providers {
		r.names = append(r.names, p.Name())
		for _, model := range p.Models() {
			if _, priced := cfg.Pricing[model]; !priced {
				continue
			}
			if _, taken := r.byModel[model]; !taken {
				r.byModel[model] = p
			}
		}
	}
	return r
}

// SupportedModels returns every routable model, sorted.
func (r *Registry) SupportedModels() []string {
	out := make([]string, 0, len(r.byModel))
	for model := range r.byModel {
		out = append(out, model)
	}
	sort.Strings(out)
	return out
}

// Providers returns the names of the registered providers.
func (r *Registry) Providers() []string {
	return r.names
}

// ProbeDuration reads a video's duration through the media runner.
func (r *Registry) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	if r.media == nil {
		return 0, ErrMediaUnavailable
	}
	return r.media.ProbeDuration(ctx, videoPath)
}

// PlanFrames samples NumPartitions evenly spaced frames.
func (r *Registry) PlanFrames(ctx context.Context, cfg analysis.Config) ([]analysis.FramePlan, error) {
	duration, err := r.ProbeDuration(ctx, cfg.VideoPath)
	if err != nil {
		return nil, err
	}

	timestamps := media.PlanTimestamps(duration, cfg.NumPartitions)
	plans := make([]analysis.FramePlan, len(timestamps))
	for i, ts := range timestamps {
		plans[i] = analysis.FramePlan{FrameNumber: i, Timestamp: ts}
	}
	return plans, nil
}

// DescribeFrame extracts one frame and sends it to the model's provider.
func (r *Registry) DescribeFrame(ctx context.Context, cfg analysis.Config, frame analysis.FramePlan) (analysis.FrameResult, error) {
	provider, ok := r.byModel[cfg.Model]
	if !ok {
		return analysis.FrameResult{}, fmt.Errorf("model %q is not served by any provider", cfg.Model)
	}
	if r.media == nil {
		return analysis.FrameResult{}, ErrMediaUnavailable
	}

	image, err := r.media.ExtractFrame(ctx, cfg.VideoPath, frame.Timestamp, media.FrameOptions{
		Quality: cfg.Quality,
		Scale:   cfg.Scale,
	})
	if err != nil {
		return analysis.FrameResult{}, fmt.Errorf("extract frame: %w", err)
	}

	desc, err := r.describe(ctx, provider, FrameRequest{
		Model:       cfg.Model,
		Prompt:      cfg.Prompt,
		Detail:      cfg.Detail,
		FrameNumber: frame.FrameNumber,
		Timestamp:   frame.Timestamp,
		Image:       image,
		MIMEType:    "image/jpeg",
	})
	if err != nil {
		return analysis.FrameResult{}, err
	}

	usage := desc.Usage
	return analysis.FrameResult{
		FrameNumber: frame.FrameNumber,
		Timestamp:   frame.Timestamp,
		Description: desc.Text,
		Model:       cfg.Model,
		SourcePath:  cfg.VideoPath,
		Usage:       &usage,
		Raw:         desc.Raw,
	}, nil
}

// EstimateFrame prices one frame without running inference. Providers that can
// count prompt tokens exactly are asked once per model and prompt.
func (r *Registry) EstimateFrame(ctx context.Context, cfg analysis.Config) (analysis.TokenEstimate, error) {
	promptTokens := PromptTokens(cfg.Prompt)

	if counter, ok := r.byModel[cfg.Model].(promptCounter); ok {
		key := cfg.Model + "\x00" + cfg.Prompt
		if v, ok := r.promptTokens.Load(key); ok {
			promptTokens = v.(int64)
		} else if n, err := counter.CountPromptTokens(ctx, cfg.Model, cfg.Prompt); err == nil {
			r.promptTokens.Store(key, n)
			promptTokens = n
		} else if r.logger != nil {
			r.logger.Warn("prompt token count failed, using approximation", "model", cfg.Model, "error", err)
		}
	}

	return r.pricing.EstimateFrameTokens(cfg.Model, promptTokens, cfg.Detail, cfg.Scale)
}

func (r *Registry) describe(ctx context.Context, provider Provider, req FrameRequest) (Description, error) {
	backoff := r.retryBackoff
	for attempt := 0; ; attempt++ {
		desc, err := provider.Describe(ctx, req)
		if err == nil {
			return desc, nil
		}

		var perr *ProviderError
		if attempt >= r.retries || !errors.As(err, &perr) || !perr.IsRetryable() {
			return Description{}, err
		}

		if r.logger != nil {
			r.logger.Warn("provider call failed, retrying",
				"provider", provider.Name(),
				"status", perr.StatusCode,
				"attempt", attempt+1,
				"frame_number", req.FrameNumber,
			)
		}

		select {
		case <-ctx.Done():
			return Description{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
