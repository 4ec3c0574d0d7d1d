package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/config"
	"github.com/heimdex/heimdex-studio/internal/engine"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
)

// app holds the components shared by the server and the batch commands.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	runner       media.Runner
	doctor       *media.CachedDoctor
	registry     *engine.Registry
	orchestrator *analysis.Orchestrator
	defaultModel string
}

// newApp loads the configuration and builds the engine stack. Logs go to
// logOut so batch commands can keep stdout for their report.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logOut, cfg.LogLevel(), cfg.LogFormat())

	a := &app{cfg: cfg, logger: logger}

	mediaCfg := media.DefaultConfig(logging.WithComponent(logger, "media"))
	mediaCfg.FFmpegPath = cfg.FFmpegPath()
	mediaCfg.FFprobePath = cfg.FFprobePath()
	mediaCfg.ProbeTimeout = cfg.ProbeTimeout()
	mediaCfg.FrameTimeout = cfg.FrameTimeout()

	if runner, err := media.NewRunner(mediaCfg); err != nil {
		logger.Warn("media runner unavailable, analysis disabled", "error", err)
	} else {
		a.runner = runner
		a.doctor = media.NewCachedDoctor(runner, logger)
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	engineLogger := logging.WithComponent(logger, "engine")
	a.registry = engine.NewRegistry(engine.RegistryConfig{
		Media:     a.runner,
		Providers: providers,
		Retries:   2,
		Logger:    engineLogger,
	})

	a.defaultModel = pickDefaultModel(cfg.DefaultModel(), a.registry.SupportedModels())

	limits := analysis.Limits{MaxVideos: cfg.MaxVideoConcurrency(), MaxFrames: cfg.MaxFrameConcurrency()}
	a.orchestrator = analysis.NewOrchestrator(a.registry, limits, logging.WithComponent(logger, "orchestrator"))

	return a, nil
}

// service builds the batch service around files, which decides which video
// paths exist.
func (a *app) service(files analysis.FileChecker, recorder analysis.BatchRecorder) *analysis.Service {
	validator := analysis.NewValidator(analysis.ValidatorConfig{
		Files:        files,
		Models:       a.registry,
		Durations:    a.registry,
		DefaultModel: a.defaultModel,
		ProbeTimeout: a.cfg.ProbeTimeout(),
		Logger:       logging.WithComponent(a.logger, "validator"),
	})
	return analysis.NewService(validator, a.orchestrator, recorder, a.logger)
}

// buildProviders registers a hosted provider for every configured API key.
// Without any key the stub provider serves every priced model.
func buildProviders(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]engine.Provider, error) {
	var providers []engine.Provider

	if key := cfg.OpenAIAPIKey(); key != "" {
		providers = append(providers, engine.NewOpenAIProvider(cfg.OpenAIBaseURL(), key, logger))
		logger.Info("openai provider enabled", "base_url", cfg.OpenAIBaseURL(), "api_key", logging.SanitizeToken(key))
	}

	if key := cfg.GeminiAPIKey(); key != "" {
		gemini, err := engine.NewGeminiProvider(ctx, key, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		providers = append(providers, gemini)
		logger.Info("gemini provider enabled", "api_key", logging.SanitizeToken(key))
	}

	if len(providers) == 0 {
		var models []string
		for model := range engine.DefaultPricing {
			models = append(models, model)
		}
		slices.Sort(models)
		providers = append(providers, engine.NewStubProvider(models, logger))
		logger.Warn("no provider API key configured, using stub provider")
	}

	return providers, nil
}

func pickDefaultModel(preferred string, supported []string) string {
	if slices.Contains(supported, preferred) || len(supported) == 0 {
		return preferred
	}
	return supported[0]
}
