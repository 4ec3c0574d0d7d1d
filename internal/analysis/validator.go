package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-studio/internal/partition"
)

const (
	defaultProbeTimeout      = 5 * time.Second
	maxConcurrentValidations = 8
)

// ValidatorConfig wires the collaborators a Validator consults.
type ValidatorConfig struct {
	Files  FileChecker
	Models ModelLister
	// Durations is optional. When set, configs that name a partition type but
	// no partition count are sized from the probed duration.
	Durations    DurationProber
	DefaultModel string
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Validator checks raw configs against business rules and fills defaults.
type Validator struct {
	files        FileChecker
	models       ModelLister
	durations    DurationProber
	defaultModel string
	probeTimeout time.Duration
	logger       *slog.Logger
}

func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Validator{
		files:        cfg.Files,
		models:       cfg.Models,
		durations:    cfg.Durations,
		defaultModel: cfg.DefaultModel,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}
}

// SupportedModels returns the models accepted by the validator.
func (v *Validator) SupportedModels() []string {
	return v.models.SupportedModels()
}

// Validate evaluates every raw config independently. Accepted configs keep
// their original index; errors are reported in index order.
func (v *Validator) Validate(ctx context.Context, raws []RawConfig) Outcome {
	supported := v.models.SupportedModels()

	accepted := make([]*Config, len(raws))
	failures := make([]string, len(raws))

	var g errgroup.Group
	g.SetLimit(maxConcurrentValidations)
	for i, raw := range raws {
		g.Go(func() error {
			cfg, msg := v.validateOne(ctx, i, raw, supported)
			if msg != "" {
				failures[i] = msg
				return nil
			}
			accepted[i] = &cfg
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Errors: []string{}, Configs: []ValidatedConfig{}}
	for i := range raws {
		if failures[i] != "" {
			out.Errors = append(out.Errors, failures[i])
			continue
		}
		out.Configs = append(out.Configs, ValidatedConfig{Index: i, Config: *accepted[i]})
	}
	out.Valid = len(out.Errors) == 0

	if v.logger != nil && !out.Valid {
		v.logger.Info("config validation failed",
			"configs", len(raws),
			"errors", len(out.Errors),
		)
	}
	return out
}

func (v *Validator) validateOne(ctx context.Context, i int, raw RawConfig, supported []string) (Config, string) {
	path := strings.TrimSpace(raw.VideoPath)
	if path == "" {
		return Config{}, fmt.Sprintf("Config %d: videoPath is required", i)
	}

	if !v.files.Exists(ctx, raw.VideoPath) {
		return Config{}, fmt.Sprintf("Config %d: File \"%s\" does not exist", i, raw.VideoPath)
	}

	if raw.Model != "" && !slices.Contains(supported, raw.Model) {
		return Config{}, fmt.Sprintf("Config %d: Invalid model \"%s\". Supported models: %s",
			i, raw.Model, strings.Join(supported, ", "))
	}

	if _, err := partition.ParseType(raw.PartitionType); err != nil {
		return Config{}, fmt.Sprintf("Config %d: Invalid partitionType \"%s\". Supported types: %s, %s",
			i, raw.PartitionType, partition.TypeTime, partition.TypeFrames)
	}

	return v.normalize(ctx, raw), ""
}

// normalize expects a partition type already accepted by ParseType.
func (v *Validator) normalize(ctx context.Context, raw RawConfig) Config {
	typ, _ := partition.ParseType(raw.PartitionType)
	policy := partition.Policy{
		Type:      typ,
		Interval:  orDefaultInt(raw.PartitionInterval, DefaultPartitionInterval),
		FrameRate: orDefaultInt(raw.FrameRate, DefaultFrameRate),
	}.Clamp()

	cfg := Config{
		VideoPath:         raw.VideoPath,
		PartitionType:     policy.Type,
		PartitionInterval: policy.Interval,
		FrameRate:         policy.FrameRate,
		NumPartitions:     raw.NumPartitions,
		Prompt:            orDefault(raw.Prompt, DefaultPrompt),
		Model:             orDefault(raw.Model, v.defaultModel),
		Quality:           orDefaultInt(raw.Quality, DefaultQuality),
		Scale:             orDefaultInt(raw.Scale, DefaultScale),
		Detail:            normalizeDetail(raw.Detail),
	}

	if cfg.NumPartitions <= 0 {
		cfg.NumPartitions = DefaultNumPartitions
		if raw.PartitionType != "" && v.durations != nil {
			cfg.NumPartitions = partition.Calculate(policy, v.probe(ctx, raw.VideoPath))
		}
	}
	return cfg
}

// probe returns 0 when the duration cannot be read.
func (v *Validator) probe(ctx context.Context, path string) float64 {
	ctx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	d, err := v.durations.ProbeDuration(ctx, path)
	if err != nil {
		if v.logger != nil {
			v.logger.Warn("duration probe failed, using fallback partitions", "error", err)
		}
		return 0
	}
	return d
}

func normalizeDetail(d string) string {
	switch d {
	case DetailLow, DetailHigh, DetailAuto:
		return d
	default:
		return DefaultDetail
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
