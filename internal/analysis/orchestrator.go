package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/metrics"
)

// Limits bounds the two levels of fan-out.
type Limits struct {
	MaxVideos int // videos processed at once
	MaxFrames int // frames in flight per video
}

func DefaultLimits() Limits {
	return Limits{MaxVideos: 5, MaxFrames: 5}
}

// Orchestrator dispatches analysis and estimation work to an Engine.
type Orchestrator struct {
	engine Engine
	limits Limits
	logger *slog.Logger
}

func NewOrchestrator(engine Engine, limits Limits, logger *slog.Logger) *Orchestrator {
	def := DefaultLimits()
	if limits.MaxVideos < 1 {
		limits.MaxVideos = def.MaxVideos
	}
	if limits.MaxFrames < 1 {
		limits.MaxFrames = def.MaxFrames
	}
	return &Orchestrator{engine: engine, limits: limits, logger: logger}
}

func (o *Orchestrator) Limits() Limits { return o.limits }

// AnalyzeMultipleVideos returns one result per config in input order. A video
// that fails is reported with a failure marker and does not affect siblings.
func (o *Orchestrator) AnalyzeMultipleVideos(ctx context.Context, configs []ValidatedConfig) []AnalysisResult {
	start := time.Now()
	results := make([]AnalysisResult, len(configs))

	o.forEachVideo(ctx, configs, func(i int, vc ValidatedConfig, err error) {
		if err != nil {
			results[i] = failedResult(vc, err)
			return
		}
		results[i] = o.analyzeVideo(ctx, vc)
	})

	failed := 0
	for _, r := range results {
		status := metrics.StatusSuccess
		if r.Failed() {
			failed++
			status = metrics.StatusFailed
		}
		metrics.VideosProcessedTotal.WithLabelValues(metrics.OperationAnalyze, status).Inc()
	}
	metrics.BatchDuration.WithLabelValues(metrics.OperationAnalyze).Observe(time.Since(start).Seconds())

	if o.logger != nil {
		o.logger.Info("analysis batch complete",
			"videos", len(configs),
			"failed", failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return results
}

// EstimateMultipleVideos projects token usage for every config without running
// inference. A failed estimate contributes a zeroed entry.
func (o *Orchestrator) EstimateMultipleVideos(ctx context.Context, configs []ValidatedConfig) EstimationBatchResult {
	start := time.Now()
	videos := make([]VideoEstimate, len(configs))

	o.forEachVideo(ctx, configs, func(i int, vc ValidatedConfig, err error) {
		if err == nil {
			videos[i], err = o.estimateVideo(ctx, vc)
		}
		if err != nil {
			videos[i] = zeroEstimate(vc, err)
			metrics.VideosProcessedTotal.WithLabelValues(metrics.OperationEstimate, metrics.StatusFailed).Inc()
			if o.logger != nil {
				logging.WithVideo(o.logger, vc.Config.VideoPath).Warn("token estimate failed", "error", err)
			}
			return
		}
		metrics.VideosProcessedTotal.WithLabelValues(metrics.OperationEstimate, metrics.StatusSuccess).Inc()
		metrics.EstimatedTokensTotal.WithLabelValues(vc.Config.Model).Add(float64(videos[i].Total.TotalTokens))
	})

	var grand TokenEstimate
	for _, v := range videos {
		grand = grand.Add(v.Total)
	}

	elapsed := time.Since(start)
	metrics.BatchDuration.WithLabelValues(metrics.OperationEstimate).Observe(elapsed.Seconds())

	if o.logger != nil {
		o.logger.Info("estimation batch complete",
			"videos", len(configs),
			"total_tokens", grand.TotalTokens,
			"estimated_cost", grand.EstimatedCost,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return EstimationBatchResult{
		Videos:        videos,
		GrandTotal:    grand,
		ElapsedTimeMs: elapsed.Milliseconds(),
	}
}

// forEachVideo runs fn for every config with at most MaxVideos running at once.
// fn receives a non-nil error when a slot could not be acquired.
func (o *Orchestrator) forEachVideo(ctx context.Context, configs []ValidatedConfig, fn func(int, ValidatedConfig, error)) {
	slots := semaphore.NewWeighted(int64(o.limits.MaxVideos))

	var wg sync.WaitGroup
	for i, vc := range configs {
		if err := slots.Acquire(ctx, 1); err != nil {
			fn(i, vc, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)

			metrics.VideosInFlight.Inc()
			defer metrics.VideosInFlight.Dec()

			fn(i, vc, nil)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) analyzeVideo(ctx context.Context, vc ValidatedConfig) AnalysisResult {
	start := time.Now()

	plans, err := o.engine.PlanFrames(ctx, vc.Config)
	if err != nil {
		return o.fail(vc, fmt.Errorf("plan frames: %w", err))
	}

	frames := make([]FrameResult, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limits.MaxFrames)
	for j, plan := range plans {
		g.Go(func() error {
			metrics.FramesInFlight.Inc()
			defer metrics.FramesInFlight.Dec()

			fr, err := o.engine.DescribeFrame(gctx, vc.Config, plan)
			if err != nil {
				metrics.FramesAnalyzedTotal.WithLabelValues(metrics.StatusFailed).Inc()
				return fmt.Errorf("frame %d: %w", plan.FrameNumber, err)
			}
			metrics.FramesAnalyzedTotal.WithLabelValues(metrics.StatusSuccess).Inc()

			fr.FrameNumber = plan.FrameNumber
			fr.Timestamp = plan.Timestamp
			frames[j] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return o.fail(vc, err)
	}

	slices.SortStableFunc(frames, func(a, b FrameResult) int {
		return a.FrameNumber - b.FrameNumber
	})

	if o.logger != nil {
		logging.WithVideo(o.logger, vc.Config.VideoPath).Info("video analyzed",
			"frames", len(frames),
			"model", vc.Config.Model,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return AnalysisResult{Index: vc.Index, VideoPath: vc.Config.VideoPath, Frames: frames}
}

func (o *Orchestrator) estimateVideo(ctx context.Context, vc ValidatedConfig) (VideoEstimate, error) {
	perFrame, err := o.engine.EstimateFrame(ctx, vc.Config)
	if err != nil {
		return VideoEstimate{}, err
	}
	return VideoEstimate{
		Index:         vc.Index,
		VideoPath:     vc.Config.VideoPath,
		Model:         vc.Config.Model,
		NumPartitions: vc.Config.NumPartitions,
		PerFrame:      perFrame,
		Total:         perFrame.Times(vc.Config.NumPartitions),
	}, nil
}

func (o *Orchestrator) fail(vc ValidatedConfig, err error) AnalysisResult {
	if o.logger != nil {
		logging.WithVideo(o.logger, vc.Config.VideoPath).Warn("video analysis failed", "error", err)
	}
	return failedResult(vc, err)
}

func failedResult(vc ValidatedConfig, err error) AnalysisResult {
	return AnalysisResult{
		Index:     vc.Index,
		VideoPath: vc.Config.VideoPath,
		Frames:    []FrameResult{},
		Error:     err.Error(),
	}
}

func zeroEstimate(vc ValidatedConfig, err error) VideoEstimate {
	return VideoEstimate{
		Index:         vc.Index,
		VideoPath:     vc.Config.VideoPath,
		Model:         vc.Config.Model,
		NumPartitions: vc.Config.NumPartitions,
		Error:         err.Error(),
	}
}
