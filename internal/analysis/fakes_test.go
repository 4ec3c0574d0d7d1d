package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFiles map[string]bool

func (f fakeFiles) Exists(_ context.Context, path string) bool { return f[path] }

type fakeModels []string

func (m fakeModels) SupportedModels() []string { return m }

type fakeDurations map[string]float64

func (d fakeDurations) ProbeDuration(_ context.Context, path string) (float64, error) {
	v, ok := d[path]
	if !ok {
		return 0, errors.New("no duration")
	}
	return v, nil
}

// fakeEngine plans NumPartitions frames per video and records peak concurrency.
// A video counts as in flight from PlanFrames until its last DescribeFrame
// returns.
type fakeEngine struct {
	models    []string
	delay     time.Duration
	failPlan  map[string]bool
	failFrame map[string]int // video path -> frame number that errors
	failEst   map[string]bool
	perFrame  TokenEstimate

	videosInFlight atomic.Int64
	peakVideos     atomic.Int64

	mu              sync.Mutex
	framesLeft      map[string]int
	framesInFlight  map[string]int
	peakFrames      int
	describedFrames atomic.Int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		models:         []string{"gpt-5-nano", "gemini-2.5-flash"},
		failPlan:       map[string]bool{},
		failFrame:      map[string]int{},
		failEst:        map[string]bool{},
		perFrame:       TokenEstimate{TotalTokens: 100, EstimatedCost: 0.5},
		framesInFlight: map[string]int{},
		framesLeft:     map[string]int{},
	}
}

func (e *fakeEngine) SupportedModels() []string { return e.models }

func (e *fakeEngine) PlanFrames(_ context.Context, cfg Config) ([]FramePlan, error) {
	n := e.videosInFlight.Add(1)
	for {
		peak := e.peakVideos.Load()
		if n <= peak || e.peakVideos.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(e.delay)

	if e.failPlan[cfg.VideoPath] || cfg.NumPartitions < 1 {
		e.videosInFlight.Add(-1)
		if e.failPlan[cfg.VideoPath] {
			return nil, fmt.Errorf("decode %s: corrupt stream", cfg.VideoPath)
		}
		return []FramePlan{}, nil
	}
	e.mu.Lock()
	e.framesLeft[cfg.VideoPath] = cfg.NumPartitions
	e.mu.Unlock()

	plans := make([]FramePlan, cfg.NumPartitions)
	for i := range plans {
		plans[i] = FramePlan{FrameNumber: i, Timestamp: float64(i) * 2}
	}
	return plans, nil
}

func (e *fakeEngine) DescribeFrame(_ context.Context, cfg Config, frame FramePlan) (FrameResult, error) {
	e.mu.Lock()
	e.framesInFlight[cfg.VideoPath]++
	if e.framesInFlight[cfg.VideoPath] > e.peakFrames {
		e.peakFrames = e.framesInFlight[cfg.VideoPath]
	}
	e.mu.Unlock()

	// Later frames finish first so completion order differs from input order.
	time.Sleep(e.delay / time.Duration(frame.FrameNumber+1))

	e.mu.Lock()
	e.framesInFlight[cfg.VideoPath]--
	e.framesLeft[cfg.VideoPath]--
	if e.framesLeft[cfg.VideoPath] == 0 {
		e.videosInFlight.Add(-1)
	}
	e.mu.Unlock()
	e.describedFrames.Add(1)

	if n, ok := e.failFrame[cfg.VideoPath]; ok && n == frame.FrameNumber {
		return FrameResult{}, errors.New("engine unavailable")
	}
	return FrameResult{
		Description: fmt.Sprintf("%s frame %d", cfg.VideoPath, frame.FrameNumber),
		Model:       cfg.Model,
		SourcePath:  "/tmp/frames/" + cfg.VideoPath,
		Usage:       &TokenUsage{InputTokens: 10, OutputTokens: 20},
		Raw:         []byte(`{"id":"resp_1"}`),
	}, nil
}

func (e *fakeEngine) EstimateFrame(_ context.Context, cfg Config) (TokenEstimate, error) {
	if e.failEst[cfg.VideoPath] {
		return TokenEstimate{}, errors.New("no pricing")
	}
	return e.perFrame, nil
}

func validated(paths ...string) []ValidatedConfig {
	out := make([]ValidatedConfig, len(paths))
	for i, p := range paths {
		out[i] = ValidatedConfig{Index: i, Config: Config{
			VideoPath:     p,
			Model:         "gpt-5-nano",
			NumPartitions: 4,
			PartitionType: "time",
		}}
	}
	return out
}
