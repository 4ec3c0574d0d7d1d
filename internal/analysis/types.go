// Package analysis validates per-video analysis configurations, fans work out to
// an inference engine under two-level bounded concurrency, aggregates token
// estimates, and sanitizes results before they leave the process.
package analysis

import (
	"context"
	"encoding/json"

	"github.com/heimdex/heimdex-studio/internal/partition"
)

// Defaults applied to any field a caller leaves empty.
const (
	DefaultNumPartitions     = partition.FallbackPartitions
	DefaultPrompt            = "Describe the main events and objects in the video."
	DefaultQuality           = 10
	DefaultScale             = 720
	DefaultModel             = "gpt-5-nano"
	DefaultDetail            = DetailAuto
	DefaultPartitionType     = partition.TypeTime
	DefaultPartitionInterval = 2
	DefaultFrameRate         = 60
)

const (
	DetailAuto = "auto"
	DetailLow  = "low"
	DetailHigh = "high"
)

// RawConfig is a per-video configuration as submitted by a caller. Zero values
// mean "not provided".
type RawConfig struct {
	VideoPath         string `json:"video_path"`
	PartitionType     string `json:"partition_type,omitempty"`
	PartitionInterval int    `json:"partition_interval,omitempty"`
	FrameRate         int    `json:"frame_rate,omitempty"`
	NumPartitions     int    `json:"num_partitions,omitempty"`
	Prompt            string `json:"prompt,omitempty"`
	Model             string `json:"model,omitempty"`
	Quality           int    `json:"quality,omitempty"`
	Scale             int    `json:"scale,omitempty"`
	Detail            string `json:"detail,omitempty"`
}

// Config is a validated configuration with every field populated.
type Config struct {
	VideoPath         string `json:"video_path"`
	PartitionType     string `json:"partition_type"`
	PartitionInterval int    `json:"partition_interval"`
	FrameRate         int    `json:"frame_rate"`
	NumPartitions     int    `json:"num_partitions"`
	Prompt            string `json:"prompt"`
	Model             string `json:"model"`
	Quality           int    `json:"quality"`
	Scale             int    `json:"scale"`
	Detail            string `json:"detail"`
}

// Policy returns the partition policy described by the config.
func (c Config) Policy() partition.Policy {
	return partition.Policy{Type: c.PartitionType, Interval: c.PartitionInterval, FrameRate: c.FrameRate}
}

// ValidatedConfig pairs an accepted config with its slot in the original request.
type ValidatedConfig struct {
	Index  int
	Config Config
}

// Outcome is the result of validating a batch of raw configs.
type Outcome struct {
	Valid   bool
	Errors  []string
	Configs []ValidatedConfig
}

// FramePlan is a single sampling point inside a video.
type FramePlan struct {
	FrameNumber int
	Timestamp   float64
}

// TokenUsage is what an engine reports for one inference call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// FrameResult is one analyzed frame. Only FrameNumber, Timestamp and
// Description survive sanitization.
type FrameResult struct {
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	Description string  `json:"description"`

	Model      string          `json:"model,omitempty"`
	SourcePath string          `json:"source_path,omitempty"`
	Usage      *TokenUsage     `json:"usage,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// AnalysisResult is the outcome for one video. A non-empty Error marks a video
// that failed; its Frames are empty.
type AnalysisResult struct {
	Index     int
	VideoPath string
	Frames    []FrameResult
	Error     string
}

// TotalFrames is derived from the frame list.
func (r AnalysisResult) TotalFrames() int { return len(r.Frames) }

// Failed reports whether the video carries a failure marker.
func (r AnalysisResult) Failed() bool { return r.Error != "" }

// TokenEstimate is a token count with its projected cost in USD.
type TokenEstimate struct {
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Add returns the elementwise sum of two estimates.
func (e TokenEstimate) Add(o TokenEstimate) TokenEstimate {
	return TokenEstimate{TotalTokens: e.TotalTokens + o.TotalTokens, EstimatedCost: e.EstimatedCost + o.EstimatedCost}
}

// Times scales an estimate by n.
func (e TokenEstimate) Times(n int) TokenEstimate {
	return TokenEstimate{TotalTokens: e.TotalTokens * int64(n), EstimatedCost: e.EstimatedCost * float64(n)}
}

// VideoEstimate is the estimate for a single video. Error is set when the
// engine could not produce one and the totals were zeroed.
type VideoEstimate struct {
	Index         int           `json:"index"`
	VideoPath     string        `json:"video_path"`
	Model         string        `json:"model"`
	NumPartitions int           `json:"num_partitions"`
	PerFrame      TokenEstimate `json:"per_frame"`
	Total         TokenEstimate `json:"total"`
	Error         string        `json:"error,omitempty"`
}

// EstimationBatchResult aggregates the estimates of a batch.
type EstimationBatchResult struct {
	Videos        []VideoEstimate `json:"videos"`
	GrandTotal    TokenEstimate   `json:"grand_total"`
	ElapsedTimeMs int64           `json:"elapsed_time_ms"`
}

// ModelLister reports the models an engine can serve.
type ModelLister interface {
	SupportedModels() []string
}

// FileChecker reports whether a video path references an existing file.
type FileChecker interface {
	Exists(ctx context.Context, path string) bool
}

// DurationProber reads the duration of a video in seconds.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Engine is the inference backend the orchestrators dispatch to. It enforces
// per-call latency; the orchestrators enforce call concurrency.
type Engine interface {
	ModelLister
	PlanFrames(ctx context.Context, cfg Config) ([]FramePlan, error)
	DescribeFrame(ctx context.Context, cfg Config, frame FramePlan) (FrameResult, error)
	EstimateFrame(ctx context.Context, cfg Config) (TokenEstimate, error)
}
