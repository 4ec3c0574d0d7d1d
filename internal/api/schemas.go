package api

import (
	"encoding/json"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/store"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Media     *media.Capabilities `json:"media,omitempty"`
	Providers []string            `json:"providers"`
	Models    int                 `json:"models_count"`
	Limits    LimitsResponse      `json:"limits"`
}

type LimitsResponse struct {
	MaxVideoConcurrency int   `json:"max_video_concurrency"`
	MaxFrameConcurrency int   `json:"max_frame_concurrency"`
	MaxFilesPerRequest  int   `json:"max_files_per_request"`
	MaxVideoSizeBytes   int64 `json:"max_video_size_bytes"`
}

type ModelsResponse struct {
	Models []string `json:"models"`
	Count  int      `json:"count"`
}

type UploadResponse struct {
	Message    string              `json:"message"`
	Count      int                 `json:"count"`
	MaxAllowed int                 `json:"max_allowed"`
	Files      []upload.StoredFile `json:"files"`
}

// BatchRequest is the body of /analyze and /analyze/estimate. Configs stays
// raw so a missing or non-array value can be told apart from a bad element.
type BatchRequest struct {
	Configs json.RawMessage `json:"configs"`
}

type AnalyzeResponse struct {
	Message        string                     `json:"message"`
	BatchID        string                     `json:"batch_id"`
	VideosAnalyzed int                        `json:"videos_analyzed"`
	Results        []analysis.SanitizedResult `json:"results"`
}

type EstimateResponse struct {
	Message         string                   `json:"message"`
	BatchID         string                   `json:"batch_id"`
	VideosEstimated int                      `json:"videos_estimated"`
	Videos          []analysis.VideoEstimate `json:"videos"`
	GrandTotal      analysis.TokenEstimate   `json:"grand_total"`
	ElapsedTime     int64                    `json:"elapsed_time"`
}

type BatchesResponse struct {
	Batches []*store.Batch `json:"batches"`
	Count   int            `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

type ConfigsRequiredResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Example BatchExample `json:"example"`
}

type ValidationErrorResponse struct {
	Error           string   `json:"error"`
	Code            string   `json:"code"`
	Details         []string `json:"details"`
	SupportedModels []string `json:"supported_models"`
}

type BatchExample struct {
	Configs []analysis.RawConfig `json:"configs"`
}

// exampleBatch is returned when a request carries no configs.
var exampleBatch = BatchExample{
	Configs: []analysis.RawConfig{{
		VideoPath:     "filename.mp4",
		NumPartitions: 10,
		Prompt:        "Describe what you see",
		Quality:       analysis.DefaultQuality,
		Scale:         analysis.DefaultScale,
		Model:         analysis.DefaultModel,
	}},
}
