// Package media wraps the ffmpeg and ffprobe executables used to probe video
// durations and extract individual frames.
package media

import (
	"errors"
	"time"
)

// ErrNoDuration is returned when ffprobe cannot report a positive duration.
var ErrNoDuration = errors.New("video duration unavailable")

// Capabilities reports which media tools are installed.
type Capabilities struct {
	FFmpeg    ToolInfo  `json:"ffmpeg"`
	FFprobe   ToolInfo  `json:"ffprobe"`
	HasFrames bool      `json:"has_frames"`
	HasProbe  bool      `json:"has_probe"`
	ProbedAt  time.Time `json:"probed_at"`
}

// ToolInfo represents the availability status of a single executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FrameOptions tunes frame extraction. Quality is the mjpeg qscale (2..31,
// lower is better); Scale is the output height in pixels.
type FrameOptions struct {
	Quality int
	Scale   int
}

// RunResult is the structured outcome of executing a media subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// PlanTimestamps returns n sampling offsets, one at the midpoint of each of n
// equal partitions of the video.
func PlanTimestamps(durationSeconds float64, n int) []float64 {
	if n <= 0 || durationSeconds <= 0 {
		return []float64{}
	}
	step := durationSeconds / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = step * (float64(i) + 0.5)
	}
	return out
}
