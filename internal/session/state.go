// Package session tracks the lifecycle of videos a studio user is working on:
// upload, duration probe, configuration and the latest estimate or analysis.
// Each video's config and result are addressable by its identifier and are
// removed together with the video.
package session

import (
	"errors"
	"time"
)

type State string

const (
	StateUploading       State = "uploading"
	StateRegistered      State = "registered"
	StateMetadataPending State = "metadata_pending"
	StateMetadataKnown   State = "metadata_known"
	StateConfigured      State = "configured"
	StateEstimating      State = "estimating"
	StateAnalyzing       State = "analyzing"
	StateEstimated       State = "estimated"
	StateAnalyzed        State = "analyzed"
)

// InFlight reports whether an estimate or analysis is running for the video.
func (s State) InFlight() bool {
	return s == StateEstimating || s == StateAnalyzing
}

var (
	ErrNotFound          = errors.New("video not found")
	ErrUploading         = errors.New("video is still uploading")
	ErrInFlight          = errors.New("video has a batch in flight")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// DefaultPrompt is attached to every freshly uploaded video.
const DefaultPrompt = "Describe what is happening in this frame in detail."

// DefaultProbeTimeout bounds a duration probe.
const DefaultProbeTimeout = 5 * time.Second

// Video is a snapshot of one tracked video.
type Video struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	StoredPath  string    `json:"stored_path,omitempty"`
	State       State     `json:"state"`
	Duration    float64   `json:"duration,omitempty"`
	HasDuration bool      `json:"has_duration"`
	AddedAt     time.Time `json:"added_at"`
}

// ConfigPatch carries the fields a user changed. Nil means unchanged.
type ConfigPatch struct {
	PartitionType     *string
	PartitionInterval *int
	FrameRate         *int
	NumPartitions     *int
	Prompt            *string
	Model             *string
	Detail            *string
	Quality           *int
	Scale             *int
}

func (p ConfigPatch) touchesPartitioning() bool {
	return p.PartitionType != nil || p.PartitionInterval != nil || p.FrameRate != nil
}
