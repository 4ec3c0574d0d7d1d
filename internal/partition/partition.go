// Package partition computes how many sample points are taken from a video.
package partition

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// FallbackPartitions is used whenever the duration of a video is unknown.
const FallbackPartitions = 10

const (
	TypeTime   = "time"
	TypeFrames = "frames"
)

// ErrUnknownType is returned for a partition type other than time or frames.
var ErrUnknownType = errors.New("unknown partition type")

// ParseType resolves a partition type name. "frame" is accepted as an alias
// of frames, and an empty name means time.
func ParseType(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", TypeTime:
		return TypeTime, nil
	case TypeFrames, "frame":
		return TypeFrames, nil
	default:
		return "", fmt.Errorf("%w %q: supported types are %s, %s", ErrUnknownType, s, TypeTime, TypeFrames)
	}
}

// Bounds enforced on user input before it reaches Calculate.
const (
	MinInterval  = 1
	MaxInterval  = 1000
	MinFrameRate = 1
	MaxFrameRate = 240
)

// Policy describes how a video is divided into partitions.
type Policy struct {
	Type      string
	Interval  int
	FrameRate int
}

// Calculate returns the partition count for a video of the given duration.
// A non-positive duration yields FallbackPartitions. Interval must be positive.
func Calculate(p Policy, durationSeconds float64) int {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return FallbackPartitions
	}

	var n int
	switch p.Type {
	case TypeFrames:
		totalFrames := math.Floor(durationSeconds * float64(p.FrameRate))
		n = int(math.Ceil(totalFrames / float64(p.Interval)))
	default:
		n = int(math.Ceil(durationSeconds / float64(p.Interval)))
	}

	if n < 1 {
		return 1
	}
	return n
}

// Clamp coerces interval and frame rate into their accepted ranges. The type
// is left alone; callers resolve it with ParseType first.
func (p Policy) Clamp() Policy {
	p.Interval = clampInt(p.Interval, MinInterval, MaxInterval)
	p.FrameRate = clampInt(p.FrameRate, MinFrameRate, MaxFrameRate)
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
