package analysis

// SanitizedResult is the caller-facing form of an AnalysisResult.
type SanitizedResult struct {
	Index       int           `json:"index"`
	VideoPath   string        `json:"video_path"`
	Config      Config        `json:"config"`
	TotalFrames int           `json:"total_frames"`
	Frames      []FrameResult `json:"frames"`
	Error       string        `json:"error,omitempty"`
}

// SanitizeResults keeps only frameNumber, timestamp and description on every
// frame and attaches the config each result was produced from, matched by the
// original request index. Missing fields stay at their zero value.
func SanitizeResults(results []AnalysisResult, configs []ValidatedConfig) []SanitizedResult {
	byIndex := make(map[int]Config, len(configs))
	for _, vc := range configs {
		byIndex[vc.Index] = vc.Config
	}

	out := make([]SanitizedResult, len(results))
	for i, r := range results {
		cfg, ok := byIndex[r.Index]
		videoPath := r.VideoPath
		if ok {
			videoPath = cfg.VideoPath
		}

		frames := SanitizeFrames(r.Frames)
		out[i] = SanitizedResult{
			Index:       r.Index,
			VideoPath:   videoPath,
			Config:      cfg,
			TotalFrames: len(frames),
			Frames:      frames,
			Error:       r.Error,
		}
	}
	return out
}

// SanitizeFrames copies the whitelisted fields of each frame.
func SanitizeFrames(frames []FrameResult) []FrameResult {
	out := make([]FrameResult, len(frames))
	for i, f := range frames {
		out[i] = FrameResult{
			FrameNumber: f.FrameNumber,
			Timestamp:   f.Timestamp,
			Description: f.Description,
		}
	}
	return out
}

// AsResult turns a sanitized result back into an AnalysisResult, for callers
// that feed sanitized output into components expecting raw results.
func (s SanitizedResult) AsResult() AnalysisResult {
	return AnalysisResult{
		Index:     s.Index,
		VideoPath: s.VideoPath,
		Frames:    s.Frames,
		Error:     s.Error,
	}
}
