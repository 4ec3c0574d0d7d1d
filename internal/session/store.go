package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/partition"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

type Options struct {
	DefaultModel string
	Prober       analysis.DurationProber
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

type entry struct {
	video     Video
	config    analysis.Config
	result    *analysis.SanitizedResult
	estimate  *analysis.VideoEstimate
	prevState State
	// override is set while NumPartitions holds a caller-chosen count that
	// must survive duration-based recalculation.
	override bool
}

// Store holds every tracked video keyed by identifier. It is safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]*entry
	selected string

	defaults     analysis.Config
	prober       analysis.DurationProber
	probeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func New(opts Options) *Store {
	model := opts.DefaultModel
	if model == "" {
		model = analysis.DefaultModel
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		entries: make(map[string]*entry),
		defaults: analysis.Config{
			PartitionType:     analysis.DefaultPartitionType,
			PartitionInterval: analysis.DefaultPartitionInterval,
			FrameRate:         analysis.DefaultFrameRate,
			NumPartitions:     analysis.DefaultNumPartitions,
			Prompt:            DefaultPrompt,
			Model:             model,
			Quality:           analysis.DefaultQuality,
			Scale:             analysis.DefaultScale,
			Detail:            analysis.DefaultDetail,
		},
		prober:       opts.Prober,
		probeTimeout: timeout,
		logger:       logger,
		now:          time.Now,
	}
}

// BeginUpload starts tracking a video whose bytes are still in transit. The
// first tracked video becomes the selection.
func (s *Store) BeginUpload(name string, size int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.entries[id] = &entry{video: Video{
		ID:      id,
		Name:    name,
		Size:    size,
		State:   StateUploading,
		AddedAt: s.now(),
	}}
	s.order = append(s.order, id)
	if s.selected == "" {
		s.selected = id
	}
	return id
}

// CompleteUpload registers the stored file and attaches the default config.
func (s *Store) CompleteUpload(id, storedPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.video.State != StateUploading {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.video.State, StateRegistered)
	}

	e.video.StoredPath = storedPath
	e.video.State = StateRegistered
	e.config = s.defaults
	e.config.VideoPath = storedPath
	return nil
}

// FailUpload drops a video whose upload did not complete.
func (s *Store) FailUpload(id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	name := e.video.Name
	s.removeLocked(id)

	s.logger.Warn("upload failed", "video_id", id, "error", cause)
	return &upload.TransportError{
		Kind:    upload.KindStorage,
		Message: fmt.Sprintf("upload of %q failed", name),
		Err:     cause,
	}
}

// ProbeMetadata reads the video's duration. A failed probe leaves the video in
// MetadataPending for good and partitioning keeps the fallback count.
func (s *Store) ProbeMetadata(ctx context.Context, id string) (float64, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if e.video.State != StateRegistered {
		state := e.video.State
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: probe in state %s", ErrInvalidTransition, state)
	}
	path := e.video.StoredPath
	s.mu.Unlock()

	duration, err := s.probe(ctx, path)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok = s.entries[id]
	if !ok {
		return 0, ErrNotFound
	}
	if err != nil {
		if e.video.State == StateRegistered {
			e.video.State = StateMetadataPending
		}
		s.logger.Warn("duration probe failed", "video_id", id, "error", err)
		return 0, err
	}

	e.video.Duration = duration
	e.video.HasDuration = true
	if !e.override {
		e.config.NumPartitions = partition.Calculate(e.config.Policy(), duration)
	}
	if e.video.State == StateRegistered {
		e.video.State = StateMetadataKnown
	}
	return duration, nil
}

func (s *Store) probe(ctx context.Context, path string) (float64, error) {
	if s.prober == nil {
		return 0, fmt.Errorf("no duration prober configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	d, err := s.prober.ProbeDuration(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("probe duration: non-positive duration %v", d)
	}
	return d, nil
}

// UpdateConfig applies patch to the video's config. Partitions are recomputed
// only when a partition-affecting field changes. An explicit NumPartitions
// wins over the recomputed count and is kept until the policy changes again.
// An unknown partition type yields partition.ErrUnknownType.
func (s *Store) UpdateConfig(id string, patch ConfigPatch) (analysis.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return analysis.Config{}, ErrNotFound
	}
	if e.video.State == StateUploading {
		return analysis.Config{}, ErrUploading
	}

	cfg := e.config
	before := cfg.Policy()
	override := e.override

	if patch.PartitionType != nil {
		typ, err := partition.ParseType(*patch.PartitionType)
		if err != nil {
			return analysis.Config{}, err
		}
		cfg.PartitionType = typ
	}
	if patch.PartitionInterval != nil {
		cfg.PartitionInterval = *patch.PartitionInterval
	}
	if patch.FrameRate != nil {
		cfg.FrameRate = *patch.FrameRate
	}
	if patch.Prompt != nil {
		cfg.Prompt = *patch.Prompt
	}
	if patch.Model != nil {
		cfg.Model = *patch.Model
	}
	if patch.Detail != nil {
		cfg.Detail = *patch.Detail
	}
	if patch.Quality != nil {
		cfg.Quality = *patch.Quality
	}
	if patch.Scale != nil {
		cfg.Scale = *patch.Scale
	}

	if patch.touchesPartitioning() {
		p := cfg.Policy().Clamp()
		cfg.PartitionType, cfg.PartitionInterval, cfg.FrameRate = p.Type, p.Interval, p.FrameRate
		if p != before {
			cfg.NumPartitions = partition.Calculate(p, e.video.Duration)
			override = false
		}
	}
	if patch.NumPartitions != nil && *patch.NumPartitions > 0 {
		cfg.NumPartitions = *patch.NumPartitions
		override = true
	}

	e.config = cfg
	e.override = override
	if !e.video.State.InFlight() {
		e.video.State = StateConfigured
	}
	return cfg, nil
}

// Remove deletes a video together with its config, result and estimate.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	s.removeLocked(id)
	return nil
}

func (s *Store) removeLocked(id string) {
	pos := slices.Index(s.order, id)
	delete(s.entries, id)
	s.order = slices.Delete(s.order, pos, pos+1)

	if s.selected != id {
		return
	}
	switch {
	case len(s.order) == 0:
		s.selected = ""
	case pos < len(s.order):
		s.selected = s.order[pos]
	default:
		s.selected = s.order[pos-1]
	}
}

func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	s.selected = id
	return nil
}

// Selected returns the active video, if any.
func (s *Store) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != ""
}

// Videos returns snapshots in upload order.
func (s *Store) Videos() []Video {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Video, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].video)
	}
	return out
}

func (s *Store) Video(id string) (Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Video{}, ErrNotFound
	}
	return e.video, nil
}

func (s *Store) Config(id string) (analysis.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return analysis.Config{}, ErrNotFound
	}
	if e.video.State == StateUploading {
		return analysis.Config{}, ErrUploading
	}
	return e.config, nil
}

// Result returns the latest analysis of a video.
func (s *Store) Result(id string) (analysis.SanitizedResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.result == nil {
		return analysis.SanitizedResult{}, false
	}
	return *e.result, true
}

// Estimate returns the latest token estimate of a video.
func (s *Store) Estimate(id string) (analysis.VideoEstimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.estimate == nil {
		return analysis.VideoEstimate{}, false
	}
	return *e.estimate, true
}

// BuildSubmission turns the configs of ids into raw configs for a batch, in
// the order given. Partition counts are recomputed from known durations.
func (s *Store) BuildSubmission(ids []string) ([]analysis.RawConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raws := make([]analysis.RawConfig, 0, len(ids))
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if e.video.State == StateUploading {
			return nil, fmt.Errorf("%s: %w", id, ErrUploading)
		}

		cfg := e.config
		if e.video.HasDuration && !e.override {
			cfg.NumPartitions = partition.Calculate(cfg.Policy(), e.video.Duration)
		}
		raws = append(raws, analysis.RawConfig{
			VideoPath:         e.video.StoredPath,
			PartitionType:     cfg.PartitionType,
			PartitionInterval: cfg.PartitionInterval,
			FrameRate:         cfg.FrameRate,
			NumPartitions:     cfg.NumPartitions,
			Prompt:            cfg.Prompt,
			Model:             cfg.Model,
			Quality:           cfg.Quality,
			Scale:             cfg.Scale,
			Detail:            cfg.Detail,
		})
	}
	return raws, nil
}

// BeginEstimate marks every video in ids as Estimating. Either all of them
// move or none does.
func (s *Store) BeginEstimate(ids []string) error {
	return s.begin(ids, StateEstimating)
}

// BeginAnalysis marks every video in ids as Analyzing.
func (s *Store) BeginAnalysis(ids []string) error {
	return s.begin(ids, StateAnalyzing)
}

func (s *Store) begin(ids []string, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		e, ok := s.entries[id]
		switch {
		case !ok:
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		case e.video.State == StateUploading:
			return fmt.Errorf("%s: %w", id, ErrUploading)
		case e.video.State.InFlight():
			return fmt.Errorf("%s: %w", id, ErrInFlight)
		}
	}
	for _, id := range ids {
		e := s.entries[id]
		e.prevState = e.video.State
		e.video.State = to
	}
	return nil
}

// ApplyEstimate stores est for a video that is Estimating. A video removed
// while the batch ran yields ErrNotFound and the estimate is dropped.
func (s *Store) ApplyEstimate(id string, est analysis.VideoEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.inFlightLocked(id, StateEstimating)
	if err != nil {
		return err
	}
	e.estimate = &est
	e.video.State = StateEstimated
	return nil
}

// ApplyResult stores res for a video that is Analyzing. A failed video keeps
// its error on the stored result.
func (s *Store) ApplyResult(id string, res analysis.SanitizedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.inFlightLocked(id, StateAnalyzing)
	if err != nil {
		return err
	}
	e.result = &res
	e.video.State = StateAnalyzed
	return nil
}

// Abort returns in-flight videos to the state they had before the batch.
func (s *Store) Abort(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.video.State.InFlight() {
			e.video.State = e.prevState
		}
	}
}

func (s *Store) inFlightLocked(id string, want State) (*entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.video.State != want {
		return nil, fmt.Errorf("%w: %s is not %s", ErrInvalidTransition, e.video.State, want)
	}
	return e, nil
}
