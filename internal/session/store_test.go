package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/partition"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

type fakeProber struct {
	durations map[string]float64
	block     bool
}

func (p fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if p.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	d, ok := p.durations[path]
	if !ok {
		return 0, errors.New("no such video")
	}
	return d, nil
}

func ptr[T any](v T) *T { return &v }

func newTestStore(prober analysis.DurationProber) *Store {
	return New(Options{DefaultModel: "gpt-4o", Prober: prober, ProbeTimeout: 50 * time.Millisecond})
}

func registered(t *testing.T, s *Store, name, path string) string {
	t.Helper()
	id := s.BeginUpload(name, 100)
	require.NoError(t, s.CompleteUpload(id, path))
	return id
}

func TestCompleteUploadAttachesDefaultConfig(t *testing.T) {
	s := newTestStore(nil)
	id := s.BeginUpload("a.mp4", 100)

	_, err := s.Config(id)
	assert.ErrorIs(t, err, ErrUploading)

	require.NoError(t, s.CompleteUpload(id, "/up/a.mp4"))

	v, err := s.Video(id)
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, v.State)

	cfg, err := s.Config(id)
	require.NoError(t, err)
	assert.Equal(t, "/up/a.mp4", cfg.VideoPath)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, partition.TypeTime, cfg.PartitionType)
	assert.Equal(t, 2, cfg.PartitionInterval)
	assert.Equal(t, 60, cfg.FrameRate)
	assert.Equal(t, 10, cfg.NumPartitions)
	assert.Equal(t, DefaultPrompt, cfg.Prompt)
	assert.Equal(t, analysis.DetailAuto, cfg.Detail)

	assert.ErrorIs(t, s.CompleteUpload(id, "/up/a.mp4"), ErrInvalidTransition)
}

func TestFailUploadRemovesVideo(t *testing.T) {
	s := newTestStore(nil)
	id := s.BeginUpload("a.mp4", 100)

	err := s.FailUpload(id, errors.New("connection reset"))
	var te *upload.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "connection reset")

	assert.Empty(t, s.Videos())
	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestProbeMetadata(t *testing.T) {
	s := newTestStore(fakeProber{durations: map[string]float64{"/up/a.mp4": 9}})
	id := registered(t, s, "a.mp4", "/up/a.mp4")

	d, err := s.ProbeMetadata(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 9.0, d)

	v, _ := s.Video(id)
	assert.Equal(t, StateMetadataKnown, v.State)
	assert.True(t, v.HasDuration)

	cfg, _ := s.Config(id)
	assert.Equal(t, 5, cfg.NumPartitions, "ceil(9/2)")
}

func TestProbeMetadataFailureIsPermanent(t *testing.T) {
	s := newTestStore(fakeProber{})
	id := registered(t, s, "a.mp4", "/up/a.mp4")

	_, err := s.ProbeMetadata(context.Background(), id)
	require.Error(t, err)

	v, _ := s.Video(id)
	assert.Equal(t, StateMetadataPending, v.State)

	_, err = s.ProbeMetadata(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	cfg, _ := s.Config(id)
	assert.Equal(t, partition.FallbackPartitions, cfg.NumPartitions)
}

func TestProbeMetadataTimeout(t *testing.T) {
	s := newTestStore(fakeProber{block: true})
	id := registered(t, s, "a.mp4", "/up/a.mp4")

	start := time.Now()
	_, err := s.ProbeMetadata(context.Background(), id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	v, _ := s.Video(id)
	assert.Equal(t, StateMetadataPending, v.State)
}

func TestUpdateConfig(t *testing.T) {
	s := newTestStore(fakeProber{durations: map[string]float64{"/up/a.mp4": 10}})
	id := registered(t, s, "a.mp4", "/up/a.mp4")
	_, err := s.ProbeMetadata(context.Background(), id)
	require.NoError(t, err)

	t.Run("prompt only keeps partitions", func(t *testing.T) {
		cfg, err := s.UpdateConfig(id, ConfigPatch{NumPartitions: ptr(7)})
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.NumPartitions)

		cfg, err = s.UpdateConfig(id, ConfigPatch{Prompt: ptr("count cars")})
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.NumPartitions)
		assert.Equal(t, "count cars", cfg.Prompt)
	})

	t.Run("interval recomputes", func(t *testing.T) {
		cfg, err := s.UpdateConfig(id, ConfigPatch{PartitionInterval: ptr(3)})
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.NumPartitions, "ceil(10/3)")
	})

	t.Run("frames mode", func(t *testing.T) {
		cfg, err := s.UpdateConfig(id, ConfigPatch{
			PartitionType:     ptr(partition.TypeFrames),
			PartitionInterval: ptr(100),
			FrameRate:         ptr(30),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.NumPartitions, "ceil(300/100)")
	})

	t.Run("clamps out of range input", func(t *testing.T) {
		cfg, err := s.UpdateConfig(id, ConfigPatch{PartitionInterval: ptr(5000), FrameRate: ptr(0)})
		require.NoError(t, err)
		assert.Equal(t, partition.MaxInterval, cfg.PartitionInterval)
		assert.Equal(t, partition.MinFrameRate, cfg.FrameRate)
		assert.Equal(t, 1, cfg.NumPartitions)
	})

	v, _ := s.Video(id)
	assert.Equal(t, StateConfigured, v.State)
}

func TestUpdateConfigRejectedWhileUploading(t *testing.T) {
	s := newTestStore(nil)
	id := s.BeginUpload("a.mp4", 1)

	_, err := s.UpdateConfig(id, ConfigPatch{Prompt: ptr("x")})
	assert.ErrorIs(t, err, ErrUploading)

	_, err = s.UpdateConfig("missing", ConfigPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateConfigWithoutDurationUsesFallback(t *testing.T) {
	s := newTestStore(nil)
	id := registered(t, s, "a.mp4", "/up/a.mp4")

	cfg, err := s.UpdateConfig(id, ConfigPatch{PartitionInterval: ptr(7)})
	require.NoError(t, err)
	assert.Equal(t, partition.FallbackPartitions, cfg.NumPartitions)
}

func TestExplicitPartitionsSurviveSubmission(t *testing.T) {
	s := newTestStore(fakeProber{durations: map[string]float64{"/up/a.mp4": 20}})
	id := registered(t, s, "a.mp4", "/up/a.mp4")
	_, err := s.ProbeMetadata(context.Background(), id)
	require.NoError(t, err)

	cfg, err := s.UpdateConfig(id, ConfigPatch{NumPartitions: ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NumPartitions)

	raws, err := s.BuildSubmission([]string{id})
	require.NoError(t, err)
	assert.Equal(t, 3, raws[0].NumPartitions, "explicit count kept over ceil(20/2)")

	_, err = s.UpdateConfig(id, ConfigPatch{Prompt: ptr("count cars")})
	require.NoError(t, err)
	raws, err = s.BuildSubmission([]string{id})
	require.NoError(t, err)
	assert.Equal(t, 3, raws[0].NumPartitions, "unrelated edits keep the explicit count")

	_, err = s.UpdateConfig(id, ConfigPatch{PartitionInterval: ptr(4)})
	require.NoError(t, err)
	raws, err = s.BuildSubmission([]string{id})
	require.NoError(t, err)
	assert.Equal(t, 5, raws[0].NumPartitions, "policy change returns to the computed count")

	_, err = s.UpdateConfig(id, ConfigPatch{PartitionInterval: ptr(10), NumPartitions: ptr(8)})
	require.NoError(t, err)
	raws, err = s.BuildSubmission([]string{id})
	require.NoError(t, err)
	assert.Equal(t, 8, raws[0].NumPartitions, "count in the same patch as a policy change wins")
}

func TestExplicitPartitionsSurviveLateMetadata(t *testing.T) {
	s := newTestStore(fakeProber{durations: map[string]float64{"/up/a.mp4": 20}})
	id := registered(t, s, "a.mp4", "/up/a.mp4")

	_, err := s.UpdateConfig(id, ConfigPatch{NumPartitions: ptr(3)})
	require.NoError(t, err)
	_, err = s.ProbeMetadata(context.Background(), id)
	require.NoError(t, err)

	cfg, err := s.Config(id)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NumPartitions)
}

func TestUpdateConfigPartitionType(t *testing.T) {
	s := newTestStore(fakeProber{durations: map[string]float64{"/up/a.mp4": 10}})
	id := registered(t, s, "a.mp4", "/up/a.mp4")
	_, err := s.ProbeMetadata(context.Background(), id)
	require.NoError(t, err)

	cfg, err := s.UpdateConfig(id, ConfigPatch{PartitionType: ptr("frame"), PartitionInterval: ptr(100), FrameRate: ptr(30)})
	require.NoError(t, err)
	assert.Equal(t, partition.TypeFrames, cfg.PartitionType)
	assert.Equal(t, 3, cfg.NumPartitions, "ceil(300/100)")

	_, err = s.UpdateConfig(id, ConfigPatch{PartitionType: ptr("seconds"), Prompt: ptr("ignored")})
	assert.ErrorIs(t, err, partition.ErrUnknownType)

	cfg, err = s.Config(id)
	require.NoError(t, err)
	assert.Equal(t, partition.TypeFrames, cfg.PartitionType, "rejected patch leaves the config untouched")
	assert.NotEqual(t, "ignored", cfg.Prompt)
}

func TestRemoveMovesSelection(t *testing.T) {
	s := newTestStore(nil)
	a := registered(t, s, "a.mp4", "/up/a.mp4")
	b := registered(t, s, "b.mp4", "/up/b.mp4")
	c := registered(t, s, "c.mp4", "/up/c.mp4")

	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, a, sel, "first upload is selected")

	require.NoError(t, s.Select(b))
	require.NoError(t, s.Remove(b))
	sel, _ = s.Selected()
	assert.Equal(t, c, sel, "selection moves to the next video")

	require.NoError(t, s.Remove(c))
	sel, _ = s.Selected()
	assert.Equal(t, a, sel, "selection falls back to the previous video")

	require.NoError(t, s.Remove(a))
	_, ok = s.Selected()
	assert.False(t, ok)

	assert.ErrorIs(t, s.Remove(a), ErrNotFound)
	assert.ErrorIs(t, s.Select(a), ErrNotFound)
}

func TestRemoveUnselectedKeepsSelection(t *testing.T) {
	s := newTestStore(nil)
	a := registered(t, s, "a.mp4", "/up/a.mp4")
	b := registered(t, s, "b.mp4", "/up/b.mp4")

	require.NoError(t, s.Remove(b))
	sel, _ := s.Selected()
	assert.Equal(t, a, sel)
}

func TestRemoveCascades(t *testing.T) {
	s := newTestStore(nil)
	id := registered(t, s, "a.mp4", "/up/a.mp4")

	require.NoError(t, s.BeginAnalysis([]string{id}))
	require.NoError(t, s.ApplyResult(id, analysis.SanitizedResult{VideoPath: "/up/a.mp4", TotalFrames: 1}))
	_, ok := s.Result(id)
	require.True(t, ok)

	require.NoError(t, s.Remove(id))

	_, ok = s.Result(id)
	assert.False(t, ok)
	_, err := s.Config(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.Videos())
}

func TestBuildSubmission(t *testing.T) {
	s := newTestStore(fakeProber{durations: map[string]float64{"/up/a.mp4": 20}})
	a := registered(t, s, "a.mp4", "/up/a.mp4")
	b := registered(t, s, "b.mp4", "/up/b.mp4")
	_, err := s.ProbeMetadata(context.Background(), a)
	require.NoError(t, err)

	raws, err := s.BuildSubmission([]string{b, a})
	require.NoError(t, err)
	require.Len(t, raws, 2)

	assert.Equal(t, "/up/b.mp4", raws[0].VideoPath)
	assert.Equal(t, 10, raws[0].NumPartitions)
	assert.Equal(t, "/up/a.mp4", raws[1].VideoPath)
	assert.Equal(t, 10, raws[1].NumPartitions, "ceil(20/2)")
	assert.Equal(t, "gpt-4o", raws[1].Model)

	uploading := s.BeginUpload("c.mp4", 1)
	_, err = s.BuildSubmission([]string{a, uploading})
	assert.ErrorIs(t, err, ErrUploading)
}

func TestEstimateLifecycle(t *testing.T) {
	s := newTestStore(nil)
	a := registered(t, s, "a.mp4", "/up/a.mp4")
	b := registered(t, s, "b.mp4", "/up/b.mp4")

	require.NoError(t, s.BeginEstimate([]string{a, b}))
	assert.ErrorIs(t, s.BeginAnalysis([]string{a}), ErrInFlight)

	_, err := s.UpdateConfig(a, ConfigPatch{Prompt: ptr("edit while running")})
	require.NoError(t, err)
	v, _ := s.Video(a)
	assert.Equal(t, StateEstimating, v.State, "edits do not clear an in-flight state")

	require.NoError(t, s.Remove(b))
	assert.ErrorIs(t, s.ApplyEstimate(b, analysis.VideoEstimate{}), ErrNotFound, "results for removed videos are dropped")

	est := analysis.VideoEstimate{VideoPath: "/up/a.mp4", NumPartitions: 10, Total: analysis.TokenEstimate{TotalTokens: 100}}
	require.NoError(t, s.ApplyEstimate(a, est))

	got, ok := s.Estimate(a)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Total.TotalTokens)
	v, _ = s.Video(a)
	assert.Equal(t, StateEstimated, v.State)

	assert.ErrorIs(t, s.ApplyEstimate(a, est), ErrInvalidTransition)
}

func TestBeginIsAllOrNothing(t *testing.T) {
	s := newTestStore(nil)
	a := registered(t, s, "a.mp4", "/up/a.mp4")
	uploading := s.BeginUpload("b.mp4", 1)

	assert.ErrorIs(t, s.BeginAnalysis([]string{a, uploading}), ErrUploading)

	v, _ := s.Video(a)
	assert.Equal(t, StateRegistered, v.State)
}

func TestAbortRestoresPreviousState(t *testing.T) {
	s := newTestStore(nil)
	a := registered(t, s, "a.mp4", "/up/a.mp4")
	_, err := s.UpdateConfig(a, ConfigPatch{Prompt: ptr("x")})
	require.NoError(t, err)

	require.NoError(t, s.BeginAnalysis([]string{a}))
	s.Abort([]string{a, "missing"})

	v, _ := s.Video(a)
	assert.Equal(t, StateConfigured, v.State)
}

func TestFailedAnalysisKeepsError(t *testing.T) {
	s := newTestStore(nil)
	a := registered(t, s, "a.mp4", "/up/a.mp4")

	require.NoError(t, s.BeginAnalysis([]string{a}))
	require.NoError(t, s.ApplyResult(a, analysis.SanitizedResult{Error: "decode failed", Frames: []analysis.FrameResult{}}))

	res, ok := s.Result(a)
	require.True(t, ok)
	assert.Equal(t, "decode failed", res.Error)
	assert.Zero(t, res.TotalFrames)
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.BeginUpload("v.mp4", 1)
			_ = s.CompleteUpload(id, "/up/v.mp4")
			_, _ = s.UpdateConfig(id, ConfigPatch{PartitionInterval: ptr(4)})
			_ = s.Videos()
			if i%2 == 0 {
				_ = s.Remove(id)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Videos(), 10)
}
