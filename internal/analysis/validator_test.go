package analysis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(files fakeFiles, durations DurationProber) *Validator {
	return NewValidator(ValidatorConfig{
		Files:     files,
		Models:    fakeModels{"gpt-5-nano", "gpt-5-mini"},
		Durations: durations,
		Logger:    discardLogger(),
	})
}

func TestValidate_MissingFile(t *testing.T) {
	v := newTestValidator(fakeFiles{}, nil)

	out := v.Validate(context.Background(), []RawConfig{{VideoPath: "missing.mp4"}})

	assert.False(t, out.Valid)
	assert.Equal(t, []string{`Config 0: File "missing.mp4" does not exist`}, out.Errors)
	assert.Empty(t, out.Configs)
}

func TestValidate_RuleOrder(t *testing.T) {
	v := newTestValidator(fakeFiles{"a.mp4": true}, nil)

	out := v.Validate(context.Background(), []RawConfig{
		{VideoPath: ""},
		{VideoPath: "   "},
		{VideoPath: "nope.mp4", Model: "bogus"},
		{VideoPath: "a.mp4", Model: "bogus"},
		{VideoPath: "a.mp4"},
	})

	assert.False(t, out.Valid)
	assert.Equal(t, []string{
		"Config 0: videoPath is required",
		"Config 1: videoPath is required",
		`Config 2: File "nope.mp4" does not exist`,
		`Config 3: Invalid model "bogus". Supported models: gpt-5-nano, gpt-5-mini`,
	}, out.Errors)
	require.Len(t, out.Configs, 1)
	assert.Equal(t, 4, out.Configs[0].Index)
}

func TestValidate_AppliesDefaults(t *testing.T) {
	v := newTestValidator(fakeFiles{"a.mp4": true}, nil)

	out := v.Validate(context.Background(), []RawConfig{{VideoPath: "a.mp4"}})

	require.True(t, out.Valid)
	require.Len(t, out.Configs, 1)
	assert.Equal(t, Config{
		VideoPath:         "a.mp4",
		PartitionType:     DefaultPartitionType,
		PartitionInterval: DefaultPartitionInterval,
		FrameRate:         DefaultFrameRate,
		NumPartitions:     DefaultNumPartitions,
		Prompt:            DefaultPrompt,
		Model:             DefaultModel,
		Quality:           DefaultQuality,
		Scale:             DefaultScale,
		Detail:            DefaultDetail,
	}, out.Configs[0].Config)
}

func TestValidate_KeepsProvidedValues(t *testing.T) {
	v := newTestValidator(fakeFiles{"a.mp4": true}, nil)

	out := v.Validate(context.Background(), []RawConfig{{
		VideoPath:     "a.mp4",
		NumPartitions: 3,
		Prompt:        "Count the cars.",
		Model:         "gpt-5-mini",
		Quality:       4,
		Scale:         480,
		Detail:        DetailLow,
	}})

	require.True(t, out.Valid)
	cfg := out.Configs[0].Config
	assert.Equal(t, 3, cfg.NumPartitions)
	assert.Equal(t, "Count the cars.", cfg.Prompt)
	assert.Equal(t, "gpt-5-mini", cfg.Model)
	assert.Equal(t, 4, cfg.Quality)
	assert.Equal(t, 480, cfg.Scale)
	assert.Equal(t, DetailLow, cfg.Detail)
}

func TestValidate_SizesFromDuration(t *testing.T) {
	v := newTestValidator(fakeFiles{"a.mp4": true, "b.mp4": true}, fakeDurations{"a.mp4": 9.0})

	out := v.Validate(context.Background(), []RawConfig{
		{VideoPath: "a.mp4", PartitionType: "time", PartitionInterval: 2},
		{VideoPath: "b.mp4", PartitionType: "time", PartitionInterval: 2},
	})

	require.True(t, out.Valid)
	assert.Equal(t, 5, out.Configs[0].Config.NumPartitions)
	assert.Equal(t, DefaultNumPartitions, out.Configs[1].Config.NumPartitions, "unprobeable video falls back")
}

func TestValidate_ClampsPolicy(t *testing.T) {
	v := newTestValidator(fakeFiles{"a.mp4": true}, nil)

	out := v.Validate(context.Background(), []RawConfig{{
		VideoPath:         "a.mp4",
		PartitionType:     "frames",
		PartitionInterval: 5000,
		FrameRate:         999,
		Detail:            "ultra",
	}})

	require.True(t, out.Valid)
	cfg := out.Configs[0].Config
	assert.Equal(t, 1000, cfg.PartitionInterval)
	assert.Equal(t, 240, cfg.FrameRate)
	assert.Equal(t, DetailAuto, cfg.Detail)
}

func TestValidate_PartitionType(t *testing.T) {
	v := newTestValidator(fakeFiles{"a.mp4": true}, nil)

	out := v.Validate(context.Background(), []RawConfig{
		{VideoPath: "a.mp4", PartitionType: "frame"},
		{VideoPath: "a.mp4", PartitionType: "seconds"},
		{VideoPath: "a.mp4"},
	})

	require.False(t, out.Valid)
	assert.Equal(t, []string{`Config 1: Invalid partitionType "seconds". Supported types: time, frames`}, out.Errors)
	require.Len(t, out.Configs, 2)
	assert.Equal(t, "frames", out.Configs[0].Config.PartitionType, "frame is an alias of frames")
	assert.Equal(t, "time", out.Configs[1].Config.PartitionType)
}

func TestValidate_CustomDefaultModel(t *testing.T) {
	v := NewValidator(ValidatorConfig{
		Files:        fakeFiles{"a.mp4": true},
		Models:       fakeModels{"gemini-2.5-flash"},
		DefaultModel: "gemini-2.5-flash",
	})

	out := v.Validate(context.Background(), []RawConfig{{VideoPath: "a.mp4"}})

	require.True(t, out.Valid)
	assert.Equal(t, "gemini-2.5-flash", out.Configs[0].Config.Model)
}

func TestValidate_ManyConfigsKeepIndexOrder(t *testing.T) {
	files := fakeFiles{}
	raws := make([]RawConfig, 40)
	for i := range raws {
		path := fmt.Sprintf("v%02d.mp4", i)
		if i%3 != 0 {
			files[path] = true
		}
		raws[i] = RawConfig{VideoPath: path}
	}
	v := newTestValidator(files, nil)

	out := v.Validate(context.Background(), raws)

	assert.False(t, out.Valid)
	assert.Len(t, out.Errors, 14)
	assert.Len(t, out.Configs, 26)
	for k := 1; k < len(out.Configs); k++ {
		assert.Less(t, out.Configs[k-1].Index, out.Configs[k].Index)
	}
	for _, vc := range out.Configs {
		assert.Equal(t, raws[vc.Index].VideoPath, vc.Config.VideoPath)
	}
	assert.Equal(t, `Config 0: File "v00.mp4" does not exist`, out.Errors[0])
	assert.Equal(t, `Config 39: File "v39.mp4" does not exist`, out.Errors[13])
}

func TestValidate_Empty(t *testing.T) {
	v := newTestValidator(fakeFiles{}, nil)

	out := v.Validate(context.Background(), nil)

	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)
	assert.Empty(t, out.Configs)
}
