package engine

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/heimdex/heimdex-studio/internal/analysis"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	// OutputTokensPerFrame is the completion allowance assumed for one frame.
	OutputTokensPerFrame = 250

	TilingOpenAI = "openai"
	TilingGemini = "gemini"
)

// Price describes how a model bills text and image input.
type Price struct {
	Provider         string
	InputPerMillion  float64 // USD per 1M input tokens
	OutputPerMillion float64 // USD per 1M output tokens
	Tiling           string
	ImageBaseTokens  int64
	ImageTileTokens  int64
}

// Pricing maps model names to prices.
type Pricing map[string]Price

// DefaultPricing lists the models the studio knows how to bill.
var DefaultPricing = Pricing{
	"gpt-5":        {Provider: ProviderOpenAI, InputPerMillion: 1.25, OutputPerMillion: 10, Tiling: TilingOpenAI, ImageBaseTokens: 70, ImageTileTokens: 140},
	"gpt-5-mini":   {Provider: ProviderOpenAI, InputPerMillion: 0.25, OutputPerMillion: 2, Tiling: TilingOpenAI, ImageBaseTokens: 70, ImageTileTokens: 140},
	"gpt-5-nano":   {Provider: ProviderOpenAI, InputPerMillion: 0.05, OutputPerMillion: 0.40, Tiling: TilingOpenAI, ImageBaseTokens: 70, ImageTileTokens: 140},
	"gpt-4.1":      {Provider: ProviderOpenAI, InputPerMillion: 2, OutputPerMillion: 8, Tiling: TilingOpenAI, ImageBaseTokens: 85, ImageTileTokens: 170},
	"gpt-4.1-mini": {Provider: ProviderOpenAI, InputPerMillion: 0.40, OutputPerMillion: 1.60, Tiling: TilingOpenAI, ImageBaseTokens: 85, ImageTileTokens: 170},
	"gpt-4o":       {Provider: ProviderOpenAI, InputPerMillion: 2.50, OutputPerMillion: 10, Tiling: TilingOpenAI, ImageBaseTokens: 85, ImageTileTokens: 170},
	"gpt-4o-mini":  {Provider: ProviderOpenAI, InputPerMillion: 0.15, OutputPerMillion: 0.60, Tiling: TilingOpenAI, ImageBaseTokens: 2833, ImageTileTokens: 5667},

	"gemini-2.5-pro":        {Provider: ProviderGemini, InputPerMillion: 1.25, OutputPerMillion: 10, Tiling: TilingGemini, ImageTileTokens: 258},
	"gemini-2.5-flash":      {Provider: ProviderGemini, InputPerMillion: 0.30, OutputPerMillion: 2.50, Tiling: TilingGemini, ImageTileTokens: 258},
	"gemini-2.5-flash-lite": {Provider: ProviderGemini, InputPerMillion: 0.10, OutputPerMillion: 0.40, Tiling: TilingGemini, ImageTileTokens: 258},
}

// Models returns the priced models of a provider, sorted.
func (p Pricing) Models(provider string) []string {
	var out []string
	for model, price := range p {
		if price.Provider == provider {
			out = append(out, model)
		}
	}
	sort.Strings(out)
	return out
}

// EstimateFrame projects the tokens and cost of describing one frame.
func (p Pricing) EstimateFrame(model, prompt, detail string, scale int) (analysis.TokenEstimate, error) {
	return p.EstimateFrameTokens(model, PromptTokens(prompt), detail, scale)
}

// EstimateFrameTokens is EstimateFrame with a known prompt token count.
func (p Pricing) EstimateFrameTokens(model string, promptTokens int64, detail string, scale int) (analysis.TokenEstimate, error) {
	price, ok := p[model]
	if !ok {
		return analysis.TokenEstimate{}, fmt.Errorf("no pricing for model %q", model)
	}

	width, height := frameSize(scale)
	input := promptTokens + price.ImageTokens(detail, width, height)
	output := int64(OutputTokensPerFrame)

	cost := (float64(input)*price.InputPerMillion + float64(output)*price.OutputPerMillion) / 1_000_000
	return analysis.TokenEstimate{TotalTokens: input + output, EstimatedCost: cost}, nil
}

// ImageTokens returns the input tokens billed for an image of the given size.
func (p Price) ImageTokens(detail string, width, height int) int64 {
	if width <= 0 || height <= 0 {
		return 0
	}

	switch p.Tiling {
	case TilingGemini:
		if width <= 384 && height <= 384 {
			return p.ImageTileTokens
		}
		return tiles(width, height, 768) * p.ImageTileTokens
	default:
		if detail == analysis.DetailLow {
			return p.ImageBaseTokens
		}
		w, h := float64(width), float64(height)
		if m := math.Max(w, h); m > 2048 {
			w, h = w*2048/m, h*2048/m
		}
		if s := math.Min(w, h); s > 768 {
			w, h = w*768/s, h*768/s
		}
		return p.ImageBaseTokens + tiles(int(math.Round(w)), int(math.Round(h)), 512)*p.ImageTileTokens
	}
}

// PromptTokens approximates a text token count at four characters per token.
func PromptTokens(prompt string) int64 {
	n := utf8.RuneCountInString(prompt)
	return int64((n + 3) / 4)
}

// frameSize assumes a 16:9 source scaled to the requested height.
func frameSize(scale int) (int, int) {
	if scale <= 0 {
		scale = analysis.DefaultScale
	}
	width := int(math.Round(float64(scale) * 16 / 9))
	if width%2 == 1 {
		width++
	}
	return width, scale
}

func tiles(width, height, size int) int64 {
	return int64((width+size-1)/size) * int64((height+size-1)/size)
}
