package filter

import (
	"sort"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

// Tool names accepted by the pipeline.
const (
	ToolBrightness = "brightness"
	ToolContrast   = "contrast"
	ToolSaturation = "saturation"
	ToolHighlights = "highlights"
	ToolShadows    = "shadows"
	ToolSharpen    = "sharpen"
	ToolWarm       = "warm"
	ToolVintage    = "vintage"
	ToolGrain      = "grain"
	ToolBlur       = "blur"
)

// Normalization constants.
const (
	percent = 100.0

	highlightsBrightness = 0.5
	highlightsContrast   = 0.25
	shadowsBrightness    = 0.4
	shadowsContrast      = -0.2

	// warmGain is the red gain (and blue attenuation) at full warmth.
	warmGain = 0.1

	// grainScale maps [0,100] onto the native noise range [0,300].
	grainScale = 3.0
)

// write is one slot assignment produced by a tool. A nil effect clears
// the slot.
type write struct {
	slot   domain.Slot
	effect *domain.Effect
}

// tool describes one slider tool.
type tool struct {
	name     string
	min, max float64
	writes   func(v float64) []write
}

func (t tool) clamp(v float64) float64 {
	if v < t.min {
		return t.min
	}
	if v > t.max {
		return t.max
	}
	return v
}

func scalar(kind domain.EffectKind, key string, v float64) *domain.Effect {
	return &domain.Effect{Kind: kind, Params: map[string]float64{key: v}}
}

func single(slot domain.Slot, kind domain.EffectKind, key string, scale float64) func(float64) []write {
	return func(v float64) []write {
		return []write{{slot: slot, effect: scalar(kind, key, v/percent*scale)}}
	}
}

// clearAtZero wraps a tool whose range starts at zero.
func clearAtZero(slot domain.Slot, f func(float64) *domain.Effect) func(float64) []write {
	return func(v float64) []write {
		if v <= 0 {
			return []write{{slot: slot}}
		}
		return []write{{slot: slot, effect: f(v)}}
	}
}

// SharpenKernel returns the 3x3 sharpen kernel for amount a.
func SharpenKernel(a float64) []float64 {
	return []float64{
		0, -a, 0,
		-a, 1 + 4*a, -a,
		0, -a, 0,
	}
}

// WarmMatrix returns the 4x5 RGBA color matrix for warmth w in [-1,1].
func WarmMatrix(w float64) []float64 {
	return []float64{
		1 + warmGain*w, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1 - warmGain*w, 0, 0,
		0, 0, 0, 1, 0,
	}
}

var toolTable = map[string]tool{
	ToolBrightness: {
		name: ToolBrightness, min: -100, max: 100,
		writes: single(domain.SlotBrightness, domain.EffectBrightness, "brightness", 1),
	},
	ToolContrast: {
		name: ToolContrast, min: -100, max: 100,
		writes: single(domain.SlotContrast, domain.EffectContrast, "contrast", 1),
	},
	ToolSaturation: {
		name: ToolSaturation, min: -100, max: 100,
		writes: single(domain.SlotSaturation, domain.EffectSaturation, "saturation", 1),
	},
	ToolHighlights: {
		name: ToolHighlights, min: -100, max: 100,
		writes: func(v float64) []write {
			return []write{
				{slot: domain.SlotHighlightsBright, effect: scalar(domain.EffectBrightness, "brightness", v/percent*highlightsBrightness)},
				{slot: domain.SlotHighlightsContrast, effect: scalar(domain.EffectContrast, "contrast", v/percent*highlightsContrast)},
			}
		},
	},
	ToolShadows: {
		name: ToolShadows, min: -100, max: 100,
		writes: func(v float64) []write {
			return []write{
				{slot: domain.SlotShadowsBright, effect: scalar(domain.EffectBrightness, "brightness", v/percent*shadowsBrightness)},
				{slot: domain.SlotShadowsContrast, effect: scalar(domain.EffectContrast, "contrast", v/percent*shadowsContrast)},
			}
		},
	},
	ToolSharpen: {
		name: ToolSharpen, min: 0, max: 100,
		writes: clearAtZero(domain.SlotSharpen, func(v float64) *domain.Effect {
			a := v / percent
			return &domain.Effect{
				Kind:   domain.EffectConvolute,
				Params: map[string]float64{"amount": a},
				Matrix: SharpenKernel(a),
			}
		}),
	},
	ToolWarm: {
		name: ToolWarm, min: -100, max: 100,
		writes: func(v float64) []write {
			w := v / percent
			return []write{{slot: domain.SlotWarm, effect: &domain.Effect{
				Kind:   domain.EffectColorMatrix,
				Params: map[string]float64{"warmth": w},
				Matrix: WarmMatrix(w),
			}}}
		},
	},
	ToolVintage: {
		name: ToolVintage, min: 0, max: 100,
		writes: clearAtZero(domain.SlotVintage, func(v float64) *domain.Effect {
			return scalar(domain.EffectSepia, "intensity", v/percent)
		}),
	},
	ToolGrain: {
		name: ToolGrain, min: 0, max: 100,
		writes: clearAtZero(domain.SlotGrain, func(v float64) *domain.Effect {
			return scalar(domain.EffectNoise, "noise", v*grainScale)
		}),
	},
	ToolBlur: {
		name: ToolBlur, min: 0, max: 100,
		writes: clearAtZero(domain.SlotBlur, func(v float64) *domain.Effect {
			return scalar(domain.EffectBlur, "blur", v/percent)
		}),
	},
}

// ToolInfo describes a tool's accepted input range.
type ToolInfo struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Lookup canonicalizes a tool name and reports whether the tool exists.
func Lookup(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	_, ok := toolTable[name]
	return name, ok
}

// Tools lists every tool sorted by name.
func Tools() []ToolInfo {
	out := make([]ToolInfo, 0, len(toolTable))
	for _, t := range toolTable {
		out = append(out, ToolInfo{Name: t.name, Min: t.min, Max: t.max})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
