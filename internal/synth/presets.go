package synth

import (
	"fmt"
	"strings"
)

// Preset names a traffic profile. Presets shift the error rate and latency
// range only; every other field keeps its base distribution.
type Preset string

const (
	// PresetSteady is the default profile: 5% errors, latencies across the
	// full 500-5000ms range.
	PresetSteady Preset = "steady"

	// PresetErrorHeavy raises the error rate to 25% for failure-path suites.
	PresetErrorHeavy Preset = "error-heavy"

	// PresetBurst models short fast requests with a 10% error rate.
	PresetBurst Preset = "burst"
)

type presetParams struct {
	errorRate  float64
	latencyMin int
	latencyMax int
}

func (p Preset) params() presetParams {
	switch p {
	case PresetErrorHeavy:
		return presetParams{errorRate: 0.25, latencyMin: 500, latencyMax: 5000}
	case PresetBurst:
		return presetParams{errorRate: 0.10, latencyMin: 100, latencyMax: 1500}
	default:
		return presetParams{errorRate: 0.05, latencyMin: 500, latencyMax: 5000}
	}
}

// Presets lists the recognized preset names.
func Presets() []string {
	return []string{string(PresetSteady), string(PresetErrorHeavy), string(PresetBurst)}
}

// ParsePreset resolves a preset name. The empty string selects the steady
// default.
func ParsePreset(name string) (Preset, error) {
	switch name {
	case "", string(PresetSteady):
		return PresetSteady, nil
	case string(PresetErrorHeavy):
		return PresetErrorHeavy, nil
	case string(PresetBurst):
		return PresetBurst, nil
	default:
		return "", fmt.Errorf("preset must be one of %s (got %q)", strings.Join(Presets(), ", "), name)
	}
}
