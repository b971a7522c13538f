// Package synth generates synthetic LLM observability telemetry: trace
// records with realistic token usage, per-model cost, and latency, plus
// Prometheus-shaped metrics snapshots. A Generator owns its own randomness
// source; runs seeded with WithSeed are fully reproducible.
package synth

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/langobservatory/telegen/internal/pricing"
	"github.com/langobservatory/telegen/internal/record"
)

// Option configures a Generator.
type Option func(*Generator)

// Generator produces synthetic traces, metrics snapshots, and error payloads.
// It is not safe for concurrent use; callers generating from multiple
// goroutines create one Generator per goroutine.
type Generator struct {
	rng    *rand.Rand
	now    func() time.Time
	preset Preset

	errorRate  float64
	latencyMin int
	latencyMax int
}

// New creates a Generator. Without options the randomness source is
// time-seeded and the steady preset applies.
func New(opts ...Option) *Generator {
	g := &Generator{
		now:    time.Now,
		preset: PresetSteady,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	params := g.preset.params()
	g.errorRate = params.errorRate
	g.latencyMin = params.latencyMin
	g.latencyMax = params.latencyMax
	return g
}

// WithSeed fixes the randomness source for reproducible runs. Seed 0 keeps
// the time-based default.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		if seed == 0 {
			return
		}
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithClock injects the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithPreset selects the traffic profile. Unknown presets behave as steady.
func WithPreset(preset Preset) Option {
	return func(g *Generator) {
		g.preset = preset
	}
}

// GenerateTrace builds one trace record. Derived fields (name, usage total,
// cost) are computed first; non-nil override fields then replace generated
// values verbatim, so overrides can pin values or break the generated
// invariants on purpose. A nil overrides generates a plain record.
func (g *Generator) GenerateTrace(overrides *TraceOverrides) *record.Trace {
	model := g.pick(models)
	inputTokens := g.randRange(10, 500)
	outputTokens := g.randRange(20, 800)

	tr := &record.Trace{
		ID:        g.TraceID(),
		Name:      model + "_generation",
		UserID:    g.UserID(),
		SessionID: g.SessionID(),
		Model:     model,
		Provider:  g.pick(providers),
		Metadata:  g.generationParams(),
		Input:     g.pick(prompts),
		Output:    g.pick(responses),
		Usage: &record.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
		Cost:      pricing.EstimateCost(model, inputTokens, outputTokens),
		LatencyMS: g.randRange(g.latencyMin, g.latencyMax),
		Timestamp: record.EpochSeconds(g.now()),
		Status:    record.StatusSuccess,
	}
	// One draw decides status and error payload together.
	if g.rng.Float64() < g.errorRate {
		tr.Status = record.StatusError
		tr.Error = g.GenerateError()
	}
	return overrides.apply(tr)
}

// GenerateMetrics builds one metrics snapshot stamped at the given time; a
// zero time means now. Bucket counts are drawn independently per bound and
// carry no cumulative relationship.
func (g *Generator) GenerateMetrics(at time.Time) *record.Metrics {
	if at.IsZero() {
		at = g.now()
	}
	return &record.Metrics{
		Timestamp: record.EpochSeconds(at),
		Metrics: record.MetricsBody{
			RequestsTotal: g.randRange(50, 1000),
			RequestDuration: record.DurationHistogram{
				Count: g.randRange(50, 1000),
				Sum:   round2(g.randFloat(50, 500)),
				Buckets: map[string]int{
					"0.1":  g.randRange(0, 10),
					"0.5":  g.randRange(10, 50),
					"1.0":  g.randRange(50, 150),
					"2.0":  g.randRange(150, 300),
					"5.0":  g.randRange(300, 500),
					"+Inf": g.randRange(500, 1000),
				},
			},
			TokensTotal: record.TokenTotals{
				Input:  g.randRange(5000, 50000),
				Output: g.randRange(7500, 75000),
			},
			CostTotal:        round2(g.randFloat(1, 100)),
			ErrorsTotal:      g.randRange(0, 50),
			CacheHitsTotal:   g.randRange(10, 200),
			CacheMissesTotal: g.randRange(100, 800),
		},
		Labels: map[string]string{
			"model":       g.pick(models),
			"provider":    g.pick(providers),
			"environment": g.pick(environments),
		},
	}
}

// GenerateError draws one of the five error archetypes. RetryAfter is set
// for rate-limit errors only.
func (g *Generator) GenerateError() *record.ErrorDetail {
	archetype := errorArchetypes[g.rng.Intn(len(errorArchetypes))]
	detail := &record.ErrorDetail{
		Type:    archetype.errType,
		Message: archetype.message,
		Code:    g.randRange(400, 599),
	}
	if strings.Contains(archetype.errType, "Rate") {
		retryAfter := g.randRange(1, 300)
		detail.RetryAfter = &retryAfter
	}
	return detail
}

// generationParams draws the model call parameters stored under metadata.
func (g *Generator) generationParams() map[string]any {
	return map[string]any{
		"temperature":       round2(g.rng.Float64()),
		"max_tokens":        maxTokensChoices[g.rng.Intn(len(maxTokensChoices))],
		"top_p":             round2(g.randFloat(0.1, 1.0)),
		"frequency_penalty": round2(g.randFloat(0, 2)),
		"presence_penalty":  round2(g.randFloat(0, 2)),
		"user_type":         g.pick(userTypes),
		"environment":       g.pick(environments),
	}
}

// randRange returns a random int in [min, max].
func (g *Generator) randRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + g.rng.Intn(max-min+1)
}

func (g *Generator) randFloat(min, max float64) float64 {
	return min + g.rng.Float64()*(max-min)
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
