// Package pricing holds the per-model token rate table used to derive trace
// costs. Unknown models fall back to a default rate pair instead of failing
// so generation never blocks on an incomplete table.
package pricing

import (
	"math"
	"sort"
)

// Rate is the USD price per 1000 tokens, split by direction.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Default is the fallback rate pair applied to models missing from the table.
var Default = Rate{InputPer1K: 0.001, OutputPer1K: 0.002}

var rates = map[string]Rate{
	"gpt-4":           {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-3.5-turbo":   {InputPer1K: 0.001, OutputPer1K: 0.002},
	"gpt-4-turbo":     {InputPer1K: 0.01, OutputPer1K: 0.03},
	"claude-3":        {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-3-haiku":  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"claude-3-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"llama-2-7b":      {InputPer1K: 0.0002, OutputPer1K: 0.0002},
	"llama-2-13b":     {InputPer1K: 0.0003, OutputPer1K: 0.0003},
	"llama-2-70b":     {InputPer1K: 0.0008, OutputPer1K: 0.0008},
	"mistral-7b":      {InputPer1K: 0.0002, OutputPer1K: 0.0002},
	"mixtral-8x7b":    {InputPer1K: 0.0006, OutputPer1K: 0.0006},
}

// Lookup returns the rate pair for a model, or Default when the model is not
// in the table.
func Lookup(model string) Rate {
	if rate, ok := rates[model]; ok {
		return rate
	}
	return Default
}

// Known reports whether the model has an explicit table entry.
func Known(model string) bool {
	_, ok := rates[model]
	return ok
}

// EstimateCost computes the USD cost of a call from its token counts using
// the model's rates, rounded to 6 decimals.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	rate := Lookup(model)
	cost := (float64(inputTokens)/1000)*rate.InputPer1K + (float64(outputTokens)/1000)*rate.OutputPer1K
	return Round6(cost)
}

// Round6 rounds to 6 decimal places, the precision trace costs carry.
func Round6(value float64) float64 {
	return math.Round(value*1e6) / 1e6
}

// Models returns the closed model set, sorted.
func Models() []string {
	models := make([]string, 0, len(rates))
	for model := range rates {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
