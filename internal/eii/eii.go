// Package eii computes the Ethics Integrity Index from governance ledger
// metrics.
package eii

import (
	"math"
	"strconv"
)

// Category weights. They sum to 1.
const (
	WeightSecurity      = 0.25
	WeightAccessibility = 0.25
	WeightTransparency  = 0.25
	WeightCompliance    = 0.25
)

// Breakdown is the four weighted categories after alias resolution.
type Breakdown struct {
	Security      float64 `json:"security"`
	Accessibility float64 `json:"accessibility"`
	Transparency  float64 `json:"transparency"`
	Compliance    float64 `json:"compliance"`
}

// Resolve maps raw metric names onto the four categories. "a11y" stands in
// for accessibility and "privacy" for compliance when the canonical name is
// absent. Missing categories are 0.
func Resolve(metrics map[string]float64) Breakdown {
	pick := func(primary, alias string) float64 {
		if v, ok := metrics[primary]; ok {
			return v
		}
		return metrics[alias]
	}
	return Breakdown{
		Security:      metrics["security"],
		Accessibility: pick("accessibility", "a11y"),
		Transparency:  metrics["transparency"],
		Compliance:    pick("compliance", "privacy"),
	}
}

// Calculate returns the weighted index rounded to one decimal. A document
// reporting fewer than four categories is penalised, not excluded.
func Calculate(metrics map[string]float64) float64 {
	b := Resolve(metrics)
	v := b.Security*WeightSecurity +
		b.Accessibility*WeightAccessibility +
		b.Transparency*WeightTransparency +
		b.Compliance*WeightCompliance
	return round1(v)
}

// Label is a display tier for an index value.
type Label struct {
	Value string `json:"value"`
	Color string `json:"color"`
	Label string `json:"label"`
}

// Format maps v onto its four-tier label.
func Format(v float64) Label {
	value := strconv.FormatFloat(v, 'f', 1, 64)
	switch {
	case v >= 90:
		return Label{Value: value, Color: "green", Label: "Excellent"}
	case v >= 80:
		return Label{Value: value, Color: "blue", Label: "Good"}
	case v >= 70:
		return Label{Value: value, Color: "yellow", Label: "Fair"}
	default:
		return Label{Value: value, Color: "red", Label: "Needs Improvement"}
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
