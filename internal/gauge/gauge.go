// Package gauge implements the bounded emotional gauge that drives the
// prospect's mood and conversion eligibility.
package gauge

import "github.com/ashureev/pitch-labs/internal/domain"

// Bounds of the gauge. Values outside are clamped, never wrapped.
const (
	Min = 0
	Max = 100
)

// Clamp forces v into [Min, Max].
func Clamp(v int) int {
	if v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return v
}

// ApplyDelta returns the gauge after delta, clamped to [Min, Max].
func ApplyDelta(g, delta int) int {
	return Clamp(g + delta)
}

// MoodFor maps a gauge value to a mood using a threshold table ordered from
// highest to lowest minimum. A validated table always ends at 0, so every
// value in range has a mood; a malformed table falls back to hostile.
func MoodFor(g int, table []domain.MoodThreshold) domain.Mood {
	if len(table) == 0 {
		table = domain.DefaultMoodThresholds
	}
	g = Clamp(g)
	for _, t := range table {
		if g >= t.Min {
			return t.Mood
		}
	}
	return domain.MoodHostile
}

// ConversionEligible reports whether the gauge has reached the threshold.
func ConversionEligible(g, threshold int) bool {
	return g >= threshold
}

// IsGaugeVisible is the single policy deciding whether numeric gauge values
// may leave the server for a tier.
func IsGaugeVisible(tier domain.Tier) bool {
	return tier != domain.TierExpert
}

// View is the client-facing projection of gauge state. Gauge and Delta are
// nil when the tier hides them.
type View struct {
	Gauge *int        `json:"gauge,omitempty"`
	Delta *int        `json:"gauge_delta,omitempty"`
	Mood  domain.Mood `json:"mood"`
}

// NewView builds a View honoring IsGaugeVisible.
func NewView(tier domain.Tier, g int, delta *int, mood domain.Mood) View {
	v := View{Mood: mood}
	if !IsGaugeVisible(tier) {
		return v
	}
	gv := g
	v.Gauge = &gv
	if delta != nil {
		d := *delta
		v.Delta = &d
	}
	return v
}
