// Package phase derives the conversational phase of a turn.
package phase

import "github.com/ashureev/pitch-labs/internal/domain"

// Input carries everything the classifier looks at. It holds no state
// between calls.
type Input struct {
	ExchangeCount      int
	Gauge              int
	Mood               domain.Mood
	Objection          domain.ObjectionType // empty when none detected
	BuyingSignal       bool
	EndingSignal       bool
	ConversionPossible bool

	// HostileAfter is the exchange count from which a negative mood with no
	// named objection forces the objection phase.
	HostileAfter int
}

// Derive evaluates the ordered decision list; the first matching rule wins.
func Derive(in Input) domain.Phase {
	p := base(in)
	if in.Mood.Negative() && in.Objection == "" && in.ExchangeCount >= in.HostileAfter {
		return domain.PhaseObjection
	}
	return p
}

func base(in Input) domain.Phase {
	switch {
	case in.EndingSignal:
		return domain.PhaseClosing
	case in.Objection != "":
		return domain.PhaseObjection
	case in.BuyingSignal, in.ConversionPossible && in.Gauge >= 80:
		return domain.PhaseClosing
	case in.Gauge >= 70 && in.ExchangeCount >= 6:
		return domain.PhaseNegotiation
	case in.ExchangeCount >= 7 || in.Gauge >= 60:
		return domain.PhasePresentation
	case in.ExchangeCount >= 3:
		return domain.PhaseDiscovery
	default:
		return domain.PhaseOpening
	}
}
