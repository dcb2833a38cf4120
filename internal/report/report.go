// Package report computes the evaluation handed to the trainee once a
// session is sealed.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
	"github.com/ashureev/pitch-labs/internal/perturb"
)

// recoveryWindow is how many prospect turns after a perturbation the gauge
// has to climb back to its pre-penalty value.
const recoveryWindow = 2

// Score weights. They sum to 100.
const (
	weightGauge      = 50
	weightConversion = 20
	weightObjections = 15
	weightRecovery   = 10
	weightClean      = 5
)

// Build aggregates every turn of a sealed session. It is deterministic for a
// given turn sequence; now only stamps GeneratedAt and bounds an open
// session's duration.
func Build(s *domain.Session, sc *domain.Scenario, now time.Time) *domain.Report {
	start := s.Gauge
	if sc != nil && sc.StartGauge != nil {
		start = *sc.StartGauge
	}
	final := s.Gauge
	peak, low := start, start

	r := &domain.Report{
		SessionID:       s.ID,
		ScenarioID:      s.ScenarioID,
		Tier:            s.Tier,
		EndType:         s.EndType,
		FinalMood:       s.Mood,
		Converted:       s.ConversionPossible,
		Exchanges:       s.ExchangeCount,
		Duration:        s.Duration(now),
		ObjectionCounts: make(map[domain.ObjectionType]int),
		PhasesReached:   []domain.Phase{},
		Perturbations:   []domain.PerturbationOutcome{},
		Strengths:       []string{},
		Weaknesses:      []string{},
		GeneratedAt:     now.UTC(),
	}

	prospect := prospectTurns(s.Messages)
	seenPhase := make(map[domain.Phase]bool)
	objections := 0
	for i, t := range prospect {
		peak = max(peak, t.GaugeAfter)
		low = min(low, t.GaugeAfter)
		if t.Phase != "" && !seenPhase[t.Phase] {
			seenPhase[t.Phase] = true
			r.PhasesReached = append(r.PhasesReached, t.Phase)
		}
		if t.BuyingSignal {
			r.BuyingSignals++
		}
		if t.Objection != "" {
			objections++
			r.ObjectionCounts[t.Objection]++
			if i+1 < len(prospect) && prospect[i+1].GaugeDelta > 0 {
				r.ObjectionsHandled++
			}
		}
		if t.IsEvent {
			r.Perturbations = append(r.Perturbations, outcome(prospect, i, catalogFor(sc)))
		}
	}
	peak = max(peak, final)
	low = min(low, final)
	r.StartGauge, r.FinalGauge, r.PeakGauge, r.LowestGauge = &start, &final, &peak, &low

	r.Score = score(r, final, objections)
	r.Strengths, r.Weaknesses = assess(r, start, final, objections)
	return r
}

func prospectTurns(msgs []domain.Turn) []domain.Turn {
	var out []domain.Turn
	for _, t := range msgs {
		if t.Role == domain.RoleProspect {
			out = append(out, t)
		}
	}
	return out
}

func catalogFor(sc *domain.Scenario) []domain.PerturbationSpec {
	if sc != nil && len(sc.Catalog) > 0 {
		return sc.Catalog
	}
	return perturb.DefaultCatalog
}

func outcome(prospect []domain.Turn, i int, catalog []domain.PerturbationSpec) domain.PerturbationOutcome {
	t := prospect[i]
	before := gauge.ApplyDelta(t.GaugeBefore, t.GaugeDelta)
	o := domain.PerturbationOutcome{
		Kind:     t.EventKind,
		Subtype:  t.EventType,
		Exchange: i + 1,
	}
	for _, spec := range catalog {
		if spec.Subtype == t.EventType {
			o.Description = spec.Description
			break
		}
	}
	after := t.GaugeAfter
	for j := i + 1; j < len(prospect) && j <= i+recoveryWindow; j++ {
		after = prospect[j].GaugeAfter
		if after >= before {
			o.Recovered = true
			break
		}
	}
	if t.Penalty == 0 {
		o.Recovered = true
	}
	penalty := t.Penalty
	o.Penalty, o.GaugeAt, o.GaugeAfter = &penalty, &before, &after
	return o
}

func score(r *domain.Report, final, objections int) int {
	total := float64(final) * weightGauge / 100
	if r.Converted {
		total += weightConversion
	}
	if objections == 0 {
		total += weightObjections
	} else {
		total += weightObjections * float64(r.ObjectionsHandled) / float64(objections)
	}
	if n := len(r.Perturbations); n == 0 {
		total += weightRecovery
	} else {
		recovered := 0
		for _, p := range r.Perturbations {
			if p.Recovered {
				recovered++
			}
		}
		total += weightRecovery * float64(recovered) / float64(n)
	}
	if r.EndType == domain.EndMutualGoodbye {
		total += weightClean
	}
	return min(100, max(0, int(math.Round(total))))
}

// assess derives strengths and weaknesses. Messages never contain raw gauge
// values so they survive redaction unchanged.
func assess(r *domain.Report, start, final, objections int) (strengths, weaknesses []string) {
	strengths, weaknesses = []string{}, []string{}

	if r.Converted {
		strengths = append(strengths, "Brought the prospect to a buying decision")
	} else {
		weaknesses = append(weaknesses, "The prospect never reached the point of buying")
	}

	switch {
	case final > start:
		strengths = append(strengths, "The prospect ended more receptive than at the start")
	case final < start:
		weaknesses = append(weaknesses, "The prospect ended less receptive than at the start")
	}

	if objections > 0 {
		if r.ObjectionsHandled == objections {
			strengths = append(strengths, "Every objection was answered convincingly")
		} else {
			weaknesses = append(weaknesses, fmt.Sprintf("%d of %d objections were left unresolved", objections-r.ObjectionsHandled, objections))
		}
	}

	for _, p := range r.Perturbations {
		if p.Recovered {
			strengths = append(strengths, fmt.Sprintf("Kept control after the %s %s", p.Subtype, p.Kind))
		} else {
			weaknesses = append(weaknesses, fmt.Sprintf("Did not recover from the %s %s", p.Subtype, p.Kind))
		}
	}

	if r.BuyingSignals > 0 && !r.Converted {
		weaknesses = append(weaknesses, "Buying signals were not turned into a close")
	}

	switch r.EndType {
	case domain.EndMutualGoodbye:
		strengths = append(strengths, "Closed the conversation cleanly")
	case domain.EndMaxExchanges:
		weaknesses = append(weaknesses, "Ran out of exchanges before closing")
	case domain.EndTimeout, domain.EndAbandoned:
		weaknesses = append(weaknesses, "The conversation was left idle")
	}
	return strengths, weaknesses
}
