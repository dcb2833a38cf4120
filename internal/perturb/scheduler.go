// Package perturb decides when a scripted event or reversal interrupts the
// conversation.
package perturb

import (
	"slices"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Roller is the randomness source. *rand.Rand from math/rand/v2 satisfies it.
type Roller interface {
	Float64() float64
	IntN(n int) int
}

// Scheduler picks at most one perturbation per turn. It holds no per-session
// state: the caller passes the subtypes already used.
type Scheduler struct {
	catalog  []domain.PerturbationSpec
	settings map[domain.Tier]domain.TierPerturbation
	roll     Roller
}

// NewScheduler builds a scheduler. A nil catalog means DefaultCatalog; tiers
// missing from settings use DefaultTierSettings.
func NewScheduler(catalog []domain.PerturbationSpec, settings map[domain.Tier]domain.TierPerturbation, roll Roller) *Scheduler {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	return &Scheduler{catalog: catalog, settings: settings, roll: roll}
}

// ForScenario builds a scheduler from a scenario's catalog and probabilities.
func ForScenario(sc *domain.Scenario, roll Roller) *Scheduler {
	return NewScheduler(sc.Catalog, sc.Perturbations, roll)
}

func (s *Scheduler) tierSettings(tier domain.Tier) domain.TierPerturbation {
	if p, ok := s.settings[tier]; ok {
		return p
	}
	return DefaultTierSettings[tier]
}

// MaybeInject returns the perturbation to inject for this turn, if any.
// Reversals are considered before events. No eligible entry is the common
// case and is not an error.
func (s *Scheduler) MaybeInject(tier domain.Tier, phase domain.Phase, exchangeCount int, history []string) (domain.PerturbationSpec, bool) {
	p := s.tierSettings(tier)

	if reversals := s.candidates(tier, domain.KindReversal, phase, exchangeCount, history); len(reversals) > 0 {
		if s.roll.Float64() < p.ReversalProbability {
			return reversals[s.roll.IntN(len(reversals))], true
		}
	}
	if events := s.candidates(tier, domain.KindEvent, phase, exchangeCount, history); len(events) > 0 {
		if s.roll.Float64() < p.EventProbability {
			return events[s.roll.IntN(len(events))], true
		}
	}
	return domain.PerturbationSpec{}, false
}

// Lookup returns the catalog entry named subtype when the tier policy allows
// it now and it has not been used yet. It lets an oracle's event tag trigger
// a perturbation without bypassing the policy.
func (s *Scheduler) Lookup(tier domain.Tier, phase domain.Phase, exchangeCount int, history []string, subtype string) (domain.PerturbationSpec, bool) {
	if subtype == "" || slices.Contains(history, subtype) {
		return domain.PerturbationSpec{}, false
	}
	for _, spec := range s.catalog {
		if spec.Subtype == subtype && Eligible(tier, spec, phase, exchangeCount) {
			return spec, true
		}
	}
	return domain.PerturbationSpec{}, false
}

func (s *Scheduler) candidates(tier domain.Tier, kind domain.PerturbationKind, phase domain.Phase, exchangeCount int, history []string) []domain.PerturbationSpec {
	var out []domain.PerturbationSpec
	for _, spec := range s.catalog {
		if spec.Kind != kind || !Eligible(tier, spec, phase, exchangeCount) {
			continue
		}
		if slices.Contains(history, spec.Subtype) {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// Eligible applies the tier policy to a single catalog entry:
// easy gets low-severity events only, medium gets events, expert also gets
// reversals but only during negotiation or closing.
func Eligible(tier domain.Tier, spec domain.PerturbationSpec, phase domain.Phase, exchangeCount int) bool {
	if exchangeCount < spec.MinExchange {
		return false
	}
	if len(spec.Phases) > 0 && !slices.Contains(spec.Phases, phase) {
		return false
	}
	switch spec.Kind {
	case domain.KindReversal:
		return tier == domain.TierExpert && (phase == domain.PhaseNegotiation || phase == domain.PhaseClosing)
	case domain.KindEvent:
		if tier == domain.TierEasy {
			return spec.Severity == "" || spec.Severity == domain.SeverityLow
		}
		return tier.Valid()
	}
	return false
}
