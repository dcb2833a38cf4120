package domain

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that decodes from strings such as "90s" in
// YAML, TOML and JSON documents.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// MoodThreshold maps the lowest gauge value at which Mood applies.
type MoodThreshold struct {
	Mood Mood `json:"mood" yaml:"mood" toml:"mood"`
	Min  int  `json:"min" yaml:"min" toml:"min"`
}

// DefaultMoodThresholds is used when a scenario does not supply its own table.
var DefaultMoodThresholds = []MoodThreshold{
	{Mood: MoodEnthusiastic, Min: 85},
	{Mood: MoodInterested, Min: 65},
	{Mood: MoodNeutral, Min: 45},
	{Mood: MoodSkeptical, Min: 25},
	{Mood: MoodAggressive, Min: 10},
	{Mood: MoodHostile, Min: 0},
}

// TierPerturbation holds per-tier injection probabilities, each in [0,1].
type TierPerturbation struct {
	EventProbability    float64 `json:"event_probability" yaml:"event_probability" toml:"event_probability"`
	ReversalProbability float64 `json:"reversal_probability" yaml:"reversal_probability" toml:"reversal_probability"`
}

// Severity grades how disruptive an event is.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// PerturbationSpec is one entry of the perturbation catalog.
type PerturbationSpec struct {
	Kind        PerturbationKind `json:"kind" yaml:"kind" toml:"kind"`
	Subtype     string           `json:"subtype" yaml:"subtype" toml:"subtype"`
	Message     string           `json:"message" yaml:"message" toml:"message"`
	Description string           `json:"description,omitempty" yaml:"description" toml:"description"`
	Penalty     int              `json:"penalty,omitempty" yaml:"penalty" toml:"penalty"`
	Severity    Severity         `json:"severity,omitempty" yaml:"severity" toml:"severity"`
	Phases      []Phase          `json:"phases,omitempty" yaml:"phases" toml:"phases"`
	MinExchange int              `json:"min_exchange,omitempty" yaml:"min_exchange" toml:"min_exchange"`
}

// Drift moves an idle session's gauge by Delta every Interval.
type Drift struct {
	Interval Duration `json:"interval" yaml:"interval" toml:"interval"`
	Delta    int      `json:"delta" yaml:"delta" toml:"delta"`
}

// Scenario is the external configuration a session is started from.
type Scenario struct {
	ID                    string                    `json:"id" yaml:"id" toml:"id"`
	Title                 string                    `json:"title" yaml:"title" toml:"title"`
	Description           string                    `json:"description,omitempty" yaml:"description" toml:"description"`
	Persona               string                    `json:"persona,omitempty" yaml:"persona" toml:"persona"`
	Opening               string                    `json:"opening,omitempty" yaml:"opening" toml:"opening"`
	StartGauge            *int                      `json:"start_gauge" yaml:"start_gauge" toml:"start_gauge"`
	ConversionThreshold   int                       `json:"conversion_threshold" yaml:"conversion_threshold" toml:"conversion_threshold"`
	MaxExchanges          int                       `json:"max_exchanges" yaml:"max_exchanges" toml:"max_exchanges"`
	IdleTimeout           Duration                  `json:"idle_timeout,omitempty" yaml:"idle_timeout" toml:"idle_timeout"`
	StickyConversion      bool                      `json:"sticky_conversion,omitempty" yaml:"sticky_conversion" toml:"sticky_conversion"`
	HostileObjectionAfter *int                      `json:"hostile_objection_after,omitempty" yaml:"hostile_objection_after" toml:"hostile_objection_after"`
	MoodThresholds        []MoodThreshold           `json:"mood_thresholds,omitempty" yaml:"mood_thresholds" toml:"mood_thresholds"`
	Perturbations         map[Tier]TierPerturbation `json:"perturbations,omitempty" yaml:"perturbations" toml:"perturbations"`
	Catalog               []PerturbationSpec        `json:"catalog,omitempty" yaml:"catalog" toml:"catalog"`
	Drift                 *Drift                    `json:"drift,omitempty" yaml:"drift" toml:"drift"`
}

// HostileAfter returns the exchange count from which unexplained negative
// mood is treated as an objection.
func (s *Scenario) HostileAfter() int {
	if s.HostileObjectionAfter == nil {
		return 2
	}
	return *s.HostileObjectionAfter
}

// Thresholds returns the scenario mood table or the default one.
func (s *Scenario) Thresholds() []MoodThreshold {
	if len(s.MoodThresholds) == 0 {
		return DefaultMoodThresholds
	}
	return s.MoodThresholds
}

// TierSettings returns the perturbation probabilities configured for tier.
func (s *Scenario) TierSettings(tier Tier) TierPerturbation {
	return s.Perturbations[tier]
}

// Validate checks that all required scenario fields are present and coherent.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScenario)
	}
	if s.StartGauge == nil {
		return fmt.Errorf("%w: %s: start_gauge is required", ErrInvalidScenario, s.ID)
	}
	if *s.StartGauge < 0 || *s.StartGauge > 100 {
		return fmt.Errorf("%w: %s: start_gauge %d outside [0,100]", ErrInvalidScenario, s.ID, *s.StartGauge)
	}
	if s.ConversionThreshold <= 0 || s.ConversionThreshold > 100 {
		return fmt.Errorf("%w: %s: conversion_threshold must be in (0,100]", ErrInvalidScenario, s.ID)
	}
	if s.MaxExchanges <= 0 {
		return fmt.Errorf("%w: %s: max_exchanges must be > 0", ErrInvalidScenario, s.ID)
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("%w: %s: idle_timeout must not be negative", ErrInvalidScenario, s.ID)
	}
	if s.HostileObjectionAfter != nil && *s.HostileObjectionAfter < 0 {
		return fmt.Errorf("%w: %s: hostile_objection_after must not be negative", ErrInvalidScenario, s.ID)
	}
	if err := validateThresholds(s.Thresholds()); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidScenario, s.ID, err.Error())
	}
	for tier, p := range s.Perturbations {
		if !tier.Valid() {
			return fmt.Errorf("%w: %s: unknown tier %q", ErrInvalidScenario, s.ID, tier)
		}
		if p.EventProbability < 0 || p.EventProbability > 1 || p.ReversalProbability < 0 || p.ReversalProbability > 1 {
			return fmt.Errorf("%w: %s: %s probabilities must be in [0,1]", ErrInvalidScenario, s.ID, tier)
		}
	}
	for i, p := range s.Catalog {
		if p.Kind != KindEvent && p.Kind != KindReversal {
			return fmt.Errorf("%w: %s: catalog[%d]: unknown kind %q", ErrInvalidScenario, s.ID, i, p.Kind)
		}
		if p.Subtype == "" || p.Message == "" {
			return fmt.Errorf("%w: %s: catalog[%d]: subtype and message are required", ErrInvalidScenario, s.ID, i)
		}
	}
	if s.Drift != nil && s.Drift.Interval <= 0 {
		return fmt.Errorf("%w: %s: drift.interval must be > 0", ErrInvalidScenario, s.ID)
	}
	return nil
}

func validateThresholds(table []MoodThreshold) error {
	prev := 101
	for i, t := range table {
		if !t.Mood.Valid() {
			return fmt.Errorf("mood_thresholds[%d]: unknown mood %q", i, t.Mood)
		}
		if t.Min >= prev {
			return fmt.Errorf("mood_thresholds[%d]: min %d must be lower than %d", i, t.Min, prev)
		}
		prev = t.Min
	}
	if prev != 0 {
		return fmt.Errorf("mood_thresholds: last entry must have min 0, got %d", prev)
	}
	return nil
}
