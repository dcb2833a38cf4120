package domain

import "time"

// PerturbationOutcome records how the trainee recovered from one injected
// perturbation.
type PerturbationOutcome struct {
	Kind        PerturbationKind `json:"kind"`
	Subtype     string           `json:"subtype"`
	Exchange    int              `json:"exchange"`
	Penalty     *int             `json:"penalty,omitempty"`
	GaugeAt     *int             `json:"gauge_at,omitempty"`
	GaugeAfter  *int             `json:"gauge_after,omitempty"`
	Recovered   bool             `json:"recovered"`
	Description string           `json:"description"`
}

// Report is the evaluation computed once when a session is sealed.
type Report struct {
	SessionID         string                `json:"session_id"`
	ScenarioID        string                `json:"scenario_id"`
	Tier              Tier                  `json:"tier"`
	EndType           EndType               `json:"end_type"`
	Score             int                   `json:"score"`
	StartGauge        *int                  `json:"start_gauge,omitempty"`
	FinalGauge        *int                  `json:"final_gauge,omitempty"`
	PeakGauge         *int                  `json:"peak_gauge,omitempty"`
	LowestGauge       *int                  `json:"lowest_gauge,omitempty"`
	FinalMood         Mood                  `json:"final_mood"`
	Converted         bool                  `json:"converted"`
	Exchanges         int                   `json:"exchanges"`
	Duration          time.Duration         `json:"duration_ns"`
	ObjectionCounts   map[ObjectionType]int `json:"objection_counts"`
	ObjectionsHandled int                   `json:"objections_handled"`
	BuyingSignals     int                   `json:"buying_signals"`
	PhasesReached     []Phase               `json:"phases_reached"`
	Perturbations     []PerturbationOutcome `json:"perturbations"`
	Strengths         []string              `json:"strengths"`
	Weaknesses        []string              `json:"weaknesses"`
	GeneratedAt       time.Time             `json:"generated_at"`
}

// Redacted returns a copy with every numeric gauge field removed, for
// tiers where the gauge is hidden from the trainee. Perturbation penalties
// are gauge points too and go with them.
func (r *Report) Redacted() *Report {
	c := *r
	c.StartGauge, c.FinalGauge, c.PeakGauge, c.LowestGauge = nil, nil, nil, nil
	c.Perturbations = make([]PerturbationOutcome, len(r.Perturbations))
	for i, p := range r.Perturbations {
		p.GaugeAt, p.GaugeAfter, p.Penalty = nil, nil, nil
		c.Perturbations[i] = p
	}
	return &c
}
