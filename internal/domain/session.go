package domain

import (
	"time"
)

// Turn is one utterance, attributed to the trainee or the simulated prospect.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AudioRef  string    `json:"audio_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Prospect turns only.
	GaugeDelta    int              `json:"gauge_delta,omitempty"`
	Penalty       int              `json:"penalty,omitempty"`
	GaugeBefore   int              `json:"gauge_before,omitempty"`
	GaugeAfter    int              `json:"gauge_after,omitempty"`
	Mood          Mood             `json:"mood,omitempty"`
	Phase         Phase            `json:"phase,omitempty"`
	Objection     ObjectionType    `json:"objection,omitempty"`
	BuyingSignal  bool             `json:"buying_signal,omitempty"`
	EndingSignal  bool             `json:"ending_signal,omitempty"`
	BehavioralCue string           `json:"behavioral_cue,omitempty"`
	IsEvent       bool             `json:"is_event,omitempty"`
	EventKind     PerturbationKind `json:"event_kind,omitempty"`
	EventType     string           `json:"event_type,omitempty"`
	// EventMessage is what the prospect said or did when the perturbation
	// fired, after Text.
	EventMessage string `json:"event_message,omitempty"`
}

// Session is the authoritative record of one trainee-prospect conversation.
type Session struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ScenarioID         string     `json:"scenario_id"`
	Tier               Tier       `json:"tier"`
	Gauge              int        `json:"gauge"`
	Mood               Mood       `json:"mood"`
	Phase              Phase      `json:"phase"`
	ExchangeCount      int        `json:"exchange_count"`
	ConversionPossible bool       `json:"conversion_possible"`
	Status             Status     `json:"status"`
	EndType            EndType    `json:"end_type,omitempty"`
	Messages           []Turn     `json:"messages"`
	Perturbations      []string   `json:"perturbations,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
}

// Clone returns a deep copy safe to hand outside the owning state machine.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = append([]Turn(nil), s.Messages...)
	c.Perturbations = append([]string(nil), s.Perturbations...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// LastTurn returns the most recent turn for role, or nil.
func (s *Session) LastTurn(role Role) *Turn {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == role {
			return &s.Messages[i]
		}
	}
	return nil
}

// Duration returns elapsed time from start to end (or to now if still open).
func (s *Session) Duration(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(*s.StartedAt)
}

// SessionRecord is what the persistence collaborator receives once a
// session is sealed.
type SessionRecord struct {
	Session *Session `json:"session"`
	Report  *Report  `json:"report"`
}

// SessionSummary is one row of a trainee's persisted history.
type SessionSummary struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ScenarioID    string    `json:"scenario_id"`
	Tier          Tier      `json:"tier"`
	EndType       EndType   `json:"end_type"`
	Score         int       `json:"score"`
	FinalGauge    *int      `json:"final_gauge,omitempty"`
	Converted     bool      `json:"converted"`
	ExchangeCount int       `json:"exchange_count"`
	CreatedAt     time.Time `json:"created_at"`
	EndedAt       time.Time `json:"ended_at"`
}
