package session

import (
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
)

// TurnView is a turn as the trainee may see it.
type TurnView struct {
	Role          domain.Role          `json:"role"`
	Text          string               `json:"text"`
	AudioRef      string               `json:"audio_ref,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
	Disposition   *gauge.View          `json:"disposition,omitempty"`
	Phase         domain.Phase         `json:"phase,omitempty"`
	Objection     domain.ObjectionType `json:"objection,omitempty"`
	BehavioralCue string               `json:"behavioral_cue,omitempty"`
	IsEvent       bool                 `json:"is_event,omitempty"`
	EventType     string               `json:"event_type,omitempty"`
	EventMessage  string               `json:"event_message,omitempty"`
}

// View is the client-facing projection of a session. Numeric gauge values
// pass through gauge.NewView, so tiers that hide the gauge never see them.
type View struct {
	gauge.View
	ID                 string         `json:"id"`
	ScenarioID         string         `json:"scenario_id"`
	Tier               domain.Tier    `json:"tier"`
	Status             domain.Status  `json:"status"`
	EndType            domain.EndType `json:"end_type,omitempty"`
	Phase              domain.Phase   `json:"phase"`
	ExchangeCount      int            `json:"exchange_count"`
	MaxExchanges       int            `json:"max_exchanges"`
	ConversionPossible *bool          `json:"conversion_possible,omitempty"`
	Attached           bool           `json:"attached"`
	Messages           []TurnView     `json:"messages,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
}

// View returns the client projection. Messages are included when
// withMessages is set.
func (s *Session) View(withMessages bool) View {
	s.mu.Lock()
	st := s.state.Clone()
	attached := s.attached
	s.mu.Unlock()
	return ViewOf(st, s.scenario.MaxExchanges, attached, withMessages)
}

// ViewOf projects a session snapshot, live or persisted, for its trainee.
func ViewOf(st *domain.Session, maxExchanges int, attached, withMessages bool) View {
	var flag *bool
	if gauge.IsGaugeVisible(st.Tier) {
		v := st.ConversionPossible
		flag = &v
	}
	v := View{
		View:               gauge.NewView(st.Tier, st.Gauge, nil, st.Mood),
		ID:                 st.ID,
		ScenarioID:         st.ScenarioID,
		Tier:               st.Tier,
		Status:             st.Status,
		EndType:            st.EndType,
		Phase:              st.Phase,
		ExchangeCount:      st.ExchangeCount,
		MaxExchanges:       maxExchanges,
		ConversionPossible: flag,
		Attached:           attached,
		CreatedAt:          st.CreatedAt,
		StartedAt:          st.StartedAt,
		EndedAt:            st.EndedAt,
	}
	if !withMessages {
		return v
	}
	v.Messages = make([]TurnView, 0, len(st.Messages))
	for _, t := range st.Messages {
		tv := TurnView{
			Role:          t.Role,
			Text:          t.Text,
			AudioRef:      t.AudioRef,
			Timestamp:     t.Timestamp,
			Phase:         t.Phase,
			Objection:     t.Objection,
			BehavioralCue: t.BehavioralCue,
			IsEvent:       t.IsEvent,
			EventType:     t.EventType,
			EventMessage:  t.EventMessage,
		}
		if t.Role == domain.RoleProspect {
			delta := t.GaugeAfter - t.GaugeBefore
			gv := gauge.NewView(st.Tier, t.GaugeAfter, &delta, t.Mood)
			tv.Disposition = &gv
		}
		v.Messages = append(v.Messages, tv)
	}
	return v
}
