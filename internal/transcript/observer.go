package transcript

import (
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Observer adapts a Logger to session lifecycle notifications.
type Observer struct {
	log *Logger
}

// NewObserver wraps l.
func NewObserver(l *Logger) *Observer { return &Observer{log: l} }

func base(s *domain.Session, eventType string) Event {
	return Event{
		UserID:     s.UserID,
		SessionID:  s.ID,
		ScenarioID: s.ScenarioID,
		Tier:       s.Tier,
		EventType:  eventType,
		Exchange:   s.ExchangeCount,
	}
}

func intPtr(v int) *int { return &v }

// SessionStarted logs the starting disposition.
func (o *Observer) SessionStarted(s *domain.Session) {
	ev := base(s, EventSessionStarted)
	ev.Gauge = intPtr(s.Gauge)
	ev.Phase = s.Phase
	ev.Mood = s.Mood
	o.log.Log(ev)
}

// TurnCompleted logs the trainee turn and the prospect reply.
func (o *Observer) TurnCompleted(s *domain.Session, user, prospect domain.Turn, latency time.Duration) {
	ev := base(s, EventUserTurn)
	ev.Timestamp = user.Timestamp
	ev.Role = domain.RoleUser
	ev.ContentRaw = user.Text
	o.log.Log(ev)

	ev = base(s, EventProspectTurn)
	ev.Timestamp = prospect.Timestamp
	ev.Role = domain.RoleProspect
	ev.ContentRaw = prospect.Text
	ev.Gauge = intPtr(prospect.GaugeAfter)
	ev.GaugeDelta = intPtr(prospect.GaugeAfter - prospect.GaugeBefore)
	ev.Phase = prospect.Phase
	ev.Mood = prospect.Mood
	ev.Objection = string(prospect.Objection)
	ev.LatencyMS = latency.Milliseconds()
	o.log.Log(ev)
}

// TurnFailed logs an oracle or transcription failure.
func (o *Observer) TurnFailed(s *domain.Session, err error) {
	ev := base(s, EventTurnFailed)
	ev.Error = err.Error()
	o.log.Log(ev)
}

// PerturbationInjected logs an injected event.
func (o *Observer) PerturbationInjected(s *domain.Session, spec domain.PerturbationSpec) {
	ev := base(s, EventPerturbation)
	ev.Event = string(spec.Kind) + "/" + spec.Subtype
	ev.ContentRaw = spec.Message
	ev.Gauge = intPtr(s.Gauge)
	o.log.Log(ev)
}

// SessionEnded logs the outcome.
func (o *Observer) SessionEnded(rec *domain.SessionRecord) {
	s := rec.Session
	ev := base(s, EventSessionEnded)
	ev.EndType = string(s.EndType)
	ev.Gauge = intPtr(s.Gauge)
	ev.Phase = s.Phase
	ev.Mood = s.Mood
	if rec.Report != nil {
		ev.Score = intPtr(rec.Report.Score)
	}
	o.log.Log(ev)
}
