package session

import (
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
)

// EventType names a server-to-client event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventThinking     EventType = "prospect_thinking"
	EventResponse     EventType = "prospect_response"
	EventGaugeUpdate  EventType = "jauge_update"
	EventReversal     EventType = "reversal"
	EventPerturbation EventType = "event"
	EventEnded        EventType = "session_ended"
	EventError        EventType = "error"
)

// Event is one entry of a session's outbound queue. ID increases
// monotonically within a session and is what clients echo back as
// last_event_id when they reconnect.
type Event struct {
	ID        int64     `json:"event_id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// ConnectedData replays the current state to a newly attached client.
type ConnectedData struct {
	gauge.View
	Status             domain.Status `json:"status"`
	Tier               domain.Tier   `json:"tier"`
	Phase              domain.Phase  `json:"phase"`
	ExchangeCount      int           `json:"exchange_count"`
	MaxExchanges       int           `json:"max_exchanges"`
	ConversionPossible *bool         `json:"conversion_possible,omitempty"`
	ScenarioTitle      string        `json:"scenario_title,omitempty"`
	Opening            string        `json:"opening,omitempty"`
	Rejoined           bool          `json:"rejoined"`
}

// ThinkingData marks the start of an oracle call.
type ThinkingData struct {
	Exchange int `json:"exchange"`
}

// ResponseData is the enriched prospect reply. When the turn terminated the
// session the end fields are set inline.
type ResponseData struct {
	gauge.View
	Text               string               `json:"text"`
	AudioRef           string               `json:"audio_ref,omitempty"`
	Phase              domain.Phase         `json:"phase"`
	ExchangeCount      int                  `json:"exchange_count"`
	BehavioralCue      string               `json:"behavioral_cue,omitempty"`
	Objection          domain.ObjectionType `json:"objection,omitempty"`
	BuyingSignal       bool                 `json:"buying_signal,omitempty"`
	ConversionPossible *bool                `json:"conversion_possible,omitempty"`
	IsEvent            bool                 `json:"is_event"`
	EventType          string               `json:"event_type,omitempty"`
	SessionEnded       bool                 `json:"session_ended,omitempty"`
	EndType            domain.EndType       `json:"end_type,omitempty"`
	RedirectURL        string               `json:"redirect_url,omitempty"`
}

// GaugeData is a standalone gauge broadcast not tied to a prospect reply.
type GaugeData struct {
	gauge.View
	Reason             string `json:"reason"`
	ConversionPossible *bool  `json:"conversion_possible,omitempty"`
}

// PerturbationData carries an injected reversal or event. Delta holds the
// penalty as a negative gauge delta.
type PerturbationData struct {
	gauge.View
	Kind        domain.PerturbationKind `json:"kind"`
	Subtype     string                  `json:"subtype"`
	Message     string                  `json:"message"`
	Description string                  `json:"description,omitempty"`
}

// EndedData is the terminal event. Report is redacted for tiers that hide the
// gauge.
type EndedData struct {
	EndType     domain.EndType `json:"end_type"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Report      *domain.Report `json:"report"`
}

// ErrorData reports a failure. Fatal errors are followed by the transport
// closing.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// NewErrorData builds the wire form of err.
func NewErrorData(err error) ErrorData {
	return ErrorData{
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
		Fatal:   domain.IsConnectionFatal(err),
	}
}
