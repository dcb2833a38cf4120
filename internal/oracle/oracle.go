// Package oracle produces the simulated prospect's replies and transcribes
// trainee audio.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/pitch-labs/internal/domain"
)

var errNoJSONObject = errors.New("no JSON object in reply")

// Request is the session context passed to the oracle for one turn.
type Request struct {
	SessionID     string
	ScenarioID    string
	ScenarioTitle string
	Persona       string
	Tier          domain.Tier
	Gauge         int
	Mood          domain.Mood
	Phase         domain.Phase
	ExchangeCount int
	History       []domain.Turn
	Text          string
	Audio         []byte
}

// Response is the oracle's answer. Everything except Text is a hint the
// session engine may override with its own analysis.
type Response struct {
	Text          string `json:"text"`
	AudioRef      string `json:"audio_ref,omitempty"`
	GaugeDelta    int    `json:"gauge_delta"`
	Mood          string `json:"mood,omitempty"`
	BehavioralCue string `json:"behavioral_cue,omitempty"`
	ObjectionTag  string `json:"objection_tag,omitempty"`
	EventTag      string `json:"event_tag,omitempty"`
}

// Oracle generates the prospect's next utterance.
type Oracle interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Transcriber converts trainee audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// maxGaugeDelta bounds a single oracle delta.
const maxGaugeDelta = 25

// Normalize trims the reply and clamps the delta. It fails when the reply has
// no text.
func (r *Response) Normalize() error {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return errors.New("empty prospect reply")
	}
	r.GaugeDelta = max(-maxGaugeDelta, min(maxGaugeDelta, r.GaugeDelta))
	return nil
}

// ParseReply extracts the first JSON object from an LLM reply. Models often
// wrap JSON in prose or code fences, so the outermost braces are located
// instead of decoding the whole string.
func ParseReply(raw string) (*Response, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errNoJSONObject
	}
	var resp Response
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if err := resp.Normalize(); err != nil {
		return nil, err
	}
	return &resp, nil
}
