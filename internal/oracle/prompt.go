package oracle

import (
	"fmt"
	"strings"

	"github.com/ashureev/pitch-labs/internal/domain"
)

const replyFormat = `Answer ONLY with a JSON object of the form:
{"text": "<your reply, in the language of the conversation>",
 "gauge_delta": <integer between -25 and 25: how much the salesperson's last message changed your willingness to buy>,
 "behavioral_cue": "<optional short stage direction, e.g. crosses arms>",
 "objection_tag": "<optional: budget|timing|competition|trust|decision|status_quo|adoption>"}`

// SystemPrompt renders the role-play instructions for LLM-backed oracles.
func SystemPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("You are role-playing a B2B prospect receiving a sales call. Stay in character and never mention that this is a simulation.\n")
	if req.ScenarioTitle != "" {
		fmt.Fprintf(&b, "Scenario: %s.\n", req.ScenarioTitle)
	}
	if req.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", strings.TrimSpace(req.Persona))
	}
	fmt.Fprintf(&b, "Current disposition: %d/100 (%s). Conversation phase: %s. Exchange %d.\n",
		req.Gauge, req.Mood, req.Phase, req.ExchangeCount+1)
	b.WriteString(difficulty(req.Tier))
	b.WriteString("\n")
	b.WriteString(replyFormat)
	return b.String()
}

func difficulty(tier domain.Tier) string {
	switch tier {
	case domain.TierEasy:
		return "Be open and cooperative; raise at most mild objections."
	case domain.TierExpert:
		return "Be demanding and guarded; challenge vague claims and push back on price."
	default:
		return "Be realistic; raise objections when the pitch is weak."
	}
}

// spokenText is what a history turn contributes to an LLM conversation. A
// perturbed prospect turn carries the reply followed by the injected line.
func spokenText(t domain.Turn) string {
	if t.EventMessage == "" {
		return t.Text
	}
	if t.Text == "" {
		return t.EventMessage
	}
	return t.Text + "\n\n" + t.EventMessage
}
