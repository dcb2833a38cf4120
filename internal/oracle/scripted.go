package oracle

import (
	"context"
	"regexp"
)

type scriptedRule struct {
	match *regexp.Regexp
	reply Response
}

func scripted(expr string, reply Response) scriptedRule {
	return scriptedRule{match: regexp.MustCompile(`(?i)` + expr), reply: reply}
}

// scriptedRules are checked in order against the trainee's text.
var scriptedRules = []scriptedRule{
	scripted(`au revoir|bonne journ[ée]e|goodbye|\bbye\b`, Response{
		Text: "Merci pour l'échange, au revoir et bonne journée.", GaugeDelta: 0,
	}),
	scripted(`\bprix\b|tarif|co[uû]te|euros?\b|€|price`, Response{
		Text: "Honnêtement, c'est trop cher pour nous en ce moment.", GaugeDelta: -8,
		BehavioralCue: "fronce les sourcils",
	}),
	scripted(`retour sur investissement|\broi\b|[ée]conomi|gagner du temps|save`, Response{
		Text: "Intéressant. Ça m'intéresse, comment on procède ?", GaugeDelta: 12,
		BehavioralCue: "se penche en avant",
	}),
	scripted(`r[ée]f[ée]rence|client|t[ée]moignage|case study`, Response{
		Text: "D'accord, ça me rassure un peu de savoir que d'autres l'utilisent.", GaugeDelta: 8,
	}),
	scripted(`\?`, Response{
		Text: "Bonne question. Aujourd'hui on gère tout ça à la main, avec des tableurs.", GaugeDelta: 5,
	}),
	scripted(`\bnous\b.*\bmeilleurs?\b|leader|num[ée]ro un`, Response{
		Text: "Tout le monde me dit ça. Qu'est-ce qui vous différencie vraiment ?", GaugeDelta: -5,
		BehavioralCue: "croise les bras",
	}),
}

var scriptedDefault = Response{Text: "Je vois. Continuez.", GaugeDelta: 2}

// Scripted is a deterministic, rule-driven oracle for development, tests and
// offline simulation.
type Scripted struct{}

// NewScripted returns the scripted oracle.
func NewScripted() *Scripted { return &Scripted{} }

// Generate picks the first rule matching the trainee's text.
func (Scripted) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, r := range scriptedRules {
		if r.match.MatchString(req.Text) {
			reply := r.reply
			return &reply, nil
		}
	}
	reply := scriptedDefault
	return &reply, nil
}

// Close implements Oracle.
func (Scripted) Close() error { return nil }
