// Package patterns classifies free text against the objection taxonomy and
// the buying/ending signal lists.
//
// Rule tables are compiled once at init and are safe for concurrent use.
package patterns

import (
	"regexp"
	"strings"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Rule is a compiled case-insensitive pattern.
type Rule struct {
	re *regexp.Regexp
}

func rule(expr string) Rule {
	return Rule{re: regexp.MustCompile(`(?i)` + expr)}
}

// Match reports whether the rule matches text.
func (r Rule) Match(text string) bool {
	return r.re.MatchString(text)
}

// Entry binds an objection type to its ordered rules.
type Entry struct {
	Type  domain.ObjectionType
	Rules []Rule
}

// Taxonomy is declared in priority order: when text matches several types,
// the earliest entry wins. Budget and timing come first so ambiguous text
// resolves to a financial or timing objection.
var Taxonomy = []Entry{
	{Type: domain.ObjectionBudget, Rules: []Rule{
		rule(`trop cher`),
		rule(`pas (le|de) budget`),
		rule(`\bbudget\b`),
		rule(`\bco[uû]te? (trop|cher)`),
		rule(`\bprix\b`),
		rule(`\btarifs?\b`),
		rule(`pas les moyens`),
		rule(`too expensive`),
		rule(`can'?t afford`),
		rule(`\bprice\b|\bpricing\b`),
	}},
	{Type: domain.ObjectionTiming, Rules: []Rule{
		rule(`pas le bon moment`),
		rule(`(trop|pas) t[oô]t`),
		rule(`plus tard`),
		rule(`l'ann[ée]e prochaine`),
		rule(`rappele[rz]?[- ]moi`),
		rule(`pas le temps`),
		rule(`not (the right )?(a good )?time`),
		rule(`\blater\b`),
		rule(`next (quarter|year)`),
	}},
	{Type: domain.ObjectionCompetition, Rules: []Rule{
		rule(`concurren(t|ce)`),
		rule(`d[ée]j[aà] un (fournisseur|prestataire|partenaire)`),
		rule(`(autre|meilleure) offre`),
		rule(`moins cher ailleurs`),
		rule(`competitor`),
		rule(`already (use|have|work with)`),
		rule(`another (vendor|provider|offer)`),
	}},
	{Type: domain.ObjectionTrust, Rules: []Rule{
		rule(`pas convaincu`),
		rule(`(je|on) (ne )?(vous )?connais pas`),
		rule(`r[ée]f[ée]rences?`),
		rule(`preuves?`),
		rule(`confiance`),
		rule(`arnaque`),
		rule(`not convinced`),
		rule(`\bproof\b|\breferences?\b`),
		rule(`\btrust\b`),
	}},
	{Type: domain.ObjectionDecision, Rules: []Rule{
		rule(`(en )?parler (à|a|avec) (mon|ma|mes|notre)`),
		rule(`pas (moi|le seul) qui d[ée]cide`),
		rule(`(mon|ma) (patron|direct(eur|rice)|associ[ée]e?|boss|comit[ée])`),
		rule(`valid(er|ation) (en )?interne`),
		rule(`not my (call|decision)`),
		rule(`(check|talk) with my`),
		rule(`decision[- ]maker`),
	}},
	{Type: domain.ObjectionStatusQuo, Rules: []Rule{
		rule(`(ça|ca) (marche|fonctionne) (tr[eè]s )?bien`),
		rule(`pas besoin`),
		rule(`satisfait`),
		rule(`on s'en sort`),
		rule(`pourquoi changer`),
		rule(`don'?t need`),
		rule(`works? (fine|well)`),
		rule(`happy with`),
	}},
	{Type: domain.ObjectionAdoption, Rules: []Rule{
		rule(`trop (compliqu[ée]|complexe)`),
		rule(`(former|formation) (les|mes|nos) [ée]quipes?`),
		rule(`mes [ée]quipes? (ne )?(vont|va)`),
		rule(`changement`),
		rule(`(mise|mettre) en place`),
		rule(`too (complicated|complex)`),
		rule(`learning curve`),
		rule(`(team|staff) (won'?t|will not)`),
	}},
}

// BuyingSignals are phrases indicating the prospect is ready to move forward.
var BuyingSignals = []Rule{
	rule(`comment (on )?(proc[eè]de|commence)`),
	rule(`quand (pouvez|pourriez)[- ]vous`),
	rule(`(envoyez|envoyer)[- ](moi )?(le |un )?(devis|contrat|proposition)`),
	rule(`(ça|ca) m'int[ée]resse`),
	rule(`on (peut|pourrait) (signer|commencer|d[ée]marrer)`),
	rule(`quelles sont les prochaines [ée]tapes`),
	rule(`d'accord pour`),
	rule(`how (do|can) we (start|proceed|get started)`),
	rule(`send (me )?(the|a) (contract|quote|proposal)`),
	rule(`next steps`),
	rule(`sounds (good|great)`),
	rule(`let'?s do (it|this)`),
}

// EndingSignals are farewells; ending detection runs on both speakers.
var EndingSignals = []Rule{
	rule(`au revoir`),
	rule(`bonne (journ[ée]e|soir[ée]e|fin de journ[ée]e)`),
	rule(`(?:^|[^\p{L}])[àa] bient[oô]t`),
	rule(`(?:^|[^\p{L}])[àa] plus tard`),
	rule(`merci (et|pour) .*(au revoir|bonne)`),
	rule(`\bgoodbye\b|\bbye\b`),
	rule(`have a (good|nice|great) (day|one|evening)`),
	rule(`talk (to you )?(soon|later)`),
}

// Classify returns the first objection type, in taxonomy order, with a rule
// matching text. It returns false when nothing matches.
func Classify(text string) (domain.ObjectionType, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	text = withoutFarewells(text)
	for _, entry := range Taxonomy {
		if matchAny(entry.Rules, text) {
			return entry.Type, true
		}
	}
	return "", false
}

// withoutFarewells blanks every ending-signal match so a goodbye such as
// "à plus tard" or "talk to you later" is not read as a timing objection.
func withoutFarewells(text string) string {
	for _, r := range EndingSignals {
		text = r.re.ReplaceAllString(text, " ")
	}
	return text
}

// HasBuyingSignal reports whether text contains a buying signal.
func HasBuyingSignal(text string) bool {
	return matchAny(BuyingSignals, text)
}

// IsEndingSignal reports whether text contains a farewell.
func IsEndingSignal(text string) bool {
	return matchAny(EndingSignals, text)
}

// IsEndingExchange runs ending detection over the latest prospect and
// trainee utterances combined.
func IsEndingExchange(prospectText, userText string) bool {
	return IsEndingSignal(prospectText + "\n" + userText)
}

// ParseObjection maps an external tag to a taxonomy type.
func ParseObjection(tag string) (domain.ObjectionType, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, entry := range Taxonomy {
		if string(entry.Type) == tag {
			return entry.Type, true
		}
	}
	return "", false
}

func matchAny(rules []Rule, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, r := range rules {
		if r.Match(text) {
			return true
		}
	}
	return false
}
