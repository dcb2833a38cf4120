package perturb

import "github.com/ashureev/pitch-labs/internal/domain"

// Subtypes of the built-in catalog.
const (
	EventPhoneInterruption = "phone_interruption"
	EventColleagueKnock    = "colleague_interruption"
	EventTimePressure      = "time_pressure"
	EventCompetitorMention = "competitor_mention"
	EventAggressivePush    = "aggressive_pushback"

	ReversalDoubt           = "doubt"
	ReversalLastMinute      = "last_minute_demand"
	ReversalPriceAttack     = "price_attack"
	ReversalPhantomDecision = "phantom_decision_maker"
	ReversalFakeOffer       = "fake_competing_offer"
)

// DefaultCatalog is the process-wide perturbation catalog. Scenarios may
// replace it with their own list.
var DefaultCatalog = []domain.PerturbationSpec{
	{
		Kind:        domain.KindEvent,
		Subtype:     EventPhoneInterruption,
		Message:     "Excusez-moi, mon téléphone sonne... Voilà, je suis à vous. Où en étions-nous ?",
		Description: "Reprendre le fil après une interruption sans perdre l'attention du prospect.",
		Severity:    domain.SeverityLow,
		Phases:      []domain.Phase{domain.PhaseOpening, domain.PhaseDiscovery},
	},
	{
		Kind:        domain.KindEvent,
		Subtype:     EventColleagueKnock,
		Message:     "Un collègue passe la tête par la porte : « Tu as deux minutes après ? »",
		Description: "Garder le contrôle de l'échange malgré une distraction.",
		Severity:    domain.SeverityLow,
		Phases:      []domain.Phase{domain.PhaseDiscovery, domain.PhasePresentation},
	},
	{
		Kind:        domain.KindEvent,
		Subtype:     EventTimePressure,
		Message:     "Je dois vous laisser dans cinq minutes, allez à l'essentiel.",
		Description: "Synthétiser la proposition de valeur sous contrainte de temps.",
		Penalty:     3,
		Severity:    domain.SeverityHigh,
		Phases:      []domain.Phase{domain.PhasePresentation, domain.PhaseNegotiation},
		MinExchange: 3,
	},
	{
		Kind:        domain.KindEvent,
		Subtype:     EventCompetitorMention,
		Message:     "Votre concurrent m'a appelé hier, ils ont l'air solides aussi.",
		Description: "Se différencier sans dénigrer la concurrence.",
		Penalty:     4,
		Severity:    domain.SeverityHigh,
		Phases:      []domain.Phase{domain.PhaseObjection},
	},
	{
		Kind:        domain.KindEvent,
		Subtype:     EventAggressivePush,
		Message:     "Écoutez, j'ai déjà entendu ce discours cent fois. Qu'est-ce qui vous rend différent ?",
		Description: "Rester calme face à une remise en cause agressive.",
		Penalty:     5,
		Severity:    domain.SeverityHigh,
		Phases:      []domain.Phase{domain.PhaseObjection, domain.PhasePresentation},
		MinExchange: 2,
	},
	{
		Kind:        domain.KindReversal,
		Subtype:     ReversalDoubt,
		Message:     "En fait, je ne suis plus très sûr que ce soit une priorité pour nous.",
		Description: "Réancrer le besoin au moment où le prospect doute.",
		Penalty:     8,
		Phases:      []domain.Phase{domain.PhaseNegotiation, domain.PhaseClosing},
	},
	{
		Kind:        domain.KindReversal,
		Subtype:     ReversalLastMinute,
		Message:     "Avant de signer, il me faudrait aussi l'intégration avec notre ERP incluse.",
		Description: "Négocier une exigence de dernière minute sans tout céder.",
		Penalty:     6,
		Phases:      []domain.Phase{domain.PhaseClosing},
	},
	{
		Kind:        domain.KindReversal,
		Subtype:     ReversalPriceAttack,
		Message:     "Honnêtement, à ce prix-là, il me faut 30 % de remise.",
		Description: "Défendre la valeur face à une attaque sur le prix.",
		Penalty:     10,
		Phases:      []domain.Phase{domain.PhaseNegotiation, domain.PhaseClosing},
	},
	{
		Kind:        domain.KindReversal,
		Subtype:     ReversalPhantomDecision,
		Message:     "Je viens de réaliser que mon directeur financier doit valider. Il n'est pas au courant.",
		Description: "Gérer l'apparition d'un décideur jusque-là invisible.",
		Penalty:     7,
		Phases:      []domain.Phase{domain.PhaseNegotiation, domain.PhaseClosing},
	},
	{
		Kind:        domain.KindReversal,
		Subtype:     ReversalFakeOffer,
		Message:     "J'ai reçu une offre 20 % moins chère ce matin. Vous pouvez vous aligner ?",
		Description: "Tester une offre concurrente sans entrer dans la guerre des prix.",
		Penalty:     8,
		Phases:      []domain.Phase{domain.PhaseNegotiation, domain.PhaseClosing},
	},
}

// DefaultTierSettings is used for tiers a scenario does not configure.
var DefaultTierSettings = map[domain.Tier]domain.TierPerturbation{
	domain.TierEasy:   {EventProbability: 0.10},
	domain.TierMedium: {EventProbability: 0.20},
	domain.TierExpert: {EventProbability: 0.20, ReversalProbability: 0.35},
}
