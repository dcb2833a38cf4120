package domain

// Tier is the difficulty level chosen when a session starts.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierExpert Tier = "expert"
)

// Tiers lists every difficulty tier from easiest to hardest.
var Tiers = []Tier{TierEasy, TierMedium, TierExpert}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierEasy, TierMedium, TierExpert:
		return true
	}
	return false
}

// Mood is the categorical label derived from the gauge.
type Mood string

const (
	MoodHostile      Mood = "hostile"
	MoodAggressive   Mood = "aggressive"
	MoodSkeptical    Mood = "skeptical"
	MoodNeutral      Mood = "neutral"
	MoodInterested   Mood = "interested"
	MoodEnthusiastic Mood = "enthusiastic"
)

// Valid reports whether m is a known mood.
func (m Mood) Valid() bool {
	switch m {
	case MoodHostile, MoodAggressive, MoodSkeptical, MoodNeutral, MoodInterested, MoodEnthusiastic:
		return true
	}
	return false
}

// Negative reports whether the mood signals resistance without a stated cause.
func (m Mood) Negative() bool {
	return m == MoodHostile || m == MoodAggressive || m == MoodSkeptical
}

// Phase is the stage of the sales conversation.
type Phase string

const (
	PhaseOpening      Phase = "opening"
	PhaseDiscovery    Phase = "discovery"
	PhasePresentation Phase = "presentation"
	PhaseObjection    Phase = "objection"
	PhaseNegotiation  Phase = "negotiation"
	PhaseClosing      Phase = "closing"
)

// Status is the lifecycle state of a session. Transitions only move forward.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
)

// EndType tells the client why a session ended.
type EndType string

const (
	EndUser           EndType = "user_ended"
	EndMutualGoodbye  EndType = "mutual_goodbye"
	EndMaxExchanges   EndType = "max_exchanges"
	EndTimeout        EndType = "timeout"
	EndAbandoned      EndType = "abandoned"
	EndServerShutdown EndType = "server_shutdown"
)

// ObjectionType is one of the seven objection kinds the matcher recognizes.
type ObjectionType string

const (
	ObjectionBudget      ObjectionType = "budget"
	ObjectionTiming      ObjectionType = "timing"
	ObjectionCompetition ObjectionType = "competition"
	ObjectionTrust       ObjectionType = "trust"
	ObjectionDecision    ObjectionType = "decision"
	ObjectionStatusQuo   ObjectionType = "status_quo"
	ObjectionAdoption    ObjectionType = "adoption"
)

// Role attributes a turn to a speaker.
type Role string

const (
	RoleUser     Role = "user"
	RoleProspect Role = "prospect"
)

// PerturbationKind separates late-stage reversals from minor events.
type PerturbationKind string

const (
	KindReversal PerturbationKind = "reversal"
	KindEvent    PerturbationKind = "event"
)
