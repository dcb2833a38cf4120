package patterns

import (
	"testing"

	"github.com/ashureev/pitch-labs/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   domain.ObjectionType
		wantOK bool
	}{
		{"budget french", "c'est trop cher pour nous", domain.ObjectionBudget, true},
		{"budget english", "Honestly this is too expensive", domain.ObjectionBudget, true},
		{"timing", "Rappelez-moi l'année prochaine", domain.ObjectionTiming, true},
		{"competition", "On a déjà un fournisseur pour ça", domain.ObjectionCompetition, true},
		{"trust", "Je ne suis pas convaincu par vos chiffres", domain.ObjectionTrust, true},
		{"decision", "Je dois en parler à mon associé", domain.ObjectionDecision, true},
		{"status quo", "Franchement, ça marche très bien comme ça", domain.ObjectionStatusQuo, true},
		{"adoption", "Ça me semble trop compliqué pour nous", domain.ObjectionAdoption, true},
		{"case insensitive", "C'EST TROP CHER", domain.ObjectionBudget, true},
		{"no match", "Bonjour, je vous écoute", "", false},
		{"empty", "", "", false},
		{"whitespace", "   \n\t", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Classify(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClassifyPrefersDeclarationOrder(t *testing.T) {
	// Matches both a budget rule and a timing rule.
	text := "C'est trop cher, rappelez-moi plus tard"
	got, ok := Classify(text)
	if !ok || got != domain.ObjectionBudget {
		t.Fatalf("Classify(%q) = (%q, %v), want budget", text, got, ok)
	}

	// Timing alone still resolves to timing.
	got, ok = Classify("rappelez-moi plus tard")
	if !ok || got != domain.ObjectionTiming {
		t.Fatalf("expected timing, got (%q, %v)", got, ok)
	}
}

func TestClassifyIgnoresFarewells(t *testing.T) {
	tests := []struct {
		text   string
		want   domain.ObjectionType
		wantOK bool
	}{
		{"Très bien, à plus tard !", "", false},
		{"OK, talk to you later.", "", false},
		{"Merci, à bientôt.", "", false},
		{"Pas le temps, au revoir.", domain.ObjectionTiming, true},
		{"C'est trop cher. Au revoir.", domain.ObjectionBudget, true},
		{"Voyons ça plus tard.", domain.ObjectionTiming, true},
		{"We'll revisit this later, goodbye.", domain.ObjectionTiming, true},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.text)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}

	if !IsEndingSignal("Très bien, à plus tard !") {
		t.Error("farewell must still end the exchange")
	}
	if IsEndingSignal("Voyons ça plus tard.") {
		t.Error("postponement is not a farewell")
	}
}

func TestTaxonomyOrder(t *testing.T) {
	want := []domain.ObjectionType{
		domain.ObjectionBudget,
		domain.ObjectionTiming,
		domain.ObjectionCompetition,
		domain.ObjectionTrust,
		domain.ObjectionDecision,
		domain.ObjectionStatusQuo,
		domain.ObjectionAdoption,
	}
	if len(Taxonomy) != len(want) {
		t.Fatalf("expected %d taxonomy entries, got %d", len(want), len(Taxonomy))
	}
	for i, entry := range Taxonomy {
		if entry.Type != want[i] {
			t.Errorf("Taxonomy[%d] = %q, want %q", i, entry.Type, want[i])
		}
		if len(entry.Rules) == 0 {
			t.Errorf("Taxonomy[%d] has no rules", i)
		}
	}
}

func TestSignals(t *testing.T) {
	if !HasBuyingSignal("Envoyez-moi le devis, on pourrait démarrer en mars") {
		t.Error("expected buying signal")
	}
	if HasBuyingSignal("Je ne sais pas encore") {
		t.Error("unexpected buying signal")
	}
	if HasBuyingSignal("") {
		t.Error("empty text must not match")
	}

	if !IsEndingSignal("Merci, au revoir") {
		t.Error("expected ending signal for au revoir")
	}
	if !IsEndingSignal("Bonne journée à vous") {
		t.Error("expected ending signal for bonne journée")
	}
	if IsEndingSignal("Parlons de vos besoins") {
		t.Error("unexpected ending signal")
	}
}

func TestIsEndingExchangeCombinesSpeakers(t *testing.T) {
	if !IsEndingExchange("Très bien.", "Je vous laisse, au revoir") {
		t.Error("expected trainee farewell to count")
	}
	if !IsEndingExchange("Bonne journée", "") {
		t.Error("expected prospect farewell to count")
	}
	if IsEndingExchange("", "") {
		t.Error("empty exchange must not match")
	}
}

func TestParseObjection(t *testing.T) {
	if got, ok := ParseObjection(" Budget "); !ok || got != domain.ObjectionBudget {
		t.Fatalf("ParseObjection budget = (%q, %v)", got, ok)
	}
	if got, ok := ParseObjection("status_quo"); !ok || got != domain.ObjectionStatusQuo {
		t.Fatalf("ParseObjection status_quo = (%q, %v)", got, ok)
	}
	if _, ok := ParseObjection("weather"); ok {
		t.Fatal("unknown tag must not parse")
	}
}
