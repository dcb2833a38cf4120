package session

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/oracle"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRecorder stands in for the chat completions endpoint and keeps every
// conversation it was sent.
type chatRecorder struct {
	mu    sync.Mutex
	convs [][]chatMessage
}

func (c *chatRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []chatMessage `json:"messages"`
	}
	raw, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(raw, &body)
	c.mu.Lock()
	c.convs = append(c.convs, body.Messages)
	c.mu.Unlock()

	content := `{"text":"Quelles sont les prochaines étapes ?","gauge_delta":10}`
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
}

func (c *chatRecorder) conversation(i int) []chatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.convs) {
		return nil
	}
	return c.convs[i]
}

func TestOpenAIHistoryKeepsPerturbedTurn(t *testing.T) {
	rec := &chatRecorder{}
	srv := httptest.NewServer(rec)
	transport := &http.Transport{}
	t.Cleanup(func() {
		srv.Close()
		transport.CloseIdleConnections()
	})

	o, err := oracle.NewOpenAI(oracle.OpenAIConfig{
		APIKey:     "test",
		BaseURL:    srv.URL + "/",
		HTTPClient: &http.Client{Transport: transport},
	}, nil)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	sc := testScenario()
	sc.Perturbations[domain.TierExpert] = domain.TierPerturbation{ReversalProbability: 1}
	sc.Catalog = []domain.PerturbationSpec{{
		Kind: domain.KindReversal, Subtype: "doubt", Message: "Je doute.", Penalty: 8,
		Phases: []domain.Phase{domain.PhaseClosing},
	}}
	s := startSession(t, sc, domain.TierExpert, o)
	connect(t, s)

	res := submit(t, s, "Voici notre proposition.")
	if res.Perturbation == nil || res.Perturbation.Subtype != "doubt" {
		t.Fatalf("expected doubt reversal, got %+v", res.Perturbation)
	}
	if res.Prospect.EventMessage != "Je doute." {
		t.Fatalf("prospect turn lost the injected line: %+v", res.Prospect)
	}
	submit(t, s, "Et donc ?")

	want := []chatMessage{
		{Role: "user", Content: "Voici notre proposition."},
		{Role: "assistant", Content: "Quelles sont les prochaines étapes ?\n\nJe doute."},
		{Role: "user", Content: "Et donc ?"},
	}
	got := rec.conversation(1)
	if len(got) == 0 || got[0].Role != "system" {
		t.Fatalf("second request lacks a system prompt: %+v", got)
	}
	if diff := cmp.Diff(want, got[1:]); diff != "" {
		t.Fatalf("second request history mismatch (-want +got):\n%s", diff)
	}
}
