package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// llmServer records request bodies and answers with canned payloads keyed by
// path.
type llmServer struct {
	mu     sync.Mutex
	bodies map[string][]byte
	*httptest.Server
}

func newLLMServer(t *testing.T, replies map[string]any) *llmServer {
	t.Helper()
	s := &llmServer{bodies: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies[r.URL.Path] = body
		s.mu.Unlock()

		reply, ok := replies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *llmServer) body(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.bodies[path])
}

const cannedReply = `{"text":"Vous avez des références ?","gauge_delta":3,"objection_tag":"trust"}`

func historyRequest() *Request {
	return &Request{
		SessionID: "s-1",
		Tier:      domain.TierMedium,
		Gauge:     50,
		Mood:      domain.MoodNeutral,
		Phase:     domain.PhaseDiscovery,
		History: []domain.Turn{
			{Role: domain.RoleUser, Text: "Bonjour"},
			{
				Role: domain.RoleProspect, Text: "Bonjour, je vous ecoute.",
				IsEvent: true, EventKind: domain.KindEvent, EventType: "phone_call",
				EventMessage: "Un instant, mon telephone sonne.",
			},
		},
		Text: "Nous travaillons avec 200 PME.",
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := newLLMServer(t, map[string]any{
		"/chat/completions": map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "```json\n" + cannedReply + "\n```"},
			}},
		},
	})

	o, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	resp, err := o.Generate(context.Background(), historyRequest())
	require.NoError(t, err)
	assert.Equal(t, "Vous avez des références ?", resp.Text)
	assert.Equal(t, "trust", resp.ObjectionTag)

	body := srv.body("/chat/completions")
	assert.Contains(t, body, "role-playing a B2B prospect")
	assertHistoryOrder(t, body)
}

// assertHistoryOrder checks that a perturbed prospect turn reaches the model
// with both its reply and the injected line, before the new trainee text.
func assertHistoryOrder(t *testing.T, body string) {
	t.Helper()
	reply := strings.Index(body, "Bonjour, je vous ecoute.")
	injected := strings.Index(body, "Un instant, mon telephone sonne.")
	current := strings.Index(body, "Nous travaillons avec 200 PME.")
	require.NotEqual(t, -1, reply, body)
	require.NotEqual(t, -1, injected, body)
	require.NotEqual(t, -1, current, body)
	assert.Less(t, reply, injected)
	assert.Less(t, injected, current)
}

func TestOpenAITranscribe(t *testing.T) {
	srv := newLLMServer(t, map[string]any{
		"/audio/transcriptions": map[string]any{"text": " Bonjour, je vous appelle au sujet de vos plannings. "},
	})

	o, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/", Language: "fr"}, nil)
	require.NoError(t, err)

	text, err := o.Transcribe(context.Background(), []byte("RIFF....WAVE"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour, je vous appelle au sujet de vos plannings.", text)

	body := srv.body("/audio/transcriptions")
	assert.Contains(t, body, "turn.webm")
	assert.Contains(t, body, "whisper-1")
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{}, nil)
	assert.Error(t, err)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := newLLMServer(t, map[string]any{
		"/v1/messages": map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content":     []any{map[string]any{"type": "text", "text": "Voici: " + cannedReply}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 10},
		},
	})

	a, err := NewAnthropic(AnthropicConfig{APIKey: "test", BaseURL: srv.URL + "/", Model: "claude-test"}, nil)
	require.NoError(t, err)

	resp, err := a.Generate(context.Background(), historyRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, resp.GaugeDelta)

	body := srv.body("/v1/messages")
	assert.True(t, strings.Contains(body, `"max_tokens":512`), body)
	assert.Contains(t, body, "Current disposition: 50/100")
	assertHistoryOrder(t, body)
}

func TestSpokenText(t *testing.T) {
	assert.Equal(t, "Bonjour.", spokenText(domain.Turn{Text: "Bonjour."}))
	assert.Equal(t, "Bonjour.\n\nJe doute.", spokenText(domain.Turn{Text: "Bonjour.", EventMessage: "Je doute."}))
	assert.Equal(t, "Je doute.", spokenText(domain.Turn{EventMessage: "Je doute."}))
}

func TestAnthropicRequiresModel(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{APIKey: "test"}, nil)
	assert.Error(t, err)
}

func TestAudioFilename(t *testing.T) {
	assert.Equal(t, "turn.webm", audioFilename("audio/webm;codecs=opus"))
	assert.Equal(t, "turn.mp3", audioFilename("audio/mpeg"))
	assert.Equal(t, "turn.wav", audioFilename(""))
}
