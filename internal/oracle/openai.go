package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// OpenAIConfig configures the OpenAI-backed oracle and transcriber.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// TranscriptionModel defaults to whisper-1.
	TranscriptionModel string
	// Language is the ISO-639-1 hint passed to transcription.
	Language    string
	Temperature float64
	MaxRetries  int
	// HTTPClient replaces the SDK's default client when set.
	HTTPClient *http.Client
}

// OpenAI generates prospect replies with the chat completions API and
// transcribes audio with the transcription API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAI builds the client. An API key is required.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = string(openai.AudioModelWhisper1)
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(options...)
	logger.Debug("OpenAI client initialized", "provider", "openai", "model", cfg.Model)

	return &OpenAI{client: &client, cfg: cfg, logger: logger}, nil
}

// Generate asks the chat model for the prospect's reply.
func (o *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(SystemPrompt(req)))
	for _, t := range req.History {
		switch t.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(spokenText(t)))
		case domain.RoleProspect:
			messages = append(messages, openai.AssistantMessage(spokenText(t)))
		}
	}
	messages = append(messages, openai.UserMessage(req.Text))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.cfg.Model),
		Messages: messages,
	}
	if o.cfg.Temperature > 0 {
		params.Temperature = openai.Float(o.cfg.Temperature)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		o.logger.Error("OpenAI request failed", "error", err, "session_id", req.SessionID)
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no response choices returned")
	}

	content := completion.Choices[0].Message.Content
	o.logger.Debug("OpenAI response received", "session_id", req.SessionID, "content_length", len(content))
	return ParseReply(content)
}

// Transcribe converts one audio turn to text.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), audioFilename(contentType), contentType),
		Model: openai.AudioModel(o.cfg.TranscriptionModel),
	}
	if o.cfg.Language != "" {
		params.Language = openai.String(o.cfg.Language)
	}
	tr, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}

// Close implements Oracle.
func (o *OpenAI) Close() error { return nil }

func audioFilename(contentType string) string {
	switch {
	case strings.Contains(contentType, "webm"):
		return "turn.webm"
	case strings.Contains(contentType, "ogg"):
		return "turn.ogg"
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "turn.mp3"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
		return "turn.m4a"
	default:
		return "turn.wav"
	}
}
