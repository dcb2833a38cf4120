package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// AnthropicConfig configures the Anthropic-backed oracle.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	MaxRetries int
}

// Anthropic generates prospect replies with the Messages API.
type Anthropic struct {
	client *anthropic.Client
	cfg    AnthropicConfig
	logger *slog.Logger
}

// NewAnthropic builds the client. An API key and a model are required.
func NewAnthropic(cfg AnthropicConfig, logger *slog.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key not configured")
	}
	if cfg.Model == "" {
		return nil, errors.New("Anthropic model not configured")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
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
	client := anthropic.NewClient(options...)
	logger.Debug("Anthropic client initialized", "provider", "anthropic", "model", cfg.Model)

	return &Anthropic{client: &client, cfg: cfg, logger: logger}, nil
}

// Generate asks the model for the prospect's reply.
func (a *Anthropic) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, t := range req.History {
		switch t.Role {
		case domain.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(spokenText(t))))
		case domain.RoleProspect:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(spokenText(t))))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: a.cfg.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt(req)}},
		Messages:  messages,
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		a.logger.Error("Anthropic request failed", "error", err, "session_id", req.SessionID)
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}
	a.logger.Debug("Anthropic response received", "session_id", req.SessionID, "content_length", content.Len())
	return ParseReply(content.String())
}

// Close implements Oracle.
func (a *Anthropic) Close() error { return nil }
