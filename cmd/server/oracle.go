package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/pitch-labs/internal/config"
	"github.com/ashureev/pitch-labs/internal/oracle"
)

// newOracle builds the configured response oracle. Audio transcription is
// available whenever an OpenAI key is set, whichever provider generates the
// replies.
func newOracle(cfg *config.Config, logger *slog.Logger) (oracle.Oracle, oracle.Transcriber, error) {
	oc := cfg.Oracle

	var transcriber oracle.Transcriber
	var openAI *oracle.OpenAI
	if oc.OpenAIKey != "" {
		o, err := oracle.NewOpenAI(oracle.OpenAIConfig{
			APIKey:             oc.OpenAIKey,
			Model:              oc.OpenAIModel,
			TranscriptionModel: oc.TranscribeModel,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("openai: %w", err)
		}
		openAI = o
		transcriber = o
	}

	switch oc.Provider {
	case config.OracleGRPC:
		g, err := oracle.NewGRPC(oracle.DefaultGRPCConfig(oc.Addr), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("grpc: %w", err)
		}
		return g, transcriber, nil
	case config.OracleOpenAI:
		if openAI == nil {
			return nil, nil, errors.New("openai: OPENAI_API_KEY is required")
		}
		return openAI, transcriber, nil
	case config.OracleAnthropic:
		a, err := oracle.NewAnthropic(oracle.AnthropicConfig{
			APIKey: oc.AnthropicKey,
			Model:  oc.AnthropicModel,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: %w", err)
		}
		return a, transcriber, nil
	default:
		slog.Warn("Using scripted oracle, prospect replies are canned")
		return oracle.NewScripted(), transcriber, nil
	}
}
