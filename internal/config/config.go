// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Oracle providers.
const (
	OracleScripted  = "scripted"
	OracleGRPC      = "grpc"
	OracleOpenAI    = "openai"
	OracleAnthropic = "anthropic"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level

	ScenarioDir   string
	ScenarioWatch bool

	Oracle  OracleConfig
	Session SessionConfig

	ReaperInterval   time.Duration
	HistoryRetention time.Duration

	NATSURL     string
	NATSSubject string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	// ReportRedirectPath is sent to the client on session end. "{id}" is
	// replaced with the session id.
	ReportRedirectPath string

	ConversationLog ConversationLogConfig
}

// OracleConfig selects and configures the response oracle.
type OracleConfig struct {
	Provider        string
	Addr            string
	Timeout         time.Duration
	OpenAIKey       string
	OpenAIModel     string
	TranscribeModel string
	AnthropicKey    string
	AnthropicModel  string
}

// SessionConfig controls in-memory session lifetimes.
type SessionConfig struct {
	IdleTimeout  time.Duration
	AbandonGrace time.Duration
	Retention    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/pitchlabs.db"),
		LogLevel:      getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		ScenarioDir:   getEnv("SCENARIO_DIR", ""),
		ScenarioWatch: getEnvBool("SCENARIO_WATCH", false),
		Oracle: OracleConfig{
			Provider:        strings.ToLower(getEnv("ORACLE_PROVIDER", OracleScripted)),
			Addr:            getEnv("ORACLE_ADDR", ""),
			Timeout:         getEnvDuration("ORACLE_TIMEOUT", 30*time.Second),
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("OPENAI_MODEL", ""),
			TranscribeModel: getEnv("TRANSCRIBE_MODEL", ""),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", ""),
		},
		Session: SessionConfig{
			IdleTimeout:  getEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
			AbandonGrace: getEnvDuration("SESSION_ABANDON_GRACE", 2*time.Minute),
			Retention:    getEnvDuration("SESSION_RETENTION", 30*time.Minute),
		},
		ReaperInterval:     getEnvDuration("REAPER_INTERVAL", 30*time.Second),
		HistoryRetention:   getEnvDuration("HISTORY_RETENTION", 90*24*time.Hour),
		NATSURL:            getEnv("NATS_URL", ""),
		NATSSubject:        getEnv("NATS_SUBJECT", "pitchlabs.sessions.ended"),
		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		ReportRedirectPath: getEnv("REPORT_REDIRECT_PATH", "/sessions/{id}/report"),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ScenarioWatch && c.ScenarioDir == "" {
		return fmt.Errorf("SCENARIO_WATCH requires SCENARIO_DIR")
	}
	switch c.Oracle.Provider {
	case OracleScripted:
	case OracleGRPC:
		if c.Oracle.Addr == "" {
			return fmt.Errorf("ORACLE_ADDR is required for the grpc oracle")
		}
	case OracleOpenAI:
		if c.Oracle.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai oracle")
		}
	case OracleAnthropic:
		if c.Oracle.AnthropicKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic oracle")
		}
		if c.Oracle.AnthropicModel == "" {
			return fmt.Errorf("ANTHROPIC_MODEL is required for the anthropic oracle")
		}
	default:
		return fmt.Errorf("unknown ORACLE_PROVIDER %q", c.Oracle.Provider)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.AbandonGrace <= 0 || c.Session.Retention <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT, SESSION_ABANDON_GRACE and SESSION_RETENTION must be > 0")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// TranscriptionEnabled reports whether audio turns can be transcribed.
func (c *Config) TranscriptionEnabled() bool {
	return c.Oracle.OpenAIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
