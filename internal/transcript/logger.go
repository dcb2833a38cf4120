// Package transcript writes session lifecycle events to NDJSON files for
// offline review of training conversations.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Event types written to the log.
const (
	EventSessionStarted   = "session_started"
	EventUserTurn         = "user_turn"
	EventProspectTurn     = "prospect_turn"
	EventTurnFailed       = "turn_failed"
	EventPerturbation     = "perturbation"
	EventSessionEnded     = "session_ended"
	defaultQueueSize      = 256
	defaultFilePermission = 0o640
)

// Config controls where transcripts are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one NDJSON line.
type Event struct {
	Timestamp  time.Time    `json:"ts"`
	UserID     string       `json:"user_id"`
	SessionID  string       `json:"session_id"`
	ScenarioID string       `json:"scenario_id,omitempty"`
	Tier       domain.Tier  `json:"tier,omitempty"`
	EventType  string       `json:"event_type"`
	Role       domain.Role  `json:"role,omitempty"`
	ContentRaw string       `json:"content_raw,omitempty"`
	Content    string       `json:"content,omitempty"`
	Exchange   int          `json:"exchange"`
	Gauge      *int         `json:"gauge,omitempty"`
	GaugeDelta *int         `json:"gauge_delta,omitempty"`
	Phase      domain.Phase `json:"phase,omitempty"`
	Mood       domain.Mood  `json:"mood,omitempty"`
	Objection  string       `json:"objection,omitempty"`
	Event      string       `json:"event,omitempty"`
	LatencyMS  int64        `json:"latency_ms,omitempty"`
	EndType    string       `json:"end_type,omitempty"`
	Score      *int         `json:"score,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Logger appends events through a bounded queue drained by one goroutine.
// Events are dropped rather than blocking the caller when the queue is full.
type Logger struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	global  *os.File
	dropped atomic.Int64
}

// New creates a logger. A disabled config returns a logger whose methods are
// no-ops.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	l := &Logger{cfg: cfg, logger: logger, now: time.Now}
	if !cfg.Enabled {
		return l, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFilePermission)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}
	l.queue = make(chan Event, cfg.QueueSize)
	l.done = make(chan struct{})
	go l.run()
	return l, nil
}

// Log enqueues an event.
func (l *Logger) Log(ev Event) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	if ev.ContentRaw != "" && ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Transcript queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Close drains pending events and closes files.
func (l *Logger) Close() error {
	if l == nil || !l.cfg.Enabled {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	if l.global != nil {
		return l.global.Close()
	}
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')
		if err := l.appendSession(ev, line); err != nil {
			l.logger.Warn("Failed to write transcript",
				"session_id", ev.SessionID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global transcript", "error", err)
			}
		}
	}
}

func (l *Logger) appendSession(ev Event, line []byte) error {
	path := l.sessionPath(ev.UserID, ev.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFilePermission)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// sessionPath is <dir>/<user>/<session>.ndjson.
func (l *Logger) sessionPath(userID, sessionID string) string {
	return filepath.Join(l.cfg.Dir, safeComponent(userID), safeComponent(sessionID)+".ndjson")
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeComponent(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
)

// cleanForReadability strips escape sequences and control characters and
// collapses runs of whitespace.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = controlPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
