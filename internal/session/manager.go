package session

import (
	"context"
	"crypto/rand"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/oracle"
	"github.com/ashureev/pitch-labs/internal/perturb"
)

// ManagerConfig holds the collaborators shared by every session.
type ManagerConfig struct {
	Oracle        oracle.Oracle
	Transcriber   oracle.Transcriber
	Persister     Persister
	Observers     []Observer
	OracleTimeout time.Duration
	RedirectURL   string
	OutboxSize    int
	Policy        Policy
	Logger        *slog.Logger
	Now           func() time.Time
	// NewRoller seeds each session's scheduler. Nil uses a random PCG source.
	NewRoller func() perturb.Roller
}

// SweepStats counts what a sweep did.
type SweepStats struct {
	Ended     int
	Discarded int
	Evicted   int
}

// Manager is the in-memory registry of sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      ManagerConfig
	logger   *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
	}
}

// Start creates and registers a session. The returned token is the bearer
// credential for Connect and is not retrievable afterwards.
func (m *Manager) Start(userID string, sc *domain.Scenario, tier domain.Tier) (*Session, string, error) {
	id := uuid.NewString()
	token := rand.Text()

	var roller perturb.Roller
	if m.cfg.NewRoller != nil {
		roller = m.cfg.NewRoller()
	}
	s, err := Start(id, sc, Options{
		UserID:        userID,
		Tier:          tier,
		Token:         token,
		Oracle:        m.cfg.Oracle,
		Transcriber:   m.cfg.Transcriber,
		Persister:     m.cfg.Persister,
		Observers:     m.cfg.Observers,
		Roller:        roller,
		OracleTimeout: m.cfg.OracleTimeout,
		RedirectURL:   m.cfg.RedirectURL,
		OutboxSize:    m.cfg.OutboxSize,
		Logger:        m.logger,
		Now:           m.cfg.Now,
	})
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, token, nil
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// GetForUser returns a session only if userID owns it.
func (m *Manager) GetForUser(id, userID string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.UserID() != userID {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// ForUser returns the user's sessions, newest first.
func (m *Manager) ForUser(userID string) []*Session {
	m.mu.RLock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID() == userID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		return b.state.CreatedAt.Compare(a.state.CreatedAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Sweep applies the manager's policy to every session.
func (m *Manager) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := m.cfg.Now()
	for _, s := range m.snapshot() {
		switch s.Sweep(ctx, now, m.cfg.Policy) {
		case SweepEnded:
			stats.Ended++
		case SweepDiscard:
			m.remove(s.ID())
			stats.Discarded++
		case SweepEvict:
			m.remove(s.ID())
			stats.Evicted++
		}
	}
	return stats
}

// Shutdown ends every active session with server_shutdown and drops the
// ones never connected. It returns how many sessions were ended.
func (m *Manager) Shutdown(ctx context.Context) int {
	ended := 0
	for _, s := range m.snapshot() {
		switch s.Status() {
		case domain.StatusActive:
			if _, err := s.End(ctx, domain.EndServerShutdown); err != nil {
				m.logger.Warn("Failed to end session on shutdown", "session_id", s.ID(), "error", err)
				continue
			}
			ended++
		case domain.StatusConnecting:
			m.remove(s.ID())
		}
	}
	m.logger.Info("Session manager shut down", "ended", ended)
	return ended
}
