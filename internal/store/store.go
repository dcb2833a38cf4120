// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Repository persists trainees and sealed training sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// PersistSession stores a sealed session and its report. Persisting the
	// same session twice overwrites the first record.
	PersistSession(ctx context.Context, rec *domain.SessionRecord) error

	// GetRecord returns a persisted session. It fails with
	// domain.ErrSessionNotFound when absent.
	GetRecord(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// ListSessions returns persisted sessions newest first. An empty userID
	// lists every user's sessions.
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)

	// CleanupExpiredSessions removes sessions that ended more than ttl ago.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
