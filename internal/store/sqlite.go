package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while a sealed session is being written.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS training_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		end_type TEXT NOT NULL,
		score INTEGER NOT NULL,
		final_gauge INTEGER NOT NULL,
		converted INTEGER NOT NULL DEFAULT 0,
		exchange_count INTEGER NOT NULL,
		session_json TEXT NOT NULL,
		report_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_training_sessions_user ON training_sessions(user_id, ended_at);
	CREATE INDEX IF NOT EXISTS idx_training_sessions_ended ON training_sessions(ended_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "upsert user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// PersistSession stores a sealed session. It retries while the database is
// busy.
func (s *SQLiteStore) PersistSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.Session == nil || rec.Report == nil {
		return errors.New("persist session: incomplete record")
	}
	sess := rec.Session

	sessionJSON, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	endedAt := time.Now()
	if sess.EndedAt != nil {
		endedAt = *sess.EndedAt
	}

	query := `
		INSERT INTO training_sessions (
			session_id, user_id, scenario_id, tier, end_type, score, final_gauge,
			converted, exchange_count, session_json, report_json,
			created_at, ended_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			end_type = excluded.end_type,
			score = excluded.score,
			final_gauge = excluded.final_gauge,
			converted = excluded.converted,
			exchange_count = excluded.exchange_count,
			session_json = excluded.session_json,
			report_json = excluded.report_json,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "persist session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID, sess.UserID, sess.ScenarioID, string(sess.Tier), string(sess.EndType),
			rec.Report.Score, sess.Gauge, rec.Report.Converted, sess.ExchangeCount,
			string(sessionJSON), string(reportJSON),
			sess.CreatedAt.Unix(), endedAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("persist session %s: %w", sess.ID, err)
		}
		return nil
	})
}

// GetRecord returns a persisted session and its report.
func (s *SQLiteStore) GetRecord(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `SELECT session_json, report_json FROM training_sessions WHERE session_id = ?`

	var sessionJSON, reportJSON string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&sessionJSON, &reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session record: %w", err)
	}

	rec := &domain.SessionRecord{Session: new(domain.Session), Report: new(domain.Report)}
	if err := json.Unmarshal([]byte(sessionJSON), rec.Session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(reportJSON), rec.Report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", sessionID, err)
	}
	return rec, nil
}

// ListSessions returns persisted sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT session_id, user_id, scenario_id, tier, end_type, score, final_gauge,
		       converted, exchange_count, created_at, ended_at
		FROM training_sessions`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY ended_at DESC, created_at DESC, session_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var tier, endType string
		var finalGauge int
		var createdAt, endedAt int64

		if err := rows.Scan(
			&sum.ID, &sum.UserID, &sum.ScenarioID, &tier, &endType, &sum.Score, &finalGauge,
			&sum.Converted, &sum.ExchangeCount, &createdAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sum.Tier = domain.Tier(tier)
		sum.EndType = domain.EndType(endType)
		sum.FinalGauge = &finalGauge
		sum.CreatedAt = time.Unix(createdAt, 0)
		sum.EndedAt = time.Unix(endedAt, 0)
		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// CleanupExpiredSessions removes sessions that ended before now-ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "cleanup sessions", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM training_sessions WHERE ended_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup expired sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
