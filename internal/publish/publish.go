// Package publish forwards sealed session records to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// DefaultSubject is the subject prefix records are published under. The tier
// is appended, e.g. "pitchlabs.sessions.ended.medium".
const DefaultSubject = "pitchlabs.sessions.ended"

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes session records as JSON.
type NATS struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials a NATS server and returns a record publisher.
func Connect(url, subject string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("pitch-labs"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewNATS(conn, subject, logger)
	p.conn = conn
	return p, nil
}

// NewNATS wraps an existing publisher.
func NewNATS(pub Publisher, subject string, logger *slog.Logger) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{pub: pub, subject: subject, logger: logger}
}

// Subject returns the subject a record for tier is published on.
func (n *NATS) Subject(tier domain.Tier) string {
	return n.subject + "." + string(tier)
}

// PersistSession publishes rec unredacted.
func (n *NATS) PersistSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.Session == nil {
		return errors.New("publish: record has no session")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	subject := n.Subject(rec.Session.Tier)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.logger.Debug("Session record published", "session_id", rec.Session.ID, "subject", subject)
	return nil
}

// Close drains and closes the connection opened by Connect.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
