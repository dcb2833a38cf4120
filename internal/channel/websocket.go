package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/identity"
	"github.com/ashureev/pitch-labs/internal/session"
)

var (
	errClientClosed = errors.New("client closed connection")
	errSessionDone  = errors.New("session ended")
)

// Sessions resolves session ids.
type Sessions interface {
	Get(id string) (*session.Session, error)
}

// LastSeenUpdater records trainee activity.
type LastSeenUpdater interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Config configures the WebSocket handler.
type Config struct {
	AllowedOrigin string
	IsDev         bool
	// PingInterval is how often the server pings the client. Zero disables
	// pings.
	PingInterval time.Duration
	WriteTimeout time.Duration
	// QueueSize bounds the client messages waiting behind an in-flight turn.
	QueueSize int
	LastSeen  LastSeenUpdater
	Logger    *slog.Logger
}

// Handler upgrades requests to a session channel.
type Handler struct {
	sessions Sessions
	registry *Registry
	cfg      Config
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions Sessions, registry *Registry, cfg Config) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{sessions: sessions, registry: registry, cfg: cfg, logger: cfg.Logger}
}

// Registry returns the handler's connection registry.
func (h *Handler) Registry() *Registry { return h.registry }

// ServeHTTP implements http.Handler for WebSocket upgrade. The session id is
// the {id} URL parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	logger := h.logger.With("session_id", sessionID)
	logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	lastEventID := int64(-1)
	if v := r.URL.Query().Get("last_event_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid last_event_id", http.StatusBadRequest)
			return
		}
		lastEventID = n
	}
	token := identity.BearerToken(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}

	s, err := h.sessions.Get(sessionID)
	var att session.Attachment
	if err == nil {
		// A reconnect after a half-open drop arrives while the old socket
		// still looks attached; the newest connection wins.
		att, err = s.Takeover(token)
	}
	if err != nil {
		h.reject(r.Context(), ws, sessionID, err)
		return
	}

	if prev := h.registry.Register(sessionID, ws); prev != nil {
		logger.Info("Superseding previous session socket")
		_ = prev.CloseNow()
	}
	defer h.registry.Unregister(sessionID, ws)
	defer s.Detach(att.Gen)

	cursor := att.EventID - 1
	if lastEventID >= 0 && lastEventID < att.EventID {
		cursor = lastEventID
	}

	c := &conn{
		h:      h,
		ws:     ws,
		sess:   s,
		logger: logger.With("user_id", s.UserID(), "tier", s.Tier()),
	}
	err = c.run(r.Context(), cursor)
	switch {
	case err == nil, errors.Is(err, errClientClosed), errors.Is(err, errSessionDone), errors.Is(err, context.Canceled):
		c.logger.Info("Session channel closed", "reason", closeReason(err))
	default:
		c.logger.Warn("Session channel failed", "error", err)
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func closeReason(err error) string {
	if err == nil {
		return "done"
	}
	return err.Error()
}

func (h *Handler) reject(ctx context.Context, ws *websocket.Conn, sessionID string, err error) {
	h.logger.Warn("Session connect rejected", "session_id", sessionID, "error", err)
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	if werr := writeJSON(wctx, ws, errorFrame(sessionID, err)); werr != nil {
		h.logger.Debug("Failed to send connect error", "error", werr)
	}
	_ = ws.Close(closeCode(err), domain.ErrorCode(err))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

// conn is one attached client. Reads, turn processing and writes each run in
// their own goroutine; turns are processed one at a time in arrival order.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	sess   *session.Session
	logger *slog.Logger
}

func (c *conn) run(parent context.Context, cursor int64) error {
	g, ctx := errgroup.WithContext(parent)
	cmds := make(chan clientMessage, c.h.cfg.QueueSize)
	direct := make(chan directFrame, 8)

	g.Go(func() error {
		defer close(cmds)
		return c.readLoop(ctx, cmds, direct)
	})
	g.Go(func() error { return c.turnLoop(ctx, cmds, direct) })
	g.Go(func() error { return c.writeLoop(ctx, cursor, direct) })
	g.Go(func() error { return c.pingLoop(ctx) })

	return g.Wait()
}

func (c *conn) readLoop(ctx context.Context, cmds chan<- clientMessage, direct chan<- directFrame) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return errClientClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg clientMessage
		if typ != websocket.MessageText || json.Unmarshal(data, &msg) != nil {
			c.sendDirect(ctx, direct, errorFrame(c.sess.ID(), fmt.Errorf("%w: malformed message", domain.ErrInvalidTurn)))
			continue
		}

		switch msg.Type {
		case msgPing:
			c.sendDirect(ctx, direct, pongFrame())
		case msgTurn, msgEnd:
			select {
			case cmds <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.sendDirect(ctx, direct, errorFrame(c.sess.ID(), fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidTurn, msg.Type)))
			continue
		}
		c.touch()
	}
}

func (c *conn) turnLoop(ctx context.Context, cmds <-chan clientMessage, direct chan<- directFrame) error {
	for msg := range cmds {
		switch msg.Type {
		case msgTurn:
			_, err := c.sess.SubmitTurn(ctx, session.TurnInput{
				Text:      msg.Text,
				Audio:     msg.Audio,
				AudioType: msg.AudioType,
			})
			if errors.Is(err, domain.ErrNotConnected) {
				c.sendDirect(ctx, direct, errorFrame(c.sess.ID(), err))
			} else if err != nil {
				c.logger.Debug("Turn failed", "error", err)
			}
		case msgEnd:
			if _, err := c.sess.End(ctx, domain.EndUser); err != nil {
				c.sendDirect(ctx, direct, errorFrame(c.sess.ID(), err))
			}
		}
	}
	return nil
}

func (c *conn) writeLoop(ctx context.Context, cursor int64, direct <-chan directFrame) error {
	outbox := c.sess.Outbox()
	flush := func() error {
		for _, ev := range outbox.Since(cursor) {
			if err := c.write(ctx, ev); err != nil {
				return err
			}
			cursor = ev.ID
		}
		return nil
	}

	for {
		if err := flush(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-direct:
			if err := c.write(ctx, f); err != nil {
				return err
			}
		case <-outbox.Notify():
		case <-outbox.Done():
			if err := flush(); err != nil {
				return err
			}
			_ = c.ws.Close(websocket.StatusNormalClosure, "session ended")
			return errSessionDone
		}
	}
}

func (c *conn) pingLoop(ctx context.Context) error {
	interval := c.h.cfg.PingInterval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *conn) sendDirect(ctx context.Context, direct chan<- directFrame, f directFrame) {
	select {
	case direct <- f:
	case <-ctx.Done():
	}
}

func (c *conn) write(ctx context.Context, v any) error {
	wctx, cancel := context.WithTimeout(ctx, c.h.cfg.WriteTimeout)
	defer cancel()
	if err := writeJSON(wctx, c.ws, v); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// touch updates the trainee's last-seen time in the background.
func (c *conn) touch() {
	if c.h.cfg.LastSeen == nil {
		return
	}
	userID := c.sess.UserID()
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.h.cfg.LastSeen.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			c.logger.Warn("Failed to update last seen", "error", err)
		}
	}()
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
