package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
	"github.com/ashureev/pitch-labs/internal/identity"
	"github.com/ashureev/pitch-labs/internal/session"
	"github.com/ashureev/pitch-labs/internal/store"
)

const defaultHistoryLimit = 20

// Sessions is the live session registry.
type Sessions interface {
	Start(userID string, sc *domain.Scenario, tier domain.Tier) (*session.Session, string, error)
	GetForUser(id, userID string) (*session.Session, error)
	ForUser(userID string) []*session.Session
}

// Scenarios resolves scenario configurations.
type Scenarios interface {
	Get(id string) (*domain.Scenario, error)
	List() []*domain.Scenario
}

// SessionHandler serves the session REST endpoints.
type SessionHandler struct {
	sessions  Sessions
	scenarios Scenarios
	repo      store.Repository
	limiter   *RateLimiter
	logger    *slog.Logger
}

// NewSessionHandler creates a session handler. limiter may be nil to disable
// rate limiting.
func NewSessionHandler(sessions Sessions, scenarios Scenarios, repo store.Repository, limiter *RateLimiter, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		sessions:  sessions,
		scenarios: scenarios,
		repo:      repo,
		limiter:   limiter,
		logger:    logger,
	}
}

// RegisterRoutes registers the session, scenario and user routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/scenarios", h.ListScenarios)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Get("/", h.ListSessions)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/end", h.EndSession)
			r.Get("/{id}/report", h.GetReport)
		})
	})
}

type startRequest struct {
	ScenarioID string      `json:"scenario_id"`
	Tier       domain.Tier `json:"tier"`
}

type startResponse struct {
	Session session.View `json:"session"`
	Token   string       `json:"token"`
	WSURL   string       `json:"ws_url"`
}

// StartSession creates a session and returns its bearer token once.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		slog.Warn("Session start rate limited", "user_id", userID)
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Tier == "" {
		req.Tier = domain.TierMedium
	}
	if !req.Tier.Valid() {
		WriteError(w, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidRequest, req.Tier))
		return
	}
	if strings.TrimSpace(req.ScenarioID) == "" {
		WriteError(w, fmt.Errorf("%w: scenario_id is required", domain.ErrInvalidRequest))
		return
	}

	sc, err := h.scenarios.Get(req.ScenarioID)
	if err != nil {
		WriteError(w, err)
		return
	}
	s, token, err := h.sessions.Start(userID, sc, req.Tier)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info("Session created", "session_id", s.ID(), "user_id", userID, "tier", req.Tier, "scenario_id", sc.ID)
	JSON(w, http.StatusCreated, startResponse{
		Session: s.View(false),
		Token:   token,
		WSURL:   "/ws/sessions/" + s.ID(),
	})
}

// ListSessions returns the user's live sessions and persisted history.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, fmt.Errorf("%w: invalid limit", domain.ErrInvalidRequest))
			return
		}
		limit = n
	}

	live := h.sessions.ForUser(userID)
	active := make([]session.View, 0, len(live))
	for _, s := range live {
		active = append(active, s.View(false))
	}

	history, err := h.repo.ListSessions(r.Context(), userID, limit)
	if err != nil {
		WriteError(w, fmt.Errorf("list sessions: %w", err))
		return
	}
	for i := range history {
		if !gauge.IsGaugeVisible(history[i].Tier) {
			history[i].FinalGauge = nil
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"active":  active,
		"history": history,
	})
}

// GetSession returns a live session, or a persisted one once it has left
// memory.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s, err := h.sessions.GetForUser(id, userID); err == nil {
		JSON(w, http.StatusOK, s.View(true))
		return
	}

	rec, err := h.persisted(r.Context(), id, userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	maxExchanges := 0
	if sc, err := h.scenarios.Get(rec.Session.ScenarioID); err == nil {
		maxExchanges = sc.MaxExchanges
	}
	JSON(w, http.StatusOK, session.ViewOf(rec.Session, maxExchanges, false, true))
}

// EndSession ends a live session on the trainee's request.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	s, err := h.sessions.GetForUser(id, userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	report, err := s.End(r.Context(), domain.EndUser)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session": s.View(false),
		"report":  session.ClientReport(s.Tier(), report),
	})
}

// GetReport returns the evaluation report of an ended session.
func (h *SessionHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s, err := h.sessions.GetForUser(id, userID); err == nil {
		report, ok := s.Report()
		if !ok {
			WriteError(w, domain.ErrReportPending)
			return
		}
		JSON(w, http.StatusOK, session.ClientReport(s.Tier(), report))
		return
	}

	rec, err := h.persisted(r.Context(), id, userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, session.ClientReport(rec.Session.Tier, rec.Report))
}

func (h *SessionHandler) persisted(ctx context.Context, id, userID string) (*domain.SessionRecord, error) {
	rec, err := h.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Session == nil || rec.Session.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	return rec, nil
}

type scenarioSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Persona      string `json:"persona,omitempty"`
	MaxExchanges int    `json:"max_exchanges"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ListScenarios returns the scenarios a session can be started from.
func (h *SessionHandler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	list := h.scenarios.List()
	out := make([]scenarioSummary, 0, len(list))
	for _, sc := range list {
		sum := scenarioSummary{
			ID:           sc.ID,
			Title:        sc.Title,
			Description:  sc.Description,
			Persona:      sc.Persona,
			MaxExchanges: sc.MaxExchanges,
		}
		if d := time.Duration(sc.IdleTimeout); d > 0 {
			sum.IdleTimeout = d.String()
		}
		out = append(out, sum)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"scenarios": out})
}

// GetMe returns the current user's information.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":         user.UserID,
		"username":        user.Username,
		"active_sessions": len(h.sessions.ForUser(userID)),
	})
}
