// Package identity gives each trainee device a stable anonymous id and
// extracts session credentials from requests.
package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/pitch-labs/internal/domain"
)

const (
	// CookieName holds the trainee's anonymous id.
	CookieName   = "pitch_trainee"
	cookieMaxAge = 90 * 24 * time.Hour
	idPrefix     = "anon_"
)

// Users is the part of the repository identity needs.
type Users interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
}

type contextKey struct{}

var traineeIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// UserIDFromContext returns the trainee id injected by Middleware.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func newTraineeID() string {
	return idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DisplayName is the name shown for an anonymous trainee.
func DisplayName(userID string) string {
	id := strings.TrimPrefix(userID, idPrefix)
	if len(id) < 6 {
		return "trainee"
	}
	return "trainee-" + id[:6]
}

func register(ctx context.Context, users Users, userID string) error {
	u, err := users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup trainee: %w", err)
	}
	if u != nil {
		return nil
	}
	now := time.Now().UTC()
	return users.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   DisplayName(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// traineeID returns the id from the request cookie, minting one when it is
// missing or malformed. The cookie is refreshed either way.
func traineeID(w http.ResponseWriter, r *http.Request, secure bool) string {
	id := ""
	if c, err := r.Cookie(CookieName); err == nil && traineeIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		id = newTraineeID()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id
}

// BearerToken returns the session credential carried by r, from the
// Authorization header or the token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware identifies the trainee behind each request and registers
// first-time trainees with users.
func Middleware(users Users, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := traineeID(w, r, !isDev)
			if err := register(r.Context(), users, userID); err != nil {
				http.Error(w, `{"error":"failed to initialize trainee","code":"internal"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
