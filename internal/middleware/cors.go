// Package middleware provides HTTP middleware for the pitch-labs API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization"
)

// Policy is the cross-origin policy for browser trainees.
type Policy struct {
	// Origins lists the allowed origins. "*" admits any origin but never
	// with credentials, since the trainee cookie would ride along.
	Origins []string
	// MaxAge lets browsers cache a preflight answer. Zero omits the header.
	MaxAge time.Duration
}

// CORS returns middleware applying p. Preflight requests are answered
// directly; other requests continue to next.
func CORS(p Policy) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(p.Origins))
	anyOrigin := false
	for _, o := range p.Origins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		explicit[strings.TrimRight(o, "/")] = true
	}
	maxAge := ""
	if p.MaxAge > 0 {
		maxAge = strconv.Itoa(int(p.MaxAge.Seconds()))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			credentialed := explicit[origin]
			if origin != "" && (credentialed || anyOrigin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				if credentialed {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if maxAge != "" {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
