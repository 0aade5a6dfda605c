package middleware

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "homebank_session"

// SessionToken extracts the session token from the cookie, falling back to
// an Authorization: Bearer header for API clients.
func SessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

type sessionLookup interface {
	GetByToken(token string, now time.Time) (*model.Session, error)
}

type userLookup interface {
	GetByID(id int64) (*model.User, error)
}

// RequireAuth validates the session and populates AuthContext. The role is
// read from the user row on every request so a role change applies at once.
func RequireAuth(sessions sessionLookup, users userLookup, clk clock.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := sessions.GetByToken(token, clk.Now())
			if err != nil || sess == nil {
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}

			user, err := users.GetByID(sess.UserID)
			if err != nil || user == nil {
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}

			ac := auth.AuthContext{
				UserID:    user.ID,
				Role:      user.Role,
				SessionID: sess.ID,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only if the authenticated user holds
// one of roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, auth.Role(r.Context())) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Compile-time check that the store satisfies the lookups.
var (
	_ sessionLookup = (*store.SessionStore)(nil)
	_ userLookup    = (*store.UserStore)(nil)
)
