package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/dukerupert/linkauth/internal/auth"
	"github.com/dukerupert/linkauth/internal/model"
	"github.com/dukerupert/linkauth/internal/session"
)

// UserLoader maps a session to its signed-in user, nil when anonymous.
type UserLoader interface {
	CurrentUser(ctx context.Context, sess *session.Session) (*model.User, error)
}

// RequireAuth resolves the user bound to the request session and populates
// AuthContext. Anonymous requests get 401. It must run behind the session
// middleware.
func RequireAuth(users UserLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}

			u, err := users.CurrentUser(r.Context(), sess)
			if err != nil {
				logger.LogAttrs(r.Context(), slog.LevelError, "load session user",
					RequestAttrs(r), slog.String("sid", sess.ID), slog.Any("error", err))
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
			if u == nil {
				unauthorized(w)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{
				UserID:    u.ID,
				Email:     u.Email,
				SessionID: sess.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
