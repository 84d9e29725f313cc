package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/brokerdesk/internal/auth"
	"github.com/dukerupert/brokerdesk/internal/session"
	"github.com/dukerupert/brokerdesk/internal/store"
)

// RequireSession validates the session cookie and populates AuthContext with
// the signup that owns the session login. Failures are a JSON 401.
func RequireSession(sessions *session.Manager, signups *store.SignupStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			login, err := sessions.CurrentLogin(r)
			if err != nil {
				unauthorized(w)
				return
			}

			rec, err := signups.GetByLogin(r.Context(), login)
			if err != nil {
				logger.Error("session lookup", "login", login, "error", err)
				unauthorized(w)
				return
			}
			if rec == nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				Login:       login,
				SignupID:    rec.ID,
				Email:       rec.Email,
				AccountType: rec.AccountType(login),
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
