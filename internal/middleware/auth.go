package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/auth"
)

type contextKey string

const (
	UserIDKey  contextKey = "user_id"
	logInfoKey contextKey = "log_info"
)

// logInfo carries values set deeper in the chain back up to
// LoggingMiddleware, which only sees the outer request.
type logInfo struct {
	userID string
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// AuthMiddleware requires a valid bearer token and stores its subject in
// the request context.
func AuthMiddleware(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "not authorized, no token")
				return
			}
			userID, err := tokens.Verify(raw)
			if err != nil {
				unauthorized(w, apperr.Public(err))
				return
			}
			if info, ok := r.Context().Value(logInfoKey).(*logInfo); ok {
				info.userID = userID
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
