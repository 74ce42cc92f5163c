package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/middleware"
)

// Response is the body of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notifier fans REST-originated changes out to live sockets.
type Notifier interface {
	BroadcastToRoom(conversationID, event string, data any)
	SendNotification(userIDs []string, event string, data any)
	EvictFromRoom(conversationID string, userIDs ...string)
}

// PresenceView answers who is connected right now.
type PresenceView interface {
	OnlineUsers() []string
	IsOnline(userID string) bool
}

func writeJSON(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.WithError(err).Error("Request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Success: false, Error: apperr.Public(err)})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("invalid request body")
	}
	return nil
}

// currentUser returns the authenticated user id. Routes are always wrapped
// in the auth middleware, so a missing id is a wiring bug reported as 401.
func currentUser(r *http.Request) (string, error) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		return "", apperr.Unauthenticated("not authorized")
	}
	return userID, nil
}
