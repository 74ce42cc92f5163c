package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/keydir"
	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/store"
)

const maxSearchLength = 50

type UserHandler struct {
	Store    store.Store
	Keys     *keydir.Directory
	Presence PresenceView
	Log      logrus.FieldLogger
}

type publicKeyBody struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
}

func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" || len([]rune(q)) > maxSearchLength {
		writeError(w, h.Log, apperr.Invalid("search query must be between 1 and 50 characters"))
		return
	}

	found, err := h.Store.SearchUsers(r.Context(), q)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	users := make([]models.User, 0, len(found))
	for _, u := range found {
		if u.ID == userID {
			continue
		}
		u.IsOnline = h.Presence.IsOnline(u.ID)
		users = append(users, u)
	}
	writeJSON(w, http.StatusOK, users, "")
}

func (h *UserHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"userIds": h.Presence.OnlineUsers()}, "")
}

// GetUser resolves "me" to the caller.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.resolveID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	user, err := h.Store.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	user.IsOnline = h.Presence.IsOnline(user.ID)
	writeJSON(w, http.StatusOK, user, "")
}

// GetPublicKey answers with an empty key when the user has not published one.
func (h *UserHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	id, err := h.resolveID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	key, err := h.Keys.FetchPublicKey(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyBody{UserID: id, PublicKey: key}, "")
}

func (h *UserHandler) PublishPublicKey(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var body publicKeyBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Keys.Publish(r.Context(), userID, body.PublicKey); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyBody{UserID: userID, PublicKey: body.PublicKey}, "Public key updated")
}

func (h *UserHandler) resolveID(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	if id == "me" || id == "" {
		return currentUser(r)
	}
	return id, nil
}
