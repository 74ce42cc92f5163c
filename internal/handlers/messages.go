package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/ws"
)

// MessageHandler mirrors the socket message events over REST. Every
// mutation is pushed to the conversation room.
type MessageHandler struct {
	Service *service.Service
	Hub     Notifier
	Log     logrus.FieldLogger
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.Service.GetMessages(r.Context(), userID, mux.Vars(r)["conversationId"], page, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result, "")
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var in service.SendInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.Log, err)
		return
	}
	msg, err := h.Service.SendMessage(r.Context(), userID, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.BroadcastToRoom(msg.ConversationID, ws.EventMessage, msg)
	writeJSON(w, http.StatusCreated, msg, "Message sent successfully")
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.Log, err)
		return
	}
	msg, err := h.Service.EditMessage(r.Context(), userID, mux.Vars(r)["id"], body.Content)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.BroadcastToRoom(msg.ConversationID, ws.EventMessageUpdated, msg)
	writeJSON(w, http.StatusOK, msg, "Message updated successfully")
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	msg, err := h.Service.DeleteMessage(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.BroadcastToRoom(msg.ConversationID, ws.EventMessageDeleted, msg.ID)
	writeJSON(w, http.StatusOK, nil, "Message deleted successfully")
}

// MarkAsRead takes the conversation from the body when given, otherwise from
// the message itself.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	messageID := mux.Vars(r)["id"]
	if body.ConversationID == "" {
		msg, err := h.Service.Store().GetMessage(r.Context(), messageID)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		body.ConversationID = msg.ConversationID
	}
	if err := h.Service.MarkAsRead(r.Context(), userID, body.ConversationID, messageID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "Message marked as read")
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.Log, err)
		return
	}
	msg, err := h.Service.AddReaction(r.Context(), userID, mux.Vars(r)["id"], body.Emoji)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.BroadcastToRoom(msg.ConversationID, ws.EventMessageUpdated, msg)
	writeJSON(w, http.StatusOK, msg, "")
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	vars := mux.Vars(r)
	msg, err := h.Service.RemoveReaction(r.Context(), userID, vars["id"], vars["emoji"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.BroadcastToRoom(msg.ConversationID, ws.EventMessageUpdated, msg)
	writeJSON(w, http.StatusOK, msg, "")
}
