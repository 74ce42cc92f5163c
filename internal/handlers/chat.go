package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/membership"
	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/ws"
)

type ChatHandler struct {
	Service *service.Service
	Hub     Notifier
	Log     logrus.FieldLogger
}

type CreateChatRequest struct {
	Type         models.ChatType `json:"type"`
	Participants []string        `json:"participants"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Avatar       string          `json:"avatar"`
}

func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	chats, err := h.Service.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, chats, "")
}

// CreateChat answers 200 instead of 201 when an existing private chat is
// returned.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req CreateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	chat, created, err := h.Service.CreateConversation(r.Context(), userID, membership.NewConversationInput{
		Type:         req.Type,
		CreatorID:    userID,
		Participants: req.Participants,
		Name:         req.Name,
		Description:  req.Description,
		Avatar:       req.Avatar,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, chat, "Chat already exists")
		return
	}

	h.Hub.SendNotification(chat.Participants, ws.EventChatCreated, chat)
	writeJSON(w, http.StatusCreated, chat, "Chat created successfully")
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	chat, err := h.Service.GetConversation(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, chat, "")
}

func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var in service.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.Log, err)
		return
	}
	chat, err := h.Service.UpdateConversation(r.Context(), userID, mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.SendNotification(chat.Participants, ws.EventChatUpdated, chat)
	writeJSON(w, http.StatusOK, chat, "Chat updated successfully")
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	chat, err := h.Service.DeleteConversation(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.EvictFromRoom(chat.ID, chat.Participants...)
	writeJSON(w, http.StatusOK, nil, "Chat deleted successfully")
}

func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if body.UserID == "" {
		writeError(w, h.Log, apperr.Invalid("userId is required"))
		return
	}
	chat, err := h.Service.AddParticipant(r.Context(), userID, mux.Vars(r)["id"], body.UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.SendNotification(chat.Participants, ws.EventChatUpdated, chat)
	writeJSON(w, http.StatusOK, chat, "Participant added successfully")
}

// RemoveParticipant also notifies the removed user so their client can drop
// the chat.
func (h *ChatHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	vars := mux.Vars(r)
	chat, err := h.Service.RemoveParticipant(r.Context(), userID, vars["id"], vars["userId"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Hub.EvictFromRoom(chat.ID, vars["userId"])
	notify := append([]string{vars["userId"]}, chat.Participants...)
	h.Hub.SendNotification(notify, ws.EventChatUpdated, chat)
	writeJSON(w, http.StatusOK, chat, "Participant removed successfully")
}

// AuditCounts reports active messages next to every stored message,
// deleted ones included.
func (h *ChatHandler) AuditCounts(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	id := mux.Vars(r)["id"]
	all, err := h.Service.AuditMessageCount(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	active, err := h.Service.Store().CountMessages(r.Context(), id, false)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active": active, "total": all}, "")
}
