package ws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/service"
)

// Client to server events.
const (
	EventJoinChat       = "joinChat"
	EventLeaveChat      = "leaveChat"
	EventSendMessage    = "sendMessage"
	EventEditMessage    = "editMessage"
	EventDeleteMessage  = "deleteMessage"
	EventTyping         = "typing"
	EventMarkAsRead     = "markAsRead"
	EventAddReaction    = "addReaction"
	EventRemoveReaction = "removeReaction"
)

// Server to client events. EventTyping is shared.
const (
	EventMessage        = "message"
	EventMessageUpdated = "messageUpdated"
	EventMessageDeleted = "messageDeleted"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
	EventChatCreated    = "chatCreated"
	EventChatUpdated    = "chatUpdated"
	EventError          = "error"
)

// Frame is the envelope of every websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is one decoded client request.
type Event interface {
	Name() string
}

type JoinChat struct{ ConversationID string }

type LeaveChat struct{ ConversationID string }

type SendMessage struct{ service.SendInput }

type EditMessage struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessage struct{ MessageID string }

type Typing struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkAsRead struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type AddReaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type RemoveReaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (JoinChat) Name() string       { return EventJoinChat }
func (LeaveChat) Name() string      { return EventLeaveChat }
func (SendMessage) Name() string    { return EventSendMessage }
func (EditMessage) Name() string    { return EventEditMessage }
func (DeleteMessage) Name() string  { return EventDeleteMessage }
func (Typing) Name() string         { return EventTyping }
func (MarkAsRead) Name() string     { return EventMarkAsRead }
func (AddReaction) Name() string    { return EventAddReaction }
func (RemoveReaction) Name() string { return EventRemoveReaction }

// Server payloads.

type TypingNotice struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// Decode parses a client frame into its event. Unknown events and
// malformed payloads are validation errors.
func Decode(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, apperr.Invalid("malformed frame")
	}

	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EventJoinChat:
		var id string
		id, err = decodeID(f.Data, "conversation id")
		ev = JoinChat{ConversationID: id}
	case EventLeaveChat:
		var id string
		id, err = decodeID(f.Data, "conversation id")
		ev = LeaveChat{ConversationID: id}
	case EventDeleteMessage:
		var id string
		id, err = decodeID(f.Data, "message id")
		ev = DeleteMessage{MessageID: id}
	case EventSendMessage:
		var m SendMessage
		if err = decodeObject(f.Data, &m.SendInput); err == nil {
			err = requireField(m.ConversationID, "conversation id")
		}
		ev = m
	case EventEditMessage:
		var m EditMessage
		if err = decodeObject(f.Data, &m); err == nil {
			err = requireField(m.MessageID, "message id")
		}
		ev = m
	case EventTyping:
		var m Typing
		if err = decodeObject(f.Data, &m); err == nil {
			err = requireField(m.ConversationID, "conversation id")
		}
		ev = m
	case EventMarkAsRead:
		var m MarkAsRead
		if err = decodeObject(f.Data, &m); err == nil {
			err = requireField(m.ConversationID, "conversation id")
		}
		if err == nil {
			err = requireField(m.MessageID, "message id")
		}
		ev = m
	case EventAddReaction:
		var m AddReaction
		if err = decodeObject(f.Data, &m); err == nil {
			err = requireField(m.MessageID, "message id")
		}
		ev = m
	case EventRemoveReaction:
		var m RemoveReaction
		if err = decodeObject(f.Data, &m); err == nil {
			err = requireField(m.MessageID, "message id")
		}
		ev = m
	case "":
		err = apperr.Invalid("missing event name")
	default:
		err = apperr.Invalid("unknown event " + f.Event)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeID(data json.RawMessage, what string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", apperr.Invalid(what + " must be a string")
	}
	id = strings.TrimSpace(id)
	return id, requireField(id, what)
}

func decodeObject(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Invalid("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("malformed payload")
	}
	return nil
}

func requireField(v, what string) error {
	if v == "" {
		return apperr.Invalid(what + " is required")
	}
	return nil
}

// Encode builds a server frame.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: payload})
}
