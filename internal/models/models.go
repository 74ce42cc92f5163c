package models

import "time"

type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

func (t ChatType) Valid() bool {
	return t == ChatPrivate || t == ChatGroup
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageAudio, MessageVideo:
		return true
	}
	return false
}

// MessageStatus replaces an is-deleted flag. Every read path filters on
// StatusActive explicitly.
type MessageStatus string

const (
	StatusActive  MessageStatus = "active"
	StatusDeleted MessageStatus = "deleted"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	PublicKey string    `json:"publicKey,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID            string    `json:"id"`
	Type          ChatType  `json:"type"`
	Name          string    `json:"name,omitempty"`
	Description   string    `json:"description,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	Participants  []string  `json:"participants"`
	Admins        []string  `json:"admins"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Reaction struct {
	UserID string    `json:"userId"`
	Emoji  string    `json:"emoji"`
	At     time.Time `json:"at"`
}

type ReadReceipt struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Type           MessageType       `json:"type"`
	IV             string            `json:"iv,omitempty"`
	WrappedKeys    map[string]string `json:"wrappedKeys,omitempty"`
	ReplyTo        string            `json:"replyTo,omitempty"`
	Reactions      []Reaction        `json:"reactions"`
	ReadBy         []ReadReceipt     `json:"readBy"`
	IsEdited       bool              `json:"isEdited"`
	Status         MessageStatus     `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

func (m *Message) IsDeleted() bool {
	return m.Status == StatusDeleted
}
