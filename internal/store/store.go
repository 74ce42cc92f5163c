package store

import (
	"context"
	"time"

	"github.com/pliu/sealchat/internal/models"
)

// Store is the document store consumed by the messaging core. Lookups of
// missing records return an apperr NotFound; other failures are Storage.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
	SetPublicKey(ctx context.Context, userID, publicKey string) error
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error

	// Conversation operations
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindPrivateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, c *models.Conversation) error
	AddParticipant(ctx context.Context, conversationID, userID string, at time.Time) error
	RemoveParticipant(ctx context.Context, conversationID, userID string, at time.Time) error
	TouchConversation(ctx context.Context, conversationID, lastMessageID string, at time.Time) error
	DeleteConversation(ctx context.Context, id string) error

	// Message operations. Every read filters to active messages.
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationID string, includeDeleted bool) (int, error)
	UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) error
	UpsertReaction(ctx context.Context, messageID string, r models.Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) error
	AddReadReceipt(ctx context.Context, messageID string, r models.ReadReceipt) error
}
