package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/membership"
	"github.com/pliu/sealchat/internal/metrics"
	"github.com/pliu/sealchat/internal/models"
)

type SendInput struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type,omitempty"`
	ReplyTo        string             `json:"replyTo,omitempty"`
	IV             string             `json:"iv"`
	WrappedKeys    map[string]string  `json:"wrappedKeys"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// MessagePage holds one page of active messages, oldest first.
type MessagePage struct {
	Data       []models.Message `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// validateContent bounds plaintext by characters and enveloped content,
// which is base64 ciphertext, by bytes.
func validateContent(content string, encrypted bool) error {
	if content == "" {
		return apperr.Invalid("message content is required")
	}
	if encrypted {
		if len(content) > maxCiphertextLen {
			return apperr.Invalid("encrypted message content is too long")
		}
		return nil
	}
	if runeLen(content) > maxContentLen {
		return apperr.Invalid("message content must be at most 10000 characters")
	}
	return nil
}

// SendMessage persists a message from senderID and moves the conversation's
// last-message pointer. Nothing is stored when any check fails.
func (s *Service) SendMessage(ctx context.Context, senderID string, in SendInput) (*models.Message, error) {
	if err := validateContent(in.Content, in.IV != ""); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return nil, apperr.Invalid("invalid message type")
	}

	c, err := s.participantConversation(ctx, in.ConversationID, senderID)
	if err != nil {
		return nil, err
	}

	if in.ReplyTo != "" {
		parent, err := s.store.GetMessage(ctx, in.ReplyTo)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Invalid("reply target not found")
			}
			return nil, err
		}
		if parent.ConversationID != c.ID {
			return nil, apperr.Invalid("reply target belongs to another conversation")
		}
	}

	keys, err := s.checkEnvelope(c, in)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	m := &models.Message{
		ID:             s.newID(),
		ConversationID: c.ID,
		SenderID:       senderID,
		Content:        in.Content,
		Type:           in.Type,
		IV:             in.IV,
		WrappedKeys:    keys,
		ReplyTo:        in.ReplyTo,
		Reactions:      []models.Reaction{},
		ReadBy:         []models.ReadReceipt{},
		Status:         models.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, c.ID, m.ID, now); err != nil {
		// The message is stored; a stale pointer only affects ordering.
		s.log.WithFields(logrus.Fields{
			"conversation_id": c.ID,
			"message_id":      m.ID,
		}).WithError(err).Warn("Failed to update last message")
	}

	metrics.MessagesStoredTotal.WithLabelValues(string(c.Type)).Inc()
	metrics.MessagesCiphertextBytes.WithLabelValues(string(c.Type)).Observe(float64(len(in.Content)))
	return m, nil
}

// checkEnvelope returns the wrapped keys to store, restricted to current
// participants.
func (s *Service) checkEnvelope(c *models.Conversation, in SendInput) (map[string]string, error) {
	keys := make(map[string]string, len(c.Participants))
	for _, p := range c.Participants {
		if k := strings.TrimSpace(in.WrappedKeys[p]); k != "" {
			keys[p] = k
		}
	}
	if !s.requireEnvelope {
		return keys, nil
	}
	if in.IV == "" {
		return nil, apperr.New(apperr.KindEncryption, "missing encryption data for end-to-end encryption")
	}
	for _, p := range c.Participants {
		if _, ok := keys[p]; !ok {
			return nil, apperr.New(apperr.KindEncryption, fmt.Sprintf("missing wrapped key for participant %s", p))
		}
	}
	return keys, nil
}

// EditMessage replaces the content of userID's own message within the edit
// window.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, content string) (*models.Message, error) {
	m, err := s.messageForParticipant(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := validateContent(content, m.IV != ""); err != nil {
		return nil, err
	}
	now := s.clock()
	if err := membership.CanEditMessage(m, userID, now); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessageContent(ctx, m.ID, content, now); err != nil {
		return nil, err
	}
	return s.store.GetMessage(ctx, m.ID)
}

// DeleteMessage soft-deletes a message. It returns the message as it was
// before deletion so callers know which room to notify.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	c, err := s.participantConversation(ctx, m.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !membership.CanDeleteMessage(c, m, userID) {
		return nil, apperr.Forbidden("you can only delete your own messages")
	}
	if err := s.store.SoftDeleteMessage(ctx, m.ID, s.clock()); err != nil {
		return nil, err
	}
	return m, nil
}

// messageForParticipant loads an active message and checks that userID
// participates in its conversation.
func (s *Service) messageForParticipant(ctx context.Context, userID, messageID string) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.participantConversation(ctx, m.ConversationID, userID); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkAsRead records a read receipt. Repeating it keeps the first receipt.
func (s *Service) MarkAsRead(ctx context.Context, userID, conversationID, messageID string) error {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.ConversationID != conversationID {
		return apperr.NotFound("message not found")
	}
	return s.store.AddReadReceipt(ctx, m.ID, models.ReadReceipt{UserID: userID, At: s.clock()})
}

func (s *Service) AddReaction(ctx context.Context, userID, messageID, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if n := runeLen(emoji); n == 0 || n > maxEmojiLen {
		return nil, apperr.Invalid("emoji must be between 1 and 10 characters")
	}
	m, err := s.messageForParticipant(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertReaction(ctx, m.ID, models.Reaction{UserID: userID, Emoji: emoji, At: s.clock()}); err != nil {
		return nil, err
	}
	return s.store.GetMessage(ctx, m.ID)
}

// RemoveReaction is a no-op when userID never reacted with emoji.
func (s *Service) RemoveReaction(ctx context.Context, userID, messageID, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, apperr.Invalid("emoji is required")
	}
	m, err := s.messageForParticipant(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteReaction(ctx, m.ID, userID, emoji); err != nil {
		return nil, err
	}
	return s.store.GetMessage(ctx, m.ID)
}

// GetMessages returns page (1-based) of the conversation's active messages
// in chronological order. Non-positive page or limit fall back to defaults.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID string, page, limit int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountMessages(ctx, conversationID, false)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return &MessagePage{
		Data: msgs,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

// AuditMessageCount counts every message ever stored in the conversation,
// deleted ones included.
func (s *Service) AuditMessageCount(ctx context.Context, userID, conversationID string) (int, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.store.CountMessages(ctx, conversationID, true)
}
