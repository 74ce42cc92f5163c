// Package membership decides who may read, write and administer a
// conversation. Every function is a pure function of conversation state.
package membership

import (
	"strings"
	"time"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/models"
)

// EditWindow is how long after creation a sender may still edit a message.
const EditWindow = 15 * time.Minute

const (
	maxNameLen        = 50
	maxDescriptionLen = 200
)

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func IsParticipant(c *models.Conversation, userID string) bool {
	return c != nil && userID != "" && contains(c.Participants, userID)
}

// IsAdmin is always false for private conversations.
func IsAdmin(c *models.Conversation, userID string) bool {
	return c != nil && c.Type == models.ChatGroup && contains(c.Admins, userID)
}

// CanModify reports whether userID may edit name, description or avatar.
// Private conversations have no editable metadata.
func CanModify(c *models.Conversation, userID string) bool {
	return c != nil && c.Type == models.ChatGroup && IsAdmin(c, userID)
}

func CanAddParticipant(c *models.Conversation, actorID string) bool {
	return CanModify(c, actorID)
}

// CanRemoveParticipant allows admins to remove anyone and any participant to
// remove themselves. Only group membership is mutable, and the creator
// always stays a participant.
func CanRemoveParticipant(c *models.Conversation, actorID, targetID string) bool {
	if c == nil || c.Type != models.ChatGroup || targetID == c.CreatedBy {
		return false
	}
	if actorID == targetID {
		return IsParticipant(c, actorID)
	}
	return IsAdmin(c, actorID)
}

func CanDeleteConversation(c *models.Conversation, userID string) bool {
	return c != nil && (c.CreatedBy == userID || IsAdmin(c, userID))
}

func CanDeleteMessage(c *models.Conversation, m *models.Message, userID string) bool {
	if m == nil {
		return false
	}
	return m.SenderID == userID || IsAdmin(c, userID)
}

// CanEditMessage checks sender identity and the edit window. A message is
// editable up to and including exactly EditWindow after creation.
func CanEditMessage(m *models.Message, userID string, now time.Time) error {
	if m == nil || m.SenderID != userID {
		return apperr.Forbidden("you can only edit your own messages")
	}
	if now.Sub(m.CreatedAt) > EditWindow {
		return apperr.Invalid("cannot edit messages older than 15 minutes")
	}
	return nil
}

// NewConversationInput carries the caller-supplied fields of a new
// conversation. Participants are the other members; the creator is added.
type NewConversationInput struct {
	Type         models.ChatType
	CreatorID    string
	Participants []string
	Name         string
	Description  string
	Avatar       string
}

// NewConversation validates the creation invariants and returns a
// conversation with the creator force-added to participants and, for
// groups, to admins. IDs and timestamps are left to the caller.
func NewConversation(in NewConversationInput) (*models.Conversation, error) {
	if !in.Type.Valid() {
		return nil, apperr.Invalid("chat type must be either private or group")
	}
	if in.CreatorID == "" {
		return nil, apperr.Unauthenticated("missing creator")
	}

	others := make([]string, 0, len(in.Participants))
	for _, p := range in.Participants {
		p = strings.TrimSpace(p)
		if p == "" || p == in.CreatorID || contains(others, p) {
			continue
		}
		others = append(others, p)
	}

	name := strings.TrimSpace(in.Name)
	desc := strings.TrimSpace(in.Description)

	switch in.Type {
	case models.ChatPrivate:
		if len(others) != 1 {
			return nil, apperr.Invalid("private chats must have exactly one other participant")
		}
		// Private chats carry no metadata.
		name, desc = "", ""
		in.Avatar = ""
	case models.ChatGroup:
		if len(others) < 1 {
			return nil, apperr.Invalid("group chats must have at least 2 participants")
		}
		if name == "" {
			return nil, apperr.Invalid("group chats require a name")
		}
	}
	if err := ValidateMetadata(name, desc); err != nil {
		return nil, err
	}

	c := &models.Conversation{
		Type:         in.Type,
		Name:         name,
		Description:  desc,
		Avatar:       in.Avatar,
		Participants: append([]string{in.CreatorID}, others...),
		Admins:       []string{},
		CreatedBy:    in.CreatorID,
	}
	if in.Type == models.ChatGroup {
		c.Admins = []string{in.CreatorID}
	}
	return c, nil
}

func ValidateMetadata(name, description string) error {
	if len([]rune(name)) > maxNameLen {
		return apperr.Invalid("chat name must be less than 50 characters")
	}
	if len([]rune(description)) > maxDescriptionLen {
		return apperr.Invalid("description must be less than 200 characters")
	}
	return nil
}

// PairKey is the order-independent identity of a private conversation.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
