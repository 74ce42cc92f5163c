package service

import (
	"context"
	"errors"
	"strings"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/membership"
	"github.com/pliu/sealchat/internal/models"
)

// CreateConversation creates a conversation owned by creatorID. A private
// conversation that already exists for the pair is returned instead, with
// created false.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, in membership.NewConversationInput) (c *models.Conversation, created bool, err error) {
	in.CreatorID = creatorID
	c, err = membership.NewConversation(in)
	if err != nil {
		return nil, false, err
	}

	for _, p := range c.Participants[1:] {
		if _, err := s.store.GetUserByID(ctx, p); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, false, apperr.Invalid("one or more participants not found")
			}
			return nil, false, err
		}
	}

	if c.Type == models.ChatPrivate {
		existing, err := s.store.FindPrivateConversation(ctx, c.Participants[0], c.Participants[1])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, err
		}
	}

	now := s.clock()
	c.ID = s.newID()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := s.store.CreateConversation(ctx, c); err != nil {
		// Lost a create race for the same pair.
		if c.Type == models.ChatPrivate && errors.Is(err, apperr.ErrConflict) {
			existing, ferr := s.store.FindPrivateConversation(ctx, c.Participants[0], c.Participants[1])
			if ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return c, true, nil
}

// ListConversations returns userID's conversations, most recently updated
// first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	return s.participantConversation(ctx, conversationID, userID)
}

// UpdateInput carries optional metadata changes; nil fields are untouched.
type UpdateInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

func (s *Service) UpdateConversation(ctx context.Context, userID, conversationID string, in UpdateInput) (*models.Conversation, error) {
	c, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !membership.CanModify(c, userID) {
		return nil, apperr.Forbidden("only admins can update group chats")
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Invalid("group chats require a name")
		}
		c.Name = name
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.Avatar != nil {
		c.Avatar = *in.Avatar
	}
	if err := membership.ValidateMetadata(c.Name, c.Description); err != nil {
		return nil, err
	}

	c.UpdatedAt = s.clock()
	if err := s.store.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteConversation removes the conversation with all of its messages. The
// deleted conversation is returned so its participants can be notified.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !membership.CanDeleteConversation(c, userID) {
		return nil, apperr.Forbidden("only the creator or admins can delete this chat")
	}
	if err := s.store.DeleteConversation(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) AddParticipant(ctx context.Context, actorID, conversationID, userID string) (*models.Conversation, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !membership.CanAddParticipant(c, actorID) {
		return nil, apperr.Forbidden("only admins can add participants")
	}
	if membership.IsParticipant(c, userID) {
		return nil, apperr.Conflict("user is already a participant")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.AddParticipant(ctx, c.ID, userID, s.clock()); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, c.ID)
}

// RemoveParticipant removes targetID, who also loses admin rights. Admins
// may remove anyone but the creator; other participants may only leave.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, conversationID, targetID string) (*models.Conversation, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !membership.CanRemoveParticipant(c, actorID, targetID) {
		if targetID == c.CreatedBy && membership.IsParticipant(c, actorID) {
			return nil, apperr.Forbidden("the group creator cannot be removed")
		}
		return nil, apperr.Forbidden("only admins can remove other participants")
	}
	if !membership.IsParticipant(c, targetID) {
		return nil, apperr.NotFound("user is not a participant")
	}
	if err := s.store.RemoveParticipant(ctx, c.ID, targetID, s.clock()); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, c.ID)
}
