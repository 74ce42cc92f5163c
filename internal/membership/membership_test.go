package membership

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/models"
)

func TestNewConversationAddsCreator(t *testing.T) {
	tests := []struct {
		name string
		in   NewConversationInput
	}{
		{"private", NewConversationInput{Type: models.ChatPrivate, CreatorID: "a", Participants: []string{"b"}}},
		{"group", NewConversationInput{Type: models.ChatGroup, CreatorID: "a", Participants: []string{"b", "c"}, Name: "team"}},
		{"group listing creator", NewConversationInput{Type: models.ChatGroup, CreatorID: "a", Participants: []string{"a", "b"}, Name: "team"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConversation(tt.in)
			require.NoError(t, err)
			assert.Contains(t, c.Participants, "a")
			assert.Equal(t, "a", c.CreatedBy)
			if c.Type == models.ChatGroup {
				assert.Equal(t, []string{"a"}, c.Admins)
			} else {
				assert.Empty(t, c.Admins)
			}
		})
	}
}

func TestNewConversationRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		in   NewConversationInput
	}{
		{"private with nobody", NewConversationInput{Type: models.ChatPrivate, CreatorID: "a"}},
		{"private with self only", NewConversationInput{Type: models.ChatPrivate, CreatorID: "a", Participants: []string{"a"}}},
		{"private with two others", NewConversationInput{Type: models.ChatPrivate, CreatorID: "a", Participants: []string{"b", "c"}}},
		{"group alone", NewConversationInput{Type: models.ChatGroup, CreatorID: "a", Name: "solo"}},
		{"group without name", NewConversationInput{Type: models.ChatGroup, CreatorID: "a", Participants: []string{"b"}}},
		{"unknown type", NewConversationInput{Type: "channel", CreatorID: "a", Participants: []string{"b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConversation(tt.in)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestNewConversationDropsDuplicates(t *testing.T) {
	c, err := NewConversation(NewConversationInput{
		Type: models.ChatGroup, CreatorID: "a", Participants: []string{"b", "b", " c "}, Name: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, c.Participants)
}

func TestPrivateHasNoAdmin(t *testing.T) {
	c := &models.Conversation{Type: models.ChatPrivate, Participants: []string{"a", "b"}, Admins: []string{"a"}, CreatedBy: "a"}

	assert.True(t, IsParticipant(c, "b"))
	assert.False(t, IsAdmin(c, "a"))
	assert.False(t, CanModify(c, "a"))
	assert.False(t, CanAddParticipant(c, "a"))
	assert.False(t, CanRemoveParticipant(c, "a", "a"))
}

func TestGroupRules(t *testing.T) {
	c := &models.Conversation{Type: models.ChatGroup, Participants: []string{"a", "b", "c"}, Admins: []string{"a"}, CreatedBy: "a"}

	assert.True(t, CanModify(c, "a"))
	assert.False(t, CanModify(c, "b"))
	assert.True(t, CanAddParticipant(c, "a"))
	assert.False(t, CanAddParticipant(c, "b"))
	assert.True(t, CanRemoveParticipant(c, "a", "c"))
	assert.False(t, CanRemoveParticipant(c, "b", "c"))
	assert.True(t, CanRemoveParticipant(c, "b", "b"), "anyone may leave")
	assert.False(t, CanRemoveParticipant(c, "z", "z"), "outsiders cannot leave")
	assert.False(t, CanRemoveParticipant(c, "a", "a"), "the creator cannot leave")
	assert.True(t, CanDeleteConversation(c, "a"))
	assert.False(t, CanDeleteConversation(c, "b"))

	c.Admins = []string{"a", "b"}
	assert.False(t, CanRemoveParticipant(c, "b", "a"), "no admin can remove the creator")
	assert.True(t, CanRemoveParticipant(c, "b", "c"))
}

func TestCanDeleteMessage(t *testing.T) {
	c := &models.Conversation{Type: models.ChatGroup, Participants: []string{"a", "b", "c"}, Admins: []string{"a"}}
	m := &models.Message{SenderID: "b"}

	assert.True(t, CanDeleteMessage(c, m, "b"))
	assert.True(t, CanDeleteMessage(c, m, "a"))
	assert.False(t, CanDeleteMessage(c, m, "c"))
}

func TestCanEditMessageWindow(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := &models.Message{SenderID: "a", CreatedAt: created}

	assert.NoError(t, CanEditMessage(m, "a", created.Add(14*time.Minute+59*time.Second)))
	assert.NoError(t, CanEditMessage(m, "a", created.Add(15*time.Minute)))

	err := CanEditMessage(m, "a", created.Add(15*time.Minute+time.Second))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	err = CanEditMessage(m, "b", created.Add(time.Second))
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("x", "y"), PairKey("y", "x"))
}
