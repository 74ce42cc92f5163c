// Package service enforces the messaging rules shared by the socket
// dispatcher and the REST handlers.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/membership"
	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	maxContentLen = 10000
	maxEmojiLen   = 10

	// maxCiphertextLen bounds enveloped content: base64 of the padded
	// AES-CBC ciphertext of maxContentLen four-byte characters.
	maxCiphertextLen = ((maxContentLen*4/16+1)*16 + 2) / 3 * 4
)

type Service struct {
	store           store.Store
	log             logrus.FieldLogger
	now             func() time.Time
	newID           func() string
	requireEnvelope bool
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRequireEnvelope controls whether sends must carry an IV and a wrapped
// key for every participant.
func WithRequireEnvelope(require bool) Option {
	return func(s *Service) { s.requireEnvelope = require }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:           st,
		log:             logrus.StandardLogger(),
		now:             time.Now,
		newID:           uuid.NewString,
		requireEnvelope: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// participantConversation loads a conversation and checks that userID is a
// member of it.
func (s *Service) participantConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, apperr.Invalid("conversation id is required")
	}
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !membership.IsParticipant(c, userID) {
		return nil, apperr.Forbidden("access denied")
	}
	return c, nil
}

func runeLen(s string) int {
	return len([]rune(s))
}
