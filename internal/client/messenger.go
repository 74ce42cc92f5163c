package client

import (
	"context"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/e2e"
	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/service"
)

// Messenger encrypts outgoing messages for every participant of a
// conversation and decrypts incoming ones with the local identity key.
type Messenger struct {
	api     *API
	keyring *e2e.Keyring
	keys    *e2e.KeyCache

	userID   string
	identity *e2e.IdentityKeypair
}

func NewMessenger(api *API, keyring *e2e.Keyring) *Messenger {
	return &Messenger{api: api, keyring: keyring, keys: e2e.NewKeyCache(api)}
}

// Init loads or creates userID's keypair and publishes the public half if
// the directory does not already hold it.
func (m *Messenger) Init(ctx context.Context, userID string) error {
	kp, _, err := m.keyring.LoadOrCreate(userID)
	if err != nil {
		return err
	}
	encoded, err := e2e.EncodePublicKey(kp.Public)
	if err != nil {
		return err
	}
	published, err := m.api.FetchPublicKey(ctx, userID)
	if err != nil {
		return err
	}
	if published != encoded {
		if err := m.api.PublishPublicKey(ctx, encoded); err != nil {
			return err
		}
		m.keys.Invalidate(userID)
	}
	m.userID = userID
	m.identity = kp
	return nil
}

// Encrypt builds the send payload for conversationID. Every participant,
// the sender included, gets a wrapped key.
func (m *Messenger) Encrypt(ctx context.Context, conversationID, plaintext string) (service.SendInput, error) {
	if m.identity == nil {
		return service.SendInput{}, apperr.New(apperr.KindEncryption, "encryption not initialised")
	}
	c, err := m.api.GetConversation(ctx, conversationID)
	if err != nil {
		return service.SendInput{}, err
	}
	recipients, err := m.keys.GetAll(ctx, c.Participants)
	if err != nil {
		return service.SendInput{}, err
	}
	env, err := e2e.EncryptForRecipients(plaintext, recipients)
	if err != nil {
		return service.SendInput{}, err
	}
	return service.SendInput{
		ConversationID: conversationID,
		Content:        env.Ciphertext,
		Type:           models.MessageText,
		IV:             env.IV,
		WrappedKeys:    env.WrappedKeys,
	}, nil
}

func (m *Messenger) Decrypt(msg *models.Message) (string, error) {
	if m.identity == nil {
		return "", apperr.New(apperr.KindDecryption, "encryption not initialised")
	}
	return e2e.Decrypt(&e2e.Envelope{
		Ciphertext:  msg.Content,
		IV:          msg.IV,
		WrappedKeys: msg.WrappedKeys,
	}, m.userID, m.identity.Private)
}
