package e2e

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Keyring persists private identity keys on the local machine, one file per
// user. A lost file cannot be recovered: content encrypted for that identity
// becomes unreadable.
type Keyring struct {
	dir string
}

func NewKeyring(dir string) (*Keyring, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keyring dir: %w", err)
	}
	return &Keyring{dir: dir}, nil
}

func (k *Keyring) path(userID string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, userID)
	return filepath.Join(k.dir, "keypair_"+safe+".key")
}

// Load returns the stored keypair for userID, or nil if none exists.
func (k *Keyring) Load(userID string) (*IdentityKeypair, error) {
	data, err := os.ReadFile(k.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	priv, err := ParsePrivateKey(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	return &IdentityKeypair{Public: &priv.PublicKey, Private: priv}, nil
}

func (k *Keyring) Store(userID string, kp *IdentityKeypair) error {
	encoded, err := EncodePrivateKey(kp.Private)
	if err != nil {
		return err
	}
	if err := os.WriteFile(k.path(userID), []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// LoadOrCreate returns the stored keypair or generates and stores a new one.
// created reports whether the public half still needs publishing.
func (k *Keyring) LoadOrCreate(userID string) (kp *IdentityKeypair, created bool, err error) {
	kp, err = k.Load(userID)
	if err != nil || kp != nil {
		return kp, false, err
	}
	logrus.WithField("user_id", userID).Info("Generating new identity keypair")
	kp, err = GenerateIdentityKeypair()
	if err != nil {
		return nil, false, err
	}
	if err := k.Store(userID, kp); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

func (k *Keyring) Clear(userID string) error {
	err := os.Remove(k.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
