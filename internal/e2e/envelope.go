package e2e

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pliu/sealchat/internal/apperr"
)

const (
	symmetricKeySize = 32
	ivSize           = aes.BlockSize
)

// Envelope is the per-message encryption output. Ciphertext and wrapped keys
// are base64, IV is hex.
type Envelope struct {
	Ciphertext  string            `json:"ciphertext"`
	IV          string            `json:"iv"`
	WrappedKeys map[string]string `json:"wrappedKeys"`
}

// EncryptForRecipients encrypts plaintext once and wraps the message key for
// every recipient. It fails without producing a partial envelope if any
// recipient has no public key.
func EncryptForRecipients(plaintext string, recipients map[string]*rsa.PublicKey) (*Envelope, error) {
	if len(recipients) == 0 {
		return nil, apperr.New(apperr.KindEncryption, "no recipients")
	}
	for userID, pub := range recipients {
		if pub == nil {
			return nil, apperr.New(apperr.KindEncryption, fmt.Sprintf("no public key for user %s", userID))
		}
	}

	key := make([]byte, symmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, "generate message key", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, "generate iv", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, "init cipher", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	wrapped := make(map[string]string, len(recipients))
	for userID, pub := range recipients {
		wk, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindEncryption, fmt.Sprintf("wrap key for user %s", userID), err)
		}
		wrapped[userID] = base64.StdEncoding.EncodeToString(wk)
	}

	return &Envelope{
		Ciphertext:  base64.StdEncoding.EncodeToString(out),
		IV:          hex.EncodeToString(iv),
		WrappedKeys: wrapped,
	}, nil
}

// Decrypt opens env for selfUserID. A reader the message was not encrypted
// for gets KeyNotFound; any integrity or format problem is Decryption.
func Decrypt(env *Envelope, selfUserID string, priv *rsa.PrivateKey) (string, error) {
	if env == nil {
		return "", apperr.New(apperr.KindDecryption, "missing envelope")
	}
	encKey, ok := env.WrappedKeys[selfUserID]
	if !ok {
		return "", apperr.New(apperr.KindKeyNotFound, "message was not encrypted for this reader")
	}
	if priv == nil {
		return "", apperr.New(apperr.KindDecryption, "missing private key")
	}

	wk, err := base64.StdEncoding.DecodeString(encKey)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "wrapped key is not base64", err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wk, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "unwrap message key", err)
	}
	if len(key) != symmetricKeySize {
		return "", apperr.New(apperr.KindDecryption, "unwrapped key has wrong size")
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return "", apperr.New(apperr.KindDecryption, "malformed iv")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "ciphertext is not base64", err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", apperr.New(apperr.KindDecryption, "ciphertext is not block aligned")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "init cipher", err)
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, apperr.New(apperr.KindDecryption, "bad padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, apperr.New(apperr.KindDecryption, "bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, apperr.New(apperr.KindDecryption, "bad padding")
		}
	}
	return b[:len(b)-n], nil
}
