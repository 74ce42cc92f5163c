// Package e2e implements the hybrid message encryption scheme: one random
// AES-256-CBC key per message, wrapped with RSA-OAEP-SHA256 for every
// recipient.
package e2e

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"

	"github.com/pliu/sealchat/internal/apperr"
)

// KeyBits is the RSA modulus size of identity keys.
const KeyBits = 2048

type IdentityKeypair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

func GenerateIdentityKeypair() (*IdentityKeypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEncryption, "generate identity keypair", err)
	}
	return &IdentityKeypair{Public: &priv.PublicKey, Private: priv}, nil
}

// EncodePublicKey returns the base64 SPKI form published to the directory.
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", apperr.Wrap(apperr.KindEncryption, "encode public key", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "public key is not base64", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "public key is not SPKI", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, apperr.Invalid("public key is not RSA")
	}
	if pub.N.BitLen() < KeyBits {
		return nil, apperr.Invalid("public key must be at least 2048 bits")
	}
	return pub, nil
}

// EncodePrivateKey returns the base64 PKCS#8 form kept in the local keyring.
func EncodePrivateKey(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", apperr.Wrap(apperr.KindEncryption, "encode private key", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func ParsePrivateKey(encoded string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDecryption, "private key is not base64", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDecryption, "private key is not PKCS#8", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, apperr.New(apperr.KindDecryption, "private key is not RSA")
	}
	return priv, nil
}
