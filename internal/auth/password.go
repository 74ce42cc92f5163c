package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/sealchat/internal/apperr"
)

const minPasswordLen = 6

func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", apperr.Invalid("password must be at least 6 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "password cannot be hashed", err)
	}
	return string(hashed), nil
}

// CheckPassword reports a generic authentication error on mismatch so
// callers cannot tell unknown users from wrong passwords.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperr.Unauthenticated("invalid credentials")
	}
	return nil
}
