// Package apperr is the error taxonomy shared by the REST and socket paths.
package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindEncryption     Kind = "ENCRYPTION"
	KindKeyNotFound    Kind = "KEY_NOT_FOUND"
	KindDecryption     Kind = "DECRYPTION"
	KindStorage        Kind = "STORAGE"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrEncryption     = &Error{Kind: KindEncryption}
	ErrKeyNotFound    = &Error{Kind: KindKeyNotFound}
	ErrDecryption     = &Error{Kind: KindDecryption}
	ErrStorage        = &Error{Kind: KindStorage}
)

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Unauthenticated(msg string) error { return New(KindAuthentication, msg) }
func Forbidden(msg string) error       { return New(KindAuthorization, msg) }
func Invalid(msg string) error         { return New(KindValidation, msg) }
func NotFound(msg string) error        { return New(KindNotFound, msg) }
func Conflict(msg string) error        { return New(KindConflict, msg) }

// Storage wraps a persistence failure. sql.ErrNoRows is reported as NotFound
// using msg as the subject, e.g. Storage("message", err).
func Storage(subject string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(KindNotFound, subject+" not found")
	}
	return Wrap(KindStorage, subject+" storage failure", err)
}

// KindOf returns the kind of err, or KindStorage for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStorage
}

// HTTPStatus maps err to the REST status for its kind.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindEncryption, KindKeyNotFound, KindDecryption:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message safe to hand to a client. Causes are never
// exposed.
func Public(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return "internal error"
	}
	return ae.Message
}
