package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/auth"
	"github.com/pliu/sealchat/internal/e2e"
	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/store"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Store  store.Store
	Tokens *auth.Tokens
	Log    logrus.FieldLogger
}

type authResult struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		PublicKey string `json:"publicKey"`
	}

	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if n := len([]rune(req.Username)); n < 3 || n > 30 {
		writeError(w, h.Log, apperr.Invalid("username must be between 3 and 30 characters"))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, h.Log, apperr.Invalid("please provide a valid email"))
		return
	}
	if req.PublicKey != "" {
		if _, err := e2e.ParsePublicKey(req.PublicKey); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Email:     req.Email,
		Password:  hashed,
		PublicKey: req.PublicKey,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.respondWithToken(w, http.StatusCreated, user, "User registered successfully")
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		writeError(w, h.Log, apperr.Invalid("please provide username and password"))
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), creds.Username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			err = apperr.Unauthenticated("invalid credentials")
		}
		writeError(w, h.Log, err)
		return
	}
	if err := auth.CheckPassword(user.Password, creds.Password); err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.respondWithToken(w, http.StatusOK, user, "Login successful")
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	user, err := h.Store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, user, "")
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user *models.User, message string) {
	token, exp, err := h.Tokens.Issue(user.ID)
	if err != nil {
		writeError(w, h.Log, apperr.Wrap(apperr.KindStorage, "token could not be issued", err))
		return
	}
	writeJSON(w, status, authResult{User: user, Token: token, ExpiresAt: exp}, message)
}
