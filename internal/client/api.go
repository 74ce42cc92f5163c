package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/models"
)

// API is a small REST client for the /api routes. It satisfies
// e2e.KeyFetcher.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do sends body as JSON and decodes the data field of the reply into out.
// Error replies come back as apperr errors of the matching kind.
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: %s: %w", method, path, resp.Status, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return apperr.New(kindForStatus(resp.StatusCode), msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusUnauthorized:
		return apperr.KindAuthentication
	case http.StatusForbidden:
		return apperr.KindAuthorization
	case http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusUnprocessableEntity:
		return apperr.KindEncryption
	default:
		return apperr.KindStorage
	}
}

type authReply struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates an account and keeps its token for later calls.
func (a *API) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	var reply authReply
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/register", body, &reply); err != nil {
		return nil, err
	}
	a.SetToken(reply.Token)
	return reply.User, nil
}

// Login keeps the returned token for later calls.
func (a *API) Login(ctx context.Context, username, password string) (*models.User, error) {
	var reply authReply
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &reply); err != nil {
		return nil, err
	}
	a.SetToken(reply.Token)
	return reply.User, nil
}

func (a *API) FetchPublicKey(ctx context.Context, userID string) (string, error) {
	var reply struct {
		PublicKey string `json:"publicKey"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/public-key", nil, &reply); err != nil {
		return "", err
	}
	return reply.PublicKey, nil
}

func (a *API) PublishPublicKey(ctx context.Context, publicKey string) error {
	return a.do(ctx, http.MethodPut, "/api/users/me/public-key", map[string]string{"publicKey": publicKey}, nil)
}

func (a *API) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	if err := a.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(conversationID), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation returns the existing private chat when one exists.
func (a *API) CreateConversation(ctx context.Context, chatType models.ChatType, participants []string, name string) (*models.Conversation, error) {
	body := map[string]any{"type": chatType, "participants": participants, "name": name}
	var c models.Conversation
	if err := a.do(ctx, http.MethodPost, "/api/chats", body, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
