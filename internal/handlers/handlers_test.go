package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/pliu/sealchat/internal/auth"
	"github.com/pliu/sealchat/internal/keydir"
	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/store/sqlstore"
)

type pushed struct {
	room  string
	users []string
	event string
	data  any
}

type fakeHub struct {
	mu      sync.Mutex
	pushed  []pushed
	evicted []pushed
}

func (f *fakeHub) BroadcastToRoom(conversationID, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, pushed{room: conversationID, event: event, data: data})
}

func (f *fakeHub) SendNotification(userIDs []string, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, pushed{users: userIDs, event: event, data: data})
}

func (f *fakeHub) EvictFromRoom(conversationID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, pushed{room: conversationID, users: userIDs})
}

// evictedFrom returns every user taken out of the room so far.
func (f *fakeHub) evictedFrom(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []string
	for _, e := range f.evicted {
		if e.room == room {
			users = append(users, e.users...)
		}
	}
	return users
}

func (f *fakeHub) last() pushed {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushed) == 0 {
		return pushed{}
	}
	return f.pushed[len(f.pushed)-1]
}

type fakePresence map[string]bool

func (p fakePresence) OnlineUsers() []string {
	var ids []string
	for id, on := range p {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p fakePresence) IsOnline(userID string) bool { return p[userID] }

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testEnv struct {
	router   *mux.Router
	store    *sqlstore.SQLStore
	hub      *fakeHub
	presence fakePresence
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	log, _ := test.NewNullLogger()
	tokens := auth.NewTokens("test-secret", "sealchat", time.Hour)
	svc := service.New(st, service.WithRequireEnvelope(false), service.WithLogger(log))
	env := &testEnv{router: mux.NewRouter(), store: st, hub: &fakeHub{}, presence: fakePresence{}}

	api := &API{
		Auth:     &AuthHandler{Store: st, Tokens: tokens, Log: log},
		Users:    &UserHandler{Store: st, Keys: keydir.New(st, nil, log), Presence: env.presence, Log: log},
		Chats:    &ChatHandler{Service: svc, Hub: env.hub, Log: log},
		Messages: &MessageHandler{Service: svc, Hub: env.hub, Log: log},
	}
	api.Mount(env.router, tokens)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var resp testResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON body %q", method, path, rr.Body.String())
	}
	return rr, resp
}

// register creates a user through the API and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (string, string) {
	t.Helper()
	rr, resp := e.do(t, "POST", "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: got %v: %s", username, rr.Code, resp.Error)
	}
	var result struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatal(err)
	}
	return result.User.ID, result.Token
}

func decodeData(t *testing.T, resp testResponse, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}
