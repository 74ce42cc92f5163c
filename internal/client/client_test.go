package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/auth"
	"github.com/pliu/sealchat/internal/e2e"
	"github.com/pliu/sealchat/internal/handlers"
	"github.com/pliu/sealchat/internal/keydir"
	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/store/sqlstore"
	"github.com/pliu/sealchat/internal/ws"
)

type testServer struct {
	baseURL string
	wsURL   string
}

// newTestServer runs the REST API and socket endpoint over one sqlite
// store.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log, _ := test.NewNullLogger()
	tokens := auth.NewTokens("secret", "sealchat", time.Hour)
	svc := service.New(st, service.WithLogger(log))
	hub := ws.NewHub(svc, log)
	go hub.Run()
	t.Cleanup(hub.Stop)

	r := mux.NewRouter()
	api := &handlers.API{
		Auth:     &handlers.AuthHandler{Store: st, Tokens: tokens, Log: log},
		Users:    &handlers.UserHandler{Store: st, Keys: keydir.New(st, nil, log), Presence: hub.Registry(), Log: log},
		Chats:    &handlers.ChatHandler{Service: svc, Hub: hub, Log: log},
		Messages: &handlers.MessageHandler{Service: svc, Hub: hub, Log: log},
	}
	api.Mount(r, tokens)
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, tokens, w, r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{baseURL: srv.URL, wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

type user struct {
	api       *API
	messenger *Messenger
	model     *models.User
}

func (s *testServer) newUser(t *testing.T, name string) *user {
	t.Helper()
	ctx := context.Background()
	api := NewAPI(s.baseURL)
	u, err := api.Register(ctx, name, name+"@example.com", "password123")
	require.NoError(t, err)

	keyring, err := e2e.NewKeyring(t.TempDir())
	require.NoError(t, err)
	m := NewMessenger(api, keyring)
	require.NoError(t, m.Init(ctx, u.ID))
	return &user{api: api, messenger: m, model: u}
}

// connect opens a session that forwards every "message" and "error" event.
func (s *testServer) connect(t *testing.T, u *user) (*Session, chan models.Message, chan string, chan struct{}) {
	t.Helper()
	messages := make(chan models.Message, 16)
	errs := make(chan string, 16)
	connected := make(chan struct{}, 4)

	logger, _ := test.NewNullLogger()
	sess := NewSession(Options{
		URL:        s.wsURL,
		Token:      u.api.Token(),
		MinBackoff: 20 * time.Millisecond,
		MaxBackoff: 100 * time.Millisecond,
		Log:        logger,
		OnConnect:  func() { connected <- struct{}{} },
	})
	sess.On(ws.EventMessage, func(data json.RawMessage) {
		var m models.Message
		if err := json.Unmarshal(data, &m); err == nil {
			messages <- m
		}
	})
	sess.On(ws.EventError, func(data json.RawMessage) {
		var msg string
		json.Unmarshal(data, &msg)
		errs <- msg
	})
	require.NoError(t, sess.Connect(context.Background()))
	t.Cleanup(func() { sess.Close() })
	<-connected
	return sess, messages, errs, connected
}

// barrier waits until the server has handled everything sent so far on sess.
// Unknown events are answered in order with an error frame.
func barrier(t *testing.T, sess *Session, errs chan string) {
	t.Helper()
	require.NoError(t, sess.Emit("barrier", nil))
	select {
	case <-errs:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for barrier")
	}
}

func receive(t *testing.T, ch chan models.Message) models.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return models.Message{}
	}
}

func (s *Session) dropConnection() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func TestEncryptedConversationOverSessions(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := srv.newUser(t, "alice")
	bob := srv.newUser(t, "bob")

	chat, err := alice.api.CreateConversation(ctx, models.ChatPrivate, []string{bob.model.ID}, "")
	require.NoError(t, err)

	aliceSess, aliceMsgs, aliceErrs, _ := srv.connect(t, alice)
	bobSess, bobMsgs, bobErrs, bobConnected := srv.connect(t, bob)
	require.NoError(t, aliceSess.JoinChat(chat.ID))
	require.NoError(t, bobSess.JoinChat(chat.ID))
	barrier(t, aliceSess, aliceErrs)
	barrier(t, bobSess, bobErrs)

	in, err := alice.messenger.Encrypt(ctx, chat.ID, "meet at noon")
	require.NoError(t, err)
	assert.NotEqual(t, "meet at noon", in.Content)
	require.NoError(t, aliceSess.SendMessage(in))

	got := receive(t, bobMsgs)
	plain, err := bob.messenger.Decrypt(&got)
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", plain)

	echo := receive(t, aliceMsgs)
	plain, err = alice.messenger.Decrypt(&echo)
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", plain, "sender can read their own message")

	// A dropped connection reconnects and rejoins the room.
	bobSess.dropConnection()
	select {
	case <-bobConnected:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not reconnect")
	}
	barrier(t, bobSess, bobErrs)

	in, err = alice.messenger.Encrypt(ctx, chat.ID, "still there?")
	require.NoError(t, err)
	require.NoError(t, aliceSess.SendMessage(in))
	got = receive(t, bobMsgs)
	plain, err = bob.messenger.Decrypt(&got)
	require.NoError(t, err)
	assert.Equal(t, "still there?", plain)
}

func TestSessionAuthRejected(t *testing.T) {
	srv := newTestServer(t)

	var reported error
	sess := NewSession(Options{
		URL:           srv.wsURL,
		Token:         "forged",
		OnAuthFailure: func(err error) { reported = err },
	})
	err := sess.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.ErrorIs(t, reported, ErrAuthRejected)
	assert.ErrorIs(t, sess.Emit(ws.EventTyping, nil), ErrNotConnected)
	assert.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Connect(context.Background()), ErrClosed)
}

func TestInitKeepsPublishedKey(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api := NewAPI(srv.baseURL)
	u, err := api.Register(ctx, "carol", "carol@example.com", "password123")
	require.NoError(t, err)

	dir := t.TempDir()
	keyring, err := e2e.NewKeyring(dir)
	require.NoError(t, err)
	require.NoError(t, NewMessenger(api, keyring).Init(ctx, u.ID))
	first, err := api.FetchPublicKey(ctx, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A second init on the same machine reuses the stored keypair.
	require.NoError(t, NewMessenger(api, keyring).Init(ctx, u.ID))
	second, err := api.FetchPublicKey(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncryptRequiresEveryRecipientKey(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := srv.newUser(t, "alice")

	// dave never initialises encryption.
	daveAPI := NewAPI(srv.baseURL)
	dave, err := daveAPI.Register(ctx, "dave", "dave@example.com", "password123")
	require.NoError(t, err)

	chat, err := alice.api.CreateConversation(ctx, models.ChatPrivate, []string{dave.ID}, "")
	require.NoError(t, err)

	_, err = alice.messenger.Encrypt(ctx, chat.ID, "hello")
	assert.ErrorIs(t, err, apperr.ErrEncryption)
}

func TestAPIErrorKinds(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	api := NewAPI(srv.baseURL)

	_, err := api.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	_, err = api.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	_, err = api.Register(ctx, "erin", "erin@example.com", "password123")
	require.NoError(t, err)
	_, err = api.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = api.Register(ctx, "erin", "erin@example.com", "password123")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur, want time.Duration
	}{
		{500 * time.Millisecond, time.Second},
		{10 * time.Second, 20 * time.Second},
		{20 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextBackoff(tt.cur, 30*time.Second))
	}
}
