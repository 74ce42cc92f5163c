// Package client is the Go side of a messaging client: a reconnecting socket
// session, a REST API client and an end-to-end encryption helper.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/ws"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second

	writeWait = 10 * time.Second
)

var (
	// ErrAuthRejected means the server refused the handshake token. The
	// session stops and the host must log in again.
	ErrAuthRejected = apperr.Unauthenticated("handshake rejected")

	ErrNotConnected = errors.New("client: not connected")
	ErrClosed       = errors.New("client: session closed")
)

// Handler receives the raw data of one server event.
type Handler func(data json.RawMessage)

type Options struct {
	// URL of the socket endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string

	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Log        logrus.FieldLogger

	// OnConnect runs after every successful handshake, reconnects included.
	// After a reconnect it runs once rooms have been rejoined.
	OnConnect func()
	// OnAuthFailure runs when the server rejects the token. The session
	// does not retry afterwards.
	OnAuthFailure func(error)
}

// Session owns one live socket per credential and reconnects until Close.
// Handlers run on the read goroutine in the order events arrive.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.RWMutex
	handlers map[string][]Handler
	rooms    map[string]bool

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func NewSession(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		opts:     opts,
		log:      log.WithField("component", "session"),
		handlers: make(map[string][]Handler),
		rooms:    make(map[string]bool),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// On subscribes h to a server event. Subscriptions survive reconnects.
func (s *Session) On(event string, h Handler) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], h)
	s.mu.Unlock()
}

// Connect performs the first handshake and starts the read loop. A
// rejected token returns ErrAuthRejected and leaves nothing running.
func (s *Session) Connect(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	conn, err := s.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) && s.opts.OnAuthFailure != nil {
			s.opts.OnAuthFailure(err)
		}
		return err
	}
	if !s.attach(conn) {
		return ErrClosed
	}
	s.connected()
	go s.run(conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.opts.Token)
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrAuthRejected
		}
		return nil, err
	}
	return conn, nil
}

// attach makes conn the live connection unless the session was closed
// while dialing.
func (s *Session) attach(conn *websocket.Conn) bool {
	s.writeMu.Lock()
	select {
	case <-s.closed:
		s.writeMu.Unlock()
		conn.Close()
		return false
	default:
	}
	s.conn = conn
	s.writeMu.Unlock()
	return true
}

func (s *Session) connected() {
	if s.opts.OnConnect != nil {
		s.opts.OnConnect()
	}
}

func (s *Session) run(conn *websocket.Conn) {
	defer close(s.done)
	for {
		err := s.readLoop(conn)

		s.writeMu.Lock()
		s.conn = nil
		s.writeMu.Unlock()
		conn.Close()

		select {
		case <-s.closed:
			return
		default:
		}
		s.log.WithError(err).Warn("Connection lost, reconnecting")

		conn = s.reconnect()
		if conn == nil {
			return
		}
		s.rejoin()
		s.connected()
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f ws.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log.WithError(err).Debug("Dropping malformed frame")
			continue
		}
		s.mu.RLock()
		handlers := s.handlers[f.Event]
		s.mu.RUnlock()
		for _, h := range handlers {
			h(f.Data)
		}
	}
}

// reconnect dials with capped exponential backoff. It returns nil when the
// session was closed or the token was rejected.
func (s *Session) reconnect() *websocket.Conn {
	backoff := s.opts.MinBackoff
	for {
		select {
		case <-s.closed:
			return nil
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := s.dial(ctx)
		cancel()
		switch {
		case err == nil:
			if !s.attach(conn) {
				return nil
			}
			return conn
		case errors.Is(err, ErrAuthRejected):
			s.log.Warn("Reconnect rejected, stopping session")
			if s.opts.OnAuthFailure != nil {
				s.opts.OnAuthFailure(err)
			}
			return nil
		}
		s.log.WithFields(logrus.Fields{
			"backoff": backoff,
			"error":   err,
		}).Debug("Reconnect failed")
		backoff = nextBackoff(backoff, s.opts.MaxBackoff)
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

// rejoin restores room membership, which the server drops with the old
// connection.
func (s *Session) rejoin() {
	s.mu.RLock()
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	s.mu.RUnlock()
	for _, id := range rooms {
		if err := s.Emit(ws.EventJoinChat, id); err != nil {
			s.log.WithField("conversation_id", id).WithError(err).Warn("Failed to rejoin room")
		}
	}
}

// Emit writes one event frame on the live connection.
func (s *Session) Emit(event string, data any) error {
	frame, err := ws.Encode(event, data)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close stops reconnecting and closes the live connection.
func (s *Session) Close() error {
	var started bool
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		if s.conn != nil {
			started = true
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
		}
		s.writeMu.Unlock()
	})
	if started {
		<-s.done
	}
	return nil
}

func (s *Session) JoinChat(conversationID string) error {
	s.mu.Lock()
	s.rooms[conversationID] = true
	s.mu.Unlock()
	return s.Emit(ws.EventJoinChat, conversationID)
}

func (s *Session) LeaveChat(conversationID string) error {
	s.mu.Lock()
	delete(s.rooms, conversationID)
	s.mu.Unlock()
	return s.Emit(ws.EventLeaveChat, conversationID)
}

func (s *Session) SendMessage(in service.SendInput) error {
	return s.Emit(ws.EventSendMessage, in)
}

func (s *Session) EditMessage(messageID, content string) error {
	return s.Emit(ws.EventEditMessage, ws.EditMessage{MessageID: messageID, Content: content})
}

func (s *Session) DeleteMessage(messageID string) error {
	return s.Emit(ws.EventDeleteMessage, messageID)
}

func (s *Session) Typing(conversationID string, isTyping bool) error {
	return s.Emit(ws.EventTyping, ws.Typing{ConversationID: conversationID, IsTyping: isTyping})
}

func (s *Session) MarkAsRead(conversationID, messageID string) error {
	return s.Emit(ws.EventMarkAsRead, ws.MarkAsRead{ConversationID: conversationID, MessageID: messageID})
}

func (s *Session) AddReaction(messageID, emoji string) error {
	return s.Emit(ws.EventAddReaction, ws.AddReaction{MessageID: messageID, Emoji: emoji})
}

func (s *Session) RemoveReaction(messageID, emoji string) error {
	return s.Emit(ws.EventRemoveReaction, ws.RemoveReaction{MessageID: messageID, Emoji: emoji})
}
