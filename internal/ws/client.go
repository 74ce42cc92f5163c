package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/auth"
	"github.com/pliu/sealchat/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Ciphertext of a 10000
	// character message plus wrapped keys for a large group fits.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Connections authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Closed by the hub once the client is registered.
	registered chan struct{}

	id     string
	userID string
	log    logrus.FieldLogger
}

// readPump handles the connection's events one at a time, in the order
// they arrive.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("Unexpected close")
			}
			return
		}

		ev, err := Decode(raw)
		if err != nil {
			metrics.SocketEventsTotal.WithLabelValues("unknown", "invalid").Inc()
			c.hub.replyError(c.id, err)
			continue
		}

		outcome := c.hub.dispatcher.Handle(context.Background(), c.id, c.userID, ev)
		result := "ok"
		if outcome.Err != nil {
			result = string(apperr.KindOf(outcome.Err))
			c.log.WithFields(logrus.Fields{"event": ev.Name()}).WithError(outcome.Err).Debug("Event rejected")
		}
		metrics.SocketEventsTotal.WithLabelValues(ev.Name(), result).Inc()
		c.hub.apply(c, outcome)
	}
}

// writePump pumps frames from the hub to the websocket connection. Each
// frame is written as its own text message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handshakeToken reads the bearer token from the Authorization header or,
// for browsers that cannot set headers on upgrade, the token query
// parameter.
func handshakeToken(r *http.Request) string {
	if tok, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return tok
	}
	return r.URL.Query().Get("token")
}

// ServeWs authenticates the handshake and upgrades the connection. Bad or
// missing tokens get 401 before any upgrade.
func ServeWs(hub *Hub, tokens TokenVerifier, w http.ResponseWriter, r *http.Request) {
	tok := handshakeToken(r)
	if tok == "" {
		rejectHandshake(w, "authentication error: no token")
		return
	}
	userID, err := tokens.Verify(tok)
	if err != nil {
		rejectHandshake(w, "authentication error: "+apperr.Public(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuffer),
		registered: make(chan struct{}),
		id:         id,
		userID:     userID,
		log:        hub.log.WithFields(logrus.Fields{"user_id": userID, "conn_id": id}),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}
	<-client.registered

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}

func rejectHandshake(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
