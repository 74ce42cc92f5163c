package ws

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/metrics"
	"github.com/pliu/sealchat/internal/presence"
	"github.com/pliu/sealchat/internal/service"
	"github.com/pliu/sealchat/internal/store"
)

// delivery is one outbound frame or one room membership change. Both flow
// through Run so a connection's joins, leaves and frames keep their order.
type delivery struct {
	frame []byte

	room    string
	exclude string
	conn    string
	users   []string

	change *roomChange
	evict  *eviction
}

// eviction takes every connection of users out of room.
type eviction struct {
	room  string
	users []string
}

type roomChange struct {
	conn string
	room string
	join bool
}

const presenceWriteTimeout = 5 * time.Second

// presenceWrite is one online/offline change waiting to be stored.
type presenceWrite struct {
	userID string
	online bool
	at     time.Time
}

type Hub struct {
	// Registered clients. Owned by Run.
	clients map[*Client]bool
	byConn  map[string]*Client

	// Outbound frames from clients and from the REST layer.
	deliver chan delivery

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	done chan struct{}

	// Presence changes for the store, written in order off the Run loop.
	presence chan presenceWrite

	registry   *presence.Registry
	dispatcher *Dispatcher
	store      store.Store
	log        logrus.FieldLogger
	now        func() time.Time
	sendBuffer int
}

type HubOption func(*Hub)

// WithSendBuffer sets the per-client outbound queue length. Clients whose
// queue fills are disconnected.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

func NewHub(svc *service.Service, log logrus.FieldLogger, opts ...HubOption) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		byConn:     make(map[string]*Client),
		deliver:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		presence:   make(chan presenceWrite, 1024),
		registry:   presence.NewRegistry(),
		dispatcher: NewDispatcher(svc),
		store:      svc.Store(),
		log:        log,
		now:        time.Now,
		sendBuffer: 256,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes presence and room state for read-only queries.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

func (h *Hub) Run() {
	go h.writePresence()
	for {
		select {
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case d := <-h.deliver:
			h.route(d)
		case <-h.done:
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.byConn = make(map[string]*Client)
			h.registry.Reset()
			metrics.WSConnections.Set(0)
			return
		}
	}
}

// Stop ends Run and closes every client's queue.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) add(c *Client) {
	h.clients[c] = true
	h.byConn[c.id] = c
	h.registry.Connect(c.userID, c.id)
	close(c.registered)
	metrics.WSConnections.Inc()

	h.log.WithFields(logrus.Fields{"user_id": c.userID, "conn_id": c.id}).Info("Client connected")
	h.queuePresence(presenceWrite{userID: c.userID, online: true, at: h.now().UTC()})
	h.broadcastAll(EventUserOnline, UserOnline{UserID: c.userID}, c.id)
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	delete(h.byConn, c.id)
	close(c.send)
	metrics.WSConnections.Dec()

	userID := h.registry.Disconnect(c.id)
	if userID == "" {
		return
	}
	lastSeen := h.now().UTC()
	h.log.WithFields(logrus.Fields{"user_id": userID, "conn_id": c.id}).Info("Client disconnected")
	h.queuePresence(presenceWrite{userID: userID, online: false, at: lastSeen})
	h.broadcastAll(EventUserOffline, UserOffline{UserID: userID, LastSeen: lastSeen}, "")
}

// queuePresence never blocks Run. When the store falls behind far enough
// to fill the queue, the change is dropped and logged.
func (h *Hub) queuePresence(p presenceWrite) {
	select {
	case h.presence <- p:
	default:
		h.log.WithField("user_id", p.userID).Warn("Presence queue full, dropping update")
	}
}

func (h *Hub) writePresence() {
	for {
		select {
		case p := <-h.presence:
			ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
			if err := h.store.SetPresence(ctx, p.userID, p.online, p.at); err != nil {
				h.log.WithField("user_id", p.userID).WithError(err).Warn("Failed to store presence")
			}
			cancel()
		case <-h.done:
			return
		}
	}
}

// broadcastAll is used for presence only; every other event is scoped to
// a room, a connection or a set of users.
func (h *Hub) broadcastAll(event string, data any, exclude string) {
	frame, err := Encode(event, data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return
	}
	for client := range h.clients {
		if client.id != exclude {
			h.send(client, frame)
		}
	}
}

func (h *Hub) route(d delivery) {
	switch {
	case d.evict != nil:
		h.evictUsers(d.evict)
	case d.change != nil:
		if d.change.join {
			h.registry.Join(d.change.conn, d.change.room)
		} else {
			h.registry.Leave(d.change.conn, d.change.room)
		}
	case d.room != "":
		for _, connID := range h.registry.RoomMembers(d.room) {
			if connID == d.exclude {
				continue
			}
			if client, ok := h.byConn[connID]; ok {
				h.send(client, d.frame)
			}
		}
	case d.conn != "":
		if client, ok := h.byConn[d.conn]; ok {
			h.send(client, d.frame)
		}
	case len(d.users) > 0:
		wanted := make(map[string]bool, len(d.users))
		for _, u := range d.users {
			wanted[u] = true
		}
		for client := range h.clients {
			if wanted[client.userID] {
				h.send(client, d.frame)
			}
		}
	}
}

func (h *Hub) evictUsers(e *eviction) {
	users := make(map[string]bool, len(e.users))
	for _, u := range e.users {
		users[u] = true
	}
	for _, connID := range h.registry.RoomMembers(e.room) {
		if client, ok := h.byConn[connID]; ok && users[client.userID] {
			h.registry.Leave(connID, e.room)
		}
	}
}

// send queues frame for client, dropping the client if its queue is full.
func (h *Hub) send(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.log.WithFields(logrus.Fields{"user_id": client.userID, "conn_id": client.id}).Warn("Dropping slow client")
		h.remove(client)
	}
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	}
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	frame, err := Encode(event, data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return nil, false
	}
	return frame, true
}

// BroadcastToRoom sends an event to every connection joined to the
// conversation.
func (h *Hub) BroadcastToRoom(conversationID, event string, data any) {
	h.broadcastToRoom(conversationID, event, data, "")
}

func (h *Hub) broadcastToRoom(conversationID, event string, data any, exclude string) {
	if frame, ok := h.encode(event, data); ok {
		h.enqueue(delivery{frame: frame, room: conversationID, exclude: exclude})
	}
}

// SendNotification sends an event to every live connection of the given
// users, joined to a room or not.
func (h *Hub) SendNotification(userIDs []string, event string, data any) {
	if len(userIDs) == 0 {
		return
	}
	if frame, ok := h.encode(event, data); ok {
		h.enqueue(delivery{frame: frame, users: userIDs})
	}
}

// EvictFromRoom stops room traffic for every connection the users hold in
// the conversation. Frames queued before the call are still delivered.
func (h *Hub) EvictFromRoom(conversationID string, userIDs ...string) {
	if conversationID == "" || len(userIDs) == 0 {
		return
	}
	h.enqueue(delivery{evict: &eviction{room: conversationID, users: userIDs}})
}

func (h *Hub) replyError(connID string, err error) {
	if frame, ok := h.encode(EventError, apperr.Public(err)); ok {
		h.enqueue(delivery{frame: frame, conn: connID})
	}
}

// apply carries out an Outcome for the connection that produced it.
func (h *Hub) apply(c *Client, o Outcome) {
	if o.Err != nil {
		h.replyError(c.id, o.Err)
		return
	}
	if o.Join != "" {
		h.enqueue(delivery{change: &roomChange{conn: c.id, room: o.Join, join: true}})
	}
	if o.Leave != "" {
		h.enqueue(delivery{change: &roomChange{conn: c.id, room: o.Leave}})
	}
	for _, b := range o.Broadcasts {
		h.broadcastToRoom(b.ConversationID, b.Event, b.Data, b.ExcludeConn)
	}
}
