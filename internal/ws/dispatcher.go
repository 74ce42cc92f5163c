package ws

import (
	"context"

	"github.com/pliu/sealchat/internal/service"
)

// Broadcast is a frame addressed to every connection joined to a
// conversation room, optionally skipping one connection.
type Broadcast struct {
	ConversationID string
	Event          string
	Data           any
	ExcludeConn    string
}

// Outcome is what handling one event asks the hub to do. Err goes to the
// initiating connection only.
type Outcome struct {
	Join       string
	Leave      string
	Broadcasts []Broadcast
	Err        error
}

func fail(err error) Outcome { return Outcome{Err: err} }

func toRoom(conversationID, event string, data any) Outcome {
	return Outcome{Broadcasts: []Broadcast{{ConversationID: conversationID, Event: event, Data: data}}}
}

// Dispatcher routes decoded events to the messaging service. Every event
// is checked against current membership; identity is the user bound to
// the connection, never a field of the payload.
type Dispatcher struct {
	svc *service.Service
}

func NewDispatcher(svc *service.Service) *Dispatcher {
	return &Dispatcher{svc: svc}
}

func (d *Dispatcher) Handle(ctx context.Context, connID, userID string, ev Event) Outcome {
	switch ev := ev.(type) {
	case JoinChat:
		return d.joinChat(ctx, userID, ev)
	case LeaveChat:
		return Outcome{Leave: ev.ConversationID}
	case SendMessage:
		return d.sendMessage(ctx, userID, ev)
	case EditMessage:
		return d.editMessage(ctx, userID, ev)
	case DeleteMessage:
		return d.deleteMessage(ctx, userID, ev)
	case Typing:
		return d.typing(ctx, connID, userID, ev)
	case MarkAsRead:
		return d.markAsRead(ctx, userID, ev)
	case AddReaction:
		m, err := d.svc.AddReaction(ctx, userID, ev.MessageID, ev.Emoji)
		if err != nil {
			return fail(err)
		}
		return toRoom(m.ConversationID, EventMessageUpdated, m)
	case RemoveReaction:
		m, err := d.svc.RemoveReaction(ctx, userID, ev.MessageID, ev.Emoji)
		if err != nil {
			return fail(err)
		}
		return toRoom(m.ConversationID, EventMessageUpdated, m)
	default:
		return Outcome{}
	}
}

// joinChat ignores requests from non-participants without replying.
func (d *Dispatcher) joinChat(ctx context.Context, userID string, ev JoinChat) Outcome {
	if _, err := d.svc.GetConversation(ctx, userID, ev.ConversationID); err != nil {
		return Outcome{}
	}
	return Outcome{Join: ev.ConversationID}
}

func (d *Dispatcher) sendMessage(ctx context.Context, userID string, ev SendMessage) Outcome {
	m, err := d.svc.SendMessage(ctx, userID, ev.SendInput)
	if err != nil {
		return fail(err)
	}
	return toRoom(m.ConversationID, EventMessage, m)
}

func (d *Dispatcher) editMessage(ctx context.Context, userID string, ev EditMessage) Outcome {
	m, err := d.svc.EditMessage(ctx, userID, ev.MessageID, ev.Content)
	if err != nil {
		return fail(err)
	}
	return toRoom(m.ConversationID, EventMessageUpdated, m)
}

func (d *Dispatcher) deleteMessage(ctx context.Context, userID string, ev DeleteMessage) Outcome {
	m, err := d.svc.DeleteMessage(ctx, userID, ev.MessageID)
	if err != nil {
		return fail(err)
	}
	return toRoom(m.ConversationID, EventMessageDeleted, m.ID)
}

// typing is relayed to the room minus the sending connection and never
// stored.
func (d *Dispatcher) typing(ctx context.Context, connID, userID string, ev Typing) Outcome {
	if _, err := d.svc.GetConversation(ctx, userID, ev.ConversationID); err != nil {
		return fail(err)
	}
	notice := TypingNotice{UserID: userID, ConversationID: ev.ConversationID, IsTyping: ev.IsTyping}
	return Outcome{Broadcasts: []Broadcast{{
		ConversationID: ev.ConversationID,
		Event:          EventTyping,
		Data:           notice,
		ExcludeConn:    connID,
	}}}
}

// markAsRead records a receipt and tells nobody. Receipts are read back
// through the message history.
func (d *Dispatcher) markAsRead(ctx context.Context, userID string, ev MarkAsRead) Outcome {
	if err := d.svc.MarkAsRead(ctx, userID, ev.ConversationID, ev.MessageID); err != nil {
		return fail(err)
	}
	return Outcome{}
}
