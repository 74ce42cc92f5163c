package handlers

import (
	"net/http"
	"testing"

	"github.com/pliu/sealchat/internal/models"
	"github.com/pliu/sealchat/internal/ws"
)

func TestCreatePrivateChatIsGetOrCreate(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.register(t, "alice")
	bob, bobToken := env.register(t, "bob")

	req := CreateChatRequest{Type: models.ChatPrivate, Participants: []string{bob}}
	rr, resp := env.do(t, "POST", "/api/chats", aliceToken, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v: %s", rr.Code, http.StatusCreated, resp.Error)
	}
	var chat models.Conversation
	decodeData(t, resp, &chat)

	if p := env.hub.last(); p.event != ws.EventChatCreated || len(p.users) != 2 {
		t.Errorf("expected chatCreated pushed to both participants, got %+v", p)
	}

	// The reverse direction returns the same chat.
	rr, resp = env.do(t, "POST", "/api/chats", bobToken, CreateChatRequest{Type: models.ChatPrivate, Participants: []string{alice}})
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var again models.Conversation
	decodeData(t, resp, &again)
	if again.ID != chat.ID {
		t.Errorf("expected existing chat %s, got %s", chat.ID, again.ID)
	}

	rr, resp = env.do(t, "GET", "/api/chats", bobToken, nil)
	var chats []models.Conversation
	decodeData(t, resp, &chats)
	if rr.Code != http.StatusOK || len(chats) != 1 {
		t.Errorf("expected one chat for bob, got %v %d", rr.Code, len(chats))
	}
}

func TestCreateChatValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "alice")
	bob, _ := env.register(t, "bob")

	tests := []struct {
		name string
		req  CreateChatRequest
		want int
	}{
		{"bad type", CreateChatRequest{Type: "channel", Participants: []string{bob}}, http.StatusBadRequest},
		{"group without name", CreateChatRequest{Type: models.ChatGroup, Participants: []string{bob}}, http.StatusBadRequest},
		{"unknown participant", CreateChatRequest{Type: models.ChatPrivate, Participants: []string{"ghost"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := env.do(t, "POST", "/api/chats", token, tt.req)
			if rr.Code != tt.want {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.want)
			}
		})
	}
}

func TestGroupChatLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.register(t, "alice")
	bob, bobToken := env.register(t, "bob")
	carol, carolToken := env.register(t, "carol")

	rr, resp := env.do(t, "POST", "/api/chats", aliceToken, CreateChatRequest{
		Type:         models.ChatGroup,
		Name:         "team",
		Participants: []string{bob},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create group: got %v: %s", rr.Code, resp.Error)
	}
	var chat models.Conversation
	decodeData(t, resp, &chat)
	path := "/api/chats/" + chat.ID

	// Outsiders cannot read it.
	if rr, _ := env.do(t, "GET", path, carolToken, nil); rr.Code != http.StatusForbidden {
		t.Errorf("outsider get: got %v want %v", rr.Code, http.StatusForbidden)
	}

	// Non-admins cannot rename it.
	name := "renamed"
	if rr, _ := env.do(t, "PUT", path, bobToken, map[string]*string{"name": &name}); rr.Code != http.StatusForbidden {
		t.Errorf("non-admin update: got %v want %v", rr.Code, http.StatusForbidden)
	}
	rr, resp = env.do(t, "PUT", path, aliceToken, map[string]*string{"name": &name})
	if rr.Code != http.StatusOK {
		t.Fatalf("admin update: got %v: %s", rr.Code, resp.Error)
	}
	if p := env.hub.last(); p.event != ws.EventChatUpdated {
		t.Errorf("expected chatUpdated, got %q", p.event)
	}

	rr, resp = env.do(t, "POST", path+"/participants", aliceToken, map[string]string{"userId": carol})
	if rr.Code != http.StatusOK {
		t.Fatalf("add participant: got %v: %s", rr.Code, resp.Error)
	}
	decodeData(t, resp, &chat)
	if len(chat.Participants) != 3 {
		t.Errorf("expected 3 participants, got %v", chat.Participants)
	}
	if rr, _ := env.do(t, "POST", path+"/participants", aliceToken, map[string]string{"userId": carol}); rr.Code != http.StatusConflict {
		t.Errorf("duplicate add: got %v want %v", rr.Code, http.StatusConflict)
	}

	rr, resp = env.do(t, "DELETE", path+"/participants/"+carol, aliceToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove participant: got %v: %s", rr.Code, resp.Error)
	}
	p := env.hub.last()
	if len(p.users) == 0 || p.users[0] != carol {
		t.Errorf("expected removed user to be notified, got %v", p.users)
	}
	if got := env.hub.evictedFrom(chat.ID); len(got) != 1 || got[0] != carol {
		t.Errorf("expected only the removed user evicted from the room, got %v", got)
	}

	// Only the creator or an admin may delete the group.
	if rr, _ := env.do(t, "DELETE", path, bobToken, nil); rr.Code != http.StatusForbidden {
		t.Errorf("non-admin delete: got %v want %v", rr.Code, http.StatusForbidden)
	}
	if rr, _ := env.do(t, "DELETE", path, aliceToken, nil); rr.Code != http.StatusOK {
		t.Errorf("admin delete: got %v want %v", rr.Code, http.StatusOK)
	}
	if got := env.hub.evictedFrom(chat.ID); len(got) != 3 {
		t.Errorf("expected every participant evicted after delete, got %v", got)
	}
	if rr, _ := env.do(t, "GET", path, aliceToken, nil); rr.Code != http.StatusNotFound {
		t.Errorf("deleted chat: got %v want %v", rr.Code, http.StatusNotFound)
	}
}
