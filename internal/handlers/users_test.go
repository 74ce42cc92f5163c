package handlers

import (
	"net/http"
	"testing"

	"github.com/pliu/sealchat/internal/e2e"
	"github.com/pliu/sealchat/internal/models"
)

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.register(t, "alice")
	bob, _ := env.register(t, "bobby")
	env.register(t, "alina")
	env.presence[bob] = true

	rr, resp := env.do(t, "GET", "/api/users/search?q=b", aliceToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search: got %v: %s", rr.Code, resp.Error)
	}
	var users []models.User
	decodeData(t, resp, &users)
	if len(users) != 1 || users[0].ID != bob {
		t.Fatalf("expected bobby only, got %+v", users)
	}
	if !users[0].IsOnline {
		t.Errorf("expected live presence on search results")
	}
	if users[0].Email == "bobby@example.com" {
		t.Errorf("expected masked email, got %q", users[0].Email)
	}

	// The caller is never part of their own results.
	rr, resp = env.do(t, "GET", "/api/users/search?q=ali", aliceToken, nil)
	decodeData(t, resp, &users)
	if rr.Code != http.StatusOK || len(users) != 1 || users[0].Username != "alina" {
		t.Errorf("expected alina only, got %+v", users)
	}

	for _, q := range []string{"", "%20%20"} {
		if rr, _ := env.do(t, "GET", "/api/users/search?q="+q, aliceToken, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("q=%q: got %v want %v", q, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestGetUserAndOnline(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.register(t, "alice")
	bob, _ := env.register(t, "bob")
	env.presence[alice] = true

	rr, resp := env.do(t, "GET", "/api/users/"+bob, aliceToken, nil)
	var user models.User
	decodeData(t, resp, &user)
	if rr.Code != http.StatusOK || user.Username != "bob" || user.IsOnline {
		t.Errorf("unexpected user %v %+v", rr.Code, user)
	}

	rr, resp = env.do(t, "GET", "/api/users/me", aliceToken, nil)
	decodeData(t, resp, &user)
	if rr.Code != http.StatusOK || user.ID != alice || !user.IsOnline {
		t.Errorf("unexpected me %v %+v", rr.Code, user)
	}

	if rr, _ := env.do(t, "GET", "/api/users/ghost", aliceToken, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown user: got %v want %v", rr.Code, http.StatusNotFound)
	}

	rr, resp = env.do(t, "GET", "/api/users/online", aliceToken, nil)
	var online map[string][]string
	decodeData(t, resp, &online)
	if rr.Code != http.StatusOK || len(online["userIds"]) != 1 || online["userIds"][0] != alice {
		t.Errorf("unexpected online users %v", online)
	}
}

func TestPublicKeyDirectory(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.register(t, "alice")
	_, bobToken := env.register(t, "bob")

	rr, resp := env.do(t, "GET", "/api/users/"+alice+"/public-key", bobToken, nil)
	var body publicKeyBody
	decodeData(t, resp, &body)
	if rr.Code != http.StatusOK || body.PublicKey != "" {
		t.Errorf("expected no key yet, got %v %+v", rr.Code, body)
	}

	kp, err := e2e.GenerateIdentityKeypair()
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := e2e.EncodePublicKey(kp.Public)
	if err != nil {
		t.Fatal(err)
	}

	if rr, _ := env.do(t, "PUT", "/api/users/me/public-key", aliceToken, map[string]string{"publicKey": "garbage"}); rr.Code != http.StatusBadRequest {
		t.Errorf("garbage key: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	if rr, resp := env.do(t, "PUT", "/api/users/me/public-key", aliceToken, map[string]string{"publicKey": encoded}); rr.Code != http.StatusOK {
		t.Fatalf("publish: got %v: %s", rr.Code, resp.Error)
	}

	rr, resp = env.do(t, "GET", "/api/users/"+alice+"/public-key", bobToken, nil)
	decodeData(t, resp, &body)
	if rr.Code != http.StatusOK || body.PublicKey != encoded || body.UserID != alice {
		t.Errorf("expected published key, got %v %+v", rr.Code, body)
	}
}
