package sqlstore

import (
	"errors"
	"testing"
	"time"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/models"
)

func TestCreateUser(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	mustCreateUser(t, "u1", "testuser")

	// Test duplicate user
	err := testStore.CreateUser(ctx, &models.User{ID: "u2", Username: "testuser", Email: "other@example.com", Password: "x", CreatedAt: epoch})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected conflict for duplicate username, got %v", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	mustCreateUser(t, "u1", "testuser")

	user, err := testStore.GetUserByUsername(ctx, "testuser")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Username != "testuser" || user.ID != "u1" {
		t.Errorf("Unexpected user %+v", user)
	}

	_, err = testStore.GetUserByUsername(ctx, "nonexistent")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found for nonexistent user, got %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	mustCreateUser(t, "u1", "alice")
	mustCreateUser(t, "u2", "bob")
	mustCreateUser(t, "u3", "alex")

	users, err := testStore.SearchUsers(ctx, "al")
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(users))
	}
	if users[0].Username != "alex" || users[0].Email != "al**@example.com" {
		t.Errorf("Expected masked alex first, got %+v", users[0])
	}
}

func TestPublicKeyAndPresence(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	mustCreateUser(t, "u1", "alice")

	if err := testStore.SetPublicKey(ctx, "u1", "PUBKEY"); err != nil {
		t.Fatalf("SetPublicKey failed: %v", err)
	}
	seen := epoch.Add(time.Hour)
	if err := testStore.SetPresence(ctx, "u1", true, seen); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}

	user, err := testStore.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if user.PublicKey != "PUBKEY" || !user.IsOnline || !user.LastSeen.Equal(seen) {
		t.Errorf("Unexpected user state %+v", user)
	}

	if err := testStore.SetPublicKey(ctx, "ghost", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found for unknown user, got %v", err)
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"ab@x.io":          "a*@x.io",
		"alice@x.io":       "al***@x.io",
		"christopher@x.io": "chr********@x.io",
		"no-at-sign":       "no-at-sign",
		"":                 "",
	}
	for in, want := range cases {
		if got := maskEmail(in); got != want {
			t.Errorf("maskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
