package sqlstore

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pliu/sealchat/internal/models"
)

var testStore *SQLStore

var ctx = context.Background()

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}

func mustCreateUser(t *testing.T, id, username string) {
	t.Helper()
	err := testStore.CreateUser(ctx, &models.User{
		ID:        id,
		Username:  username,
		Email:     username + "@example.com",
		Password:  "hash",
		CreatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
}

func mustCreateChat(t *testing.T, c *models.Conversation) {
	t.Helper()
	if c.CreatedAt.IsZero() {
		c.CreatedAt, c.UpdatedAt = epoch, epoch
	}
	if err := testStore.CreateConversation(ctx, c); err != nil {
		t.Fatalf("Failed to create conversation %s: %v", c.ID, err)
	}
}
