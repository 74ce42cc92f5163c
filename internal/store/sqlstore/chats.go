package sqlstore

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/membership"
	"github.com/pliu/sealchat/internal/models"
)

const chatColumns = "c.id, c.type, COALESCE(c.name, ''), COALESCE(c.description, ''), COALESCE(c.avatar, ''), c.created_by, COALESCE(c.last_message_id, ''), c.created_at, c.updated_at"

func scanChat(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.Type, &c.Name, &c.Description, &c.Avatar, &c.CreatedBy, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation inserts c with its participants. A second private
// conversation for the same pair fails with Conflict.
func (s *SQLStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	var pairKey any
	if c.Type == models.ChatPrivate && len(c.Participants) == 2 {
		pairKey = membership.PairKey(c.Participants[0], c.Participants[1])
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind("INSERT INTO chats (id, type, name, description, avatar, created_by, last_message_id, pair_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, c.ID, string(c.Type), nullable(c.Name), nullable(c.Description), nullable(c.Avatar), c.CreatedBy, nullable(c.LastMessageID), pairKey, utc(c.CreatedAt), utc(c.UpdatedAt)); err != nil {
			return err
		}

		admins := make(map[string]bool, len(c.Admins))
		for _, a := range c.Admins {
			admins[a] = true
		}
		insert := s.rebind("INSERT INTO participants (chat_id, user_id, position, is_admin) VALUES (?, ?, ?, ?)")
		for i, p := range c.Participants {
			if _, err := tx.ExecContext(ctx, insert, c.ID, p, i, admins[p]); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return apperr.Conflict("conversation already exists")
	}
	return apperr.Storage("conversation", err)
}

func (s *SQLStore) loadMembers(ctx context.Context, q querier, c *models.Conversation) error {
	query := s.rebind("SELECT user_id, is_admin FROM participants WHERE chat_id = ? ORDER BY position")
	rows, err := q.QueryContext(ctx, query, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.Participants = []string{}
	c.Admins = []string{}
	for rows.Next() {
		var userID string
		var isAdmin bool
		if err := rows.Scan(&userID, &isAdmin); err != nil {
			return err
		}
		c.Participants = append(c.Participants, userID)
		if isAdmin {
			c.Admins = append(c.Admins, userID)
		}
	}
	return rows.Err()
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := s.rebind("SELECT " + chatColumns + " FROM chats c WHERE c.id = ?")
	c, err := scanChat(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperr.Storage("conversation", err)
	}
	if err := s.loadMembers(ctx, s.db, c); err != nil {
		return nil, apperr.Storage("conversation", err)
	}
	return c, nil
}

func (s *SQLStore) FindPrivateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	query := s.rebind(`
		SELECT c.id FROM chats c
		JOIN participants p1 ON p1.chat_id = c.id AND p1.user_id = ?
		JOIN participants p2 ON p2.chat_id = c.id AND p2.user_id = ?
		WHERE c.type = ?
		LIMIT 1
	`)
	var id string
	if err := s.db.QueryRowContext(ctx, query, userA, userB, string(models.ChatPrivate)).Scan(&id); err != nil {
		return nil, apperr.Storage("conversation", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := s.rebind(`
		SELECT ` + chatColumns + `
		FROM chats c
		JOIN participants p ON c.id = p.chat_id
		WHERE p.user_id = ?
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.Storage("conversation", err)
	}

	chats := []models.Conversation{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Storage("conversation", err)
		}
		chats = append(chats, *c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperr.Storage("conversation", err)
	}

	// Members are loaded after the outer cursor is closed; sqlite runs with
	// a single connection.
	for i := range chats {
		if err := s.loadMembers(ctx, s.db, &chats[i]); err != nil {
			return nil, apperr.Storage("conversation", err)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *SQLStore) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	query := s.rebind("UPDATE chats SET name = ?, description = ?, avatar = ?, updated_at = ? WHERE id = ?")
	return s.expectOne(ctx, s.db, "conversation", query, nullable(c.Name), nullable(c.Description), nullable(c.Avatar), utc(c.UpdatedAt), c.ID)
}

func (s *SQLStore) AddParticipant(ctx context.Context, conversationID, userID string, at time.Time) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		insert := s.rebind(`
			INSERT INTO participants (chat_id, user_id, position, is_admin)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM participants WHERE chat_id = ?), FALSE)
		`)
		if _, err := tx.ExecContext(ctx, insert, conversationID, userID, conversationID); err != nil {
			return err
		}
		return s.expectOne(ctx, tx, "conversation", s.rebind("UPDATE chats SET updated_at = ? WHERE id = ?"), utc(at), conversationID)
	})
	if isUniqueViolation(err) {
		return apperr.Conflict("user is already a participant")
	}
	return apperr.Storage("conversation", err)
}

func (s *SQLStore) RemoveParticipant(ctx context.Context, conversationID, userID string, at time.Time) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		del := s.rebind("DELETE FROM participants WHERE chat_id = ? AND user_id = ?")
		if err := s.expectOne(ctx, tx, "participant", del, conversationID, userID); err != nil {
			return err
		}
		return s.expectOne(ctx, tx, "conversation", s.rebind("UPDATE chats SET updated_at = ? WHERE id = ?"), utc(at), conversationID)
	})
	return apperr.Storage("conversation", err)
}

// TouchConversation moves the last-message pointer. Concurrent sends race
// and the last writer wins.
func (s *SQLStore) TouchConversation(ctx context.Context, conversationID, lastMessageID string, at time.Time) error {
	query := s.rebind("UPDATE chats SET last_message_id = ?, updated_at = ? WHERE id = ?")
	return s.expectOne(ctx, s.db, "conversation", query, lastMessageID, utc(at), conversationID)
}

// DeleteConversation removes the conversation and everything it owns.
func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, child := range []string{"message_keys", "reactions", "read_receipts"} {
			query := s.rebind("DELETE FROM " + child + " WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)")
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}
		// Delete messages first (foreign key constraint)
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE chat_id = ?"), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM participants WHERE chat_id = ?"), id); err != nil {
			return err
		}
		return s.expectOne(ctx, tx, "conversation", s.rebind("DELETE FROM chats WHERE id = ?"), id)
	})
	return apperr.Storage("conversation", err)
}
