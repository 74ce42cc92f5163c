package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/models"
)

const messageColumns = "id, chat_id, sender_id, content, type, COALESCE(iv, ''), COALESCE(reply_to, ''), is_edited, status, created_at, updated_at"

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.IV, &m.ReplyTo, &m.IsEdited, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage stores m together with its wrapped keys.
func (s *SQLStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.Status == "" {
		m.Status = models.StatusActive
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind("INSERT INTO messages (id, chat_id, sender_id, content, type, iv, reply_to, is_edited, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Type), nullable(m.IV), nullable(m.ReplyTo), m.IsEdited, string(m.Status), utc(m.CreatedAt), utc(m.UpdatedAt)); err != nil {
			return err
		}
		insert := s.rebind("INSERT INTO message_keys (message_id, user_id, wrapped_key) VALUES (?, ?, ?)")
		for userID, key := range m.WrappedKeys {
			if _, err := tx.ExecContext(ctx, insert, m.ID, userID, key); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return apperr.Conflict("message already exists")
	}
	return apperr.Storage("message", err)
}

// loadChildren fills wrapped keys, reactions and receipts for each message.
// Callers must have closed any open cursor first.
func (s *SQLStore) loadChildren(ctx context.Context, msgs []*models.Message) error {
	for _, m := range msgs {
		if err := s.loadKeys(ctx, m); err != nil {
			return err
		}
		if err := s.loadReactions(ctx, m); err != nil {
			return err
		}
		if err := s.loadReceipts(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) loadKeys(ctx context.Context, m *models.Message) error {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT user_id, wrapped_key FROM message_keys WHERE message_id = ?"), m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.WrappedKeys = map[string]string{}
	for rows.Next() {
		var userID, key string
		if err := rows.Scan(&userID, &key); err != nil {
			return err
		}
		m.WrappedKeys[userID] = key
	}
	return rows.Err()
}

func (s *SQLStore) loadReactions(ctx context.Context, m *models.Message) error {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT user_id, emoji, created_at FROM reactions WHERE message_id = ? ORDER BY created_at, user_id, emoji"), m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.Reactions = []models.Reaction{}
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.UserID, &r.Emoji, &r.At); err != nil {
			return err
		}
		m.Reactions = append(m.Reactions, r)
	}
	return rows.Err()
}

func (s *SQLStore) loadReceipts(ctx context.Context, m *models.Message) error {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT user_id, read_at FROM read_receipts WHERE message_id = ? ORDER BY read_at, user_id"), m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.ReadBy = []models.ReadReceipt{}
	for rows.Next() {
		var r models.ReadReceipt
		if err := rows.Scan(&r.UserID, &r.At); err != nil {
			return err
		}
		m.ReadBy = append(m.ReadBy, r)
	}
	return rows.Err()
}

// GetMessage returns an active message. Deleted messages read as NotFound.
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE id = ? AND status = ?")
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id, string(models.StatusActive)))
	if err != nil {
		return nil, apperr.Storage("message", err)
	}
	if err := s.loadChildren(ctx, []*models.Message{m}); err != nil {
		return nil, apperr.Storage("message", err)
	}
	return m, nil
}

// ListMessages returns a page of active messages, newest first.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, error) {
	query := s.rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, conversationID, string(models.StatusActive), limit, offset)
	if err != nil {
		return nil, apperr.Storage("message", err)
	}

	var page []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Storage("message", err)
		}
		page = append(page, m)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperr.Storage("message", err)
	}

	if err := s.loadChildren(ctx, page); err != nil {
		return nil, apperr.Storage("message", err)
	}
	out := make([]models.Message, 0, len(page))
	for _, m := range page {
		out = append(out, *m)
	}
	return out, nil
}

func (s *SQLStore) CountMessages(ctx context.Context, conversationID string, includeDeleted bool) (int, error) {
	query := "SELECT COUNT(*) FROM messages WHERE chat_id = ?"
	args := []any{conversationID}
	if !includeDeleted {
		query += " AND status = ?"
		args = append(args, string(models.StatusActive))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return 0, apperr.Storage("message", err)
	}
	return n, nil
}

func (s *SQLStore) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error {
	query := s.rebind("UPDATE messages SET content = ?, is_edited = ?, updated_at = ? WHERE id = ? AND status = ?")
	return s.expectOne(ctx, s.db, "message", query, content, true, utc(at), id, string(models.StatusActive))
}

// SoftDeleteMessage flips the status and replaces the content with the
// placeholder. The row stays for audit counts.
func (s *SQLStore) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	query := s.rebind("UPDATE messages SET status = ?, content = ?, updated_at = ? WHERE id = ? AND status = ?")
	return s.expectOne(ctx, s.db, "message", query, string(models.StatusDeleted), models.DeletedPlaceholder, utc(at), id, string(models.StatusActive))
}

// UpsertReaction records r. Repeating the same (user, emoji) pair only
// refreshes its timestamp.
func (s *SQLStore) UpsertReaction(ctx context.Context, messageID string, r models.Reaction) error {
	query := s.rebind(`
		INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id, user_id, emoji) DO UPDATE SET created_at = excluded.created_at
	`)
	_, err := s.db.ExecContext(ctx, query, messageID, r.UserID, r.Emoji, utc(r.At))
	return apperr.Storage("reaction", err)
}

// DeleteReaction is a no-op when the reaction does not exist.
func (s *SQLStore) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	query := s.rebind("DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?")
	_, err := s.db.ExecContext(ctx, query, messageID, userID, emoji)
	return apperr.Storage("reaction", err)
}

// AddReadReceipt keeps the first receipt per user.
func (s *SQLStore) AddReadReceipt(ctx context.Context, messageID string, r models.ReadReceipt) error {
	query := s.rebind(`
		INSERT INTO read_receipts (message_id, user_id, read_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`)
	_, err := s.db.ExecContext(ctx, query, messageID, r.UserID, utc(r.At))
	return apperr.Storage("read receipt", err)
}
