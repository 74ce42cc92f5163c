package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/pliu/sealchat/internal/apperr"
	"github.com/pliu/sealchat/internal/models"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// Each pooled connection to :memory: would open its own database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		public_key TEXT,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT,
		description TEXT,
		avatar TEXT,
		created_by TEXT NOT NULL REFERENCES users(id),
		last_message_id TEXT,
		pair_key TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		chat_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (chat_id, user_id),
		FOREIGN KEY (chat_id) REFERENCES chats(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		iv TEXT,
		reply_to TEXT,
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id),
		FOREIGN KEY (sender_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, status, created_at);

	CREATE TABLE IF NOT EXISTS message_keys (
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		wrapped_key TEXT NOT NULL,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS read_receipts (
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		read_at TIMESTAMP NOT NULL,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "TIMESTAMP", "TIMESTAMPTZ")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("INSERT INTO users (id, username, email, password, public_key, is_online, last_seen, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	var pub any
	if user.PublicKey != "" {
		pub = user.PublicKey
	}
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.Password, pub, user.IsOnline, utc(user.LastSeen), utc(user.CreatedAt))
	if isUniqueViolation(err) {
		return apperr.Conflict("username or email already exists")
	}
	return apperr.Storage("user", err)
}

const userColumns = "id, username, email, password, COALESCE(public_key, ''), is_online, last_seen, created_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var user models.User
	var lastSeen sql.NullTime
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.PublicKey, &user.IsOnline, &lastSeen, &user.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		user.LastSeen = lastSeen.Time
	}
	return &user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperr.Storage("user", err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE username = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, apperr.Storage("user", err)
	}
	return user, nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, queryStr string) ([]models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE username LIKE ? ORDER BY username LIMIT 10")
	rows, err := s.db.QueryContext(ctx, query, "%"+queryStr+"%")
	if err != nil {
		return nil, apperr.Storage("user", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Storage("user", err)
		}
		user.Email = maskEmail(user.Email)
		users = append(users, *user)
	}
	return users, apperr.Storage("user", rows.Err())
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}
	local, domain := parts[0], parts[1]
	length := len(local)
	visible := 1
	if length > 2 {
		visible = length / 2
		if visible > 3 {
			visible = 3
		}
	}
	if length == 0 {
		return "@" + domain
	}

	maskedLocal := local[:visible] + strings.Repeat("*", length-visible)
	return maskedLocal + "@" + domain
}

func (s *SQLStore) SetPublicKey(ctx context.Context, userID, publicKey string) error {
	query := s.rebind("UPDATE users SET public_key = ? WHERE id = ?")
	return s.expectOne(ctx, s.db, "user", query, publicKey, userID)
}

func (s *SQLStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	query := s.rebind("UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?")
	return s.expectOne(ctx, s.db, "user", query, online, utc(lastSeen), userID)
}

// expectOne runs an update and reports NotFound when no row matched.
func (s *SQLStore) expectOne(ctx context.Context, q querier, subject, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Storage(subject, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage(subject, err)
	}
	if rows == 0 {
		return apperr.NotFound(subject + " not found")
	}
	return nil
}
