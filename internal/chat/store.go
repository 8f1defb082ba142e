// Package chat persists chat sessions and their message history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSessionNotFound is returned when a session does not exist or is
// owned by another user.
var ErrSessionNotFound = errors.New("chat session not found")

// defaultTitle is the title given to newly created sessions.
const defaultTitle = "New Chat"

// maxHistoryLimit caps how many messages History returns per call.
const maxHistoryLimit = 50

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one conversation thread.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a session.
type Message struct {
	ID        int64     `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// querier is the subset of pgx operations the store needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides session and message persistence backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chat store. pool may be nil, in which case message
// writes run without a transaction (useful for tests with a mock db).
func NewStore(db querier, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, pool: pool, logger: logger}, nil
}

// CreateSession starts a new conversation for owner. An empty title
// falls back to the default.
func (s *Store) CreateSession(ctx context.Context, owner uuid.UUID, title string) (*Session, error) {
	if title == "" {
		title = defaultTitle
	}

	const query = `
		INSERT INTO chat_sessions (user_id, title)
		VALUES ($1, $2)
		RETURNING id, title, created_at, updated_at`

	var sess Session
	err := s.db.QueryRow(ctx, query, owner, title).
		Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created chat session", "owner", owner, "session", sess.ID)
	return &sess, nil
}

// ListSessions returns owner's sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, owner uuid.UUID) ([]Session, error) {
	const query = `
		SELECT id, title, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := s.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns owner's most recently active session, or
// ErrSessionNotFound when none exists.
func (s *Store) LatestSession(ctx context.Context, owner uuid.UUID) (*Session, error) {
	const query = `
		SELECT id, title, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	var sess Session
	err := s.db.QueryRow(ctx, query, owner).
		Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching latest session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes one of owner's sessions and, via cascade, its
// messages.
func (s *Store) DeleteSession(ctx context.Context, owner, sessionID uuid.UUID) error {
	const query = `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`

	tag, err := s.db.Exec(ctx, query, sessionID, owner)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	s.logger.Debug("deleted chat session", "owner", owner, "session", sessionID)
	return nil
}

// AddMessage appends a message to one of owner's sessions and bumps the
// session's activity timestamp. Both writes happen in one transaction
// when a pool is available.
func (s *Store) AddMessage(ctx context.Context, owner, sessionID uuid.UUID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", role)
	}
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}

	if s.pool == nil {
		return s.addMessage(ctx, s.db, owner, sessionID, role, content)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", err)
		}
	}()

	msg, err := s.addMessage(ctx, tx, owner, sessionID, role, content)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return msg, nil
}

func (s *Store) addMessage(ctx context.Context, q querier, owner, sessionID uuid.UUID, role, content string) (*Message, error) {
	// Ownership is enforced here: the insert only succeeds when the
	// session belongs to the caller.
	const insert = `
		INSERT INTO chat_messages (session_id, user_id, role, content)
		SELECT cs.id, cs.user_id, $3, $4
		FROM chat_sessions cs
		WHERE cs.id = $1 AND cs.user_id = $2
		RETURNING id, session_id, role, content, created_at`

	var msg Message
	err := q.QueryRow(ctx, insert, sessionID, owner, role, content).
		Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	const touch = `UPDATE chat_sessions SET updated_at = now() WHERE id = $1`
	if _, err := q.Exec(ctx, touch, sessionID); err != nil {
		return nil, fmt.Errorf("updating session activity: %w", err)
	}
	return &msg, nil
}

// History returns the oldest-first messages of one of owner's sessions.
// limit values outside [1, 50] fall back to 50. An existing but empty
// session yields an empty slice.
func (s *Store) History(ctx context.Context, owner, sessionID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	const exists = `SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1 AND user_id = $2)`

	var ok bool
	if err := s.db.QueryRow(ctx, exists, sessionID, owner).Scan(&ok); err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}

	const query = `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY id ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return messages, nil
}
