package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chathistory/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Session is a unit of work bound to one transaction. It must not be
// shared between requests or used after its WithTx callback returns.
type Session struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(*Session) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Session{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithSession is WithTx for callbacks that produce a value.
func WithSession[T any](ctx context.Context, s *Store, fn func(*Session) (T, error)) (T, error) {
	var out T
	err := s.WithTx(ctx, func(sess *Session) error {
		v, err := fn(sess)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func now() time.Time {
	// microsecond precision survives a round trip through both drivers
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CreateConversation inserts a conversation and returns it with its assigned id.
func (s *Session) CreateConversation(ctx context.Context, title *string) (*models.Conversation, error) {
	createdAt := now()
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO conversations (title, created_at) VALUES (?, ?)`,
		nullString(title), createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{ID: id, Title: title, CreatedAt: createdAt}, nil
}

// GetConversation returns ErrNotFound when id does not exist.
func (s *Session) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var (
		conv  models.Conversation
		title sql.NullString
	)
	err := s.tx.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &title, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.Title = stringPtr(title)
	return &conv, nil
}

// ConversationExists reports whether a conversation with id is present.
func (s *Session) ConversationExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := s.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ?)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("verify conversation: %w", err)
	}
	return exists, nil
}

// ListConversations returns every conversation in insertion order.
func (s *Session) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT id, title, created_at FROM conversations ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var (
			conv  models.Conversation
			title sql.NullString
		)
		if err := rows.Scan(&conv.ID, &title, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.Title = stringPtr(title)
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// CountConversations returns the number of stored conversations.
func (s *Session) CountConversations(ctx context.Context) (int, error) {
	var n int
	if err := s.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Session) DeleteConversation(ctx context.Context, id int64) error {
	if _, err := s.tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := s.tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage stores msg and returns it with id and created_at assigned.
// A missing conversation surfaces as a constraint error from the store.
func (s *Session) InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	msg.CreatedAt = now()
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, content, role, created_at) VALUES (?, ?, ?, ?)`,
		msg.ConversationID, msg.Content, msg.Role, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id
	return &msg, nil
}

// ListMessages returns a conversation's messages in the store's natural (insertion) order.
func (s *Session) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, conversation_id, content, role, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
}

// History returns a conversation's messages ordered by creation time.
func (s *Session) History(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, conversation_id, content, role, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
}

// MessagesByConversation loads all messages grouped by conversation, each group ordered by creation time.
func (s *Session) MessagesByConversation(ctx context.Context) (map[int64][]models.Message, error) {
	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, content, role, created_at FROM messages ORDER BY conversation_id ASC, created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	grouped := make(map[int64][]models.Message)
	for _, m := range messages {
		grouped[m.ConversationID] = append(grouped[m.ConversationID], m)
	}
	return grouped, nil
}

func (s *Session) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
