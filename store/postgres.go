package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

const (
	sessionTable = "design_sessions"
	messageTable = "design_messages"
)

// PostgresStore implements Store on a pgx connection pool. Message ordering
// relies on a per-session sequence column assigned inside the insert
// transaction, so creation-time ties resolve in insertion order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the session and message tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL UNIQUE,
    workspace_id TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    seq BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_design_messages_session ON %[2]s (session_id, created_at, seq);
`, sessionTable, messageTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, taskID string) (*chat.Session, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id must not be empty")
	}

	now := time.Now().UTC()
	insert := fmt.Sprintf(`
INSERT INTO %s (id, task_id, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (task_id) DO NOTHING`, sessionTable)

	if _, err := s.pool.Exec(ctx, insert, uuid.Must(uuid.NewV7()).String(), taskID, now); err != nil {
		return nil, fmt.Errorf("create session for task %s: %w", taskID, err)
	}

	query := fmt.Sprintf(`
SELECT id, task_id, COALESCE(workspace_id, ''), created_at, updated_at
FROM %s WHERE task_id = $1`, sessionTable)

	var sess chat.Session
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&sess.ID, &sess.TaskID, &sess.WorkspaceID, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load session for task %s: %w", taskID, err)
	}
	return &sess, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) (*chat.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := fmt.Sprintf(`
INSERT INTO %[1]s (id, session_id, role, content, seq, created_at)
SELECT $1, $2, $3, $4, COALESCE(MAX(seq), 0) + 1, $5
FROM %[1]s WHERE session_id = $2
RETURNING seq`, messageTable)

	msg := chat.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	err = tx.QueryRow(ctx, insert, msg.ID, sessionID, string(role), content, msg.CreatedAt).Scan(&msg.Seq)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("append message to session %s: %w", sessionID, err)
	}

	touch := fmt.Sprintf(`UPDATE %s SET updated_at = $2 WHERE id = $1`, sessionTable)
	if _, err := tx.Exec(ctx, touch, sessionID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch session %s: %w", sessionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return &msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	exists := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, sessionTable)
	var one int
	if err := s.pool.QueryRow(ctx, exists, sessionID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("check session %s: %w", sessionID, err)
	}

	query := fmt.Sprintf(`
SELECT id, session_id, role, content, seq, created_at
FROM %s WHERE session_id = $1
ORDER BY created_at ASC, seq ASC`, messageTable)

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23503"
}
