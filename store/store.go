// Package store provides durable, ordered persistence for design-chat
// sessions and messages. Sessions are looked up or created by task id, and
// message logs are append-only: rows are never mutated or reordered, and
// deletion is a collaborator concern cascading from task deletion.
package store

import (
	"context"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

// Store is the persistence contract consumed by the stream controller.
// Implementations must be safe for concurrent use; appends to distinct
// sessions are independent. Storage failures are surfaced to the caller —
// retry policy belongs to the layer above.
type Store interface {
	// GetOrCreateSession returns the session bound to taskID, creating one
	// with no workspace binding when absent. Idempotent: repeated calls for
	// one task yield the same session id.
	GetOrCreateSession(ctx context.Context, taskID string) (*chat.Session, error)
	// AppendMessage assigns an id, timestamp, and per-session sequence number
	// to a new message and appends it to the session log.
	AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) (*chat.Message, error)
	// ListMessages returns a fresh snapshot of the session log in creation
	// order, ties broken by sequence number.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}
