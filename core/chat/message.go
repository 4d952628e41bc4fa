// Package chat defines the conversation records and stream event types shared
// by the design-chat store, backend, controller, and projection subsystems.
package chat

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Session is one planning conversation bound to a task. A session may exist
// before any workspace does, in which case WorkspaceID is empty.
type Session struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one persisted turn in a session. Messages are totally ordered by
// CreatedAt with Seq breaking ties in insertion order; role alternation is not
// enforced — a caller may append several user turns before any assistant reply.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}
