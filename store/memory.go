package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

type memoryStore struct {
	mu       sync.RWMutex
	byTask   map[string]*chat.Session
	messages map[string][]chat.Message // keyed by session id
	seq      map[string]int64
}

// NewMemoryStore creates a Store backed by in-memory maps. Suitable for tests
// and single-process deployments without durability requirements.
func NewMemoryStore() Store {
	return &memoryStore{
		byTask:   make(map[string]*chat.Session),
		messages: make(map[string][]chat.Message),
		seq:      make(map[string]int64),
	}
}

func (s *memoryStore) GetOrCreateSession(_ context.Context, taskID string) (*chat.Session, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, exists := s.byTask[taskID]; exists {
		copied := *sess
		return &copied, nil
	}

	now := time.Now().UTC()
	sess := &chat.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TaskID:    taskID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byTask[taskID] = sess
	s.messages[sess.ID] = nil

	copied := *sess
	return &copied, nil
}

func (s *memoryStore) AppendMessage(_ context.Context, sessionID string, role chat.Role, content string) (*chat.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[sessionID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.seq[sessionID]++
	msg := chat.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Seq:       s.seq[sessionID],
		CreatedAt: time.Now().UTC(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)

	for _, sess := range s.byTask {
		if sess.ID == sessionID {
			sess.UpdatedAt = msg.CreatedAt
			break
		}
	}

	return &msg, nil
}

func (s *memoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, exists := s.messages[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	copied := make([]chat.Message, len(log))
	copy(copied, log)
	return copied, nil
}
