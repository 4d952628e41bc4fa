package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

// sessionDocument is the on-disk form of one session: the record plus its full
// message log, stored as a single JSON file per task.
type sessionDocument struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
	Seq      int64          `json:"seq"`
}

var safeTaskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

type fileStore struct {
	root string

	mu      sync.Mutex
	byID    map[string]string // session id -> task id
	creates singleflight.Group
}

// NewFileStore creates a Store backed by one JSON document per task under
// root. Writes go through a temp file and rename so readers never observe a
// partially written log.
func NewFileStore(root string) Store {
	if strings.HasPrefix(root, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, root[2:])
		}
	}
	return &fileStore{
		root: root,
		byID: make(map[string]string),
	}
}

func (s *fileStore) GetOrCreateSession(ctx context.Context, taskID string) (*chat.Session, error) {
	if !safeTaskIDPattern.MatchString(taskID) {
		return nil, fmt.Errorf("invalid task id: %q", taskID)
	}

	// Collapse concurrent lookup-or-create calls for one task into a single
	// disk round trip so racing callers all observe the same session id.
	v, err, _ := s.creates.Do(taskID, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		doc, err := s.readDocument(taskID)
		if err == nil {
			s.byID[doc.Session.ID] = taskID
			copied := doc.Session
			return &copied, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, taskID, err)
		}

		now := time.Now().UTC()
		doc = &sessionDocument{
			Session: chat.Session{
				ID:        uuid.Must(uuid.NewV7()).String(),
				TaskID:    taskID,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		if err := s.writeDocument(taskID, doc); err != nil {
			return nil, err
		}
		s.byID[doc.Session.ID] = taskID

		copied := doc.Session
		return &copied, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*chat.Session), nil
}

func (s *fileStore) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) (*chat.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taskID, doc, err := s.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}

	doc.Seq++
	msg := chat.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Seq:       doc.Seq,
		CreatedAt: time.Now().UTC(),
	}
	doc.Messages = append(doc.Messages, msg)
	doc.Session.UpdatedAt = msg.CreatedAt

	if err := s.writeDocument(taskID, doc); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *fileStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, doc, err := s.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}

	copied := make([]chat.Message, len(doc.Messages))
	copy(copied, doc.Messages)
	return copied, nil
}

// lookupLocked resolves a session id to its task document, rescanning the
// root directory when the in-memory index misses (fresh process, old log).
func (s *fileStore) lookupLocked(sessionID string) (string, *sessionDocument, error) {
	if taskID, indexed := s.byID[sessionID]; indexed {
		doc, err := s.readDocument(taskID)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, sessionID, err)
		}
		return taskID, doc, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return "", nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		taskID := strings.TrimSuffix(entry.Name(), ".json")
		doc, err := s.readDocument(taskID)
		if err != nil {
			continue
		}
		s.byID[doc.Session.ID] = taskID
		if doc.Session.ID == sessionID {
			return taskID, doc, nil
		}
	}

	return "", nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

func (s *fileStore) readDocument(taskID string) (*sessionDocument, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		return nil, err
	}
	var doc sessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", taskID, err)
	}
	return &doc, nil
}

func (s *fileStore) writeDocument(taskID string, doc *sessionDocument) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, taskID, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, taskID, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, taskID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, taskID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, taskID, err)
	}
	if err := os.Rename(tmpName, s.path(taskID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, taskID, err)
	}
	return nil
}

func (s *fileStore) path(taskID string) string {
	return filepath.Join(s.root, taskID+".json")
}
