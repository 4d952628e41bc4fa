package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/designchat/core/chat"
	"github.com/tailored-agentic-units/designchat/store"
)

func TestFileStore_GetOrCreateSession_Idempotent(t *testing.T) {
	s := store.NewFileStore(t.TempDir())
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	second, err := s.GetOrCreateSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("second GetOrCreateSession failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("got session ids %q and %q, want identical", first.ID, second.ID)
	}
}

func TestFileStore_GetOrCreateSession_InvalidTaskID(t *testing.T) {
	s := store.NewFileStore(t.TempDir())

	for _, taskID := range []string{"", "../escape", "a/b", "a b"} {
		if _, err := s.GetOrCreateSession(context.Background(), taskID); err == nil {
			t.Errorf("expected error for task id %q", taskID)
		}
	}
}

func TestFileStore_AppendAndList(t *testing.T) {
	s := store.NewFileStore(t.TempDir())
	ctx := context.Background()
	sess, _ := s.GetOrCreateSession(ctx, "task-1")

	if _, err := s.AppendMessage(ctx, sess.ID, chat.RoleUser, "Design a login flow"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := s.AppendMessage(ctx, sess.ID, chat.RoleAssistant, "Use OAuth"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[1].Role != chat.RoleAssistant {
		t.Errorf("got roles %q, %q, want user, assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[0].Seq >= msgs[1].Seq {
		t.Errorf("sequence not increasing: %d then %d", msgs[0].Seq, msgs[1].Seq)
	}
}

func TestFileStore_AppendMessage_UnknownSession(t *testing.T) {
	s := store.NewFileStore(t.TempDir())

	_, err := s.AppendMessage(context.Background(), "no-such-session", chat.RoleUser, "hi")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("got error %v, want ErrSessionNotFound", err)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s := store.NewFileStore(root)
	sess, _ := s.GetOrCreateSession(ctx, "task-1")
	s.AppendMessage(ctx, sess.ID, chat.RoleUser, "hello")
	s.AppendMessage(ctx, sess.ID, chat.RoleAssistant, "hi")

	// A fresh store over the same directory must see the same session and log.
	reopened := store.NewFileStore(root)
	again, err := reopened.GetOrCreateSession(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession after reopen failed: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("got session id %q after reopen, want %q", again.ID, sess.ID)
	}

	msgs, err := reopened.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages after reopen failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after reopen, want 2", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi" {
		t.Errorf("got contents %q, %q, want hello, hi", msgs[0].Content, msgs[1].Content)
	}
}

func TestFileStore_Concurrent_GetOrCreate(t *testing.T) {
	s := store.NewFileStore(t.TempDir())
	ctx := context.Background()
	const n = 20

	ids := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			sess, err := s.GetOrCreateSession(ctx, "task-1")
			if err == nil {
				ids[i] = sess.ID
			}
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent GetOrCreateSession returned divergent ids: %q and %q", ids[0], ids[i])
		}
	}
}

func TestNewStore_Drivers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     store.Config
		wantErr bool
	}{
		{"default", store.Config{}, false},
		{"memory", store.Config{Driver: store.DriverMemory}, false},
		{"file", store.Config{Driver: store.DriverFile, Path: t.TempDir()}, false},
		{"file without path", store.Config{Driver: store.DriverFile}, true},
		{"postgres needs pool", store.Config{Driver: store.DriverPostgres}, true},
		{"unknown", store.Config{Driver: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.NewStore(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStore error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
