package projection

import (
	"testing"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

func (r *Registry) trackedStreams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

func TestRegistry_ReleasesCompletedStreams(t *testing.T) {
	reg := NewRegistry(nil)

	for _, taskID := range []string{"task-1", "task-2", "task-3"} {
		stream, err := reg.Begin(taskID, "hello")
		if err != nil {
			t.Fatalf("Begin %s failed: %v", taskID, err)
		}
		stream.Apply(chat.Chunk("partial"))
		stream.Apply(chat.Complete(chat.Message{Role: chat.RoleAssistant, Content: "done"}))
	}

	if got := reg.trackedStreams(); got != 0 {
		t.Errorf("got %d tracked streams after completion, want 0", got)
	}
}

func TestRegistry_ReleasesCancelledStreams(t *testing.T) {
	reg := NewRegistry(nil)

	stream, err := reg.Begin("task-1", "hello")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	stream.Cancel()

	if got := reg.trackedStreams(); got != 0 {
		t.Errorf("got %d tracked streams after cancel, want 0", got)
	}
}

func TestRegistry_KeepsErroredStreamUntilNextBegin(t *testing.T) {
	reg := NewRegistry(nil)

	stream, err := reg.Begin("task-1", "hello")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	stream.Apply(chat.ErrorEvent("rate limited"))

	// The error stays visible for display until a new send replaces it.
	if got := reg.trackedStreams(); got != 1 {
		t.Errorf("got %d tracked streams after error, want 1", got)
	}
	if got := reg.Snapshot("task-1").Err; got != "rate limited" {
		t.Errorf("got error %q, want rate limited", got)
	}

	if _, err := reg.Begin("task-1", "retry"); err != nil {
		t.Fatalf("Begin after error failed: %v", err)
	}
	if got := reg.trackedStreams(); got != 1 {
		t.Errorf("got %d tracked streams after replacement, want 1", got)
	}
}

func TestRegistry_StaleHandleDoesNotEvictReplacement(t *testing.T) {
	reg := NewRegistry(nil)

	first, err := reg.Begin("task-1", "one")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	first.Apply(chat.ErrorEvent("rate limited"))

	second, err := reg.Begin("task-1", "two")
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}

	// A leftover handle from the failed stream must not drop the live one.
	first.Cancel()

	if got := reg.trackedStreams(); got != 1 {
		t.Errorf("got %d tracked streams, want 1", got)
	}
	if !reg.Snapshot("task-1").Streaming {
		t.Error("live stream was evicted by a stale handle")
	}
	second.Cancel()
}
