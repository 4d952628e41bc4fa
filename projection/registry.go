package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/tailored-agentic-units/designchat/controller"
	"github.com/tailored-agentic-units/designchat/core/chat"
)

// SnapshotSource provides the authoritative session snapshot used for the
// forced refetch after a stream terminates. *controller.Controller satisfies
// it.
type SnapshotSource interface {
	SessionFull(ctx context.Context, taskID string) (*controller.SessionSnapshot, error)
}

// Transcript is the complete client view of one session: the confirmed
// messages in store order, followed by the live projection tail.
type Transcript struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
	Live     Snapshot       `json:"live"`
}

// Registry owns the per-session stream state. Sessions are isolated: two
// tasks streaming at once never share state, and a second Begin for a task
// whose stream is still in flight is rejected rather than queued.
type Registry struct {
	mu      sync.RWMutex
	source  SnapshotSource
	streams map[string]*streamState
}

// NewRegistry creates a registry backed by the given snapshot source.
func NewRegistry(source SnapshotSource) *Registry {
	return &Registry{
		source:  source,
		streams: make(map[string]*streamState),
	}
}

// Begin starts tracking a new send for the task. It installs the optimistic
// user placeholder immediately and clears any residue from the previous
// stream (including a surfaced error). Returns ErrStreamInFlight while a
// prior stream for the same task has not terminated.
func (r *Registry) Begin(taskID, text string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.streams[taskID]; ok && prev.snapshot().Streaming {
		return nil, fmt.Errorf("%w: task %s", ErrStreamInFlight, taskID)
	}

	state := newStreamState(text)
	r.streams[taskID] = state
	return &Stream{registry: r, taskID: taskID, state: state}, nil
}

// evict drops the task's entry if it still refers to the given state; a
// newer Begin may already have replaced it.
func (r *Registry) evict(taskID string, state *streamState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streams[taskID] == state {
		delete(r.streams, taskID)
	}
}

// Snapshot returns the current transient projection for the task. A task
// with no tracked stream yields a zero snapshot.
func (r *Registry) Snapshot(taskID string) Snapshot {
	r.mu.RLock()
	state, ok := r.streams[taskID]
	r.mu.RUnlock()

	if !ok {
		return Snapshot{}
	}
	return state.snapshot()
}

// Transcript performs the authoritative refetch and pairs it with the
// current projection tail. After a completed or cancelled stream the tail is
// empty, so the transcript equals exactly the persisted message log.
func (r *Registry) Transcript(ctx context.Context, taskID string) (*Transcript, error) {
	full, err := r.source.SessionFull(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Transcript{
		Session:  full.Session,
		Messages: full.Messages,
		Live:     r.Snapshot(taskID),
	}, nil
}

// Stream is the handle for one in-flight send. It is owned by the goroutine
// consuming the event channel; Apply and Cancel are safe to call from
// different goroutines.
type Stream struct {
	registry *Registry
	taskID   string
	state    *streamState
}

// Apply folds one event into the projection and reports whether it was
// terminal. After a terminal event further Apply calls are no-ops for
// terminal kinds and must not be issued. A completed stream leaves nothing
// to display, so its registry entry is released; an errored stream stays
// registered until the next Begin, keeping the error visible.
func (s *Stream) Apply(event chat.StreamEvent) bool {
	terminal := s.state.apply(event)
	if terminal && event.Kind == chat.EventAssistantComplete {
		s.registry.evict(s.taskID, s.state)
	}
	return terminal
}

// Cancel discards the transient projection after the caller has aborted the
// event source, and releases the registry entry. The confirmed user message
// survives in the store and reappears on the next Transcript call.
func (s *Stream) Cancel() {
	s.state.cancel()
	s.registry.evict(s.taskID, s.state)
}

// Snapshot returns the current projection of this stream.
func (s *Stream) Snapshot() Snapshot {
	return s.state.snapshot()
}
