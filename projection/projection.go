// Package projection maintains the live, display-ready view of a design-chat
// session while a stream is in flight. Confirmed messages always come from
// the store; the projection only covers the transient tail of the current
// send (the optimistic user placeholder and the interleaved text/tool
// segments), and is discarded wholesale when the stream terminates.
//
//	reg := projection.NewRegistry(ctl)
//	stream, err := reg.Begin("task-1", "Design a login flow")
//	for event := range events {
//		stream.Apply(event)
//	}
//	transcript, err := reg.Transcript(ctx, "task-1")
package projection

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

// SegmentKind classifies one entry of the streaming projection.
type SegmentKind string

const (
	SegmentText       SegmentKind = "text"
	SegmentToolUse    SegmentKind = "tool_use"
	SegmentToolResult SegmentKind = "tool_result"
)

// Segment is one display unit of the in-flight assistant turn. Consecutive
// text deltas coalesce into a single growing text segment; tool activity
// appears as discrete entries that break coalescing.
type Segment struct {
	Kind      SegmentKind     `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Output    string          `json:"output,omitempty"`
}

// Snapshot is a point-in-time copy of the transient stream state for one
// session. On screen it renders after the confirmed messages, never
// interleaved with them.
type Snapshot struct {
	Streaming   bool          `json:"streaming"`
	Segments    []Segment     `json:"segments,omitempty"`
	PendingUser *chat.Message `json:"pending_user,omitempty"`
	Err         string        `json:"error,omitempty"`
}

// streamState is the mutable per-session projection. All access goes through
// its mutex; the registry hands out at most one active Stream per session.
type streamState struct {
	mu          sync.Mutex
	streaming   bool
	segments    []Segment
	pendingUser *chat.Message
	err         string

	// localID correlates the optimistic placeholder with the
	// server-confirmed message, so reconciliation never relies on list
	// position.
	localID string
}

func newStreamState(text string) *streamState {
	localID := "local-" + uuid.Must(uuid.NewV7()).String()
	return &streamState{
		streaming: true,
		localID:   localID,
		pendingUser: &chat.Message{
			ID:        localID,
			Role:      chat.RoleUser,
			Content:   text,
			CreatedAt: time.Now().UTC(),
		},
	}
}

// apply folds one stream event into the projection and reports whether the
// event was terminal.
func (s *streamState) apply(event chat.StreamEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case chat.EventUserMessageSaved:
		if event.Message != nil && s.pendingUser != nil && s.pendingUser.ID == s.localID {
			confirmed := *event.Message
			s.pendingUser = &confirmed
		}
		return false

	case chat.EventAssistantChunk:
		if n := len(s.segments); n > 0 && s.segments[n-1].Kind == SegmentText {
			s.segments[n-1].Text += event.Text
			return false
		}
		s.segments = append(s.segments, Segment{Kind: SegmentText, Text: event.Text})
		return false

	case chat.EventToolUse:
		s.segments = append(s.segments, Segment{
			Kind:      SegmentToolUse,
			ToolName:  event.ToolName,
			ToolInput: event.ToolInput,
		})
		return false

	case chat.EventToolResult:
		s.segments = append(s.segments, Segment{
			Kind:     SegmentToolResult,
			ToolName: event.ToolName,
			Output:   event.Output,
		})
		return false

	case chat.EventAssistantComplete:
		// The transient projection is done; the authoritative transcript
		// comes from the forced store refetch, never from these segments.
		s.streaming = false
		s.segments = nil
		s.pendingUser = nil
		return true

	case chat.EventError:
		// The confirmed user message stays visible; it was persisted before
		// the generation could fail. Partial assistant output is discarded.
		s.streaming = false
		s.segments = nil
		s.err = event.Err
		return true

	default:
		return false
	}
}

// cancel discards the whole transient projection without surfacing an error.
func (s *streamState) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streaming = false
	s.segments = nil
	s.pendingUser = nil
	s.err = ""
}

// snapshot returns a defensive copy.
func (s *streamState) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Streaming: s.streaming, Err: s.err}
	if len(s.segments) > 0 {
		snap.Segments = make([]Segment, len(s.segments))
		copy(snap.Segments, s.segments)
	}
	if s.pendingUser != nil {
		pending := *s.pendingUser
		snap.PendingUser = &pending
	}
	return snap
}
