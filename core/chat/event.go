package chat

import "encoding/json"

// EventKind discriminates the StreamEvent union. The set is closed: every
// consumer switches exhaustively on it, and AssistantComplete or Error is
// always the last event of a generation.
type EventKind string

const (
	EventUserMessageSaved  EventKind = "user_message_saved"
	EventAssistantChunk    EventKind = "assistant_chunk"
	EventToolUse           EventKind = "tool_use"
	EventToolResult        EventKind = "tool_result"
	EventAssistantComplete EventKind = "assistant_complete"
	EventError             EventKind = "error"
)

// StreamEvent is a transient unit of incremental generation output. Events are
// relayed live and never persisted; only the resulting Message rows survive a
// stream. Exactly one payload group is populated per kind:
//
//   - user_message_saved, assistant_complete: Message
//   - assistant_chunk: Text
//   - tool_use: ToolName, ToolInput
//   - tool_result: ToolName, Output
//   - error: Err
type StreamEvent struct {
	Kind      EventKind       `json:"type"`
	Message   *Message        `json:"message,omitempty"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Output    string          `json:"output,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// Terminal reports whether no further events follow e in a stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventAssistantComplete || e.Kind == EventError
}

// UserSaved builds the event confirming the user turn was persisted, carrying
// the server-assigned message so clients can retire optimistic placeholders.
func UserSaved(msg Message) StreamEvent {
	return StreamEvent{Kind: EventUserMessageSaved, Message: &msg}
}

// Chunk builds an incremental slice of assistant output. Chunks concatenate in
// arrival order to reconstruct the full text.
func Chunk(text string) StreamEvent {
	return StreamEvent{Kind: EventAssistantChunk, Text: text}
}

// ToolUseEvent builds the event signaling the backend invoked a tool.
func ToolUseEvent(name string, input json.RawMessage) StreamEvent {
	return StreamEvent{Kind: EventToolUse, ToolName: name, ToolInput: input}
}

// ToolResultEvent builds the event carrying a tool invocation's output.
func ToolResultEvent(name, output string) StreamEvent {
	return StreamEvent{Kind: EventToolResult, ToolName: name, Output: output}
}

// Complete builds the terminal success event with the finalized assistant
// message.
func Complete(msg Message) StreamEvent {
	return StreamEvent{Kind: EventAssistantComplete, Message: &msg}
}

// ErrorEvent builds the terminal failure event.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Err: message}
}
