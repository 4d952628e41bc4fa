package chat_test

import (
	"encoding/json"
	"testing"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role chat.Role
		want bool
	}{
		{chat.RoleUser, true},
		{chat.RoleAssistant, true},
		{chat.Role("system"), false},
		{chat.Role(""), false},
	}

	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestStreamEvent_Terminal(t *testing.T) {
	tests := []struct {
		name  string
		event chat.StreamEvent
		want  bool
	}{
		{"user_saved", chat.UserSaved(chat.Message{}), false},
		{"chunk", chat.Chunk("hi"), false},
		{"tool_use", chat.ToolUseEvent("grep", json.RawMessage(`{}`)), false},
		{"tool_result", chat.ToolResultEvent("grep", "match"), false},
		{"complete", chat.Complete(chat.Message{}), true},
		{"error", chat.ErrorEvent("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamEvent_JSONTag(t *testing.T) {
	data, err := json.Marshal(chat.Chunk("Use OAuth"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != string(chat.EventAssistantChunk) {
		t.Errorf("got type %v, want %q", decoded["type"], chat.EventAssistantChunk)
	}
	if decoded["text"] != "Use OAuth" {
		t.Errorf("got text %v, want %q", decoded["text"], "Use OAuth")
	}
	if _, present := decoded["message"]; present {
		t.Error("chunk event should omit the message payload")
	}
}
