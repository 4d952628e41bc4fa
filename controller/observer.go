package controller

import "github.com/tailored-agentic-units/designchat/observability"

// Controller event types emitted during a send-and-stream cycle.
const (
	EventSendStart     observability.EventType = "chat.send.start"
	EventUserSaved     observability.EventType = "chat.user.saved"
	EventToolUse       observability.EventType = "chat.tool.use"
	EventToolResult    observability.EventType = "chat.tool.result"
	EventSendComplete  observability.EventType = "chat.send.complete"
	EventSendCancelled observability.EventType = "chat.send.cancelled"
	EventSendError     observability.EventType = "chat.send.error"
)
