// Package controller orchestrates one design-chat send-and-stream cycle: it
// persists the user turn, invokes the generation backend with the session's
// full history, relays stream events to the caller in arrival order, and
// persists the assistant turn before the completion event is relayed. A
// caller therefore never observes an assistant message that was not durably
// stored.
//
//	ctl, err := controller.New(&cfg)
//	events, err := ctl.SendStream(ctx, taskID, "Design a login flow")
//
// The controller guarantees single-flight only when the caller serializes
// sends through one cancellation-aware handle per session; issuing concurrent
// sends for the same session without coordination is a caller error.
package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tailored-agentic-units/designchat/backend"
	"github.com/tailored-agentic-units/designchat/core/chat"
	"github.com/tailored-agentic-units/designchat/observability"
	"github.com/tailored-agentic-units/designchat/store"
)

// Exchange holds the two persisted messages of one completed send.
type Exchange struct {
	User      chat.Message `json:"user_message"`
	Assistant chat.Message `json:"assistant_message"`
}

// SessionSnapshot is the authoritative state of a session: the record plus
// its full ordered message log. Clients rebuild their transcript from it
// after every stream ends.
type SessionSnapshot struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

// Option configures a Controller after config-driven initialization.
type Option func(*Controller)

// WithStore overrides the config-created store.
func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithBackend overrides the config-created generation backend.
func WithBackend(g backend.Generator) Option {
	return func(c *Controller) { c.backend = g }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// SendOption adjusts a single send.
type SendOption func(*sendOptions)

type sendOptions struct {
	ephemeral bool
	taskTitle string
	taskBrief string
}

// Ephemeral skips persistence entirely: neither turn is written, no history
// is loaded, and the backend is told not to keep conversation state. Used by
// callers that supply all context inline and want no trace in the session log.
func Ephemeral() SendOption {
	return func(o *sendOptions) { o.ephemeral = true }
}

// WithTaskContext passes the owning task's title and description to the
// backend for fresh conversations.
func WithTaskContext(title, brief string) SendOption {
	return func(o *sendOptions) {
		o.taskTitle = title
		o.taskBrief = brief
	}
}

// Controller is the stream session controller.
type Controller struct {
	store    store.Store
	backend  backend.Generator
	observer observability.Observer
	buffer   int
}

// New creates a Controller from configuration. The store and backend are
// initialized from their config sections; functional options can override
// any subsystem (required for the postgres store, which needs a live pool).
func New(cfg *Config, opts ...Option) (*Controller, error) {
	c := &Controller{
		observer: observability.NewSlogObserver(slog.Default()),
		buffer:   cfg.StreamBuffer,
	}
	if c.buffer <= 0 {
		c.buffer = defaultStreamBuffer
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		s, err := store.NewStore(&cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		c.store = s
	}
	if c.backend == nil {
		g, err := backend.New(&cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}
		c.backend = g
	}

	return c, nil
}

// SendStream runs one send-and-stream cycle for the task's session. The user
// message is persisted before the stream starts; a persistence failure is
// returned synchronously and no generation is attempted. The returned channel
// is closed after the terminal event, or without one when ctx is cancelled.
func (c *Controller) SendStream(ctx context.Context, taskID, text string, opts ...SendOption) (<-chan chat.StreamEvent, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	var options sendOptions
	for _, opt := range opts {
		opt(&options)
	}

	var (
		sess    *chat.Session
		history []chat.Message
		userMsg *chat.Message
	)
	if !options.ephemeral {
		var err error
		sess, err = c.store.GetOrCreateSession(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
		history, err = c.store.ListMessages(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		userMsg, err = c.store.AppendMessage(ctx, sess.ID, chat.RoleUser, text)
		if err != nil {
			return nil, fmt.Errorf("failed to save user message: %w", err)
		}
	}

	out := make(chan chat.StreamEvent, c.buffer)
	go c.run(ctx, sess, history, userMsg, text, options, out)
	return out, nil
}

// run drives the stream from user-persist confirmation through the terminal
// event. It owns closing out.
func (c *Controller) run(ctx context.Context, sess *chat.Session, history []chat.Message, userMsg *chat.Message, text string, options sendOptions, out chan<- chat.StreamEvent) {
	defer close(out)

	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}

	c.observer.OnEvent(ctx, observability.NewEvent(
		EventSendStart, observability.LevelInfo, "controller.SendStream",
		map[string]any{
			"session_id":    sessionID,
			"prompt_length": len(text),
			"ephemeral":     options.ephemeral,
		},
	))

	emit := func(event chat.StreamEvent) bool {
		select {
		case out <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if userMsg != nil {
		if !emit(chat.UserSaved(*userMsg)) {
			c.observeCancelled(ctx, sessionID)
			return
		}
		c.observer.OnEvent(ctx, observability.NewEvent(
			EventUserSaved, observability.LevelVerbose, "controller.SendStream",
			map[string]any{"session_id": sessionID, "message_id": userMsg.ID},
		))
	}

	sc := backend.Context{
		SessionID: sessionID,
		History:   history,
		TaskTitle: options.taskTitle,
		TaskBrief: options.taskBrief,
	}
	events, err := c.backend.Generate(ctx, sc, text)
	if err != nil {
		// Backend setup failures surface on the stream like any generation
		// failure; the session stays usable for the next send.
		emit(chat.ErrorEvent(err.Error()))
		c.observeError(ctx, sessionID, err.Error())
		return
	}

	for {
		event, err := events.Receive(ctx)
		if err != nil {
			// Cancellation, or the backend closed without a terminal event
			// (which it only does when its own context was cancelled).
			// Either way the partial output is discarded silently.
			c.observeCancelled(ctx, sessionID)
			return
		}

		switch event.Kind {
		case chat.EventAssistantComplete:
			// Cancellation is authoritative here: a cancelled send never
			// writes the assistant row, even if the terminal event raced in.
			if ctx.Err() != nil {
				c.observeCancelled(ctx, sessionID)
				return
			}
			if options.ephemeral {
				emit(event)
				c.observeComplete(ctx, sessionID, event)
				return
			}
			saved, err := c.store.AppendMessage(ctx, sessionID, chat.RoleAssistant, event.Message.Content)
			if err != nil {
				emit(chat.ErrorEvent(fmt.Sprintf("failed to save response: %v", err)))
				c.observeError(ctx, sessionID, err.Error())
				return
			}
			emit(chat.Complete(*saved))
			c.observeComplete(ctx, sessionID, event)
			return

		case chat.EventError:
			emit(event)
			c.observeError(ctx, sessionID, event.Err)
			return

		case chat.EventToolUse:
			c.observer.OnEvent(ctx, observability.NewEvent(
				EventToolUse, observability.LevelVerbose, "controller.SendStream",
				map[string]any{"session_id": sessionID, "tool": event.ToolName},
			))
			if !emit(event) {
				c.observeCancelled(ctx, sessionID)
				return
			}

		case chat.EventToolResult:
			// Relayed and logged for audit; tool results are never persisted.
			c.observer.OnEvent(ctx, observability.NewEvent(
				EventToolResult, observability.LevelVerbose, "controller.SendStream",
				map[string]any{"session_id": sessionID, "tool": event.ToolName, "output_length": len(event.Output)},
			))
			if !emit(event) {
				c.observeCancelled(ctx, sessionID)
				return
			}

		default:
			if !emit(event) {
				c.observeCancelled(ctx, sessionID)
				return
			}
		}
	}
}

// Send is the blocking wrapper around SendStream: it consumes the stream and
// returns once both messages are persisted.
func (c *Controller) Send(ctx context.Context, taskID, text string, opts ...SendOption) (*Exchange, error) {
	events, err := c.SendStream(ctx, taskID, text, opts...)
	if err != nil {
		return nil, err
	}

	var exchange Exchange
	var sawComplete bool
	for event := range events {
		switch event.Kind {
		case chat.EventUserMessageSaved:
			exchange.User = *event.Message
		case chat.EventAssistantComplete:
			exchange.Assistant = *event.Message
			sawComplete = true
		case chat.EventError:
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, event.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sawComplete {
		return nil, fmt.Errorf("%w: stream ended without a response", ErrGenerationFailed)
	}
	return &exchange, nil
}

// AddMessage appends a message sourced externally, without invoking the
// generation backend. The session is created when absent.
func (c *Controller) AddMessage(ctx context.Context, taskID string, role chat.Role, content string) (*chat.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %s", store.ErrInvalidRole, role)
	}
	sess, err := c.store.GetOrCreateSession(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return c.store.AppendMessage(ctx, sess.ID, role, content)
}

// SessionFull returns the authoritative session snapshot, creating the
// session when absent. Clients use it as the forced refetch after every
// stream terminates.
func (c *Controller) SessionFull(ctx context.Context, taskID string) (*SessionSnapshot, error) {
	sess, err := c.store.GetOrCreateSession(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	messages, err := c.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return &SessionSnapshot{Session: *sess, Messages: messages}, nil
}

func (c *Controller) observeComplete(ctx context.Context, sessionID string, event chat.StreamEvent) {
	length := 0
	if event.Message != nil {
		length = len(event.Message.Content)
	}
	c.observer.OnEvent(ctx, observability.NewEvent(
		EventSendComplete, observability.LevelInfo, "controller.SendStream",
		map[string]any{"session_id": sessionID, "response_length": length},
	))
}

func (c *Controller) observeCancelled(ctx context.Context, sessionID string) {
	c.observer.OnEvent(ctx, observability.NewEvent(
		EventSendCancelled, observability.LevelInfo, "controller.SendStream",
		map[string]any{"session_id": sessionID},
	))
}

func (c *Controller) observeError(ctx context.Context, sessionID, message string) {
	c.observer.OnEvent(ctx, observability.NewEvent(
		EventSendError, observability.LevelWarning, "controller.SendStream",
		map[string]any{"session_id": sessionID, "error": message},
	))
}
