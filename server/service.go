// Package server exposes the design-chat controller over Connect RPC. All
// four operations live under one service; SendStream is a server stream that
// relays each generation event as it arrives, the rest are unary.
//
//	svc := server.NewService(ctl)
//	mux := http.NewServeMux()
//	svc.Mount(mux)
package server

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/designchat/controller"
	"github.com/tailored-agentic-units/designchat/core/chat"
	"github.com/tailored-agentic-units/designchat/store"
)

const (
	ProcedureSend        = "/designchat.v1.DesignChatService/Send"
	ProcedureSendStream  = "/designchat.v1.DesignChatService/SendStream"
	ProcedureSessionFull = "/designchat.v1.DesignChatService/SessionFull"
	ProcedureAddMessage  = "/designchat.v1.DesignChatService/AddMessage"
)

// SendRequest starts one send-and-stream cycle for the task's session.
// SkipHistory runs the exchange ephemerally: nothing is persisted and no
// history is loaded.
type SendRequest struct {
	TaskID      string `json:"task_id"`
	Message     string `json:"message"`
	SkipHistory bool   `json:"skip_history,omitempty"`
	TaskTitle   string `json:"task_title,omitempty"`
	TaskBrief   string `json:"task_brief,omitempty"`
}

// SendResponse carries both persisted turns of a completed blocking send.
type SendResponse struct {
	User      chat.Message `json:"user_message"`
	Assistant chat.Message `json:"assistant_message"`
}

// SessionFullRequest fetches the authoritative snapshot for a task.
type SessionFullRequest struct {
	TaskID string `json:"task_id"`
}

// AddMessageRequest appends a message without invoking generation.
type AddMessageRequest struct {
	TaskID  string `json:"task_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Service is the Connect-facing wrapper around the controller.
type Service struct {
	ctl *controller.Controller
}

// NewService wraps a controller.
func NewService(ctl *controller.Controller) *Service {
	return &Service{ctl: ctl}
}

// Mount registers all handlers on the mux at their procedure paths.
func (s *Service) Mount(mux *http.ServeMux) {
	codec := connect.WithCodec(jsonCodec{})

	mux.Handle(ProcedureSend, connect.NewUnaryHandler(
		ProcedureSend, s.send, codec,
	))
	mux.Handle(ProcedureSendStream, connect.NewServerStreamHandler(
		ProcedureSendStream, s.sendStream, codec,
	))
	mux.Handle(ProcedureSessionFull, connect.NewUnaryHandler(
		ProcedureSessionFull, s.sessionFull, codec,
	))
	mux.Handle(ProcedureAddMessage, connect.NewUnaryHandler(
		ProcedureAddMessage, s.addMessage, codec,
	))
}

func (s *Service) send(ctx context.Context, req *connect.Request[SendRequest]) (*connect.Response[SendResponse], error) {
	opts := sendOptions(req.Msg)
	exchange, err := s.ctl.Send(ctx, req.Msg.TaskID, req.Msg.Message, opts...)
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&SendResponse{
		User:      exchange.User,
		Assistant: exchange.Assistant,
	}), nil
}

// sendStream relays each stream event to the client as one response message.
// Client disconnect cancels ctx, which cancels the generation; the stream
// then ends without a terminal event, matching the cancellation contract.
func (s *Service) sendStream(ctx context.Context, req *connect.Request[SendRequest], stream *connect.ServerStream[chat.StreamEvent]) error {
	opts := sendOptions(req.Msg)
	events, err := s.ctl.SendStream(ctx, req.Msg.TaskID, req.Msg.Message, opts...)
	if err != nil {
		return rpcError(err)
	}
	for event := range events {
		if err := stream.Send(&event); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Service) sessionFull(ctx context.Context, req *connect.Request[SessionFullRequest]) (*connect.Response[controller.SessionSnapshot], error) {
	snapshot, err := s.ctl.SessionFull(ctx, req.Msg.TaskID)
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(snapshot), nil
}

func (s *Service) addMessage(ctx context.Context, req *connect.Request[AddMessageRequest]) (*connect.Response[chat.Message], error) {
	msg, err := s.ctl.AddMessage(ctx, req.Msg.TaskID, chat.Role(req.Msg.Role), req.Msg.Content)
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(msg), nil
}

func sendOptions(req *SendRequest) []controller.SendOption {
	var opts []controller.SendOption
	if req.SkipHistory {
		opts = append(opts, controller.Ephemeral())
	}
	if req.TaskTitle != "" || req.TaskBrief != "" {
		opts = append(opts, controller.WithTaskContext(req.TaskTitle, req.TaskBrief))
	}
	return opts
}

// rpcError maps domain errors onto Connect codes.
func rpcError(err error) error {
	switch {
	case errors.Is(err, controller.ErrEmptyMessage), errors.Is(err, store.ErrInvalidRole):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, store.ErrSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, store.ErrSaveFailed), errors.Is(err, store.ErrLoadFailed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, controller.ErrGenerationFailed):
		return connect.NewError(connect.CodeInternal, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
