package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tailored-agentic-units/designchat/backend"
	"github.com/tailored-agentic-units/designchat/core/chat"
)

func TestEventStream_SendReceive(t *testing.T) {
	ctx := context.Background()
	s := backend.NewEventStream(ctx, 4)

	if err := s.Send(ctx, chat.Chunk("Use ")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send(ctx, chat.Chunk("OAuth")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	first, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if first.Text != "Use " {
		t.Errorf("got text %q, want %q", first.Text, "Use ")
	}

	second, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if second.Text != "OAuth" {
		t.Errorf("got text %q, want %q", second.Text, "OAuth")
	}
}

func TestEventStream_ReceiveAfterClose(t *testing.T) {
	ctx := context.Background()
	s := backend.NewEventStream(ctx, 1)

	s.Send(ctx, chat.ErrorEvent("rate limited"))
	s.Close()

	// Buffered event is still delivered after Close.
	event, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if event.Kind != chat.EventError {
		t.Errorf("got kind %q, want %q", event.Kind, chat.EventError)
	}

	if _, err := s.Receive(ctx); !errors.Is(err, backend.ErrStreamClosed) {
		t.Errorf("got error %v, want ErrStreamClosed", err)
	}
}

func TestEventStream_Close_Idempotent(t *testing.T) {
	s := backend.NewEventStream(context.Background(), 1)

	s.Close()
	s.Close()

	if !s.IsClosed() {
		t.Error("stream should report closed")
	}
}

func TestEventStream_ReceiveCancelled(t *testing.T) {
	streamCtx := context.Background()
	s := backend.NewEventStream(streamCtx, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, want context.Canceled", err)
	}
}

func TestEventStream_SendCancelledStreamContext(t *testing.T) {
	streamCtx, cancel := context.WithCancel(context.Background())
	s := backend.NewEventStream(streamCtx, 0)

	done := make(chan error, 1)
	go func() {
		done <- s.Send(context.Background(), chat.Chunk("stuck"))
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got error %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after stream context cancellation")
	}
}
