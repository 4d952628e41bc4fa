package backend

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

// fakeCLI writes a shell script standing in for the generation CLI and
// returns its path.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require sh")
	}

	path := filepath.Join(t.TempDir(), "fake-cli.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write fake CLI: %v", err)
	}
	return path
}

// settleGoroutines waits for the goroutine count to return to the baseline
// captured before the generation started.
func settleGoroutines(t *testing.T, baseline int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Fatalf("leaked goroutines: baseline %d, now %d\n%s", baseline, runtime.NumGoroutine(), buf[:n])
}

func TestCLIGenerator_CancelReleasesReader(t *testing.T) {
	// Flood stdout so a line is always pending when the consumer stops
	// reading, then outlive the cancellation.
	script := fakeCLI(t, `i=0
while [ $i -lt 500 ]; do
  echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"text":"x"}}}'
  i=$((i+1))
done
sleep 30
`)
	gen := NewCLIGenerator(&Config{Command: script, ReadTimeout: Duration(10 * time.Second)})

	baseline := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := gen.Generate(ctx, Context{}, "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	event, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("first Receive failed: %v", err)
	}
	if event.Kind != chat.EventAssistantChunk {
		t.Fatalf("got kind %q, want assistant_chunk", event.Kind)
	}

	cancel()
	for {
		if _, err := stream.Receive(context.Background()); err != nil {
			break
		}
	}

	settleGoroutines(t, baseline)
}

func TestCLIGenerator_ReadTimeout(t *testing.T) {
	script := fakeCLI(t, "sleep 30\n")
	gen := NewCLIGenerator(&Config{Command: script, ReadTimeout: Duration(100 * time.Millisecond)})

	baseline := runtime.NumGoroutine()

	ctx := context.Background()
	stream, err := gen.Generate(ctx, Context{}, "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	event, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if event.Kind != chat.EventError {
		t.Fatalf("got kind %q, want error", event.Kind)
	}
	if !strings.Contains(event.Err, "timed out") {
		t.Errorf("got error %q, want timeout message", event.Err)
	}

	if _, err := stream.Receive(ctx); err != ErrStreamClosed {
		t.Errorf("got %v after terminal event, want ErrStreamClosed", err)
	}

	settleGoroutines(t, baseline)
}

func TestCLIGenerator_TimeoutAfterOutput(t *testing.T) {
	// The timeout is per read: it fires when the CLI goes quiet mid-stream
	// without a result envelope, and the reader must still wind down.
	script := fakeCLI(t, `i=0
while [ $i -lt 5 ]; do
  echo 'not json noise'
  i=$((i+1))
done
sleep 30
`)
	gen := NewCLIGenerator(&Config{Command: script, ReadTimeout: Duration(150 * time.Millisecond)})

	baseline := runtime.NumGoroutine()

	ctx := context.Background()
	stream, err := gen.Generate(ctx, Context{}, "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	event, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if event.Kind != chat.EventError || !strings.Contains(event.Err, "timed out") {
		t.Errorf("got %+v, want timeout error event", event)
	}

	settleGoroutines(t, baseline)
}
