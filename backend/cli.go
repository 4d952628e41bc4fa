package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

const (
	DriverCLI      = "cli"
	defaultCommand = "claude"

	defaultSystemPrompt = "You are a helpful assistant for software design discussions. " +
		"Help the user plan and design their implementation. " +
		"Be concise but thorough. Respond in the same language as the user."

	// Buffer between the parsing goroutine and the consumer; deep enough that
	// token-sized chunks rarely block the child process pipe.
	eventBuffer = 32

	stderrTailLimit = 4096
)

// CLIGenerator runs an agent CLI per generation in its stream-json output
// mode and translates the line-delimited event envelopes it prints into
// stream events. The CLI keeps its own conversation state keyed by session
// id, so an ongoing session is resumed with only the new user message while
// a fresh one receives the full context prompt.
type CLIGenerator struct {
	command      string
	extraArgs    []string
	workDir      string
	systemPrompt string
	readTimeout  time.Duration
}

// NewCLIGenerator creates a CLIGenerator from configuration, filling defaults
// for unset fields.
func NewCLIGenerator(cfg *Config) *CLIGenerator {
	g := &CLIGenerator{
		command:      cfg.Command,
		extraArgs:    cfg.Args,
		workDir:      cfg.WorkDir,
		systemPrompt: cfg.SystemPrompt,
		readTimeout:  time.Duration(cfg.ReadTimeout),
	}
	if g.command == "" {
		g.command = defaultCommand
	}
	if g.systemPrompt == "" {
		g.systemPrompt = defaultSystemPrompt
	}
	if g.readTimeout <= 0 {
		g.readTimeout = 2 * time.Minute
	}
	return g
}

func (g *CLIGenerator) Generate(ctx context.Context, sc Context, prompt string) (*EventStream, error) {
	stream := NewEventStream(ctx, eventBuffer)
	go g.run(ctx, sc, prompt, stream)
	return stream, nil
}

func (g *CLIGenerator) run(ctx context.Context, sc Context, prompt string, stream *EventStream) {
	defer stream.Close()

	emit := func(event chat.StreamEvent) error {
		return stream.Send(ctx, event)
	}
	fail := func(format string, args ...any) {
		_ = emit(chat.ErrorEvent(fmt.Sprintf(format, args...)))
	}

	resume := hasAssistantTurn(sc.History) && sc.SessionID != ""

	cmd := exec.CommandContext(ctx, g.command, g.buildArgs(sc, resume)...)
	if g.workDir != "" {
		cmd.Dir = g.workDir
	}
	var stderr tailWriter
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		fail("failed to open backend stdin: %v", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail("failed to open backend stdout: %v", err)
		return
	}

	if err := cmd.Start(); err != nil {
		fail("failed to start generation backend: %v", err)
		return
	}

	// Prompt goes through stdin to stay clear of argv length limits; closing
	// signals EOF to the CLI.
	if _, err := io.WriteString(stdin, g.buildPrompt(sc, prompt, resume)); err != nil {
		stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		fail("failed to write prompt to generation backend: %v", err)
		return
	}
	stdin.Close()

	// stop releases the reader goroutine on every exit path; without it a
	// pending line would block the send below forever once this function
	// stops receiving.
	stop := make(chan struct{})
	defer close(stop)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	parser := newEnvelopeParser(emit)

read:
	for !parser.done {
		select {
		case line, ok := <-lines:
			if !ok {
				break read
			}
			if err := parser.handleLine(line); err != nil {
				// Consumer went away; stop the engine and bail out silently.
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return
			}
		case <-time.After(g.readTimeout):
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			fail("generation backend timed out after %v", g.readTimeout)
			return
		case <-ctx.Done():
			_ = cmd.Wait()
			return
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return
	}

	// The complete result text is preferred over accumulated deltas; partial
	// messages may drop or re-send fragments.
	text := strings.TrimSpace(parser.finalText)
	if text == "" {
		text = strings.TrimSpace(parser.streamed.String())
	}

	if !parser.done && waitErr != nil {
		fail("generation backend failed: %s", stderrSummary(waitErr, &stderr))
		return
	}
	if text == "" {
		fail("no response received from generation backend")
		return
	}

	_ = emit(chat.Complete(chat.Message{Role: chat.RoleAssistant, Content: text}))
}

func (g *CLIGenerator) buildArgs(sc Context, resume bool) []string {
	args := []string{
		"--print",
		"--output-format=stream-json",
		"--include-partial-messages",
		"--verbose",
	}
	args = append(args, g.extraArgs...)

	switch {
	case sc.SessionID == "":
		args = append(args, "--no-session-persistence")
	case resume:
		args = append(args, "--resume", sc.SessionID)
	default:
		args = append(args, "--session-id", sc.SessionID)
	}
	return args
}

// buildPrompt sends only the new message when the CLI already holds the
// conversation, and the full preamble plus task context otherwise.
func (g *CLIGenerator) buildPrompt(sc Context, prompt string, resume bool) string {
	if resume {
		return prompt
	}

	var b strings.Builder
	b.WriteString(g.systemPrompt)
	if sc.TaskTitle != "" {
		b.WriteString("\n\nTask Title: ")
		b.WriteString(sc.TaskTitle)
		b.WriteString("\nTask Description: ")
		if sc.TaskBrief != "" {
			b.WriteString(sc.TaskBrief)
		} else {
			b.WriteString("(no description)")
		}
	}
	b.WriteString("\n\nUser: ")
	b.WriteString(prompt)
	return b.String()
}

func hasAssistantTurn(history []chat.Message) bool {
	for _, msg := range history {
		if msg.Role == chat.RoleAssistant {
			return true
		}
	}
	return false
}

func stderrSummary(waitErr error, stderr *tailWriter) string {
	tail := strings.TrimSpace(stderr.String())
	if tail == "" {
		return waitErr.Error()
	}
	return tail
}

// tailWriter keeps the last stderrTailLimit bytes written to it.
type tailWriter struct {
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > stderrTailLimit {
		w.buf = w.buf[len(w.buf)-stderrTailLimit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(w.buf)
}

// --- stream-json envelope parsing ---

type cliEnvelope struct {
	Type    string          `json:"type"`
	Event   *cliStreamEvent `json:"event,omitempty"`
	Message *cliMessage     `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
}

type cliStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type cliMessage struct {
	Content []cliContentBlock `json:"content"`
}

type cliContentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// envelopeParser folds stream-json lines into stream events. Text comes
// exclusively from content_block_delta events; assistant envelopes contribute
// only tool_use blocks, deduplicated by id because partial messages repeat
// them.
type envelopeParser struct {
	emit         func(chat.StreamEvent) error
	emittedTools map[string]bool
	streamed     strings.Builder
	finalText    string
	done         bool
}

func newEnvelopeParser(emit func(chat.StreamEvent) error) *envelopeParser {
	return &envelopeParser{
		emit:         emit,
		emittedTools: make(map[string]bool),
	}
}

func (p *envelopeParser) handleLine(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var env cliEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		// Non-JSON noise on stdout is ignored, matching the CLI's verbose mode.
		return nil
	}

	switch env.Type {
	case "stream_event":
		if env.Event == nil || env.Event.Type != "content_block_delta" {
			return nil
		}
		if text := env.Event.Delta.Text; text != "" {
			p.streamed.WriteString(text)
			return p.emit(chat.Chunk(text))
		}
	case "assistant":
		if env.Message == nil {
			return nil
		}
		for _, block := range env.Message.Content {
			if block.Type != "tool_use" {
				continue
			}
			// Skip incomplete blocks (null input) and repeats.
			if len(block.Input) == 0 || string(block.Input) == "null" {
				continue
			}
			if block.ID != "" && p.emittedTools[block.ID] {
				continue
			}
			if block.ID != "" {
				p.emittedTools[block.ID] = true
			}
			name := block.Name
			if name == "" {
				name = "unknown"
			}
			if err := p.emit(chat.ToolUseEvent(name, block.Input)); err != nil {
				return err
			}
		}
	case "user":
		if env.Message == nil {
			return nil
		}
		for _, block := range env.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			name := block.ToolUseID
			if name == "" {
				name = "unknown"
			}
			if err := p.emit(chat.ToolResultEvent(name, toolResultText(block.Content))); err != nil {
				return err
			}
		}
	case "result":
		p.finalText = env.Result
		p.done = true
	}
	return nil
}

// toolResultText extracts readable output from a tool_result content payload,
// which is either a plain string or an array of typed blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
