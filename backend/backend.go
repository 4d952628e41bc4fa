// Package backend adapts external text-generation engines into the live
// stream-event sequence consumed by the design-chat controller. A generator
// receives the session's prior messages as context on every call — there is
// no server-side conversation memory beyond what the store provides.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

// Context carries the session-scoped inputs for one generation. SessionID is
// empty for ephemeral sends, in which case the engine must not persist any
// conversation state of its own.
type Context struct {
	SessionID string
	History   []chat.Message
	TaskTitle string
	TaskBrief string
}

// Generator translates a prompt plus conversation context into a live event
// stream. The stream is lazy and ends with AssistantComplete or Error; the
// only silent termination is cancellation of ctx, in which case the generator
// stops producing events and releases the underlying engine. Failures of the
// engine itself surface as a single Error event, never as a mid-stream Go
// error.
type Generator interface {
	Generate(ctx context.Context, sc Context, prompt string) (*EventStream, error)
}

// Config holds generation backend initialization parameters.
type Config struct {
	Driver       string   `json:"driver,omitempty"`        // currently only "cli"
	Command      string   `json:"command,omitempty"`       // agent CLI binary
	Args         []string `json:"args,omitempty"`          // extra CLI arguments
	WorkDir      string   `json:"work_dir,omitempty"`      // working directory for the CLI
	SystemPrompt string   `json:"system_prompt,omitempty"` // preamble for fresh conversations
	ReadTimeout  Duration `json:"read_timeout,omitempty"`  // per-read bound on engine output
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverCLI,
		Command:      defaultCommand,
		SystemPrompt: defaultSystemPrompt,
		ReadTimeout:  Duration(2 * time.Minute),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Command != "" {
		c.Command = source.Command
	}
	if len(source.Args) > 0 {
		c.Args = source.Args
	}
	if source.WorkDir != "" {
		c.WorkDir = source.WorkDir
	}
	if source.SystemPrompt != "" {
		c.SystemPrompt = source.SystemPrompt
	}
	if source.ReadTimeout > 0 {
		c.ReadTimeout = source.ReadTimeout
	}
}

// New creates a Generator from configuration.
func New(cfg *Config) (Generator, error) {
	switch cfg.Driver {
	case "", DriverCLI:
		return NewCLIGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend driver: %s", cfg.Driver)
	}
}

// Duration is a time.Duration that unmarshals from JSON duration strings
// ("120s") as well as nanosecond numbers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		parsed, err := time.ParseDuration(string(data[1 : len(data)-1]))
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if _, err := fmt.Sscan(string(data), &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}
