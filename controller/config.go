package controller

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailored-agentic-units/designchat/backend"
	"github.com/tailored-agentic-units/designchat/store"
)

const defaultStreamBuffer = 16

// Config holds initialization parameters for the controller and its
// subsystems. Each section delegates to that subsystem's config-driven
// constructor.
type Config struct {
	Store        store.Config   `json:"store"`
	Backend      backend.Config `json:"backend"`
	StreamBuffer int            `json:"stream_buffer,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Store:        store.DefaultConfig(),
		Backend:      backend.DefaultConfig(),
		StreamBuffer: defaultStreamBuffer,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Store.Merge(&source.Store)
	c.Backend.Merge(&source.Backend)

	if source.StreamBuffer > 0 {
		c.StreamBuffer = source.StreamBuffer
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
