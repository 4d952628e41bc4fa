package store

import "fmt"

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config holds store initialization parameters.
type Config struct {
	Driver string `json:"driver,omitempty"` // memory (default), file, or postgres
	Path   string `json:"path,omitempty"`   // file store root directory
	DSN    string `json:"dsn,omitempty"`    // postgres connection string
}

// DefaultConfig returns the default store configuration (in-memory).
func DefaultConfig() Config {
	return Config{Driver: DriverMemory}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.DSN != "" {
		c.DSN = source.DSN
	}
}

// NewStore creates a Store from configuration. The postgres driver needs a
// live connection pool and is constructed explicitly with NewPostgresStore;
// requesting it here returns an error directing callers there.
func NewStore(cfg *Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore(cfg.Path), nil
	case DriverPostgres:
		return nil, fmt.Errorf("postgres store requires a connection pool; use NewPostgresStore")
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}
