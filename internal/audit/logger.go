// Package audit provides fire-and-forget audit logging for authorization
// decisions and lifecycle events. Emission never fails a caller: the async
// path drops oldest-first under overload, and even the synchronous path
// reports but does not propagate writer faults upward.
package audit

import (
	"context"
	"fmt"
	"time"
)

// Logger records audit events
type Logger interface {
	// Record asynchronously records an event (never blocks, never fails)
	Record(eventType EventType, category Category, description string, fields Fields)

	// RecordSync records an event and waits for the write. Used where the
	// record must exist before the caller proceeds (emergency access).
	RecordSync(ctx context.Context, eventType EventType, category Category, description string, fields Fields) error

	// Flush drains pending events
	Flush() error

	// Close flushes and releases resources
	Close() error
}

// Config for the audit logger
type Config struct {
	// Enabled turns audit logging on
	Enabled bool

	// Output type: stdout or file
	Type string

	// File output settings
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // days
	FileMaxBackups int

	// Performance tuning
	BufferSize    int
	FlushInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Type != "stdout" && c.Type != "file" {
		return fmt.Errorf("invalid audit type: %s (must be stdout or file)", c.Type)
	}
	if c.Type == "file" && c.FilePath == "" {
		return fmt.Errorf("file path is required for file output")
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return nil
}

// NewLogger creates an audit logger per config
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.Enabled {
		return &noopLogger{}, nil
	}

	var writer Writer
	var err error
	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Type)
	}

	return newAsyncLogger(writer, *cfg), nil
}

// noopLogger is used when audit logging is disabled
type noopLogger struct{}

func (n *noopLogger) Record(EventType, Category, string, Fields) {}
func (n *noopLogger) RecordSync(context.Context, EventType, Category, string, Fields) error {
	return nil
}
func (n *noopLogger) Flush() error { return nil }
func (n *noopLogger) Close() error { return nil }
