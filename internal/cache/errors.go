// Package cache provides the two-tier decision cache
package cache

import "fmt"

// ConfigError indicates an invalid cache configuration
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cache config: %s", e.msg)
}

// ErrInvalidConfig creates a configuration error
func ErrInvalidConfig(msg string) error {
	return &ConfigError{msg: msg}
}
