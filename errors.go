package rsfec

import "github.com/pkg/errors"

// Error taxonomy (spec.md §7). Only ConfigError propagates to a caller;
// every other category is handled internally by the receive path and
// surfaced, if at all, through Stats and the log, never as a returned
// error or a panic across the filter boundary.

// ConfigError wraps a configuration rejection at construction time.
type ConfigError struct {
	cause error
}

func (e *ConfigError) Error() string { return "rsfec: invalid config: " + e.cause.Error() }

func (e *ConfigError) Unwrap() error { return e.cause }

func newConfigError(format string, args ...any) error {
	return &ConfigError{cause: errors.Errorf(format, args...)}
}
