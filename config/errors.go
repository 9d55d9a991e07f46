package config

import "fmt"

// ConfigurationError reports a missing or incoherent configuration option.
// It is fatal: the run aborts before any aggregation happens.
type ConfigurationError struct {
	Option string
	Reason string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Option, e.Reason)
}
