package config

import "fmt"

// ConfigurationError disables the prefetcher for the run. The host keeps
// working on its own slower path.
type ConfigurationError struct {
	Key   string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %v", e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
