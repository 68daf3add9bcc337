package process

import "fmt"

// ConfigurationError reports a load intent or path that cannot produce a
// launch spec. It is raised before any process is spawned.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ToolMissingError reports that the worker runtime is not installed.
// Hint tells the operator how to fix it.
type ToolMissingError struct {
	Tool string
	Hint string
	Err  error
}

func (e *ToolMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s is not available (%v): %s", e.Tool, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s is not available: %s", e.Tool, e.Hint)
}

func (e *ToolMissingError) Unwrap() error {
	return e.Err
}
