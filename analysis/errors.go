package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks structurally broken configurations: unknown
	// names, duplicates, priorities out of range.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrConfigurationConflict marks access plans that cannot be made sound:
	// exclusive and shared claims on one resource, a task-local resource with
	// two owners, a late resource reachable before init completes.
	ErrConfigurationConflict = errors.New("configuration conflict")
	// ErrMemoryBudget marks configurations whose static storage exceeds the
	// declared memory budget.
	ErrMemoryBudget = errors.New("memory budget exceeded")
)

// ConfigError is one finding of the analysis.
type ConfigError struct {
	Kind     error
	Resource string
	Task     string
	Msg      string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	prefix := e.Kind.Error()
	switch {
	case e.Resource != "":
		prefix += ": resource " + e.Resource
	case e.Task != "":
		prefix += ": task " + e.Task
	}
	if e.Msg == "" {
		return prefix
	}
	return prefix + ": " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Kind }

func invalidf(task, resource, format string, args ...any) error {
	return &ConfigError{Kind: ErrInvalidConfig, Task: task, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

func conflictf(task, resource, format string, args ...any) error {
	return &ConfigError{Kind: ErrConfigurationConflict, Task: task, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}
