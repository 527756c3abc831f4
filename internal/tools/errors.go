// Package tools provides the tool registry and execution framework.
//
// This file defines the error types returned by tool dispatch.
package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. It is a capability mismatch, not a
// transient execution failure, so retrying the same call is pointless.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ArgumentError reports tool arguments that could not be decoded or
// failed validation. The tool is not executed.
type ArgumentError struct {
	Tool   string
	Field  string // empty when the whole payload is bad
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	switch {
	case e.Field != "" && e.Tool != "":
		return fmt.Sprintf("%s: invalid argument %q: %s", e.Tool, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
	case e.Tool != "":
		return fmt.Sprintf("%s: invalid arguments: %s", e.Tool, e.Reason)
	}
	return "invalid arguments: " + e.Reason
}

func argError(field, format string, args ...any) *ArgumentError {
	return &ArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
