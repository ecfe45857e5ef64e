// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability
// mismatch, not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ErrPermissionDenied is returned when the execution context's
// permission level is below the tool's requirement. The tool handler
// is never invoked.
type ErrPermissionDenied struct {
	ToolName string
	Required Permission
	Held     Permission
}

// Error implements the error interface.
func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("tool %q requires %s permission (caller has %s)", e.ToolName, e.Required, e.Held)
}
