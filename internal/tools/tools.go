// Package tools defines the tool registry available to workers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Permission is the access level a tool requires. The execution
// context carries the caller's level; a worker may only execute tools
// at or below that level.
type Permission int

const (
	// PermissionUser is the default level for conversation-driven
	// executions.
	PermissionUser Permission = iota
	// PermissionAdmin gates tools with destructive or account-wide
	// effects.
	PermissionAdmin
)

// String returns the permission name for logs and error messages.
func (p Permission) String() string {
	switch p {
	case PermissionUser:
		return "USER"
	case PermissionAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("Permission(%d)", int(p))
	}
}

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Permission  Permission                                                     `json:"-"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry. Integrations register
// their tools via Register.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry, replacing any tool of the same
// name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns tool definitions for the LLM in a provider-neutral
// shape: name, description, and JSON-Schema parameters.
func (r *Registry) List() []Definition {
	result := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return result
}

// Definition is the schema-level view of a tool handed to the LLM
// client.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// AllToolNames returns the names of all registered tools.
func (r *Registry) AllToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// FilteredCopy creates a new Registry containing only the named tools.
// Tools not found in the source are silently skipped. The returned
// registry shares tool handlers with the source but has its own map.
func (r *Registry) FilteredCopy(names []string) *Registry {
	filtered := &Registry{tools: make(map[string]*Tool, len(names))}
	for _, name := range names {
		if t := r.tools[name]; t != nil {
			filtered.tools[name] = t
		}
	}
	return filtered
}

// Execute runs a tool by name. The tool's required permission is
// checked against the level carried in ctx before the handler runs;
// an insufficient level returns ErrPermissionDenied without invoking
// the tool. Unknown tools return ErrToolUnavailable.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	if level := PermissionFromContext(ctx); level < tool.Permission {
		return "", &ErrPermissionDenied{ToolName: name, Required: tool.Permission, Held: level}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	// Required-field check from the tool's own schema, so malformed
	// inputs are rejected at the edge and handlers see typed fields.
	if err := checkRequired(tool.Parameters, args); err != nil {
		return "", err
	}

	return tool.Handler(ctx, args)
}

// checkRequired validates that every field named in the schema's
// "required" list is present and non-empty in args.
func checkRequired(schema, args map[string]any) error {
	required, ok := schema["required"].([]string)
	if !ok {
		// Schemas built from JSON decode land as []any.
		if anyList, ok2 := schema["required"].([]any); ok2 {
			for _, v := range anyList {
				if s, ok3 := v.(string); ok3 {
					required = append(required, s)
				}
			}
		}
	}
	for _, field := range required {
		v, present := args[field]
		if !present {
			return fmt.Errorf("missing required field: %s", field)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return fmt.Errorf("required field %s is empty", field)
		}
	}
	return nil
}
