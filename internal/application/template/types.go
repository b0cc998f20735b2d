// Package template resolves `{{ expr }}` placeholders in node configuration
// strings against the current execution state.
//
// Supported bindings for a node about to execute:
//   - {{ node_id.port }}  - the named node's entry in node_outputs
//   - {{ trigger.text }}  - the triggering input
//   - {{ some_key }}      - a key merged from user_context
//
// A small filter pipeline may follow the path, separated by "|":
// {{ node_id.port | upper }}, {{ payload | tojson }}.
//
// Resolution never raises: a path that cannot be resolved leaves the
// original "{{ ... }}" literal untouched.
package template

import "fmt"

// VariableContext holds every root binding available to a single node's
// template resolution pass.
type VariableContext struct {
	// NodeOutputs maps node_id -> its node_outputs entry.
	NodeOutputs map[string]map[string]interface{}
	// Trigger is {text, payload} for the triggering input.
	Trigger map[string]interface{}
	// UserContext's keys are promoted to root bindings directly.
	UserContext map[string]interface{}
}

// NewVariableContext creates an empty variable context.
func NewVariableContext() *VariableContext {
	return &VariableContext{
		NodeOutputs: make(map[string]map[string]interface{}),
		Trigger:     make(map[string]interface{}),
		UserContext: make(map[string]interface{}),
	}
}

// resolveRoot resolves the first path segment against the three binding
// families, in the order a name could plausibly collide: trigger is a
// reserved word, then node outputs, then user_context.
func (c *VariableContext) resolveRoot(name string) (interface{}, bool) {
	if name == "trigger" {
		return c.Trigger, true
	}
	if out, ok := c.NodeOutputs[name]; ok {
		return out, true
	}
	if val, ok := c.UserContext[name]; ok {
		return val, true
	}
	return nil, false
}

// TemplateOptions configures template resolution behavior. Engine
// resolution never raises; StrictMode exists only so callers that want to
// surface unresolved templates as build/validation errors (rather than the
// default silent placeholder-preservation) can opt in.
type TemplateOptions struct {
	// StrictMode, when true, turns an unresolved reference into an error
	// instead of leaving the literal placeholder in place.
	StrictMode bool
	// PlaceholderOnMissing keeps the original "{{ ... }}" text when a
	// reference can't be resolved and StrictMode is false. Spec semantics
	// require this to be true; DefaultOptions sets it so.
	PlaceholderOnMissing bool
}

// DefaultOptions returns the engine default: never raise, preserve
// the literal placeholder on a miss.
func DefaultOptions() TemplateOptions {
	return TemplateOptions{
		StrictMode:           false,
		PlaceholderOnMissing: true,
	}
}

// TemplateError represents an error that occurred during template resolution.
type TemplateError struct {
	Template string
	Ref      string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in '%s': failed to resolve '{{%s}}': %v", e.Template, e.Ref, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Common errors.
var (
	ErrVariableNotFound  = fmt.Errorf("variable not found")
	ErrInvalidPath       = fmt.Errorf("invalid path")
	ErrInvalidTemplate   = fmt.Errorf("invalid template syntax")
	ErrTypeNotSupported  = fmt.Errorf("type not supported for path traversal")
	ErrArrayIndexInvalid = fmt.Errorf("invalid array index")
	ErrArrayOutOfBounds  = fmt.Errorf("array index out of bounds")
	ErrUnknownFilter     = fmt.Errorf("unknown filter")
)
