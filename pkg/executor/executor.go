// Package executor defines the component contract: every node's behavior
// is a pure function `(resolved_config, state_view) -> output_map`,
// registered against a workflow's component_type and invoked by the
// orchestrator (internal/application/engine) once per node per execution.
//
// The component_type taxonomy is closed: trigger, agent, tool, switch,
// loop, subworkflow, transform. The concrete body behind any one of these
// (the LLM call an agent makes, the HTTP request a tool issues, ...) is
// the embedding application's to register; this package only fixes the
// calling contract and the construct-then-freeze registry components are
// looked up from.
package executor

import (
	"context"
	"fmt"

	"github.com/theuselessai/pipelit/pkg/models"
)

// StateView is the read-only per-execution state exposed to a component
// about to run. The orchestrator builds one fresh per node invocation
// from its own *State; a component cannot mutate it directly. Any state
// change it wants to make flows back only through the output convention's
// `_`-keyed return values.
type StateView struct {
	// Messages is the trimmed, append-ordered conversation so far.
	Messages []map[string]interface{}
	// NodeOutputs maps node_id -> the flat dict that node returned.
	NodeOutputs map[string]map[string]interface{}
	// Trigger is {text, payload} for the execution's triggering input.
	Trigger models.TriggerPayload
	// UserContext holds free-form keys merged from triggers or _state_patch.
	UserContext map[string]interface{}
	// SystemPrompt is the node's system_prompt with every {{ expr }}
	// already resolved against the current state.
	SystemPrompt string
	// ChildResult is set only when this invocation resumes a node that
	// previously delegated to a sub-workflow: the prior
	// `_subworkflow` call's outcome, so the component can continue its own
	// reasoning from where it left off.
	ChildResult map[string]interface{}
}

// Executor is the interface every component_type's body must implement.
type Executor interface {
	// Execute runs the component once against resolvedConfig and view,
	// returning the component's flat output map or an error, which the
	// orchestrator records as a COMPONENT_ERROR node failure.
	Execute(ctx context.Context, resolvedConfig map[string]interface{}, view StateView) (map[string]interface{}, error)

	// Validate checks a node's static configuration independent of any
	// particular execution (e.g. at workflow-save time). It must not
	// assume templates have been resolved.
	Validate(resolvedConfig map[string]interface{}) error
}

// Manager is the central, thread-safe registry of Executors, keyed by
// component_type. The orchestrator looks up a node's Executor by
// NodeSpec.ComponentType once per invocation; this package never imports
// internal/application/builder, keeping the component contract independent
// of how a Plan is compiled.
type Manager interface {
	// Register registers the Executor for a component_type. An existing
	// registration for the same type is replaced.
	Register(componentType string, executor Executor) error

	// Get retrieves the Executor registered for componentType, or
	// models.ErrExecutorNotFound if none is registered.
	Get(componentType string) (Executor, error)

	// Has reports whether an Executor is registered for componentType.
	Has(componentType string) bool

	// List returns every registered component_type.
	List() []string

	// Unregister removes the Executor registered for componentType.
	Unregister(componentType string) error
}

// ExecutorFunc adapts a pair of plain functions into an Executor, for the
// small structural components (trigger, switch) whose bodies are
// simple enough not to warrant a dedicated type.
type ExecutorFunc struct {
	ExecuteFn  func(ctx context.Context, resolvedConfig map[string]interface{}, view StateView) (map[string]interface{}, error)
	ValidateFn func(resolvedConfig map[string]interface{}) error
}

// Execute calls ExecuteFn.
func (f *ExecutorFunc) Execute(ctx context.Context, resolvedConfig map[string]interface{}, view StateView) (map[string]interface{}, error) {
	return f.ExecuteFn(ctx, resolvedConfig, view)
}

// Validate calls ValidateFn, or succeeds unconditionally if none was given.
func (f *ExecutorFunc) Validate(resolvedConfig map[string]interface{}) error {
	if f.ValidateFn == nil {
		return nil
	}
	return f.ValidateFn(resolvedConfig)
}

// NewExecutorFunc builds an Executor from an execute/validate function pair.
func NewExecutorFunc(
	executeFn func(ctx context.Context, resolvedConfig map[string]interface{}, view StateView) (map[string]interface{}, error),
	validateFn func(resolvedConfig map[string]interface{}) error,
) Executor {
	return &ExecutorFunc{ExecuteFn: executeFn, ValidateFn: validateFn}
}

// BaseExecutor provides the config-accessor helpers most component bodies
// need when reading their extra_config map, so concrete Executors can
// embed it instead of re-deriving the same type assertions.
type BaseExecutor struct {
	ComponentType string
}

// NewBaseExecutor creates a BaseExecutor for the given component_type.
func NewBaseExecutor(componentType string) *BaseExecutor {
	return &BaseExecutor{ComponentType: componentType}
}

// ValidateRequired checks that every named field is present in config.
func (b *BaseExecutor) ValidateRequired(config map[string]interface{}, fields ...string) error {
	for _, field := range fields {
		if _, ok := config[field]; !ok {
			return fmt.Errorf("required field missing: %s", field)
		}
	}
	return nil
}

// GetString retrieves a required string field from config.
func (b *BaseExecutor) GetString(config map[string]interface{}, key string) (string, error) {
	val, ok := config[key]
	if !ok {
		return "", fmt.Errorf("field not found: %s", key)
	}

	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("field %s is not a string", key)
	}

	return str, nil
}

// GetStringDefault retrieves an optional string field, or defaultValue.
func (b *BaseExecutor) GetStringDefault(config map[string]interface{}, key, defaultValue string) string {
	val, ok := config[key]
	if !ok {
		return defaultValue
	}

	str, ok := val.(string)
	if !ok {
		return defaultValue
	}

	return str
}

// GetInt retrieves a required numeric field, accepting both JSON-decoded
// float64 and a native int.
func (b *BaseExecutor) GetInt(config map[string]interface{}, key string) (int, error) {
	val, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("field not found: %s", key)
	}

	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("field %s is not a number", key)
	}
}

// GetIntDefault retrieves an optional numeric field, or defaultValue.
func (b *BaseExecutor) GetIntDefault(config map[string]interface{}, key string, defaultValue int) int {
	val, ok := config[key]
	if !ok {
		return defaultValue
	}

	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// GetBool retrieves a required boolean field from config.
func (b *BaseExecutor) GetBool(config map[string]interface{}, key string) (bool, error) {
	val, ok := config[key]
	if !ok {
		return false, fmt.Errorf("field not found: %s", key)
	}

	boolVal, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("field %s is not a boolean", key)
	}

	return boolVal, nil
}

// GetBoolDefault retrieves an optional boolean field, or defaultValue.
func (b *BaseExecutor) GetBoolDefault(config map[string]interface{}, key string, defaultValue bool) bool {
	val, ok := config[key]
	if !ok {
		return defaultValue
	}

	boolVal, ok := val.(bool)
	if !ok {
		return defaultValue
	}

	return boolVal
}

// GetMap retrieves a required nested-map field from config.
func (b *BaseExecutor) GetMap(config map[string]interface{}, key string) (map[string]interface{}, error) {
	val, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("field not found: %s", key)
	}

	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s is not a map", key)
	}

	return m, nil
}
