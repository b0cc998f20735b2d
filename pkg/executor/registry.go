package executor

import (
	"fmt"
	"sync"

	"github.com/theuselessai/pipelit/pkg/models"
)

// Registry implements Manager with a thread-safe map of component_type to
// its registered Executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// NewManager creates a new executor manager. Callers register each
// component's Executor against it before building any plan.
func NewManager() Manager {
	return NewRegistry()
}

// Register registers an Executor for a component_type.
func (r *Registry) Register(componentType string, executor Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if componentType == "" {
		return fmt.Errorf("component_type cannot be empty")
	}

	if executor == nil {
		return fmt.Errorf("executor cannot be nil")
	}

	r.executors[componentType] = executor
	return nil
}

// Get retrieves the Executor registered for componentType.
func (r *Registry) Get(componentType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[componentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrExecutorNotFound, componentType)
	}

	return executor, nil
}

// Has reports whether an Executor is registered for componentType.
func (r *Registry) Has(componentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.executors[componentType]
	return ok
}

// List returns every registered component_type.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for componentType := range r.executors {
		types = append(types, componentType)
	}

	return types
}

// Unregister removes the Executor registered for componentType.
func (r *Registry) Unregister(componentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executors[componentType]; !ok {
		return fmt.Errorf("%w: %s", models.ErrExecutorNotFound, componentType)
	}

	delete(r.executors, componentType)
	return nil
}
