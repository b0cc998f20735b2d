package executor

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// PortType is one of the closed set of dataflow value types.
type PortType string

const (
	PortTypeString  PortType = "STRING"
	PortTypeNumber  PortType = "NUMBER"
	PortTypeBoolean PortType = "BOOLEAN"
	PortTypeObject  PortType = "OBJECT"
	PortTypeArray   PortType = "ARRAY"
	PortTypeMessages PortType = "MESSAGES"
	PortTypeAny     PortType = "ANY"
)

// Compatible reports whether a value of type `from` may flow into a port
// declared `to`. ANY accepts everything in either position.
func (to PortType) Compatible(from PortType) bool {
	if to == PortTypeAny || from == PortTypeAny {
		return true
	}
	return to == from
}

// SubComponentKind names the capability slots a node may require.
type SubComponentKind string

const (
	SubComponentModel        SubComponentKind = "model"
	SubComponentTools        SubComponentKind = "tools"
	SubComponentOutputParser SubComponentKind = "output_parser"
)

// Port declares a single named input or output of a component type.
type Port struct {
	Name     string   `validate:"required"`
	Type     PortType `validate:"required,oneof=STRING NUMBER BOOLEAN OBJECT ARRAY MESSAGES ANY"`
	Required bool
}

// NodeTypeSpec is the immutable, registry-held metadata describing a
// component_type's contract: what ports it has, whether it is
// directly executable (vs. a pure capability like a model or tool), and
// which sub-component slots it requires to be wired at build time.
type NodeTypeSpec struct {
	ComponentType         string `validate:"required"`
	Inputs                []Port `validate:"dive"`
	Outputs               []Port `validate:"dive"`
	Executable            bool
	RequiredSubcomponents []SubComponentKind `validate:"dive,oneof=model tools output_parser"`
}

// Requires reports whether this spec declares kind as a required
// sub-component wiring; an AI-class node must have a resolved model_ref
// at build time.
func (s *NodeTypeSpec) Requires(kind SubComponentKind) bool {
	for _, k := range s.RequiredSubcomponents {
		if k == kind {
			return true
		}
	}
	return false
}

// specValidator checks NodeTypeSpec struct tags once at registration, so
// a malformed spec can never reach the builder.
var specValidator = validator.New(validator.WithRequiredStructEnabled())

// SpecRegistry is a construct-then-freeze, read-mostly registry of
// NodeTypeSpecs keyed by component_type.
type SpecRegistry struct {
	mu    sync.RWMutex
	specs map[string]*NodeTypeSpec
}

// NewSpecRegistry creates an empty spec registry.
func NewSpecRegistry() *SpecRegistry {
	return &SpecRegistry{specs: make(map[string]*NodeTypeSpec)}
}

// Register adds or replaces the spec for a component_type.
func (r *SpecRegistry) Register(spec *NodeTypeSpec) error {
	if spec == nil || spec.ComponentType == "" {
		return fmt.Errorf("node type spec must have a component_type")
	}
	if err := specValidator.Struct(spec); err != nil {
		return fmt.Errorf("node type spec %s: %w", spec.ComponentType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ComponentType] = spec
	return nil
}

// Get retrieves the spec for a component_type.
func (r *SpecRegistry) Get(componentType string) (*NodeTypeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[componentType]
	return spec, ok
}

// All returns every registered spec, for validation or introspection.
func (r *SpecRegistry) All() map[string]*NodeTypeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*NodeTypeSpec, len(r.specs))
	for k, v := range r.specs {
		out[k] = v
	}
	return out
}
