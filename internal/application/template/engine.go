package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Engine is the main template resolution engine.
// It resolves templates in strings and complex data structures.
type Engine struct {
	resolver *Resolver
	options  TemplateOptions
}

// NewEngine creates a new template engine with the given context and options.
func NewEngine(ctx *VariableContext, opts TemplateOptions) *Engine {
	return &Engine{
		resolver: NewResolver(ctx, opts),
		options:  opts,
	}
}

// NewEngineWithDefaults creates a new template engine with default options.
func NewEngineWithDefaults(ctx *VariableContext) *Engine {
	return NewEngine(ctx, DefaultOptions())
}

// templatePattern matches template placeholders like {{ node_id.port }} or {{ trigger.text | upper }}.
var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolve resolves all templates in the input data.
// Supports strings, maps, slices, and nested structures.
func (e *Engine) Resolve(data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}

	switch v := data.(type) {
	case string:
		return e.ResolveString(v)
	case map[string]interface{}:
		return e.resolveMap(v)
	case []interface{}:
		return e.resolveSlice(v)
	default:
		return e.resolveComplex(v)
	}
}

// ResolveString resolves every "{{ expr }}" occurrence in a string against
// the root bindings, applying the trailing "| filter" pipeline if
// present. An unresolved reference is a TemplateError under StrictMode;
// otherwise it keeps the literal placeholder when PlaceholderOnMissing is
// set (as in DefaultOptions) and becomes the empty string when it is not.
func (e *Engine) ResolveString(tmpl string) (string, error) {
	if tmpl == "" {
		return tmpl, nil
	}

	var resolveErr error
	result := templatePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		raw := strings.TrimSpace(match[2 : len(match)-2])
		path, filterNames := parsePipeline(raw)

		value, ok := e.resolver.ResolveVariable(path)
		if !ok {
			if e.options.StrictMode {
				resolveErr = &TemplateError{Template: tmpl, Ref: raw, Err: ErrVariableNotFound}
				return ""
			}
			if e.options.PlaceholderOnMissing {
				return match
			}
			return ""
		}

		filtered, err := applyFilters(value, filterNames)
		if err != nil {
			if e.options.StrictMode {
				resolveErr = &TemplateError{Template: tmpl, Ref: raw, Err: err}
				return ""
			}
			if e.options.PlaceholderOnMissing {
				return match
			}
			return ""
		}

		return stringify(filtered)
	})

	if resolveErr != nil {
		return "", resolveErr
	}

	return result, nil
}

// resolveMap resolves templates in all values of a map.
func (e *Engine) resolveMap(m map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))

	for key, value := range m {
		resolved, err := e.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("error resolving key '%s': %w", key, err)
		}
		result[key] = resolved
	}

	return result, nil
}

// resolveSlice resolves templates in all elements of a slice.
func (e *Engine) resolveSlice(s []interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))

	for i, value := range s {
		resolved, err := e.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("error resolving index %d: %w", i, err)
		}
		result[i] = resolved
	}

	return result, nil
}

// resolveComplex handles complex types by converting to JSON and back.
func (e *Engine) resolveComplex(data interface{}) (interface{}, error) {
	switch data.(type) {
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, complex64, complex128:
		return data, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return data, nil
	}

	var generic interface{}
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return data, nil
	}

	switch v := generic.(type) {
	case map[string]interface{}:
		return e.resolveMap(v)
	case []interface{}:
		return e.resolveSlice(v)
	case string:
		return e.ResolveString(v)
	default:
		return generic, nil
	}
}

// stringify converts a resolved value to its inline string representation
// (non-string values are stringified when inlined in text context).
func stringify(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// ResolveConfig resolves templates in every string-valued leaf of a node's
// extra_config map, applied to every string-valued leaf of extra_config
// before the component runs.
func (e *Engine) ResolveConfig(config map[string]interface{}) (map[string]interface{}, error) {
	resolved, err := e.resolveMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config: %w", err)
	}

	return resolved, nil
}

// HasTemplates checks if a string contains any template placeholders.
func HasTemplates(s string) bool {
	return templatePattern.MatchString(s)
}

// ExtractVariables extracts all variable references (path plus any filter
// pipeline, verbatim) from a template string.
func ExtractVariables(tmpl string) []string {
	matches := templatePattern.FindAllStringSubmatch(tmpl, -1)
	vars := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) > 1 {
			vars = append(vars, strings.TrimSpace(match[1]))
		}
	}

	return vars
}

// ValidateTemplate validates that every placeholder in a template string
// has a non-empty dotted path and only names known filters.
func ValidateTemplate(tmpl string) error {
	for _, raw := range ExtractVariables(tmpl) {
		path, filterNames := parsePipeline(raw)
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("%w: empty path in '{{%s}}'", ErrInvalidTemplate, raw)
		}
		for _, name := range filterNames {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := filters[name]; !ok {
				return fmt.Errorf("%w: '%s' in '{{%s}}'", ErrUnknownFilter, name, raw)
			}
		}
	}

	return nil
}
