package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// filterFunc transforms a resolved value before it is inlined into the
// surrounding text: "value | upper", "| lower", "| length", "| tojson".
type filterFunc func(value interface{}) (interface{}, error)

var filters = map[string]filterFunc{
	"upper":  func(v interface{}) (interface{}, error) { return strings.ToUpper(stringify(v)), nil },
	"lower":  func(v interface{}) (interface{}, error) { return strings.ToLower(stringify(v)), nil },
	"length": filterLength,
	"tojson": func(v interface{}) (interface{}, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("tojson: %w", err)
		}
		return string(data), nil
	},
}

func filterLength(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return len(val), nil
	case []interface{}:
		return len(val), nil
	case map[string]interface{}:
		return len(val), nil
	default:
		return len(stringify(v)), nil
	}
}

// applyFilters runs the named filters left to right over value.
func applyFilters(value interface{}, names []string) (interface{}, error) {
	current := value
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fn, ok := filters[name]
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", ErrUnknownFilter, name)
		}
		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// parsePipeline splits "path | filter1 | filter2" into the path expression
// and the ordered filter names.
func parsePipeline(expr string) (path string, filterNames []string) {
	segments := strings.Split(expr, "|")
	path = strings.TrimSpace(segments[0])
	for _, seg := range segments[1:] {
		filterNames = append(filterNames, strings.TrimSpace(seg))
	}
	return path, filterNames
}
