package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// JQTransformExecutor is the body of the structural "transform" tool: it
// runs a jq program from extra_config against a JSON value and returns
// the results as the node's output. Useful for reshaping one node's
// output into the input another node expects without a dedicated
// component body.
//
// Config keys:
//
//	query - the jq program (required)
//	input - the value to transform; a JSON string is decoded first.
//	        Defaults to the trigger payload when absent.
type JQTransformExecutor struct {
	*BaseExecutor
}

// NewJQTransformExecutor creates a JQTransformExecutor.
func NewJQTransformExecutor() *JQTransformExecutor {
	return &JQTransformExecutor{BaseExecutor: NewBaseExecutor("transform")}
}

// Validate parses the jq program so a broken query fails at save time,
// not mid-execution.
func (e *JQTransformExecutor) Validate(config map[string]interface{}) error {
	query, err := e.GetString(config, "query")
	if err != nil {
		return err
	}
	if _, err := gojq.Parse(query); err != nil {
		return fmt.Errorf("invalid jq query: %w", err)
	}
	return nil
}

// Execute runs the configured jq program. A single result is returned
// under "result"; multiple results additionally appear under "results".
func (e *JQTransformExecutor) Execute(ctx context.Context, config map[string]interface{}, view StateView) (map[string]interface{}, error) {
	queryStr, err := e.GetString(config, "query")
	if err != nil {
		return nil, err
	}
	query, err := gojq.Parse(queryStr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq query: %w", err)
	}

	input := e.resolveInput(config, view)

	iter := query.RunWithContext(ctx, input)
	var results []interface{}
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, fmt.Errorf("jq query failed: %w", err)
		}
		results = append(results, v)
	}

	out := map[string]interface{}{}
	switch len(results) {
	case 0:
		out["result"] = nil
	case 1:
		out["result"] = results[0]
	default:
		out["result"] = results[0]
		out["results"] = results
	}
	return out, nil
}

// resolveInput picks the transform input: an explicit config value
// (decoding JSON strings, since templates resolve to text), falling back
// to the trigger payload.
func (e *JQTransformExecutor) resolveInput(config map[string]interface{}, view StateView) interface{} {
	raw, ok := config["input"]
	if !ok {
		return map[string]interface{}(view.Trigger.Payload)
	}
	if s, isStr := raw.(string); isStr {
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded
		}
		return s
	}
	return raw
}
