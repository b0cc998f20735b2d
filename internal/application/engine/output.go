package engine

import (
	"fmt"

	"github.com/theuselessai/pipelit/pkg/models"
)

// SubworkflowRequest is the shape of a component's "_subworkflow" return
// value.
type SubworkflowRequest struct {
	WorkflowSlug string                 `json:"workflow_slug"`
	InputText    string                 `json:"input_text"`
	TaskID       string                 `json:"task_id,omitempty"`
	InputData    map[string]interface{} `json:"input_data,omitempty"`
}

// TokenUsage is the shape of a component's "_token_usage" return value.
type TokenUsage struct {
	Tokens int64   `json:"tokens"`
	USD    float64 `json:"usd"`
}

// Outcome is the result of applying the Component Output Convention
// to a single component's raw return value.
type Outcome struct {
	Status      models.NodeExecutionStatus
	Error       string
	ErrorCode   models.ErrorCode
	Subworkflow *SubworkflowRequest
}

// applyOutput interprets a component's raw flat map return value against
// state, per the reserved-underscore-key output convention, and returns the
// node's resulting Outcome. Called after a component runs, before the node
// is considered "done".
func applyOutput(state *State, nodeID string, raw map[string]interface{}) Outcome {
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if errVal, ok := raw["_error"]; ok {
		msg := fmt.Sprintf("%v", errVal)
		return Outcome{Status: models.NodeExecutionStatusFailed, Error: msg, ErrorCode: models.ErrorCodeComponentError}
	}

	ordinary := make(map[string]interface{})
	for k, v := range raw {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		ordinary[k] = v
	}
	state.SetNodeOutput(nodeID, ordinary)

	if route, ok := raw["_route"].(string); ok {
		state.SetRoute(route)
	}

	if rawMsgs, ok := raw["_messages"].([]interface{}); ok {
		msgs := make([]Message, 0, len(rawMsgs))
		for _, m := range rawMsgs {
			msgs = append(msgs, decodeMessage(m))
		}
		state.AppendMessages(msgs...)
	}

	if patch, ok := raw["_state_patch"].(map[string]interface{}); ok {
		state.MergeStatePatch(patch)
	}

	if usage, ok := raw["_token_usage"].(map[string]interface{}); ok {
		tokens, usd := decodeTokenUsage(usage)
		state.AddTokenUsage(tokens, usd)
	}

	outcome := Outcome{Status: models.NodeExecutionStatusSuccess}
	if sw, ok := raw["_subworkflow"].(map[string]interface{}); ok {
		outcome.Status = models.NodeExecutionStatusWaiting
		outcome.Subworkflow = decodeSubworkflow(sw)
	}
	return outcome
}

func decodeMessage(v interface{}) Message {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Message{Role: "assistant", Content: fmt.Sprintf("%v", v)}
	}
	msg := Message{}
	if id, ok := m["id"].(string); ok {
		msg.ID = id
	}
	if role, ok := m["role"].(string); ok {
		msg.Role = role
	}
	if content, ok := m["content"].(string); ok {
		msg.Content = content
	}
	return msg
}

func decodeTokenUsage(m map[string]interface{}) (int64, float64) {
	var tokens int64
	var usd float64
	switch t := m["tokens"].(type) {
	case int64:
		tokens = t
	case int:
		tokens = int64(t)
	case float64:
		tokens = int64(t)
	}
	if u, ok := m["usd"].(float64); ok {
		usd = u
	}
	return tokens, usd
}

func decodeSubworkflow(m map[string]interface{}) *SubworkflowRequest {
	req := &SubworkflowRequest{}
	if v, ok := m["workflow_slug"].(string); ok {
		req.WorkflowSlug = v
	}
	if v, ok := m["input_text"].(string); ok {
		req.InputText = v
	}
	if v, ok := m["task_id"].(string); ok {
		req.TaskID = v
	}
	if v, ok := m["input_data"].(map[string]interface{}); ok {
		req.InputData = v
	}
	return req
}
