// Package engine implements the orchestrator: a deterministic,
// single-threaded walk of a compiled Plan that applies the component
// output convention, gates on budget, trims context, and delegates to
// sub-workflows. Concurrency lives across executions (many workers
// dequeuing), not within one.
package engine

import (
	"sync"
	"time"

	"github.com/theuselessai/pipelit/pkg/models"
)

// Message is one entry of the ephemeral conversation log.
// IDs are caller-assigned so that re-delivery of an already-appended message
// (e.g. after a worker crash and dispatcher re-delivery) is a no-op.
type Message struct {
	ID      string                 `json:"id"`
	Role    string                 `json:"role"`
	Content string                 `json:"content"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// NodeResult is the per-node outcome recorded in ephemeral state.
type NodeResult struct {
	Status     models.NodeExecutionStatus `json:"status"`
	Error      string                     `json:"error,omitempty"`
	ErrorCode  models.ErrorCode           `json:"error_code,omitempty"`
	Metadata   map[string]interface{}     `json:"metadata,omitempty"`
	DurationMs int64                      `json:"duration_ms"`
}

// State is the ephemeral per-execution state held while an execution
// runs. It is owned exclusively by its Execution; no external reader
// mutates it directly.
type State struct {
	ExecutionID       string
	ThreadID          string
	ParentExecutionID string
	ParentNodeID      string

	mu                sync.RWMutex
	messages          []Message
	messageIDs        map[string]bool
	nodeOutputs       map[string]map[string]interface{}
	nodeResults       map[string]NodeResult
	route             string
	trigger           models.TriggerPayload
	userContext       map[string]interface{}
	spentTokens       int64
	spentUSD          float64
}

// NewState creates the initial ephemeral state for an execution.
func NewState(executionID string, trigger models.TriggerPayload) *State {
	return &State{
		ExecutionID: executionID,
		messages:    make([]Message, 0),
		messageIDs:  make(map[string]bool),
		nodeOutputs: make(map[string]map[string]interface{}),
		nodeResults: make(map[string]NodeResult),
		trigger:     trigger,
		userContext: make(map[string]interface{}),
	}
}

// AppendMessages appends new messages via the stable-ID reducer: a
// message whose ID was already seen is silently dropped.
func (s *State) AppendMessages(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.ID != "" && s.messageIDs[m.ID] {
			continue
		}
		if m.ID != "" {
			s.messageIDs[m.ID] = true
		}
		s.messages = append(s.messages, m)
	}
}

// Messages returns a snapshot copy of the message log.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetMessages replaces the message log wholesale (used by context trimming).
func (s *State) SetMessages(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = msgs
}

// SetNodeOutput replaces node_id's output map wholesale.
func (s *State) SetNodeOutput(nodeID string, output map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOutputs[nodeID] = output
}

// NodeOutput returns node_id's recorded output, or nil if it hasn't run.
func (s *State) NodeOutput(nodeID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeOutputs[nodeID]
}

// NodeOutputsSnapshot returns a shallow copy of every recorded node output,
// for building the template resolver's context.
func (s *State) NodeOutputsSnapshot() map[string]map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		out[k] = v
	}
	return out
}

// SetNodeResult records node_id's terminal or waiting outcome.
func (s *State) SetNodeResult(nodeID string, result NodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeResults[nodeID] = result
}

// NodeResultFor returns node_id's recorded result and whether it has run.
func (s *State) NodeResultFor(nodeID string) (NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.nodeResults[nodeID]
	return r, ok
}

// NodeResultsSnapshot returns a copy of every recorded node result.
func (s *State) NodeResultsSnapshot() map[string]NodeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NodeResult, len(s.nodeResults))
	for k, v := range s.nodeResults {
		out[k] = v
	}
	return out
}

// SetRoute sets state.route, consumed by the next switch node.
func (s *State) SetRoute(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.route = route
}

// Route returns the current state.route.
func (s *State) Route() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.route
}

// Trigger returns the triggering input.
func (s *State) Trigger() models.TriggerPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trigger
}

// MergeStatePatch shallow-merges patch into user_context, dropping
// protected keys, which are managed exclusively by dedicated state
// fields.
func (s *State) MergeStatePatch(patch map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range patch {
		switch k {
		case "messages", "node_outputs", "node_results":
			continue
		default:
			s.userContext[k] = v
		}
	}
}

// UserContext returns a shallow copy of the free-form user context map.
func (s *State) UserContext() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.userContext))
	for k, v := range s.userContext {
		out[k] = v
	}
	return out
}

// AddTokenUsage accumulates execution-level token/USD counters.
func (s *State) AddTokenUsage(tokens int64, usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spentTokens += tokens
	s.spentUSD += usd
}

// TokenUsage returns the execution's accumulated token and USD spend.
func (s *State) TokenUsage() (int64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spentTokens, s.spentUSD
}

// Snapshot captures everything needed to resume a sub-workflow
// delegation checkpoint or to serialize state for persistence.
type Snapshot struct {
	ExecutionID       string                            `json:"execution_id"`
	ThreadID          string                             `json:"thread_id,omitempty"`
	ParentExecutionID string                             `json:"parent_execution_id,omitempty"`
	ParentNodeID      string                             `json:"parent_node_id,omitempty"`
	Messages          []Message                          `json:"messages"`
	NodeOutputs       map[string]map[string]interface{}  `json:"node_outputs"`
	NodeResults       map[string]NodeResult              `json:"node_results"`
	Route             string                             `json:"route"`
	Trigger           models.TriggerPayload              `json:"trigger"`
	UserContext       map[string]interface{}             `json:"user_context"`
	SpentTokens       int64                              `json:"spent_tokens"`
	SpentUSD          float64                            `json:"spent_usd"`
	SnapshotAt        time.Time                           `json:"snapshot_at"`
}

// Snapshot captures a deep-enough copy of the state for checkpointing.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)

	outputs := make(map[string]map[string]interface{}, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		outputs[k] = v
	}
	results := make(map[string]NodeResult, len(s.nodeResults))
	for k, v := range s.nodeResults {
		results[k] = v
	}
	ctx := make(map[string]interface{}, len(s.userContext))
	for k, v := range s.userContext {
		ctx[k] = v
	}

	return Snapshot{
		ExecutionID:       s.ExecutionID,
		ThreadID:          s.ThreadID,
		ParentExecutionID: s.ParentExecutionID,
		ParentNodeID:      s.ParentNodeID,
		Messages:          msgs,
		NodeOutputs:       outputs,
		NodeResults:       results,
		Route:             s.route,
		Trigger:           s.trigger,
		UserContext:       ctx,
		SpentTokens:       s.spentTokens,
		SpentUSD:          s.spentUSD,
		SnapshotAt:        time.Now(),
	}
}

// Restore rebuilds a State from a previously taken Snapshot.
func Restore(snap Snapshot) *State {
	s := NewState(snap.ExecutionID, snap.Trigger)
	s.ThreadID = snap.ThreadID
	s.ParentExecutionID = snap.ParentExecutionID
	s.ParentNodeID = snap.ParentNodeID
	s.route = snap.Route
	s.spentTokens = snap.SpentTokens
	s.spentUSD = snap.SpentUSD
	for _, m := range snap.Messages {
		s.AppendMessages(m)
	}
	for k, v := range snap.NodeOutputs {
		s.nodeOutputs[k] = v
	}
	for k, v := range snap.NodeResults {
		s.nodeResults[k] = v
	}
	for k, v := range snap.UserContext {
		s.userContext[k] = v
	}
	return s
}
