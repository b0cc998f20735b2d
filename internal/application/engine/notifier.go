package engine

import (
	"context"
	"sync"
	"time"

	"github.com/theuselessai/pipelit/internal/application/observer"
	"github.com/theuselessai/pipelit/pkg/models"
)

// ObserverNotifier adapts the Orchestrator's NodeStatusNotifier seam onto
// observer.ObserverManager, turning status transitions into
// node_status/execution_status events.
type ObserverNotifier struct {
	manager *observer.ObserverManager

	// workflows, when set, resolves workflow ids to slugs so events land
	// on the slug-addressed workflow channel. Resolved slugs are cached
	// per id; workflow slugs are stable for the lifetime of a workflow.
	workflows WorkflowLoader
	slugs     sync.Map // workflowID -> slug
}

// NotifierOption configures an ObserverNotifier.
type NotifierOption func(*ObserverNotifier)

// WithSlugResolver lets the notifier resolve workflow ids to slugs for
// channel addressing.
func WithSlugResolver(workflows WorkflowLoader) NotifierOption {
	return func(n *ObserverNotifier) { n.workflows = workflows }
}

// NewObserverNotifier wraps a manager; manager may be nil, in which case
// every notification is a no-op.
func NewObserverNotifier(manager *observer.ObserverManager, opts ...NotifierOption) *ObserverNotifier {
	n := &ObserverNotifier{manager: manager}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// resolveSlug maps a workflow id to its slug, or "" when unresolvable
// (the workflow channel then falls back to id addressing).
func (n *ObserverNotifier) resolveSlug(ctx context.Context, workflowID string) string {
	if n.workflows == nil || workflowID == "" {
		return ""
	}
	if slug, ok := n.slugs.Load(workflowID); ok {
		return slug.(string)
	}
	wf, err := n.workflows.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return ""
	}
	n.slugs.Store(workflowID, wf.Slug)
	return wf.Slug
}

func (n *ObserverNotifier) NotifyNodeStatus(ctx context.Context, executionID, workflowID, nodeID string, status models.NodeExecutionStatus, errMsg string, errorCode models.ErrorCode, durationMs int64) {
	if n.manager == nil {
		return
	}

	evt := observer.Event{
		ExecutionID:  executionID,
		WorkflowID:   workflowID,
		WorkflowSlug: n.resolveSlug(ctx, workflowID),
		Timestamp:    time.Now(),
		Status:       string(status),
		NodeID:       &nodeID,
	}

	switch status {
	case models.NodeExecutionStatusRunning:
		evt.Type = observer.EventTypeNodeStarted
	case models.NodeExecutionStatusSuccess:
		evt.Type = observer.EventTypeNodeCompleted
		evt.DurationMs = &durationMs
	case models.NodeExecutionStatusFailed:
		evt.Type = observer.EventTypeNodeFailed
		evt.DurationMs = &durationMs
		evt.Metadata = map[string]interface{}{"error_code": errorCode}
	case models.NodeExecutionStatusSkipped:
		evt.Type = observer.EventTypeNodeSkipped
		evt.Metadata = map[string]interface{}{"error_code": errorCode}
	default:
		evt.Type = observer.EventTypeNodeStarted
	}

	if errMsg != "" {
		evt.Error = &wrappedError{errMsg}
	}

	n.manager.Notify(ctx, evt)
}

func (n *ObserverNotifier) NotifyExecutionStatus(ctx context.Context, executionID, workflowID string, status models.ExecutionStatus, errMsg string) {
	if n.manager == nil {
		return
	}

	evt := observer.Event{
		ExecutionID:  executionID,
		WorkflowID:   workflowID,
		WorkflowSlug: n.resolveSlug(ctx, workflowID),
		Timestamp:    time.Now(),
		Status:       string(status),
	}

	switch status {
	case models.ExecutionStatusRunning:
		evt.Type = observer.EventTypeExecutionStarted
	case models.ExecutionStatusCompleted:
		evt.Type = observer.EventTypeExecutionCompleted
	case models.ExecutionStatusFailed, models.ExecutionStatusCancelled:
		evt.Type = observer.EventTypeExecutionFailed
	default:
		evt.Type = observer.EventTypeExecutionStarted
	}

	if errMsg != "" {
		evt.Error = &wrappedError{errMsg}
	}

	n.manager.Notify(ctx, evt)
}

// NotifyEpicSpend emits an epic_updated (and, if taskID is set,
// task_updated) event scoped to the epic:<id> channel.
func (n *ObserverNotifier) NotifyEpicSpend(ctx context.Context, epicID, taskID string, spentTokens int64, spentUSD float64) {
	if n.manager == nil {
		return
	}

	base := observer.Event{
		EpicID:    epicID,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"spent_tokens": spentTokens,
			"spent_usd":    spentUSD,
		},
	}

	epicEvt := base
	epicEvt.Type = observer.EventTypeEpicUpdated
	n.manager.Notify(ctx, epicEvt)

	if taskID != "" {
		taskEvt := base
		taskEvt.Type = observer.EventTypeTaskUpdated
		taskEvt.Metadata = map[string]interface{}{
			"task_id":      taskID,
			"spent_tokens": spentTokens,
			"spent_usd":    spentUSD,
		}
		n.manager.Notify(ctx, taskEvt)
	}
}

// wrappedError turns a plain string into an error for observer.Event.Error,
// which the orchestrator only ever has as a message, not a Go error value
// (it may cross a dispatcher payload boundary).
type wrappedError struct{ msg string }

func (e *wrappedError) Error() string { return e.msg }
