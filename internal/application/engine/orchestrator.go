package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/theuselessai/pipelit/internal/application/builder"
	"github.com/theuselessai/pipelit/internal/application/graphcache"
	"github.com/theuselessai/pipelit/internal/application/template"
	"github.com/theuselessai/pipelit/pkg/executor"
	"github.com/theuselessai/pipelit/pkg/models"
)

// DispatcherPort is the subset of dispatcher.Dispatcher the orchestrator
// needs, kept local to avoid a hard import cycle back onto
// internal/application/dispatcher's own use of the engine's Job shape.
type DispatcherPort interface {
	Enqueue(ctx context.Context, queue, jobID string, payload interface{}, timeout time.Duration) error
}

// Orchestrator runs an execution id to a terminal status: claim the row,
// build or fetch the compiled Plan, then walk it node by node. The
// per-node lifecycle is resolve config, call component, record result,
// emit event, append log. A single execution is single-threaded within
// one worker; concurrency lives across executions, in the dispatcher's
// worker pool.
type Orchestrator struct {
	workflows   WorkflowLoader
	executions  ExecutionStore
	epics       EpicStore
	cache       *graphcache.Cache
	builder     *builder.Builder
	executors   executor.Manager
	dispatcher  DispatcherPort
	checkpoints *CheckpointStore
	notifier    NodeStatusNotifier
	budgetLocks *budgetLocks

	subworkflowQueue string
}

// New wires an Orchestrator. notifier may be nil (events are dropped).
func New(
	workflows WorkflowLoader,
	executions ExecutionStore,
	epics EpicStore,
	cache *graphcache.Cache,
	b *builder.Builder,
	executors executor.Manager,
	dispatcher DispatcherPort,
	checkpoints *CheckpointStore,
	notifier NodeStatusNotifier,
) *Orchestrator {
	return &Orchestrator{
		workflows:        workflows,
		executions:       executions,
		epics:            epics,
		cache:            cache,
		builder:          b,
		executors:        executors,
		dispatcher:       dispatcher,
		checkpoints:      checkpoints,
		notifier:         notifier,
		budgetLocks:      newBudgetLocks(),
		subworkflowQueue: "pipelit:executions",
	}
}

// Run executes (or resumes) execution_id to a terminal status.
// Idempotent on the terminal side: a repeated call after completion is a
// no-op that simply returns the recorded status.
func (o *Orchestrator) Run(ctx context.Context, executionID string) (models.ExecutionStatus, error) {
	exec, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return "", fmt.Errorf("engine: load execution %s: %w", executionID, err)
	}

	if exec.Status.IsTerminal() {
		return exec.Status, nil
	}

	if exec.Status == models.ExecutionStatusInterrupted {
		return o.resume(ctx, exec)
	}

	claimed, err := o.executions.TrySetRunning(ctx, executionID)
	if err != nil {
		return "", fmt.Errorf("engine: claim execution %s: %w", executionID, err)
	}
	if !claimed {
		// Another worker owns it or it raced to terminal already.
		fresh, err := o.executions.GetExecution(ctx, executionID)
		if err != nil {
			return "", err
		}
		return fresh.Status, nil
	}

	o.notifier.NotifyExecutionStatus(ctx, executionID, exec.WorkflowID, models.ExecutionStatusRunning, "")

	workflow, err := o.workflows.LoadWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return o.fail(ctx, exec, "", fmt.Sprintf("load workflow: %v", err), models.ErrorCodeValidation), nil
	}

	triggerNodeID := exec.TriggerNodeID
	if triggerNodeID == "" {
		triggerNodeID, err = defaultTriggerNode(workflow)
		if err != nil {
			return o.failWithWorkflow(ctx, exec, workflow, "", err.Error(), models.ErrorCodeValidation), nil
		}
	}

	key := graphcache.Key(workflow.ID, triggerNodeID, workflow.Nodes, workflow.Edges)
	plan, err := o.cache.GetOrBuild(workflow.ID, key, workflow, triggerNodeID)
	if err != nil {
		return o.failWithWorkflow(ctx, exec, workflow, "", fmt.Sprintf("build plan: %v", err), models.ErrorCodeValidation), nil
	}

	state := o.initState(exec)

	var epic *models.Epic
	if exec.EpicID != nil && o.epics != nil {
		epic, err = o.epics.GetEpic(ctx, *exec.EpicID)
		if err != nil {
			return o.failWithWorkflow(ctx, exec, workflow, "", fmt.Sprintf("load epic: %v", err), models.ErrorCodeValidation), nil
		}
	}

	status := o.walk(ctx, exec, workflow, plan, state, epic, []string{triggerNodeID}, map[string]bool{})
	return status, nil
}

// resume continues a parent execution after its delegated sub-workflow
// reached a terminal status: reload the resumption checkpoint, inject the
// child's result into the waiting node's "resume" input, and continue the
// walk from wherever that node's outgoing edges lead. A missing or
// expired checkpoint surfaces as CHECKPOINT_LOST; there is no automatic
// recovery.
func (o *Orchestrator) resume(ctx context.Context, exec *models.Execution) (models.ExecutionStatus, error) {
	if exec.WaitingNodeID == nil {
		return o.fail(ctx, exec, "", "interrupted execution has no recorded waiting node", models.ErrorCodeCheckpointLost), nil
	}
	nodeID := *exec.WaitingNodeID

	claimed, err := o.executions.TrySetRunning(ctx, exec.ID)
	if err != nil {
		return "", fmt.Errorf("engine: claim execution %s for resume: %w", exec.ID, err)
	}
	if !claimed {
		fresh, err := o.executions.GetExecution(ctx, exec.ID)
		if err != nil {
			return "", err
		}
		return fresh.Status, nil
	}

	o.notifier.NotifyExecutionStatus(ctx, exec.ID, exec.WorkflowID, models.ExecutionStatusRunning, "")

	cp, ok, err := o.checkpoints.Load(ctx, exec.ID, nodeID)
	if err != nil {
		return "", fmt.Errorf("engine: load checkpoint for %s/%s: %w", exec.ID, nodeID, err)
	}
	if !ok {
		return o.fail(ctx, exec, nodeID, ErrCheckpointLost.Error(), models.ErrorCodeCheckpointLost), nil
	}

	child, err := o.executions.GetExecution(ctx, cp.PendingChildID)
	if err != nil {
		return o.fail(ctx, exec, nodeID, fmt.Sprintf("load child execution: %v", err), models.ErrorCodeComponentError), nil
	}

	workflow, err := o.workflows.LoadWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return o.fail(ctx, exec, nodeID, fmt.Sprintf("load workflow: %v", err), models.ErrorCodeValidation), nil
	}

	triggerNodeID := exec.TriggerNodeID
	if triggerNodeID == "" {
		triggerNodeID, err = defaultTriggerNode(workflow)
		if err != nil {
			return o.failWithWorkflow(ctx, exec, workflow, nodeID, err.Error(), models.ErrorCodeValidation), nil
		}
	}
	key := graphcache.Key(workflow.ID, triggerNodeID, workflow.Nodes, workflow.Edges)
	plan, err := o.cache.GetOrBuild(workflow.ID, key, workflow, triggerNodeID)
	if err != nil {
		return o.failWithWorkflow(ctx, exec, workflow, nodeID, fmt.Sprintf("build plan: %v", err), models.ErrorCodeValidation), nil
	}

	spec, ok := plan.Nodes[nodeID]
	if !ok {
		return o.failWithWorkflow(ctx, exec, workflow, nodeID, "waiting node no longer present in plan", models.ErrorCodeValidation), nil
	}

	var epic *models.Epic
	if exec.EpicID != nil && o.epics != nil {
		epic, err = o.epics.GetEpic(ctx, *exec.EpicID)
		if err != nil {
			return o.failWithWorkflow(ctx, exec, workflow, nodeID, fmt.Sprintf("load epic: %v", err), models.ErrorCodeValidation), nil
		}
	}

	state := Restore(cp.State)
	childResult := childResultPayload(child)

	outcome, waiting := o.runNode(ctx, exec, workflow, state, epic, spec, childResult)
	if waiting {
		// The resumed component delegated to yet another sub-workflow.
		return models.ExecutionStatusInterrupted, nil
	}
	_ = o.checkpoints.Delete(ctx, exec.ID, nodeID)
	exec.WaitingNodeID = nil

	if outcome.Status == models.NodeExecutionStatusFailed {
		return o.failWithWorkflow(ctx, exec, workflow, nodeID, outcome.Error, outcome.ErrorCode), nil
	}

	next := o.nextNodes(plan, nodeID, outcome, state)
	visited := map[string]bool{nodeID: true}
	status := o.walk(ctx, exec, workflow, plan, state, epic, next, visited)
	return status, nil
}

// childResultPayload builds the `child_result` map a resumed component
// sees: the child's final output on success, or its error and error_code
// when it failed, so the parent component can decide whether to retry or
// propagate.
func childResultPayload(child *models.Execution) map[string]interface{} {
	if child.Status == models.ExecutionStatusCompleted {
		return map[string]interface{}{"output": child.FinalOutput}
	}
	return map[string]interface{}{"error": child.Error, "error_code": string(child.ErrorCode)}
}

// initState materializes the execution's initial ephemeral state.
func (o *Orchestrator) initState(exec *models.Execution) *State {
	state := NewState(exec.ID, exec.TriggerPayload)
	if exec.ThreadID != nil {
		state.ThreadID = *exec.ThreadID
	}
	if exec.ParentExecutionID != nil {
		state.ParentExecutionID = *exec.ParentExecutionID
	}
	if exec.ParentNodeID != nil {
		state.ParentNodeID = *exec.ParentNodeID
	}
	if exec.TriggerPayload.Text != "" {
		state.AppendMessages(Message{ID: uuid.NewString(), Role: "user", Content: exec.TriggerPayload.Text})
	}
	return state
}

// walk performs the deterministic topological traversal, starting from
// the given queue of node ids (normally a single trigger node, or the
// outgoing edges of a resumed waiting node). visited guards against
// revisiting a node that fan-in reaches twice: a diamond that recombines
// at a downstream node runs that node only once, on its first arrival.
//
// At every node boundary the execution's own stored status is re-read and
// checked for a cancellation request. Cancellation is cooperative, not
// preemptive: an in-flight component call is never interrupted.
func (o *Orchestrator) walk(ctx context.Context, exec *models.Execution, workflow *models.Workflow, plan *builder.Plan, state *State, epic *models.Epic, queue []string, visited map[string]bool) models.ExecutionStatus {
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		if visited[nodeID] {
			continue
		}
		visited[nodeID] = true

		if o.cancelRequested(ctx, exec.ID) {
			return o.cancel(ctx, exec)
		}

		spec, ok := plan.Nodes[nodeID]
		if !ok {
			continue // sub-component or otherwise non-executable node id
		}

		// A node pre-marked skipped by an upstream skip never executes;
		// it only reports its status and passes the skip on.
		if prior, marked := state.NodeResultFor(nodeID); marked && prior.Status == models.NodeExecutionStatusSkipped {
			o.notifier.NotifyNodeStatus(ctx, exec.ID, workflow.ID, nodeID, models.NodeExecutionStatusSkipped, "", prior.ErrorCode, 0)
			o.appendLog(ctx, exec.ID, nodeID, models.NodeExecutionStatusSkipped, nil, nil, "", prior.ErrorCode, 0)
			skipped := Outcome{Status: models.NodeExecutionStatusSkipped, ErrorCode: prior.ErrorCode}
			queue = append(queue, o.nextNodes(plan, nodeID, skipped, state)...)
			continue
		}

		outcome, waiting := o.runNode(ctx, exec, workflow, state, epic, spec, nil)
		if waiting {
			return models.ExecutionStatusInterrupted
		}

		next := o.nextNodes(plan, nodeID, outcome, state)
		queue = append(queue, next...)

		if outcome.Status == models.NodeExecutionStatusFailed {
			return o.failWithWorkflow(ctx, exec, workflow, nodeID, outcome.Error, outcome.ErrorCode)
		}
	}

	return o.complete(ctx, exec, state)
}

// cancelRequested reports whether exec's stored status has been set to
// cancelled since this worker last read it.
func (o *Orchestrator) cancelRequested(ctx context.Context, executionID string) bool {
	fresh, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return false
	}
	return fresh.Status == models.ExecutionStatusCancelled
}

// nextNodes chooses the node(s) to visit after nodeID finishes: switch
// nodes route on state.route, everything else fans out to every outgoing
// edge in adjacency order. A failed node marks its downstream skipped
// with UPSTREAM_FAILED; a skipped node passes its own skip code on, so a
// budget stop ripples through everything reachable below it.
func (o *Orchestrator) nextNodes(plan *builder.Plan, nodeID string, outcome Outcome, state *State) []string {
	edges := plan.OutgoingEdges(nodeID)
	if len(edges) == 0 {
		return nil
	}

	if routes, isSwitch := plan.SwitchRoutes[nodeID]; isSwitch {
		target, ok := routes.Resolve(state.Route())
		if !ok {
			return nil
		}
		return []string{target}
	}

	next := make([]string, 0, len(edges))
	for _, e := range edges {
		if outcome.Status == models.NodeExecutionStatusFailed {
			state.SetNodeResult(e.To, NodeResult{Status: models.NodeExecutionStatusSkipped, ErrorCode: models.ErrorCodeUpstreamFailed})
			next = append(next, e.To)
			continue
		}
		if outcome.Status == models.NodeExecutionStatusSkipped {
			state.SetNodeResult(e.To, NodeResult{Status: models.NodeExecutionStatusSkipped, ErrorCode: outcome.ErrorCode})
			next = append(next, e.To)
			continue
		}

		// A direct edge may carry a boolean expr-lang guard, evaluated
		// against {output, node}; an edge with no guard always passes.
		// A guard that errors or evaluates false is simply not taken,
		// same as a switch branch that matches no route.
		pass, err := plan.EvalGuard(e.ID, map[string]interface{}{
			"output": state.NodeOutput(nodeID),
			"node":   nodeID,
		})
		if err != nil || !pass {
			continue
		}
		next = append(next, e.To)
	}
	return next
}

// runNode executes a single compiled node: budget gate, config
// resolution, component call, output convention, event, log. The second
// return value is true when the node delegated to a sub-workflow and the
// current invocation must return, freeing its worker. When
// resumeChildResult is non-nil, this is a resumption of a node that
// previously delegated: the budget gate and "running" transition were
// already applied on the first call, so both are skipped, and
// `child_result` is injected into the component's input so it can
// continue its own reasoning from where it left off.
func (o *Orchestrator) runNode(ctx context.Context, exec *models.Execution, workflow *models.Workflow, state *State, epic *models.Epic, spec *builder.NodeSpec, resumeChildResult map[string]interface{}) (Outcome, bool) {
	isResume := resumeChildResult != nil

	if !isResume {
		estimatedTokens := estimateNodeCost(spec)
		if !checkBudget(epic, estimatedTokens) {
			state.SetNodeResult(spec.NodeID, NodeResult{Status: models.NodeExecutionStatusSkipped, ErrorCode: models.ErrorCodeBudgetExceeded})
			o.notifier.NotifyNodeStatus(ctx, exec.ID, workflow.ID, spec.NodeID, models.NodeExecutionStatusSkipped, "budget exceeded", models.ErrorCodeBudgetExceeded, 0)
			o.appendLog(ctx, exec.ID, spec.NodeID, models.NodeExecutionStatusSkipped, nil, nil, "budget exceeded", models.ErrorCodeBudgetExceeded, 0)
			return Outcome{Status: models.NodeExecutionStatusSkipped, ErrorCode: models.ErrorCodeBudgetExceeded}, false
		}
		o.notifier.NotifyNodeStatus(ctx, exec.ID, workflow.ID, spec.NodeID, models.NodeExecutionStatusRunning, "", "", 0)
	}
	start := time.Now()

	resolvedPrompt, resolvedConfig, err := o.resolveTemplates(state, spec)
	if err != nil {
		return o.recordFailure(ctx, exec, workflow, spec.NodeID, start, fmt.Sprintf("resolve templates: %v", err), models.ErrorCodeComponentError)
	}

	exec2, err := o.executors.Get(string(spec.ComponentType))
	if err != nil {
		return o.recordFailure(ctx, exec, workflow, spec.NodeID, start, ErrComponentNotRegistered.Error(), models.ErrorCodeComponentError)
	}

	view := executor.StateView{
		Messages:     messagesToMaps(trimForNode(state.Messages(), spec)),
		NodeOutputs:  state.NodeOutputsSnapshot(),
		Trigger:      state.Trigger(),
		UserContext:  state.UserContext(),
		SystemPrompt: resolvedPrompt,
	}
	if isResume {
		view.ChildResult = resumeChildResult
	}
	input := map[string]interface{}{
		"messages":      view.Messages,
		"node_outputs":  view.NodeOutputs,
		"trigger":       view.Trigger,
		"user_context":  view.UserContext,
		"system_prompt": view.SystemPrompt,
	}
	if isResume {
		input["child_result"] = resumeChildResult
	}

	rawMap, execErr := exec2.Execute(ctx, resolvedConfig, view)
	durationMs := time.Since(start).Milliseconds()

	if execErr != nil {
		return o.recordFailure(ctx, exec, workflow, spec.NodeID, start, execErr.Error(), models.ErrorCodeComponentError)
	}

	outcome := applyOutput(state, spec.NodeID, rawMap)

	switch outcome.Status {
	case models.NodeExecutionStatusFailed:
		return o.recordFailure(ctx, exec, workflow, spec.NodeID, start, outcome.Error, outcome.ErrorCode)
	case models.NodeExecutionStatusWaiting:
		if err := o.delegateSubworkflow(ctx, exec, spec.NodeID, state, outcome.Subworkflow); err != nil {
			return o.recordFailure(ctx, exec, workflow, spec.NodeID, start, fmt.Sprintf("sub-workflow delegation: %v", err), models.ErrorCodeComponentError)
		}
		state.SetNodeResult(spec.NodeID, NodeResult{Status: models.NodeExecutionStatusWaiting, DurationMs: durationMs})
		o.notifier.NotifyNodeStatus(ctx, exec.ID, workflow.ID, spec.NodeID, models.NodeExecutionStatusWaiting, "", "", durationMs)
		o.appendLog(ctx, exec.ID, spec.NodeID, models.NodeExecutionStatusWaiting, input, rawMap, "", "", durationMs)
		return outcome, true
	default:
		state.SetNodeResult(spec.NodeID, NodeResult{Status: models.NodeExecutionStatusSuccess, DurationMs: durationMs})
		o.notifier.NotifyNodeStatus(ctx, exec.ID, workflow.ID, spec.NodeID, models.NodeExecutionStatusSuccess, "", "", durationMs)
		o.appendLog(ctx, exec.ID, spec.NodeID, models.NodeExecutionStatusSuccess, input, rawMap, "", "", durationMs)
		return outcome, false
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, exec *models.Execution, workflow *models.Workflow, nodeID string, start time.Time, errMsg string, code models.ErrorCode) (Outcome, bool) {
	durationMs := time.Since(start).Milliseconds()
	result := NodeResult{Status: models.NodeExecutionStatusFailed, Error: errMsg, ErrorCode: code, DurationMs: durationMs}
	o.notifier.NotifyNodeStatus(ctx, exec.ID, workflow.ID, nodeID, models.NodeExecutionStatusFailed, errMsg, code, durationMs)
	o.appendLog(ctx, exec.ID, nodeID, models.NodeExecutionStatusFailed, nil, nil, errMsg, code, durationMs)
	return Outcome{Status: models.NodeExecutionStatusFailed, Error: result.Error, ErrorCode: code}, false
}

func (o *Orchestrator) resolveTemplates(state *State, spec *builder.NodeSpec) (string, map[string]interface{}, error) {
	vctx := template.NewVariableContext()
	vctx.NodeOutputs = state.NodeOutputsSnapshot()
	vctx.Trigger = map[string]interface{}{"text": state.Trigger().Text, "payload": state.Trigger().Payload}
	vctx.UserContext = state.UserContext()

	eng := template.NewEngineWithDefaults(vctx)

	prompt, err := eng.ResolveString(spec.SystemPrompt)
	if err != nil {
		return "", nil, err
	}

	resolved, err := eng.ResolveConfig(spec.ResolvedConfig)
	if err != nil {
		return "", nil, err
	}
	if spec.ModelRef != "" {
		resolved["model_ref"] = spec.ModelRef
	}
	if len(spec.ToolRefs) > 0 {
		resolved["tool_refs"] = spec.ToolRefs
	}
	if spec.OutputParserRef != "" {
		resolved["output_parser_ref"] = spec.OutputParserRef
	}
	return prompt, resolved, nil
}

// delegateSubworkflow hands a node's work off to a child workflow: create
// the child Execution, write the resumption checkpoint, enqueue the
// child, and mark the parent execution interrupted at nodeID so a later
// Run call resumes it instead of starting over.
func (o *Orchestrator) delegateSubworkflow(ctx context.Context, exec *models.Execution, nodeID string, state *State, req *SubworkflowRequest) error {
	if req == nil {
		return fmt.Errorf("component returned waiting status without a _subworkflow payload")
	}

	childWorkflow, err := o.workflows.LoadWorkflowBySlug(ctx, req.WorkflowSlug)
	if err != nil {
		return fmt.Errorf("resolve workflow_slug %q: %w", req.WorkflowSlug, err)
	}
	childTriggerNodeID, err := defaultTriggerNode(childWorkflow)
	if err != nil {
		return fmt.Errorf("child workflow %q: %w", req.WorkflowSlug, err)
	}

	child := &models.Execution{
		ID:                uuid.NewString(),
		WorkflowID:        childWorkflow.ID,
		Status:            models.ExecutionStatusPending,
		TriggerNodeID:     childTriggerNodeID,
		ParentExecutionID: &exec.ID,
		ParentNodeID:      &nodeID,
		TriggerPayload:    models.TriggerPayload{Text: req.InputText, Payload: req.InputData},
		StartedAt:         time.Now(),
		CreatedAt:         time.Now(),
	}
	if req.TaskID != "" {
		child.TaskID = &req.TaskID
	}

	childID, err := o.executions.CreateChildExecution(ctx, child)
	if err != nil {
		return fmt.Errorf("create child execution: %w", err)
	}

	cp := Checkpoint{NodeID: nodeID, State: state.Snapshot(), PendingChildID: childID}
	if err := o.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save resumption checkpoint: %w", err)
	}

	exec.Status = models.ExecutionStatusInterrupted
	exec.WaitingNodeID = &nodeID
	if err := o.executions.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("persist interrupted status: %w", err)
	}

	if o.dispatcher != nil {
		if err := o.dispatcher.Enqueue(ctx, o.subworkflowQueue, childID, map[string]string{"execution_id": childID}, 30*time.Minute); err != nil {
			return fmt.Errorf("enqueue child execution: %w", err)
		}
	}
	return nil
}

// fail marks exec terminally failed, dispatches the workflow's configured
// error-handler workflow if one is set, and wakes a waiting parent
// execution, if any, so it can see this failure as its child_result.
// workflow may be nil when the failure happened before the workflow could
// even be loaded (e.g. ErrorCodeValidation for an unknown workflow id).
func (o *Orchestrator) fail(ctx context.Context, exec *models.Execution, nodeID, errMsg string, code models.ErrorCode) models.ExecutionStatus {
	return o.failWithWorkflow(ctx, exec, nil, nodeID, errMsg, code)
}

func (o *Orchestrator) failWithWorkflow(ctx context.Context, exec *models.Execution, workflow *models.Workflow, nodeID, errMsg string, code models.ErrorCode) models.ExecutionStatus {
	exec.Status = models.ExecutionStatusFailed
	exec.Error = errMsg
	exec.ErrorCode = code
	exec.WaitingNodeID = nil
	now := time.Now()
	exec.CompletedAt = &now
	_ = o.executions.UpdateExecution(ctx, exec)
	o.notifier.NotifyExecutionStatus(ctx, exec.ID, exec.WorkflowID, models.ExecutionStatusFailed, errMsg)

	if workflow != nil && workflow.ErrorHandlerSlug != "" {
		o.dispatchErrorHandler(ctx, exec, workflow, nodeID, errMsg, code)
	}
	o.wakeParent(ctx, exec)
	return models.ExecutionStatusFailed
}

// dispatchErrorHandler enqueues a fresh execution of the workflow's
// configured error-handler workflow with the failure as trigger payload.
// Dispatch failures are swallowed: the originating execution is already
// terminally failed regardless.
func (o *Orchestrator) dispatchErrorHandler(ctx context.Context, exec *models.Execution, workflow *models.Workflow, nodeID, errMsg string, code models.ErrorCode) {
	handler, err := o.workflows.LoadWorkflowBySlug(ctx, workflow.ErrorHandlerSlug)
	if err != nil {
		return
	}
	triggerNodeID, err := defaultTriggerNode(handler)
	if err != nil {
		return
	}

	handlerExec := &models.Execution{
		ID:            uuid.NewString(),
		WorkflowID:    handler.ID,
		Status:        models.ExecutionStatusPending,
		TriggerNodeID: triggerNodeID,
		TriggerPayload: models.TriggerPayload{
			Text: errMsg,
			Payload: map[string]interface{}{
				"failed_execution_id": exec.ID,
				"failed_workflow_id":  workflow.ID,
				"failed_node_id":      nodeID,
				"error":               errMsg,
				"error_code":          string(code),
			},
		},
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
	}
	if _, err := o.executions.CreateExecution(ctx, handlerExec); err != nil {
		return
	}
	if o.dispatcher != nil {
		_ = o.dispatcher.Enqueue(ctx, o.subworkflowQueue, handlerExec.ID, map[string]string{"execution_id": handlerExec.ID}, 30*time.Minute)
	}
}

// wakeParent re-enqueues a waiting parent execution once its child has
// reached a terminal status, invoked from the child's own terminal path.
// A no-op for top-level executions.
func (o *Orchestrator) wakeParent(ctx context.Context, exec *models.Execution) {
	if exec.ParentExecutionID == nil || o.dispatcher == nil {
		return
	}
	_ = o.dispatcher.Enqueue(ctx, o.subworkflowQueue, *exec.ParentExecutionID, map[string]string{"execution_id": *exec.ParentExecutionID}, 30*time.Minute)
}

// cancel is the cascading half of cancellation: once a cancellation is
// observed at a node boundary, mark the execution cancelled and
// transitively cancel every non-terminal child.
func (o *Orchestrator) cancel(ctx context.Context, exec *models.Execution) models.ExecutionStatus {
	exec.Status = models.ExecutionStatusCancelled
	exec.ErrorCode = models.ErrorCodeCancelled
	exec.WaitingNodeID = nil
	now := time.Now()
	exec.CompletedAt = &now
	_ = o.executions.UpdateExecution(ctx, exec)
	o.notifier.NotifyExecutionStatus(ctx, exec.ID, exec.WorkflowID, models.ExecutionStatusCancelled, "")
	o.cascadeCancel(ctx, exec.ID)
	return models.ExecutionStatusCancelled
}

func (o *Orchestrator) cascadeCancel(ctx context.Context, executionID string) {
	children, err := o.executions.ChildExecutions(ctx, executionID)
	if err != nil {
		return
	}
	for _, child := range children {
		if child.Status.IsTerminal() {
			continue
		}
		child.Status = models.ExecutionStatusCancelled
		child.ErrorCode = models.ErrorCodeCancelled
		now := time.Now()
		child.CompletedAt = &now
		_ = o.executions.UpdateExecution(ctx, child)
		o.notifier.NotifyExecutionStatus(ctx, child.ID, child.WorkflowID, models.ExecutionStatusCancelled, "")
		o.cascadeCancel(ctx, child.ID)
	}
}

// Cancel requests cancellation of an execution: an atomic status
// transition to cancelled, cascading transitively to any non-terminal
// children. A terminal or already-cancelled execution is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	exec, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("engine: load execution %s: %w", executionID, err)
	}
	if exec.Status.IsTerminal() {
		return nil
	}
	o.cancel(ctx, exec)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, exec *models.Execution, state *State) models.ExecutionStatus {
	// A walk where every reachable node was skipped (or nothing was
	// reachable at all) did no work; that terminates as failed, not as a
	// vacuous completion.
	ran := false
	skipCode := models.ErrorCode("")
	for _, result := range state.NodeResultsSnapshot() {
		switch result.Status {
		case models.NodeExecutionStatusSuccess, models.NodeExecutionStatusWaiting:
			ran = true
		case models.NodeExecutionStatusSkipped:
			if skipCode == "" {
				skipCode = result.ErrorCode
			}
		}
	}
	if !ran {
		if skipCode == "" {
			skipCode = models.ErrorCodeValidation
		}
		return o.fail(ctx, exec, "", "no nodes ran", skipCode)
	}

	exec.Status = models.ExecutionStatusCompleted
	exec.FinalOutput = finalOutput(state)
	tokens, usd := state.TokenUsage()
	exec.SpentTokens = tokens
	exec.SpentUSD = usd
	now := time.Now()
	exec.CompletedAt = &now
	_ = o.executions.UpdateExecution(ctx, exec)

	if exec.EpicID != nil && o.epics != nil && (tokens > 0 || usd > 0) {
		lock := o.budgetLocks.forEpic(*exec.EpicID)
		lock.Lock()
		taskID := ""
		if exec.TaskID != nil {
			taskID = *exec.TaskID
		}
		_ = o.epics.AddSpend(ctx, *exec.EpicID, taskID, tokens, usd)
		lock.Unlock()

		if epic, err := o.epics.GetEpic(ctx, *exec.EpicID); err == nil && epic != nil {
			o.notifier.NotifyEpicSpend(ctx, epic.ID, taskID, epic.SpentTokens, epic.SpentUSD)
		}
	}

	o.notifier.NotifyExecutionStatus(ctx, exec.ID, exec.WorkflowID, models.ExecutionStatusCompleted, "")
	o.wakeParent(ctx, exec)
	return models.ExecutionStatusCompleted
}

func (o *Orchestrator) appendLog(ctx context.Context, executionID, nodeID string, status models.NodeExecutionStatus, input, output map[string]interface{}, errMsg string, code models.ErrorCode, durationMs int64) {
	log := &models.ExecutionLog{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Status:      status,
		Input:       input,
		Output:      output,
		Error:       errMsg,
		ErrorCode:   code,
		DurationMs:  durationMs,
		Timestamp:   time.Now(),
	}
	_ = o.executions.AppendLog(ctx, log)
}

func defaultTriggerNode(workflow *models.Workflow) (string, error) {
	for _, n := range workflow.Nodes {
		if n.ComponentType == models.ComponentTypeTrigger {
			return n.ID, nil
		}
	}
	return "", ErrTriggerNodeNotConfigured
}

func finalOutput(state *State) map[string]interface{} {
	outputs := state.NodeOutputsSnapshot()
	if len(outputs) == 0 {
		return nil
	}
	// No single designated "last" node in a fan-out graph; expose every
	// leaf's output keyed by node_id so callers can pick what they need.
	out := make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		out[k] = v
	}
	return out
}

func estimateNodeCost(spec *builder.NodeSpec) int64 {
	if v, ok := spec.ResolvedConfig["estimated_tokens"]; ok {
		switch t := v.(type) {
		case int64:
			return t
		case int:
			return int64(t)
		case float64:
			return int64(t)
		}
	}
	return 0
}

func trimForNode(msgs []Message, spec *builder.NodeSpec) []Message {
	if spec.ModelRef == "" {
		return msgs
	}
	override := 0
	if v, ok := spec.ResolvedConfig["context_window"]; ok {
		switch t := v.(type) {
		case int:
			override = t
		case float64:
			override = int(t)
		}
	}
	return TrimMessages(msgs, spec.ModelRef, spec.SystemPrompt, override)
}

func messagesToMaps(msgs []Message) []map[string]interface{} {
	out := make([]map[string]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]interface{}{"id": m.ID, "role": m.Role, "content": m.Content}
	}
	return out
}
