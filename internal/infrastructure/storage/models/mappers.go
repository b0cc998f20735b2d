package models

import (
	"github.com/theuselessai/pipelit/pkg/models"
)

// WorkflowToStorage converts a domain workflow to its storage model,
// including nodes and edges. Used for both Create and Update.
func WorkflowToStorage(w *models.Workflow) *WorkflowModel {
	storageNodes := make([]*NodeModel, len(w.Nodes))
	for i, node := range w.Nodes {
		storageNodes[i] = NodeToStorage(node, w.ID)
	}

	storageEdges := make([]*EdgeModel, len(w.Edges))
	for i, edge := range w.Edges {
		storageEdges[i] = EdgeToStorage(edge, w.ID)
	}

	return &WorkflowModel{
		ID:               w.ID,
		Slug:             w.Slug,
		Name:             w.Name,
		Description:      w.Description,
		Status:           string(w.Status),
		Version:          w.Version,
		Tags:             StringArray(w.Tags),
		Variables:        JSONBMap(w.Variables),
		Metadata:         JSONBMap(w.Metadata),
		ErrorHandlerSlug: w.ErrorHandlerSlug,
		CreatedBy:        w.CreatedBy,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
		DeletedAt:        w.DeletedAt,
		Nodes:            storageNodes,
		Edges:            storageEdges,
	}
}

// WorkflowFromStorage converts a storage workflow model back to the domain
// type, including loaded node/edge relations.
func WorkflowFromStorage(m *WorkflowModel) *models.Workflow {
	nodes := make([]*models.Node, len(m.Nodes))
	for i, n := range m.Nodes {
		nodes[i] = NodeFromStorage(n)
	}

	edges := make([]*models.Edge, len(m.Edges))
	for i, e := range m.Edges {
		edges[i] = EdgeFromStorage(e)
	}

	return &models.Workflow{
		ID:               m.ID,
		Slug:             m.Slug,
		Name:             m.Name,
		Description:      m.Description,
		Version:          m.Version,
		Status:           models.WorkflowStatus(m.Status),
		Tags:             []string(m.Tags),
		Nodes:            nodes,
		Edges:            edges,
		Variables:        map[string]interface{}(m.Variables),
		Metadata:         map[string]interface{}(m.Metadata),
		ErrorHandlerSlug: m.ErrorHandlerSlug,
		CreatedBy:        m.CreatedBy,
		DeletedAt:        m.DeletedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// NodeToStorage converts a domain node to its storage model.
func NodeToStorage(n *models.Node, workflowID string) *NodeModel {
	position := JSONBMap{}
	if n.Position != nil {
		position["x"] = n.Position.X
		position["y"] = n.Position.Y
	}

	return &NodeModel{
		NodeID:        n.ID,
		WorkflowID:    workflowID,
		Name:          n.Name,
		ComponentType: string(n.ComponentType),
		SystemPrompt:  n.SystemPrompt,
		ExtraConfig:   JSONBMap(n.ExtraConfig),
		ModelRef:      n.ModelRef,
		Position:      position,
		Metadata:      JSONBMap(n.Metadata),
	}
}

// NodeFromStorage converts a storage node model back to the domain type.
func NodeFromStorage(m *NodeModel) *models.Node {
	var position *models.Position
	if len(m.Position) > 0 {
		x, _ := m.Position["x"].(float64)
		y, _ := m.Position["y"].(float64)
		position = &models.Position{X: x, Y: y}
	}

	return &models.Node{
		ID:            m.NodeID,
		Name:          m.Name,
		ComponentType: models.ComponentType(m.ComponentType),
		SystemPrompt:  m.SystemPrompt,
		ExtraConfig:   map[string]interface{}(m.ExtraConfig),
		ModelRef:      m.ModelRef,
		Position:      position,
		Metadata:      map[string]interface{}(m.Metadata),
	}
}

// EdgeToStorage converts a domain edge to its storage model.
func EdgeToStorage(e *models.Edge, workflowID string) *EdgeModel {
	return &EdgeModel{
		EdgeID:         e.ID,
		WorkflowID:     workflowID,
		FromNodeID:     e.From,
		ToNodeID:       e.To,
		EdgeType:       string(e.EdgeType),
		EdgeLabel:      string(e.EdgeLabel),
		ConditionValue: e.ConditionValue,
		Priority:       e.Priority,
		Guard:          e.Guard,
	}
}

// EdgeFromStorage converts a storage edge model back to the domain type.
func EdgeFromStorage(m *EdgeModel) *models.Edge {
	return &models.Edge{
		ID:             m.EdgeID,
		From:           m.FromNodeID,
		To:             m.ToNodeID,
		EdgeType:       models.EdgeType(m.EdgeType),
		EdgeLabel:      models.EdgeLabel(m.EdgeLabel),
		ConditionValue: m.ConditionValue,
		Priority:       m.Priority,
		Guard:          m.Guard,
	}
}

// ExecutionToStorage converts a domain execution to its storage model.
func ExecutionToStorage(e *models.Execution) *ExecutionModel {
	payload := JSONBMap{"text": e.TriggerPayload.Text}
	if e.TriggerPayload.Payload != nil {
		payload["payload"] = e.TriggerPayload.Payload
	}

	return &ExecutionModel{
		ID:                e.ID,
		WorkflowID:        e.WorkflowID,
		Status:            string(e.Status),
		ParentExecutionID: e.ParentExecutionID,
		ParentNodeID:      e.ParentNodeID,
		WaitingNodeID:     e.WaitingNodeID,
		ThreadID:          e.ThreadID,
		TriggerNodeID:     e.TriggerNodeID,
		TriggerPayload:    payload,
		FinalOutput:       JSONBMap(e.FinalOutput),
		Error:             e.Error,
		ErrorCode:         string(e.ErrorCode),
		SpentTokens:       e.SpentTokens,
		SpentUSD:          e.SpentUSD,
		EpicID:            e.EpicID,
		TaskID:            e.TaskID,
		StartedAt:         e.StartedAt,
		CompletedAt:       e.CompletedAt,
		CreatedAt:         e.CreatedAt,
	}
}

// ExecutionFromStorage converts a storage execution model back to the
// domain type.
func ExecutionFromStorage(m *ExecutionModel) *models.Execution {
	payload := models.TriggerPayload{}
	if text, ok := m.TriggerPayload["text"].(string); ok {
		payload.Text = text
	}
	if data, ok := m.TriggerPayload["payload"].(map[string]interface{}); ok {
		payload.Payload = data
	}

	return &models.Execution{
		ID:                m.ID,
		WorkflowID:        m.WorkflowID,
		Status:            models.ExecutionStatus(m.Status),
		ParentExecutionID: m.ParentExecutionID,
		ParentNodeID:      m.ParentNodeID,
		WaitingNodeID:     m.WaitingNodeID,
		ThreadID:          m.ThreadID,
		TriggerNodeID:     m.TriggerNodeID,
		TriggerPayload:    payload,
		FinalOutput:       map[string]interface{}(m.FinalOutput),
		Error:             m.Error,
		ErrorCode:         models.ErrorCode(m.ErrorCode),
		SpentTokens:       m.SpentTokens,
		SpentUSD:          m.SpentUSD,
		EpicID:            m.EpicID,
		TaskID:            m.TaskID,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		CreatedAt:         m.CreatedAt,
	}
}

// ExecutionLogToStorage converts a domain execution log to its storage model.
func ExecutionLogToStorage(l *models.ExecutionLog) *ExecutionLogModel {
	return &ExecutionLogModel{
		ID:          l.ID,
		ExecutionID: l.ExecutionID,
		NodeID:      l.NodeID,
		Status:      string(l.Status),
		Input:       JSONBMap(l.Input),
		Output:      JSONBMap(l.Output),
		Error:       l.Error,
		ErrorCode:   string(l.ErrorCode),
		Metadata:    JSONBMap(l.Metadata),
		DurationMs:  l.DurationMs,
		Timestamp:   l.Timestamp,
	}
}

// ExecutionLogFromStorage converts a storage log model back to the domain type.
func ExecutionLogFromStorage(m *ExecutionLogModel) *models.ExecutionLog {
	return &models.ExecutionLog{
		ID:          m.ID,
		ExecutionID: m.ExecutionID,
		NodeID:      m.NodeID,
		Status:      models.NodeExecutionStatus(m.Status),
		Input:       map[string]interface{}(m.Input),
		Output:      map[string]interface{}(m.Output),
		Error:       m.Error,
		ErrorCode:   models.ErrorCode(m.ErrorCode),
		Metadata:    map[string]interface{}(m.Metadata),
		DurationMs:  m.DurationMs,
		Timestamp:   m.Timestamp,
	}
}

// ScheduledJobToStorage converts a domain scheduled job to its storage model.
func ScheduledJobToStorage(j *models.ScheduledJob) *ScheduledJobModel {
	return &ScheduledJobModel{
		ID:              j.ID,
		WorkflowID:      j.WorkflowID,
		TriggerNodeID:   j.TriggerNodeID,
		IntervalSeconds: j.IntervalSeconds,
		TotalRepeats:    j.TotalRepeats,
		MaxRetries:      j.MaxRetries,
		TimeoutSeconds:  j.TimeoutSeconds,
		TriggerPayload:  JSONBMap(j.TriggerPayload),
		Status:          string(j.Status),
		CurrentRepeat:   j.CurrentRepeat,
		CurrentRetry:    j.CurrentRetry,
		LastRunAt:       j.LastRunAt,
		NextRunAt:       j.NextRunAt,
		RunCount:        j.RunCount,
		ErrorCount:      j.ErrorCount,
		LastError:       j.LastError,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

// ScheduledJobFromStorage converts a storage scheduled job model back to
// the domain type.
func ScheduledJobFromStorage(m *ScheduledJobModel) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:              m.ID,
		WorkflowID:      m.WorkflowID,
		TriggerNodeID:   m.TriggerNodeID,
		IntervalSeconds: m.IntervalSeconds,
		TotalRepeats:    m.TotalRepeats,
		MaxRetries:      m.MaxRetries,
		TimeoutSeconds:  m.TimeoutSeconds,
		TriggerPayload:  map[string]interface{}(m.TriggerPayload),
		Status:          models.ScheduledJobStatus(m.Status),
		CurrentRepeat:   m.CurrentRepeat,
		CurrentRetry:    m.CurrentRetry,
		LastRunAt:       m.LastRunAt,
		NextRunAt:       m.NextRunAt,
		RunCount:        m.RunCount,
		ErrorCount:      m.ErrorCount,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// EpicFromStorage converts a storage epic model back to the domain type.
func EpicFromStorage(m *EpicModel) *models.Epic {
	return &models.Epic{
		ID:             m.ID,
		Title:          m.Title,
		Tags:           []string(m.Tags),
		Status:         models.EpicStatus(m.Status),
		BudgetTokens:   m.BudgetTokens,
		BudgetUSD:      m.BudgetUSD,
		SpentTokens:    m.SpentTokens,
		SpentUSD:       m.SpentUSD,
		TotalTasks:     m.TotalTasks,
		CompletedTasks: m.CompletedTasks,
		FailedTasks:    m.FailedTasks,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// EpicToStorage converts a domain epic to its storage model.
func EpicToStorage(e *models.Epic) *EpicModel {
	return &EpicModel{
		ID:             e.ID,
		Title:          e.Title,
		Tags:           StringArray(e.Tags),
		Status:         string(e.Status),
		BudgetTokens:   e.BudgetTokens,
		BudgetUSD:      e.BudgetUSD,
		SpentTokens:    e.SpentTokens,
		SpentUSD:       e.SpentUSD,
		TotalTasks:     e.TotalTasks,
		CompletedTasks: e.CompletedTasks,
		FailedTasks:    e.FailedTasks,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
