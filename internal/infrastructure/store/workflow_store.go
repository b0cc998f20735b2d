package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/theuselessai/pipelit/pkg/models"
)

func workflowKey(id string) string {
	return fmt.Sprintf("pipelit:workflow:%s", id)
}

func workflowSlugKey(slug string) string {
	return fmt.Sprintf("pipelit:workflow:slug:%s", slug)
}

// WorkflowStore persists Workflow graphs and satisfies
// internal/application/engine.WorkflowLoader. Workflow authoring (create,
// edit, publish) is the REST/DSL layer's concern; this store
// only loads what SaveWorkflow (used by the bootstrap seeding path and by
// tests) has written.
type WorkflowStore struct {
	client *redis.Client
}

// NewWorkflowStore wraps an existing Redis client.
func NewWorkflowStore(client *redis.Client) *WorkflowStore {
	return &WorkflowStore{client: client}
}

// LoadWorkflow implements engine.WorkflowLoader.
func (s *WorkflowStore) LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	raw, err := s.client.Get(ctx, workflowKey(workflowID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("workflow store: load %s: %w", workflowID, err)
	}
	var wf models.Workflow
	if err := json.Unmarshal([]byte(raw), &wf); err != nil {
		return nil, fmt.Errorf("workflow store: decode %s: %w", workflowID, err)
	}
	return &wf, nil
}

// LoadWorkflowBySlug implements engine.WorkflowLoader, resolving a workflow
// by its slug rather than its id (error-handler dispatch, which names
// the handler workflow by Workflow.ErrorHandlerSlug).
func (s *WorkflowStore) LoadWorkflowBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	id, err := s.client.Get(ctx, workflowSlugKey(slug)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("workflow slug %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("workflow store: resolve slug %s: %w", slug, err)
	}
	return s.LoadWorkflow(ctx, id)
}

// SaveWorkflow writes (or overwrites) a workflow graph.
func (s *WorkflowStore) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("workflow store: %w", err)
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("workflow store: encode %s: %w", wf.ID, err)
	}
	if err := s.client.Set(ctx, workflowKey(wf.ID), data, 0).Err(); err != nil {
		return err
	}
	if wf.Slug != "" {
		if err := s.client.Set(ctx, workflowSlugKey(wf.Slug), wf.ID, 0).Err(); err != nil {
			return fmt.Errorf("workflow store: index slug %s: %w", wf.Slug, err)
		}
	}
	return nil
}
