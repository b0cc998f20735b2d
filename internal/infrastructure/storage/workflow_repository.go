package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	storagemodels "github.com/theuselessai/pipelit/internal/infrastructure/storage/models"
	"github.com/theuselessai/pipelit/pkg/models"
)

// WorkflowRepository persists workflow rows with their owned nodes and
// edges. It satisfies engine.WorkflowLoader.
type WorkflowRepository struct {
	db bun.IDB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db bun.IDB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// LoadWorkflow retrieves a workflow by id with its nodes and edges.
// Soft-deleted workflows are not returned.
func (r *WorkflowRepository) LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	m := &storagemodels.WorkflowModel{}
	err := r.db.NewSelect().
		Model(m).
		Relation("Nodes").
		Relation("Edges").
		Where("w.id = ?", workflowID).
		Where("w.deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s: %w", workflowID, models.ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	return storagemodels.WorkflowFromStorage(m), nil
}

// LoadWorkflowBySlug retrieves a workflow by its stable slug.
func (r *WorkflowRepository) LoadWorkflowBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	m := &storagemodels.WorkflowModel{}
	err := r.db.NewSelect().
		Model(m).
		Relation("Nodes").
		Relation("Edges").
		Where("w.slug = ?", slug).
		Where("w.deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow slug %s: %w", slug, models.ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("failed to load workflow by slug %s: %w", slug, err)
	}
	return storagemodels.WorkflowFromStorage(m), nil
}

// Save upserts a workflow and replaces its node and edge sets in one
// transaction, so a loaded graph always reflects exactly one revision.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if err := workflow.Validate(); err != nil {
		return err
	}
	m := storagemodels.WorkflowToStorage(workflow)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	for _, n := range m.Nodes {
		n.ID = uuid.NewString()
		n.WorkflowID = m.ID
		n.CreatedAt = now
		n.UpdatedAt = now
	}
	for _, e := range m.Edges {
		e.ID = uuid.NewString()
		e.WorkflowID = m.ID
		e.CreatedAt = now
		e.UpdatedAt = now
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(m).
			On("CONFLICT (id) DO UPDATE").
			Set("slug = EXCLUDED.slug").
			Set("name = EXCLUDED.name").
			Set("description = EXCLUDED.description").
			Set("status = EXCLUDED.status").
			Set("version = EXCLUDED.version").
			Set("tags = EXCLUDED.tags").
			Set("variables = EXCLUDED.variables").
			Set("metadata = EXCLUDED.metadata").
			Set("error_handler_slug = EXCLUDED.error_handler_slug").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert workflow: %w", err)
		}

		_, err = tx.NewDelete().
			Model((*storagemodels.NodeModel)(nil)).
			Where("workflow_id = ?", m.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete old nodes: %w", err)
		}
		if len(m.Nodes) > 0 {
			if _, err := tx.NewInsert().Model(&m.Nodes).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert nodes: %w", err)
			}
		}

		_, err = tx.NewDelete().
			Model((*storagemodels.EdgeModel)(nil)).
			Where("workflow_id = ?", m.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete old edges: %w", err)
		}
		if len(m.Edges) > 0 {
			if _, err := tx.NewInsert().Model(&m.Edges).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert edges: %w", err)
			}
		}

		return nil
	})
}

// SoftDelete marks a workflow deleted and transitions every scheduled job
// that weakly references it to dead, so the scheduler stops firing it.
func (r *WorkflowRepository) SoftDelete(ctx context.Context, workflowID string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*storagemodels.WorkflowModel)(nil)).
			Set("deleted_at = current_timestamp").
			Set("updated_at = current_timestamp").
			Where("id = ?", workflowID).
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to soft-delete workflow: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("workflow %s: %w", workflowID, models.ErrWorkflowNotFound)
		}

		_, err = tx.NewUpdate().
			Model((*storagemodels.ScheduledJobModel)(nil)).
			Set("status = ?", string(models.ScheduledJobStatusDead)).
			Set("updated_at = current_timestamp").
			Where("workflow_id = ?", workflowID).
			Where("status IN (?)", bun.In([]string{
				string(models.ScheduledJobStatusActive),
				string(models.ScheduledJobStatusPaused),
			})).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to retire scheduled jobs: %w", err)
		}
		return nil
	})
}
