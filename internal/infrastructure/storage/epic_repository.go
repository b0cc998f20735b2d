package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	storagemodels "github.com/theuselessai/pipelit/internal/infrastructure/storage/models"
	"github.com/theuselessai/pipelit/pkg/models"
)

// EpicRepository reads epic budget rows and applies spend roll-ups. It
// satisfies engine.EpicStore. Spend updates run inside a transaction that
// takes a row lock on the epic, so concurrent roll-ups from different
// processes serialize and the epic counters stay equal to the sum over
// their tasks.
type EpicRepository struct {
	db bun.IDB
}

// NewEpicRepository creates a new EpicRepository.
func NewEpicRepository(db bun.IDB) *EpicRepository {
	return &EpicRepository{db: db}
}

// GetEpic retrieves an epic by id.
func (r *EpicRepository) GetEpic(ctx context.Context, epicID string) (*models.Epic, error) {
	m := &storagemodels.EpicModel{}
	err := r.db.NewSelect().
		Model(m).
		Where("ep.id = ?", epicID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("epic %s: %w", epicID, models.ErrEpicNotFound)
		}
		return nil, fmt.Errorf("failed to get epic %s: %w", epicID, err)
	}
	return storagemodels.EpicFromStorage(m), nil
}

// AddSpend atomically increments the epic's spent counters and, when
// taskID is non-empty, the linked task's actual counters in the same
// transaction.
func (r *EpicRepository) AddSpend(ctx context.Context, epicID, taskID string, tokens int64, usd float64) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := &storagemodels.EpicModel{}
		err := tx.NewSelect().
			Model(m).
			Where("ep.id = ?", epicID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("epic %s: %w", epicID, models.ErrEpicNotFound)
			}
			return fmt.Errorf("failed to lock epic %s: %w", epicID, err)
		}

		_, err = tx.NewUpdate().
			Model((*storagemodels.EpicModel)(nil)).
			Set("spent_tokens = spent_tokens + ?", tokens).
			Set("spent_usd = spent_usd + ?", usd).
			Set("updated_at = current_timestamp").
			Where("id = ?", epicID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to add spend to epic %s: %w", epicID, err)
		}

		if taskID != "" {
			_, err = tx.NewUpdate().
				Model((*storagemodels.TaskModel)(nil)).
				Set("actual_tokens = actual_tokens + ?", tokens).
				Set("actual_usd = actual_usd + ?", usd).
				Set("updated_at = current_timestamp").
				Where("id = ?", taskID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to add spend to task %s: %w", taskID, err)
			}
		}

		return nil
	})
}
