package engine

import (
	"context"
	"sync"

	"github.com/theuselessai/pipelit/pkg/models"
)

// EpicStore loads and atomically updates the Epic a budget check consults
// before a node runs. Implementations must serialize concurrent spend updates for the
// same epic_id so `spent_* = Σ task_*` is preserved.
type EpicStore interface {
	GetEpic(ctx context.Context, epicID string) (*models.Epic, error)
	// AddSpend atomically increments epic_id's spent counters and, if
	// taskID is non-empty, the linked Task's counters too.
	AddSpend(ctx context.Context, epicID, taskID string, tokens int64, usd float64) error
}

// budgetLocks serializes concurrent AddSpend calls for the same epic_id
// within this process; cross-process exclusion is the EpicStore
// implementation's responsibility (e.g. a DB row lock), keyed by
// epic_id.
type budgetLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBudgetLocks() *budgetLocks {
	return &budgetLocks{locks: make(map[string]*sync.Mutex)}
}

func (b *budgetLocks) forEpic(epicID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[epicID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[epicID] = l
	}
	return l
}

// checkBudget evaluates the pre-node budget gate. estimatedTokens
// is the node's declared/estimated cost; a nil epic always passes.
func checkBudget(epic *models.Epic, estimatedTokens int64) (ok bool) {
	if epic == nil {
		return true
	}
	if epic.OverBudget(estimatedTokens) {
		return false
	}
	if epic.BudgetUSD != nil && epic.SpentUSD > *epic.BudgetUSD {
		return false
	}
	return true
}
