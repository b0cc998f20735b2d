package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theuselessai/pipelit/pkg/models"
)

var epicColumns = []string{
	"id", "title", "tags", "status", "budget_tokens", "budget_usd",
	"spent_tokens", "spent_usd", "total_tasks", "completed_tasks",
	"failed_tasks", "created_at", "updated_at",
}

func TestEpicRepository_GetEpic_MapsRowToDomain(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEpicRepository(bunDB)
	now := time.Now()
	budget := int64(1000)

	rows := sqlmock.NewRows(epicColumns).AddRow(
		"epic-1", "Launch", []byte(`{}`), "open", budget, nil,
		int64(250), 0.42, int64(3), int64(1),
		int64(0), now, now,
	)
	mock.ExpectQuery("^SELECT").WillReturnRows(rows)

	epic, err := repo.GetEpic(context.Background(), "epic-1")
	require.NoError(t, err)
	assert.Equal(t, "epic-1", epic.ID)
	require.NotNil(t, epic.BudgetTokens)
	assert.Equal(t, int64(1000), *epic.BudgetTokens)
	assert.Equal(t, int64(250), epic.SpentTokens)
	assert.False(t, epic.OverBudget(100))
	assert.True(t, epic.OverBudget(800))
}

func TestEpicRepository_GetEpic_ShouldReturnNotFound_WhenNoRow(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEpicRepository(bunDB)

	mock.ExpectQuery("^SELECT").WillReturnRows(sqlmock.NewRows(epicColumns))

	_, err := repo.GetEpic(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEpicNotFound)
}

func TestEpicRepository_AddSpend_LocksEpicRowAndRollsUpTask(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEpicRepository(bunDB)
	now := time.Now()

	mock.ExpectBegin()
	// The row lock select must carry FOR UPDATE so concurrent roll-ups for
	// the same epic serialize.
	mock.ExpectQuery(`^SELECT .* FOR UPDATE`).WillReturnRows(
		sqlmock.NewRows(epicColumns).AddRow(
			"epic-1", "Launch", []byte(`{}`), "open", nil, nil,
			int64(0), 0.0, int64(1), int64(0),
			int64(0), now, now,
		))
	mock.ExpectExec(`^UPDATE "epics"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^UPDATE "tasks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.AddSpend(context.Background(), "epic-1", "task-1", 120, 0.03)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEpicRepository_AddSpend_SkipsTaskUpdateWithoutTaskID(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEpicRepository(bunDB)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`^SELECT .* FOR UPDATE`).WillReturnRows(
		sqlmock.NewRows(epicColumns).AddRow(
			"epic-1", "Launch", []byte(`{}`), "open", nil, nil,
			int64(0), 0.0, int64(0), int64(0),
			int64(0), now, now,
		))
	mock.ExpectExec(`^UPDATE "epics"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.AddSpend(context.Background(), "epic-1", "", 50, 0.0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEpicRepository_AddSpend_ShouldRollback_WhenEpicMissing(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewEpicRepository(bunDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`^SELECT .* FOR UPDATE`).WillReturnRows(sqlmock.NewRows(epicColumns))
	mock.ExpectRollback()

	err := repo.AddSpend(context.Background(), "missing", "", 10, 0.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEpicNotFound)
}
