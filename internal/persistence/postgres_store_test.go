package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/internal/persistence"
)

func setupMockStore(t *testing.T) (*persistence.PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return persistence.NewPostgresStore(sqlxDB), mock
}

func TestPostgresStore_Insert(t *testing.T) {
	store, mock := setupMockStore(t)
	rec := persistence.Record{
		ExecutionID:     "e1",
		WorkflowID:      "wf1",
		Status:          "RUNNING",
		ExecutionSource: "manual",
		StartedBy:       "user-1",
		StartedAt:       time.Now(),
		NodeResults:     []byte("{}"),
		FinalOutputs:    []byte("{}"),
		Errors:          []byte("{}"),
		Metadata:        []byte("{}"),
	}

	mock.ExpectExec(`INSERT INTO executions`).
		WithArgs(rec.ExecutionID, rec.WorkflowID, rec.Status, rec.ExecutionSource, rec.StartedBy, rec.StartedAt,
			rec.NodeResults, rec.FinalOutputs, rec.Errors, rec.Metadata).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_NoRowsReturnsNotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	rec := persistence.Record{ExecutionID: "missing", Status: "COMPLETED"}

	mock.ExpectExec(`UPDATE executions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), rec)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM executions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Found(t *testing.T) {
	store, mock := setupMockStore(t)
	started := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "workflow_id", "status", "execution_source", "started_by", "started_at",
		"completed_at", "node_results", "final_outputs", "errors", "metadata",
	}).AddRow("e1", "wf1", "RUNNING", "manual", "user-1", started, nil, []byte("{}"), []byte("{}"), []byte("{}"), []byte("{}"))

	mock.ExpectQuery(`SELECT \* FROM executions WHERE id = \$1`).
		WithArgs("e1").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "wf1", rec.WorkflowID)
	assert.Equal(t, "RUNNING", rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountRunning(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM executions WHERE workflow_id = \$1 AND status IN \('RUNNING', 'PAUSED'\)`).
		WithArgs("wf1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountRunning(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
