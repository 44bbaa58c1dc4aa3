// Package persistence implements the Execution record store spec.md §6
// names as an external interface (per-node results are kept inside that
// record's node_results column; there is no separate StepExecution
// record), grounded on the teacher's
// internal/workflow/repository.go for the sqlx query idiom. Workflow
// Definition storage and DB schema design are out of core scope — this
// package only persists the run-time record of an execution.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("persistence: execution not found")

// Record mirrors execctx.Context's terminal shape — the subset spec.md §6
// requires the Orchestrator to persist.
type Record struct {
	ExecutionID     string    `db:"id" json:"execution_id"`
	WorkflowID      string    `db:"workflow_id" json:"workflow_id"`
	Status          string    `db:"status" json:"status"`
	ExecutionSource string    `db:"execution_source" json:"execution_source"`
	StartedBy       string    `db:"started_by" json:"started_by"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	NodeResults     []byte    `db:"node_results" json:"-"`
	FinalOutputs    []byte    `db:"final_outputs" json:"-"`
	Errors          []byte    `db:"errors" json:"-"`
	Metadata        []byte    `db:"metadata" json:"-"`
}

// ExecutionStore is the contract the Orchestrator and Trigger Manager
// consume (spec.md §6); both implementations below satisfy it.
type ExecutionStore interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Get(ctx context.Context, executionID string) (Record, error)
	CountRunning(ctx context.Context, workflowID string) (int, error)
}

// InMemoryStore is a concurrency-safe in-memory ExecutionStore, used by
// tests and by single-process deployments without a configured database.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ExecutionID] = rec
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ExecutionID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ExecutionID] = rec
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, executionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[executionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) CountRunning(ctx context.Context, workflowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.WorkflowID == workflowID && (rec.Status == "RUNNING" || rec.Status == "PAUSED") {
			n++
		}
	}
	return n, nil
}

// PostgresStore is a sqlx-backed ExecutionStore, adapted from the teacher's
// workflow.Repository query style (named placeholders, StructScan,
// sql.ErrNoRows -> ErrNotFound translation).
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO executions (id, workflow_id, status, execution_source, started_by, started_at, node_results, final_outputs, errors, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ExecutionID, rec.WorkflowID, rec.Status, rec.ExecutionSource, rec.StartedBy, rec.StartedAt,
		rec.NodeResults, rec.FinalOutputs, rec.Errors, rec.Metadata,
	)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	const query = `
		UPDATE executions
		SET status = $2, completed_at = $3, node_results = $4, final_outputs = $5, errors = $6, metadata = $7
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, rec.ExecutionID, rec.Status, rec.CompletedAt, rec.NodeResults, rec.FinalOutputs, rec.Errors, rec.Metadata)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, executionID string) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM executions WHERE id = $1`, executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) CountRunning(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM executions WHERE workflow_id = $1 AND status IN ('RUNNING', 'PAUSED')`, workflowID)
	return n, err
}

// MarshalJSONMap is a small helper the Orchestrator uses to encode the
// Context's map fields into the Record's raw JSON []byte columns.
func MarshalJSONMap(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
