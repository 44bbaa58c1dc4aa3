package humaninteraction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the interaction persistence contract, analogous to
// internal/persistence.ExecutionStore but scoped to interaction records.
// Grounded on the teacher's humantask.Repository, trimmed to the methods
// this package's escalation/resume flow actually drives.
type Repository interface {
	Create(ctx context.Context, i *Interaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Interaction, error)
	GetByExecutionNode(ctx context.Context, executionID, nodeID string) (*Interaction, error)
	Update(ctx context.Context, i *Interaction) error
	ListOverdue(ctx context.Context, now time.Time) ([]*Interaction, error)
}

// InMemoryRepository is a concurrency-safe Repository, the default for
// single-process deployments and for tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Interaction
	byKey map[string]uuid.UUID // execution_id + "/" + node_id -> id
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:  make(map[uuid.UUID]*Interaction),
		byKey: make(map[string]uuid.UUID),
	}
}

func key(executionID, nodeID string) string { return executionID + "/" + nodeID }

func (r *InMemoryRepository) Create(ctx context.Context, i *Interaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	now := time.Now()
	i.CreatedAt, i.UpdatedAt = now, now
	r.byID[i.ID] = i
	r.byKey[key(i.ExecutionID, i.NodeID)] = i.ID
	return nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, ErrInteractionNotFound
	}
	return i, nil
}

func (r *InMemoryRepository) GetByExecutionNode(ctx context.Context, executionID, nodeID string) (*Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key(executionID, nodeID)]
	if !ok {
		return nil, ErrInteractionNotFound
	}
	return r.byID[id], nil
}

func (r *InMemoryRepository) Update(ctx context.Context, i *Interaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[i.ID]; !ok {
		return ErrInteractionNotFound
	}
	i.UpdatedAt = time.Now()
	r.byID[i.ID] = i
	return nil
}

func (r *InMemoryRepository) ListOverdue(ctx context.Context, now time.Time) ([]*Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Interaction
	for _, i := range r.byID {
		if i.IsOverdue(now) {
			out = append(out, i)
		}
	}
	return out, nil
}
