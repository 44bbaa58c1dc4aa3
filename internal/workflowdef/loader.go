package workflowdef

import (
	"context"
	"fmt"
	"sync"
)

// StaticLoader is a concurrency-safe, in-memory DefinitionLoader. Workflow
// Definition storage and schema design are out of scope here (only the
// run-time Execution record is persisted durably); StaticLoader exists so
// internal/orchestrator and internal/trigger have a real implementation to
// load against rather than only the test-local fakes in their _test.go
// files, following internal/humaninteraction's NewInMemoryRepository as the
// default, swappable-later backing store for a concern the rest of the
// system treats as an interface.
type StaticLoader struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewStaticLoader builds a loader seeded with defs, keyed by WorkflowID.
func NewStaticLoader(defs ...*Definition) *StaticLoader {
	l := &StaticLoader{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		l.defs[d.WorkflowID] = d
	}
	return l
}

// Put registers or replaces a definition.
func (l *StaticLoader) Put(d *Definition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[d.WorkflowID] = d
}

// Delete removes a definition, if present.
func (l *StaticLoader) Delete(workflowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.defs, workflowID)
}

// Load implements DefinitionLoader for both internal/orchestrator and
// internal/trigger.
func (l *StaticLoader) Load(ctx context.Context, workflowID string) (*Definition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.defs[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflowdef: unknown workflow %s", workflowID)
	}
	return d, nil
}
