package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/weaveflow/weaveflow/internal/node"
)

// ScheduleTrigger is the one reference Trigger implementation in this tree
// (SPEC_FULL.md §4.5): a TRIGGERS-category node whose config carries a
// standard cron expression. Its Describe reports node type "schedule";
// nothing in the repository registers it, and the manager's tests drive
// activate/fire/admission through a test-local trigger instead. Trigger
// node *bodies* are otherwise out of core scope.
type ScheduleTrigger struct {
	Expr            string
	ExecutionSource string

	mu      sync.Mutex
	entryID cron.EntryID
	c       *cron.Cron
}

func NewScheduleTrigger(expr string) *ScheduleTrigger {
	return &ScheduleTrigger{Expr: expr, ExecutionSource: "schedule"}
}

func (t *ScheduleTrigger) Describe() node.Descriptor {
	return node.Descriptor{Type: "schedule", ResourceClasses: nil}
}

// Execute is a no-op: a TRIGGERS node is never scheduled by the executor
// (it has no incoming execution edges), it only ever fires via its Trigger
// capability.
func (t *ScheduleTrigger) Execute(ctx context.Context, in node.Input) (node.Output, error) {
	return node.Output{}, nil
}

func (t *ScheduleTrigger) StartMonitoring(ctx context.Context, workflowID string, cb node.TriggerCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return fmt.Errorf("schedule trigger already monitoring")
	}
	c := cron.New()
	id, err := c.AddFunc(t.Expr, func() {
		cb(workflowID, map[string]any{"scheduled_at": "now"}, t.ExecutionSource)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.Expr, err)
	}
	t.entryID = id
	t.c = c
	c.Start()
	return nil
}

func (t *ScheduleTrigger) StopMonitoring(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return nil
	}
	stopCtx := t.c.Stop()
	<-stopCtx.Done()
	t.c = nil
	return nil
}
