// Package trigger implements the Trigger Manager: a long-lived,
// process-wide singleton that owns trigger-node monitoring per workflow,
// enforces per-workflow concurrency admission, and maintains a bounded
// pending-event queue (spec.md §4.5). It is grounded on
// original_source/trigger_manager.py for semantics (activate/deactivate,
// bounded asyncio.Queue -> mutex-guarded Go slice with drop-newest-at-ingress,
// the recursive process_queue/execute_with_queue_processing pair) and on
// the teacher's internal/schedule/scheduler.go for the Go idiom of a
// mutex-guarded running flag, stopCh, and WorkflowExecutor callback
// interface.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// WorkflowExecutor is the Orchestrator façade the manager invokes on
// admission — grounded on the teacher's schedule.WorkflowExecutor
// interface, trimmed to the one method the trigger callback needs.
type WorkflowExecutor interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, triggerData map[string]any, executionSource, startedBy string) (executionID string, err error)
}

// ActiveExecutionCounter answers "how many executions of this workflow are
// currently RUNNING" for the admission check in spec.md §4.5 step 2 — kept
// as a narrow interface so the manager does not import the persistence
// package directly.
type ActiveExecutionCounter interface {
	CountRunning(ctx context.Context, workflowID string) (int, error)
}

// DefinitionLoader loads a workflow's static definition so the manager can
// find its TRIGGERS-category nodes and its execution_config.
type DefinitionLoader interface {
	Load(ctx context.Context, workflowID string) (*workflowdef.Definition, error)
}

// StatusRecorder persists the PENDING/STOPPED workflow status transitions
// activate/deactivate produce.
type StatusRecorder interface {
	RecordMonitoringStarted(ctx context.Context, workflowID string, at time.Time)
	RecordMonitoringStopped(ctx context.Context, workflowID string, at time.Time)
}

const (
	defaultMaxConcurrentRunsPerWorkflow = 5
	defaultMaxQueueDepthPerWorkflow     = 200
)

// pendingEvent is one queued trigger firing awaiting admission.
type pendingEvent struct {
	triggerData     map[string]any
	executionSource string
	queuedAt        time.Time
}

// activeWorkflow is the per-workflow monitoring record spec.md §4.5 calls
// `active_workflows[workflow_id]`.
type activeWorkflow struct {
	def         *workflowdef.Definition
	triggers    map[string]node.Trigger // node_id -> instance
	startedAt   time.Time
	queue       []pendingEvent
	maxQueue    int
	maxConcurrent int
}

// ActivationInfo is returned by ActivateWorkflow.
type ActivationInfo struct {
	WorkflowID   string
	TriggerCount int
	TriggerNodes []string
	StartedAt    time.Time
}

var (
	ErrAlreadyActive = fmt.Errorf("trigger: workflow already active")
	ErrNoTriggers    = fmt.Errorf("trigger: workflow has no TRIGGERS-category nodes")
)

// Manager is the Trigger Manager singleton. Per spec.md §5 it relies on a
// single mutex protecting active_workflows/execution_queues rather than a
// true single-threaded event loop, since Go has no GIL-equivalent —
// cross-workflow operations take the lock only long enough to read/mutate
// the map, never while awaiting a trigger or an execution.
type Manager struct {
	mu       sync.Mutex
	active   map[string]*activeWorkflow
	registry *node.Registry
	loader   DefinitionLoader
	executor WorkflowExecutor
	counter  ActiveExecutionCounter
	recorder StatusRecorder
	logger   *slog.Logger

	defaultMaxConcurrent int
	defaultMaxQueueDepth int
}

// New constructs a Manager. recorder may be nil.
func New(registry *node.Registry, loader DefinitionLoader, executor WorkflowExecutor, counter ActiveExecutionCounter, recorder StatusRecorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		active:               make(map[string]*activeWorkflow),
		registry:             registry,
		loader:               loader,
		executor:             executor,
		counter:              counter,
		recorder:             recorder,
		logger:               logger,
		defaultMaxConcurrent: defaultMaxConcurrentRunsPerWorkflow,
		defaultMaxQueueDepth: defaultMaxQueueDepthPerWorkflow,
	}
}

// ActivateWorkflow implements spec.md §4.5's activate_workflow.
func (m *Manager) ActivateWorkflow(ctx context.Context, workflowID string) (ActivationInfo, error) {
	m.mu.Lock()
	if _, exists := m.active[workflowID]; exists {
		m.mu.Unlock()
		return ActivationInfo{}, ErrAlreadyActive
	}
	m.mu.Unlock()

	def, err := m.loader.Load(ctx, workflowID)
	if err != nil {
		return ActivationInfo{}, fmt.Errorf("trigger: load workflow %s: %w", workflowID, err)
	}

	triggerNodeIDs := def.TriggerNodeIDs()
	if len(triggerNodeIDs) == 0 {
		return ActivationInfo{}, ErrNoTriggers
	}

	aw := &activeWorkflow{
		def:           def,
		triggers:      make(map[string]node.Trigger, len(triggerNodeIDs)),
		maxQueue:      resolveMaxQueueDepth(def, m.defaultMaxQueueDepth),
		maxConcurrent: resolveMaxConcurrent(def, m.defaultMaxConcurrent),
	}

	// A trigger firing must never block the goroutine that fired it (a
	// cron tick, a webhook listener's accept loop, ...): hand the event to
	// its own goroutine, mirroring the asyncio.create_task dispatch the
	// Python original uses from inside a synchronous callback.
	cb := func(triggerData map[string]any, executionSource string) {
		go m.onTriggerFired(workflowID, triggerData, executionSource)
	}

	started := make([]string, 0, len(triggerNodeIDs))
	if rollbackErr := func() error {
		for _, nodeID := range triggerNodeIDs {
			cfg, ok := def.NodeByID(nodeID)
			if !ok {
				return fmt.Errorf("trigger node %s not found in definition", nodeID)
			}
			n, err := m.registry.New(cfg.NodeType)
			if err != nil {
				return fmt.Errorf("instantiate trigger node %s: %w", nodeID, err)
			}
			trig, ok := n.(node.Trigger)
			if !ok {
				return fmt.Errorf("node %s (type %s) does not implement the Trigger capability", nodeID, cfg.NodeType)
			}
			if err := trig.StartMonitoring(ctx, workflowID, func(wfID string, triggerData map[string]any, executionSource string) {
				cb(triggerData, executionSource)
			}); err != nil {
				return fmt.Errorf("start monitoring %s: %w", nodeID, err)
			}
			aw.triggers[nodeID] = trig
			started = append(started, nodeID)
		}
		return nil
	}(); rollbackErr != nil {
		for _, nodeID := range started {
			_ = aw.triggers[nodeID].StopMonitoring(ctx)
		}
		return ActivationInfo{}, rollbackErr
	}

	aw.startedAt = time.Now()

	m.mu.Lock()
	m.active[workflowID] = aw
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordMonitoringStarted(ctx, workflowID, aw.startedAt)
	}
	m.logger.Info("workflow activated", "workflow_id", workflowID, "trigger_count", len(triggerNodeIDs))

	return ActivationInfo{
		WorkflowID:   workflowID,
		TriggerCount: len(triggerNodeIDs),
		TriggerNodes: triggerNodeIDs,
		StartedAt:    aw.startedAt,
	}, nil
}

// DeactivateWorkflow implements spec.md §4.5's deactivate_workflow.
func (m *Manager) DeactivateWorkflow(ctx context.Context, workflowID string) bool {
	m.mu.Lock()
	aw, exists := m.active[workflowID]
	if exists {
		delete(m.active, workflowID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	for nodeID, trig := range aw.triggers {
		if err := trig.StopMonitoring(ctx); err != nil {
			m.logger.Error("stop_monitoring failed", "workflow_id", workflowID, "node_id", nodeID, "error", err)
		}
	}

	if m.recorder != nil {
		m.recorder.RecordMonitoringStopped(ctx, workflowID, time.Now())
	}
	m.logger.Info("workflow deactivated", "workflow_id", workflowID, "dropped_queue_depth", len(aw.queue))
	return true
}

// Shutdown deactivates every active workflow.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.DeactivateWorkflow(ctx, id)
	}
}

// GetActiveWorkflows returns a snapshot of workflow_id -> started_at.
func (m *Manager) GetActiveWorkflows() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.active))
	for id, aw := range m.active {
		out[id] = aw.startedAt
	}
	return out
}

// IsWorkflowActive reports whether workflowID currently has monitoring
// running.
func (m *Manager) IsWorkflowActive(workflowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[workflowID]
	return ok
}

// QueueDepths reports each active workflow's current pending-event count,
// for a metrics collector to sample periodically.
func (m *Manager) QueueDepths() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.active))
	for id, aw := range m.active {
		out[id] = len(aw.queue)
	}
	return out
}

// onTriggerFired implements the trigger callback of spec.md §4.5: drop
// silently if no longer active, else admission-check and either execute or
// enqueue.
func (m *Manager) onTriggerFired(workflowID string, triggerData map[string]any, executionSource string) {
	ctx := context.Background()

	m.mu.Lock()
	aw, exists := m.active[workflowID]
	m.mu.Unlock()
	if !exists {
		m.logger.Debug("trigger fired for inactive workflow, dropping", "workflow_id", workflowID)
		return
	}

	activeCount, err := m.counter.CountRunning(ctx, workflowID)
	if err != nil {
		m.logger.Error("failed to count running executions, dropping trigger event", "workflow_id", workflowID, "error", err)
		return
	}

	if activeCount >= aw.maxConcurrent {
		m.enqueue(workflowID, aw, pendingEvent{triggerData: triggerData, executionSource: executionSource, queuedAt: time.Now()})
		return
	}

	m.executeWithQueueProcessing(ctx, workflowID, triggerData, executionSource)
}

// enqueue implements the bounded FIFO with drop-newest-at-ingress-when-full
// discipline of spec.md §4.5.
func (m *Manager) enqueue(workflowID string, aw *activeWorkflow, ev pendingEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, stillActive := m.active[workflowID]; !stillActive {
		return
	}
	if len(aw.queue) >= aw.maxQueue {
		m.logger.Warn("trigger event queue full, dropping newest", "workflow_id", workflowID, "max_queue_depth", aw.maxQueue)
		return
	}
	aw.queue = append(aw.queue, ev)
}

// executeWithQueueProcessing implements spec.md §4.5's
// execute_with_queue_processing: run one execution to completion, then in
// a "finally" drive process_queue regardless of outcome.
func (m *Manager) executeWithQueueProcessing(ctx context.Context, workflowID string, triggerData map[string]any, executionSource string) {
	defer m.processQueue(ctx, workflowID)

	_, err := m.executor.ExecuteWorkflow(ctx, workflowID, triggerData, executionSource, "")
	if err != nil {
		m.logger.Error("triggered execution failed", "workflow_id", workflowID, "error", err)
	}
}

// processQueue implements spec.md §4.5's process_queue: peek, recheck
// admission, and recurse via execute_with_queue_processing if still room.
func (m *Manager) processQueue(ctx context.Context, workflowID string) {
	m.mu.Lock()
	aw, exists := m.active[workflowID]
	if !exists || len(aw.queue) == 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	activeCount, err := m.counter.CountRunning(ctx, workflowID)
	if err != nil {
		m.logger.Error("process_queue: failed to count running executions", "workflow_id", workflowID, "error", err)
		return
	}
	if activeCount >= aw.maxConcurrent {
		return // queue remains, a future completion will retry
	}

	m.mu.Lock()
	if len(aw.queue) == 0 {
		m.mu.Unlock()
		return
	}
	ev := aw.queue[0]
	aw.queue = aw.queue[1:]
	m.mu.Unlock()

	m.executeWithQueueProcessing(ctx, workflowID, ev.triggerData, ev.executionSource)
}

func resolveMaxConcurrent(def *workflowdef.Definition, fallback int) int {
	if def.ExecutionConfig != nil && def.ExecutionConfig.MaxConcurrentRuns > 0 {
		return def.ExecutionConfig.MaxConcurrentRuns
	}
	return fallback
}

func resolveMaxQueueDepth(def *workflowdef.Definition, fallback int) int {
	if def.ExecutionConfig != nil && def.ExecutionConfig.MaxQueueDepth > 0 {
		return def.ExecutionConfig.MaxQueueDepth
	}
	return fallback
}
