// Package orchestrator implements the per-request façade of spec.md §4.4:
// load a Workflow Definition, merge its execution config, build the
// Execution Graph and Context, run a Parallel Executor to completion, and
// persist the terminal record. Grounded on the teacher's top-level
// Executor.Execute flow (internal/executor/executor.go in the teacher
// tree), which this package's ExecuteWorkflow plays the same role as, now
// split across the Graph Builder / Execution Context / Parallel Executor
// packages instead of one monolithic method.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weaveflow/weaveflow/internal/execctx"
	"github.com/weaveflow/weaveflow/internal/eventbus"
	"github.com/weaveflow/weaveflow/internal/executor"
	"github.com/weaveflow/weaveflow/internal/graph"
	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/persistence"
	"github.com/weaveflow/weaveflow/internal/settings"
	"github.com/weaveflow/weaveflow/internal/telemetry"
	"github.com/weaveflow/weaveflow/internal/tracing"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// DefinitionLoader loads a workflow's static definition by id.
type DefinitionLoader interface {
	Load(ctx context.Context, workflowID string) (*workflowdef.Definition, error)
}

// ErrNotFound is returned when a workflow or execution id is unknown.
var ErrNotFound = fmt.Errorf("orchestrator: not found")

// Orchestrator is the one-shot execution lifecycle façade (spec.md §4.4).
// It also implements internal/trigger.WorkflowExecutor and
// internal/persistence.ExecutionStore's CountRunning contract indirectly
// via its store, so a Trigger Manager can be wired against it directly.
type Orchestrator struct {
	loader       DefinitionLoader
	registry     *node.Registry
	store        persistence.ExecutionStore
	bus          *eventbus.Bus
	resolver     executor.CredentialResolver
	interactions executor.InteractionStore
	global       settings.GlobalExecution
	logger       *slog.Logger
	tracker      *telemetry.Tracker

	mu     sync.Mutex
	active map[string]*execctx.Context // execution_id -> running context
	execs  map[string]*executor.Executor
}

// New constructs an Orchestrator. resolver, interactions, and tracker may
// all be nil: with no resolver, nodes see an empty Credentials map; with no
// interaction store, a node that suspends for human input is never
// recorded anywhere durable (it still pauses correctly — resume still
// works through ResumeExecution — but nothing outside this process can
// discover or act on the suspension); with no tracker, a panicking node
// still fails cleanly (see internal/executor/dispatch.go) but is never
// reported anywhere.
func New(loader DefinitionLoader, registry *node.Registry, store persistence.ExecutionStore, bus *eventbus.Bus, resolver executor.CredentialResolver, interactions executor.InteractionStore, global settings.GlobalExecution, logger *slog.Logger, tracker *telemetry.Tracker) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New(logger)
	}
	return &Orchestrator{
		loader:       loader,
		registry:     registry,
		store:        store,
		bus:          bus,
		resolver:     resolver,
		interactions: interactions,
		global:       global,
		logger:       logger,
		tracker:      tracker,
		active:       make(map[string]*execctx.Context),
		execs:        make(map[string]*executor.Executor),
	}
}

// ExecuteWorkflow implements spec.md §4.4's execute_workflow, and satisfies
// internal/trigger.WorkflowExecutor so the Trigger Manager can call it
// directly as its admission callback.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflowID string, triggerData map[string]any, executionSource, startedBy string) (string, error) {
	if executionSource == "" {
		executionSource = "manual"
	}

	def, err := o.loader.Load(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("%w: workflow %s: %v", ErrNotFound, workflowID, err)
	}

	cfg := settings.ResolveExecutorConfig(def.ExecutionConfig, o.global)

	mode := execctx.ModeParallel
	ec := execctx.New(workflowID, mode, triggerData, executionSource, startedBy)

	runErr := tracing.TraceExecution(ctx, workflowID, ec.ExecutionID, func(ctx context.Context) error {
		if err := o.store.Insert(ctx, toRecord(ec, "RUNNING")); err != nil {
			return fmt.Errorf("orchestrator: insert execution record: %w", err)
		}

		g, warnings := graph.Build(def)
		for _, w := range warnings {
			o.logger.Warn("graph build warning", "workflow_id", workflowID, "detail", w.String())
		}

		broadcaster := o.bus.ForExecution(ec.ExecutionID)
		ex := executor.New(g, ec, o.registry, cfg, o.logger, o.resolver, broadcaster, o.interactions, o.tracker)

		o.mu.Lock()
		o.active[ec.ExecutionID] = ec
		o.execs[ec.ExecutionID] = ex
		o.mu.Unlock()

		broadcaster.Publish("execution_started", map[string]any{"execution_id": ec.ExecutionID, "workflow_id": workflowID})

		status := o.runToTerminal(ctx, ex, ec)

		if status != execctx.StatusPaused {
			o.mu.Lock()
			delete(o.active, ec.ExecutionID)
			delete(o.execs, ec.ExecutionID)
			o.mu.Unlock()
		}

		if err := o.store.Update(ctx, toRecord(ec, string(status))); err != nil {
			o.logger.Error("orchestrator: failed to persist terminal execution record", "execution_id", ec.ExecutionID, "error", err)
		}

		if len(ec.Errors) > 0 {
			return fmt.Errorf("orchestrator: execution %s completed with %d node error(s)", ec.ExecutionID, len(ec.Errors))
		}
		if status == execctx.StatusFailed {
			return fmt.Errorf("orchestrator: execution %s failed", ec.ExecutionID)
		}
		return nil
	})

	if runErr != nil && o.tracker != nil {
		tagged := telemetry.WithWorkflowContext(ctx, workflowID, ec.ExecutionID, "")
		o.tracker.CaptureError(tagged, runErr)
	}

	return ec.ExecutionID, runErr
}

// runToTerminal runs the executor once. For a workflow with no
// human-interaction suspension that is a terminal status; a suspended run
// returns StatusPaused to the caller immediately, and resolution happens
// out of band via ResumeExecution, which re-enters the executor itself.
func (o *Orchestrator) runToTerminal(ctx context.Context, ex *executor.Executor, ec *execctx.Context) execctx.Status {
	return ex.Run(ctx)
}

// ResumeExecution resolves a pending human-interaction node for a
// currently-paused execution and re-enters its scheduling loop.
func (o *Orchestrator) ResumeExecution(ctx context.Context, executionID, nodeID string, outputs map[string]any, nodeErr error) (execctx.Status, error) {
	o.mu.Lock()
	ex, ok := o.execs[executionID]
	ec := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}

	status := ex.ResumeInteraction(ctx, nodeID, outputs, nodeErr)

	if status != execctx.StatusPaused {
		o.mu.Lock()
		delete(o.active, executionID)
		delete(o.execs, executionID)
		o.mu.Unlock()
		if err := o.store.Update(ctx, toRecord(ec, string(status))); err != nil {
			o.logger.Error("orchestrator: failed to persist execution record after resume", "execution_id", executionID, "error", err)
		}
	}
	return status, nil
}

// CancelExecution implements spec.md §4.4's cancel_execution.
func (o *Orchestrator) CancelExecution(ctx context.Context, executionID string) (bool, error) {
	rec, err := o.store.Get(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	if rec.Status != "RUNNING" && rec.Status != "PAUSED" {
		return false, nil
	}

	o.mu.Lock()
	ex, ok := o.execs[executionID]
	o.mu.Unlock()
	if !ok {
		return false, nil
	}
	ex.Cancel()
	return true, nil
}

// GetExecutionStatus implements spec.md §4.4's get_execution_status.
func (o *Orchestrator) GetExecutionStatus(ctx context.Context, executionID string) (persistence.Record, bool) {
	rec, err := o.store.Get(ctx, executionID)
	if err != nil {
		return persistence.Record{}, false
	}
	return rec, true
}

// CountRunning satisfies internal/trigger.ActiveExecutionCounter by
// delegating to the execution store.
func (o *Orchestrator) CountRunning(ctx context.Context, workflowID string) (int, error) {
	return o.store.CountRunning(ctx, workflowID)
}

// ActiveExecutionIDs returns the ids of in-flight executions for workflowID,
// for callers (admin surfaces, tests) that need to act on a run before it
// reaches a terminal state and is only discoverable by its return value.
func (o *Orchestrator) ActiveExecutionIDs(workflowID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for id, ec := range o.active {
		if ec.WorkflowID == workflowID {
			ids = append(ids, id)
		}
	}
	return ids
}

func toRecord(ec *execctx.Context, status string) persistence.Record {
	rec := persistence.Record{
		ExecutionID:     ec.ExecutionID,
		WorkflowID:      ec.WorkflowID,
		Status:          status,
		ExecutionSource: ec.ExecutionSource,
		StartedBy:       ec.StartedBy,
		StartedAt:       ec.StartedAt,
		NodeResults:     persistence.MarshalJSONMap(ec.NodeResults),
		FinalOutputs:    persistence.MarshalJSONMap(ec.FinalOutputs),
		Errors:          persistence.MarshalJSONMap(ec.Errors),
		Metadata:        persistence.MarshalJSONMap(ec.Metadata),
	}
	if status != "RUNNING" && status != "PAUSED" {
		completed := ec.CompletedAt
		if completed.IsZero() {
			completed = time.Now()
		}
		rec.CompletedAt = &completed
	}
	return rec
}
