// Package executor implements the Parallel Executor: a reactive scheduler
// that runs an Execution Graph to completion under a configured
// concurrency budget. It generalizes the teacher's sequential
// topologicalSort-then-loop executor (internal/executor/executor.go in the
// teacher tree) and its branch-coordinator semaphore pattern
// (internal/executor/parallel.go) into one cooperative ready-set loop that
// honors decision-node branch pruning, capability-only nodes, resource
// pools, retries, human-interaction suspension, and pause/cancel.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaveflow/weaveflow/internal/execctx"
	"github.com/weaveflow/weaveflow/internal/graph"
	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/telemetry"
)

// CredentialResolver resolves credential ids to plaintext values. Storage
// and encryption are out of core scope (spec.md §1); the executor only
// consumes this interface, grounded on the teacher's credential.Injector
// but trimmed to the single method the executor needs.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialIDs []string) (map[string]string, error)
}

// Broadcaster publishes execution_event notifications; nil is a valid
// no-op broadcaster. Grounded on the teacher's Broadcaster interface in
// internal/executor/executor.go.
type Broadcaster interface {
	Publish(event string, payload map[string]any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Publish(string, map[string]any) {}

// InteractionStore is where suspended nodes register themselves so an
// external API can resolve them later and call Resume back in.
type InteractionStore interface {
	Suspend(executionID, nodeID string, descriptor *execctx.InteractionDescriptor)
	Resolve(executionID, nodeID string) (outputs map[string]any, ok bool)
}

// Config is the per-run tunable budget, merged by the Orchestrator from
// defaults, global settings, and the workflow's own ExecutionConfig
// (§4.3, §4.4 config-merging rules).
type Config struct {
	MaxConcurrentNodes int
	AIConcurrentLimit  int
	DefaultTimeout     time.Duration
	WorkflowTimeout    time.Duration
	StopOnError        bool
	MaxRetries         int
	RetryDelay         time.Duration
	BackoffMultiplier  float64
	MaxRetryDelay      time.Duration
}

// Executor runs one Execution Graph against one Execution Context.
type Executor struct {
	graph       *graph.Graph
	ctx         *execctx.Context
	registry    *node.Registry
	config      Config
	logger      *slog.Logger
	pool        *ResourcePool
	retry       *RetryStrategy
	resolver    CredentialResolver
	broadcaster Broadcaster
	interactions InteractionStore

	paused         bool
	resumeCh       chan struct{}
	cancelRequested bool

	variableKeys map[string]string // node_id -> variable key for share-to-variables
	edgeBlocked  map[string]bool   // "src->tgt" -> blocked, populated by branch pruning
	skipped      map[string]bool  // node_id -> already accounted skipped

	descriptors map[string]node.Descriptor // node_id -> cached Describe() result

	// circuitBreakers guards admission per resource class: a resource
	// class whose nodes keep failing trips its breaker and fails fast
	// instead of keeping the queue full of doomed attempts, isolating a
	// flaky `llm` provider from starving `standard` admission. Adapted
	// from the teacher's internal/executor/circuit_breaker.go, which the
	// teacher applies per node type instead of per resource class.
	circuitBreakers *CircuitBreakerRegistry

	// tracker reports node panics to Sentry; nil is a valid no-op (see the
	// recover in dispatch.go's dispatch goroutine).
	tracker *telemetry.Tracker
}

// New constructs an Executor. resolver, broadcaster, and tracker may all be
// nil.
func New(g *graph.Graph, ec *execctx.Context, registry *node.Registry, cfg Config, logger *slog.Logger, resolver CredentialResolver, broadcaster Broadcaster, interactions InteractionStore, tracker *telemetry.Tracker) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	e := &Executor{
		graph:        g,
		ctx:          ec,
		registry:     registry,
		config:       cfg,
		logger:       logger,
		pool:         NewResourcePool(cfg.MaxConcurrentNodes, cfg.AIConcurrentLimit, cfg.AIConcurrentLimit),
		retry:        NewRetryStrategy(RetryConfig{MaxRetries: cfg.MaxRetries, InitialBackoff: cfg.RetryDelay, MaxBackoff: cfg.MaxRetryDelay, BackoffMultiplier: cfg.BackoffMultiplier, Jitter: true}, logger),
		resolver:     resolver,
		broadcaster:  broadcaster,
		interactions: interactions,
		resumeCh:     make(chan struct{}),
		variableKeys:    make(map[string]string),
		edgeBlocked:     make(map[string]bool),
		skipped:         make(map[string]bool),
		descriptors:     make(map[string]node.Descriptor),
		circuitBreakers: NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig(), logger),
		tracker:         tracker,
	}
	e.computeVariableKeys()
	return e
}

// computeVariableKeys implements §4.3's variable-name mapping: prefer
// variable_name if unique, else node_id, else node_id with a numeric
// suffix on collision.
func (e *Executor) computeVariableKeys() {
	used := make(map[string]struct{})
	for _, n := range e.graph.Nodes {
		if !n.ShareOutputToVariables {
			continue
		}
		key := n.VariableName
		if key == "" {
			key = n.NodeID
		}
		if _, taken := used[key]; taken {
			suffix := 2
			for {
				candidate := fmt.Sprintf("%s_%d", key, suffix)
				if _, stillTaken := used[candidate]; !stillTaken {
					key = candidate
					break
				}
				suffix++
			}
		}
		used[key] = struct{}{}
		e.variableKeys[n.NodeID] = key
	}
}

// nodeCompletion is the message a node's task goroutine sends back to the
// scheduler; the scheduler goroutine alone applies it to the Context (§5).
type nodeCompletion struct {
	nodeID  string
	result  execctx.NodeExecutionResult
	suspend *execctx.InteractionDescriptor
}

// Pause blocks new dispatches; in-flight nodes run to completion (§4.3.4).
func (e *Executor) Pause() {
	e.paused = true
	e.ctx.LogEvent("execution_paused", nil)
}

// Resume unblocks new dispatches.
func (e *Executor) Resume() {
	if !e.paused {
		return
	}
	e.paused = false
	close(e.resumeCh)
	e.resumeCh = make(chan struct{})
	e.ctx.LogEvent("execution_resumed", nil)
}

// Cancel requests cooperative cancellation.
func (e *Executor) Cancel() {
	e.cancelRequested = true
}

// Run executes the graph to completion in the mode the Context was built
// with, returning the terminal status.
func (e *Executor) Run(ctx context.Context) execctx.Status {
	if e.config.WorkflowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.WorkflowTimeout)
		defer cancel()
	}
	if e.ctx.Mode == execctx.ModeSequential || e.ctx.Mode == execctx.ModeDryRun {
		return e.runSequential(ctx)
	}
	return e.runParallel(ctx)
}

// runParallel implements §4.3's scheduling loop.
func (e *Executor) runParallel(ctx context.Context) execctx.Status {
	e.ctx.Progress.Pending = e.graph.NonCapabilityNodeCount()

	ready := make([]string, 0, len(e.graph.SourceNodes))
	for id := range e.graph.SourceNodes {
		ready = append(ready, id)
	}

	return e.runLoop(ctx, ready)
}

// ResumeInteraction implements the external-API side of §4.3.4's
// human-interaction mechanism: an API handler resolves a pending
// interaction with terminal outputs, and the executor re-enters its
// scheduling loop from that node's dependents. Returns the run's new
// terminal status (it may suspend again immediately on another
// interaction node).
func (e *Executor) ResumeInteraction(ctx context.Context, nodeID string, outputs map[string]any, err error) execctx.Status {
	descriptor, pending := e.ctx.PendingInteractions[nodeID]
	if !pending {
		return execctx.StatusRunning
	}
	delete(e.ctx.PendingInteractions, nodeID)

	result := execctx.NodeExecutionResult{NodeID: nodeID, Success: err == nil, Outputs: outputs}
	if err != nil {
		result.Error = err.Error()
	}
	if descriptor.Cancelled {
		result.Success = false
		result.Error = "cancelled"
	}

	e.ctx.Progress.NodeStarted() // undo the accounting gap left while suspended
	ready := e.handleNodeCompletion(nodeCompletion{nodeID: nodeID, result: result})
	return e.runLoop(ctx, ready)
}

// CancelInteraction marks a pending interaction cancelled (§9 Open
// Question: cancellation of a suspended node also rejects its interaction).
func (e *Executor) CancelInteraction(nodeID string) {
	if d, ok := e.ctx.PendingInteractions[nodeID]; ok {
		d.Cancelled = true
	}
}

// runLoop is the cooperative scheduling loop shared by a fresh run
// (runParallel) and a resume after human interaction (ResumeInteraction).
func (e *Executor) runLoop(ctx context.Context, ready []string) execctx.Status {
	activeCancels := make(map[string]context.CancelFunc)
	// Buffered to the node count so that a burst of same-iteration
	// immediate failures (e.g. unknown node types) can never block the
	// dispatch loop waiting on a receiver that hasn't reached the select yet.
	completions := make(chan nodeCompletion, len(e.graph.Nodes)+1)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	for len(ready) > 0 || len(activeCancels) > 0 {
		if e.paused {
			<-e.resumeCh
		}
		if e.cancelRequested || ctx.Err() != nil {
			break
		}

		stillReady := ready[:0]
		for _, id := range ready {
			decl, err := e.resourceClassesFor(id)
			if err != nil {
				// Unknown node type: fail it immediately rather than stall
				// the whole run waiting on resources it can never acquire.
				completions <- nodeCompletion{nodeID: id, result: execctx.NodeExecutionResult{
					NodeID: id, Success: false, Error: err.Error(),
				}}
				continue
			}
			if e.pool.TryAcquire(decl) {
				e.dispatch(runCtx, id, decl, completions, activeCancels)
			} else {
				stillReady = append(stillReady, id)
			}
		}
		ready = stillReady

		if len(activeCancels) == 0 {
			break
		}

		select {
		case c := <-completions:
			delete(activeCancels, c.nodeID)
			newlyReady := e.handleNodeCompletion(c)
			ready = append(ready, newlyReady...)
		case <-ctx.Done():
			e.cancelRequested = true
		}
	}

	if e.cancelRequested || ctx.Err() != nil {
		runCancel()
		e.drainCancelled(activeCancels, completions)
		e.markUnfinishedSkipped(ready)
		for nodeID := range e.ctx.PendingInteractions {
			e.CancelInteraction(nodeID)
		}
		if e.config.StopOnError && len(e.ctx.Errors) > 0 {
			return e.finalize(execctx.StatusFailed)
		}
		return e.finalize(execctx.StatusCancelled)
	}

	if len(e.ctx.PendingInteractions) > 0 {
		// Nothing left to dispatch, but at least one node is suspended for
		// human input: the run is not terminal yet. No scheduler goroutine
		// stays blocked waiting — ResumeInteraction re-enters runLoop later.
		e.ctx.LogEvent("execution_suspended", nil)
		return execctx.StatusPaused
	}

	return e.finalize(execctx.StatusCompleted)
}

func (e *Executor) drainCancelled(activeCancels map[string]context.CancelFunc, completions chan nodeCompletion) {
	for id, cancel := range activeCancels {
		cancel()
		<-completions
		delete(activeCancels, id)
	}
}

func (e *Executor) markUnfinishedSkipped(ready []string) {
	for _, id := range ready {
		if e.skipped[id] {
			continue
		}
		e.skipped[id] = true
		e.ctx.Progress.NodesSkipped(1)
		e.ctx.SetNodeResult(execctx.NodeExecutionResult{NodeID: id, Skipped: true})
	}
}

func (e *Executor) finalize(status execctx.Status) execctx.Status {
	e.ctx.CompletedAt = e.ctx.GetCurrentTime()
	e.ctx.FinalOutputs = make(map[string]any)
	for id := range e.graph.SinkNodes {
		if outputs, ok := e.ctx.NodeOutputsFor(id); ok {
			e.ctx.FinalOutputs[id] = outputs
		}
	}
	if status == execctx.StatusCompleted && len(e.ctx.Errors) > 0 {
		e.ctx.Metadata["terminal_detail"] = "completed_with_errors"
	}
	e.broadcaster.Publish("execution_completed", map[string]any{
		"execution_id": e.ctx.ExecutionID,
		"status":       string(status),
	})
	return status
}

// resourceClassesFor returns (and caches) the resource classes a node
// declares, instantiating it once via the registry to read its Descriptor.
func (e *Executor) resourceClassesFor(nodeID string) ([]node.ResourceClass, error) {
	if d, ok := e.descriptors[nodeID]; ok {
		return d.ResourceClasses, nil
	}
	cfg := e.graph.Nodes[nodeID]
	n, err := e.registry.New(cfg.NodeType)
	if err != nil {
		return nil, err
	}
	d := n.Describe()
	e.descriptors[nodeID] = d
	return d.ResourceClasses, nil
}
