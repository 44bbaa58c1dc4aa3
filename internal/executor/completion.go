package executor

import (
	"github.com/weaveflow/weaveflow/internal/execctx"
	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// handleNodeCompletion implements §4.3.2: it applies a completed node's
// result to the Context (the one place NodeOutputs/NodeResults/Progress
// are ever mutated besides GetCurrentTime reads), handles human-interaction
// suspension, decision-node branch pruning, and returns the set of
// dependents that just became ready to dispatch.
func (e *Executor) handleNodeCompletion(c nodeCompletion) []string {
	if c.suspend != nil {
		e.ctx.PendingInteractions[c.nodeID] = c.suspend
		e.ctx.LogEvent("node_suspended", map[string]any{"node_id": c.nodeID, "interaction_id": c.suspend.InteractionID})
		if e.interactions != nil {
			e.interactions.Suspend(e.ctx.ExecutionID, c.nodeID, c.suspend)
		}
		return nil
	}

	e.ctx.SetNodeResult(c.result)
	if c.result.Success {
		e.ctx.Progress.NodeCompleted()
		e.broadcaster.Publish("node_complete", map[string]any{"node_id": c.nodeID})
		if key, ok := e.variableKeys[c.nodeID]; ok {
			e.ctx.ShareToVariables(key, c.result.Outputs)
		}
	} else {
		e.ctx.Progress.NodeFailed()
		e.broadcaster.Publish("node_failed", map[string]any{"node_id": c.nodeID, "error": c.result.Error})
		if e.config.StopOnError {
			e.cancelRequested = true
		}
	}

	var ready []string
	if decision, isDecision := node.AsDecisionResult(outputsAsAny(c.result.Outputs)); isDecision && c.result.Success {
		ready = append(ready, e.applyBranchPruning(c.nodeID, decision)...)
	} else {
		ready = append(ready, e.decrementDependents(c.nodeID)...)
	}
	return ready
}

func outputsAsAny(m map[string]any) node.Output {
	return node.Output(m)
}

// applyBranchPruning implements §4.3.2 step 1-2 and the forward-sweep
// reachability rule: for each dependent, determine its branch discriminant
// (connection metadata, else source port name, else "true"); if blocked,
// do not decrement remaining_deps — instead attempt to prove the dependent
// unreachable and skip it and its transitively-only-reachable descendants.
// This mirrors the teacher's internal/executor/conditional.go
// findNodesToSkip BFS, but driven incrementally off one completion instead
// of a batch sweep over the whole graph (DESIGN.md Open Question #3).
func (e *Executor) applyBranchPruning(nodeID string, decision node.DecisionResult) []string {
	blocked := make(map[string]struct{}, len(decision.BlockedOutputs))
	for _, b := range decision.BlockedOutputs {
		blocked[b] = struct{}{}
	}

	var ready []string
	for _, dep := range e.graph.DependentsOf(nodeID) {
		branch := e.branchOf(nodeID, dep)
		_, isBlocked := blocked[branch]
		if isBlocked {
			e.edgeBlocked[nodeID+"->"+dep] = true
			e.skipUnreachable(dep)
		} else {
			ready = e.appendIfReady(ready, dep, true)
		}
	}
	return ready
}

// branchOf returns the connection discriminant from src to dep: explicit
// Branch metadata, else the source port name, else "true" (§4.3.2 step 1).
func (e *Executor) branchOf(src, dep string) string {
	conns := e.graph.ConnectionsBetween(src, dep)
	if len(conns) == 0 {
		return "true"
	}
	c := conns[0]
	if c.Branch != "" {
		return c.Branch
	}
	if c.SourcePort != "" {
		return c.SourcePort
	}
	return "true"
}

// appendIfReady decrements remaining_deps[dep] (if decrementing, i.e. the
// edge was not blocked) and returns ready with dep appended if it just hit
// zero. When decrement is false, remaining_deps is left untouched (the
// edge was blocked — this node might still be reachable via another edge).
func (e *Executor) appendIfReady(ready []string, dep string, decrement bool) []string {
	deps := e.graph.Deps[dep]
	if deps == nil || e.skipped[dep] {
		return ready
	}
	if !decrement {
		return ready
	}
	deps.RemainingDeps--
	if deps.RemainingDeps == 0 {
		return append(ready, dep)
	}
	return ready
}

// decrementDependents handles the non-decision completion path of
// §4.3.2 step 2's "else" branch.
func (e *Executor) decrementDependents(nodeID string) []string {
	var ready []string
	for _, dep := range e.graph.DependentsOf(nodeID) {
		ready = e.appendIfReady(ready, dep, true)
	}
	return ready
}

// skipUnreachable implements the conservative forward sweep: dep becomes
// skipped only if every incoming edge is blocked or from an already-skipped
// source; otherwise it is left for a future completion to decide
// (at-most-one-skip-per-node, §4.3.2).
func (e *Executor) skipUnreachable(dep string) {
	if e.skipped[dep] {
		return
	}
	deps := e.graph.Deps[dep]
	if deps == nil {
		return
	}
	for _, conn := range deps.InputConnections {
		if workflowdef.IsCapabilityPort(conn.TargetPort) {
			continue
		}
		if e.edgeBlocked[conn.SourceNodeID+"->"+dep] {
			continue
		}
		if e.skipped[conn.SourceNodeID] {
			continue
		}
		// At least one unblocked, non-skipped incoming edge remains —
		// dep is not yet provably unreachable.
		return
	}

	e.skipped[dep] = true
	e.ctx.Progress.NodesSkipped(1)
	e.ctx.SetNodeResult(execctx.NodeExecutionResult{NodeID: dep, Skipped: true})

	for _, grandDep := range e.graph.DependentsOf(dep) {
		e.edgeBlocked[dep+"->"+grandDep] = true
		e.skipUnreachable(grandDep)
	}
}
