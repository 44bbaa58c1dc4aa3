package executor

import (
	"context"

	"github.com/weaveflow/weaveflow/internal/execctx"
)

// runSequential implements §4.3.5's SEQUENTIAL mode: dispatch at most one
// node at a time, in Kahn's-algorithm order with the same dependents[N]
// insertion-order tiebreak as the parallel scheduler uses, ported from the
// teacher's executor.go topologicalSort loop. Branch pruning, the
// human-interaction suspension and pause/cancel are shared with the
// parallel path by reusing handleNodeCompletion/executeNode directly.
func (e *Executor) runSequential(ctx context.Context) execctx.Status {
	e.ctx.Progress.Pending = e.graph.NonCapabilityNodeCount()

	queue := make([]string, 0, len(e.graph.SourceNodes))
	for id := range e.graph.SourceNodes {
		queue = append(queue, id)
	}

	completions := make(chan nodeCompletion, 1)

	for len(queue) > 0 {
		if e.paused {
			<-e.resumeCh
		}
		if e.cancelRequested || ctx.Err() != nil {
			break
		}

		id := queue[0]
		queue = queue[1:]

		classes, err := e.resourceClassesFor(id)
		if err != nil {
			e.ctx.Progress.NodeStarted()
			e.handleNodeCompletion(nodeCompletion{nodeID: id, result: execctx.NodeExecutionResult{NodeID: id, Success: false, Error: err.Error()}})
			continue
		}
		e.pool.TryAcquire(classes) // limit=1 pools: always succeeds here since nothing else runs concurrently

		e.ctx.Progress.NodeStarted()
		result, suspend := e.executeNode(ctx, id)
		e.pool.Release(classes)

		completions <- nodeCompletion{nodeID: id, result: result, suspend: suspend}
		c := <-completions

		if c.suspend != nil {
			e.handleNodeCompletion(c)
			continue // sequential mode still suspends; dependents stay blocked
		}

		newlyReady := e.handleNodeCompletion(c)
		queue = append(queue, newlyReady...)

		if !c.result.Success && e.config.StopOnError {
			e.cancelRequested = true
		}
	}

	if e.cancelRequested || ctx.Err() != nil {
		e.markUnfinishedSkipped(queue)
		return e.finalize(execctx.StatusCancelled)
	}
	return e.finalize(execctx.StatusCompleted)
}
