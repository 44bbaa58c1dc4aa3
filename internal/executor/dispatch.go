package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weaveflow/weaveflow/internal/execctx"
	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/tracing"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// dispatch starts a node's task goroutine. The goroutine owns only its own
// execution (including retries); it never mutates e.ctx directly beyond
// the thread-safe NodeOutputsFor/SetNodeOutputs pair used for input
// reassembly — every other mutation happens back on the scheduler
// goroutine via the completions channel (§5).
func (e *Executor) dispatch(ctx context.Context, nodeID string, classes []node.ResourceClass, completions chan<- nodeCompletion, activeCancels map[string]context.CancelFunc) {
	e.ctx.Progress.NodeStarted()
	e.broadcaster.Publish("node_started", map[string]any{"node_id": nodeID})

	taskCtx, cancel := context.WithCancel(ctx)
	activeCancels[nodeID] = cancel

	go func() {
		defer e.pool.Release(classes)
		defer func() {
			if r := recover(); r != nil {
				if e.tracker != nil {
					e.tracker.CaptureError(taskCtx, fmt.Errorf("node %s (%s) panicked: %v", nodeID, e.graph.Nodes[nodeID].NodeType, r))
				}
				completions <- nodeCompletion{nodeID: nodeID, result: execctx.NodeExecutionResult{
					NodeID:  nodeID,
					Success: false,
					Error:   fmt.Sprintf("panic: %v", r),
				}}
			}
		}()
		result, suspend := e.executeNode(taskCtx, nodeID)
		completions <- nodeCompletion{nodeID: nodeID, result: result, suspend: suspend}
	}()
}

// executeNode implements the node execution wrapper of §4.3 steps 1-9
// (progress.node_started is applied by the caller in dispatch, since that
// must happen before the task is even launched).
func (e *Executor) executeNode(ctx context.Context, nodeID string) (execctx.NodeExecutionResult, *execctx.InteractionDescriptor) {
	cfg := e.graph.Nodes[nodeID]
	startedAt := e.ctx.GetCurrentTime()

	timeout := e.config.DefaultTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	var retryCount int
	raw, err := e.retry.ExecuteWithResult(ctx, func(taskCtx context.Context, attempt int) (interface{}, error) {
		retryCount = attempt
		var attemptResult interface{}
		attemptErr := tracing.TraceRetryAttempt(taskCtx, nodeID, attempt, e.retry.MaxRetries(), func(taskCtx context.Context) error {
			n, instErr := e.registry.New(cfg.NodeType)
			if instErr != nil {
				return instErr
			}
			input := e.assembleInputs(taskCtx, nodeID, cfg)
			callCtx, cancel := context.WithTimeout(taskCtx, timeout)
			defer cancel()

			breaker := e.circuitBreakerFor(n.Describe())
			out, execErr := tracing.TraceNodeExecution(callCtx, nodeID, cfg.NodeType, func(innerCtx context.Context) (interface{}, error) {
				return breaker.ExecuteWithResult(innerCtx, func(innerCtx context.Context) (interface{}, error) {
					return n.Execute(innerCtx, input)
				})
			})
			if execErr != nil {
				return NewExecutionError(execErr, nodeID, cfg.NodeType, attempt)
			}
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return NewExecutionError(fmt.Errorf("timeout: %w", context.DeadlineExceeded), nodeID, cfg.NodeType, attempt)
			}
			attemptResult = out
			return nil
		})
		return attemptResult, attemptErr
	})

	completedAt := e.ctx.GetCurrentTime()
	duration := completedAt.Sub(startedAt).Milliseconds()

	if err != nil {
		result := execctx.NodeExecutionResult{
			NodeID:      nodeID,
			Success:     false,
			Error:       err.Error(),
			StartedAt:   startedAt,
			CompletedAt: completedAt,
			DurationMs:  duration,
			RetryCount:  retryCount,
		}
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			result.Metadata = map[string]any{"retryable": execErr.IsRetryable()}
		}
		return result, nil
	}

	out, _ := raw.(node.Output)
	if descriptor, suspending := out.IsSuspension(); suspending {
		id, _ := descriptor["interaction_id"].(string)
		return execctx.NodeExecutionResult{NodeID: nodeID}, &execctx.InteractionDescriptor{
			InteractionID: id,
			Extra:         descriptor,
		}
	}

	return execctx.NodeExecutionResult{
		NodeID:      nodeID,
		Success:     true,
		Outputs:     out,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  duration,
		RetryCount:  retryCount,
	}, nil
}

// assembleInputs implements §4.3.1: build a target_port -> value mapping
// from a target node's input connections, falling back to the source's
// single output port when the exact port name is absent, collecting
// multiple connections to the same port into a list, and attaching config,
// credentials, ids and a node-runner callback.
func (e *Executor) assembleInputs(ctx context.Context, nodeID string, cfg workflowdef.NodeConfiguration) node.Input {
	ports := make(map[string]any)
	deps := e.graph.Deps[nodeID]

	if deps != nil {
		multi := make(map[string][]any)
		for _, c := range deps.InputConnections {
			outputs, ok := e.ctx.NodeOutputsFor(c.SourceNodeID)
			if !ok {
				continue
			}
			val, present := outputs[c.SourcePort]
			if !present {
				val, present = firstValue(outputs)
				if !present {
					continue
				}
			}
			multi[c.TargetPort] = append(multi[c.TargetPort], val)
		}
		for port, vals := range multi {
			if len(vals) == 1 {
				ports[port] = vals[0]
			} else {
				ports[port] = vals
			}
		}
	}

	config := make(map[string]any, len(cfg.Config))
	for k, v := range cfg.Config {
		config[k] = resolveConfigValue(v, e.ctx.Variables.User)
	}

	var credentials map[string]string
	if e.resolver != nil {
		if ids := credentialIDs(config); len(ids) > 0 {
			_ = tracing.TraceCredentialInjection(ctx, e.ctx.WorkflowID, nodeID, len(ids), func(ctx context.Context) error {
				resolved, err := e.resolver.Resolve(ctx, ids)
				if err != nil {
					return err
				}
				credentials = resolved
				return nil
			})
		}
	}

	return node.Input{
		Ports:          ports,
		WorkflowID:     e.ctx.WorkflowID,
		ExecutionID:    e.ctx.ExecutionID,
		NodeID:         nodeID,
		Variables:      e.ctx.Variables.User,
		Config:         config,
		Credentials:    credentials,
		NodeRunner:     e,
		FrontendOrigin: e.ctx.FrontendOrigin,
	}
}

// RunNode implements node.Runner so an agent-like node can invoke a
// sibling node directly by id (§4.3.1), bypassing the scheduler's own
// dependency-driven dispatch: the sibling's own declared input
// connections are assembled exactly as they would be for a normal
// scheduler-driven dispatch, but it runs inline on the caller's
// goroutine rather than through the ready-set loop.
func (e *Executor) RunNode(ctx context.Context, nodeID string, in node.Input) (node.Output, error) {
	cfg, ok := e.graph.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("executor: unknown sibling node %q", nodeID)
	}
	n, err := e.registry.New(cfg.NodeType)
	if err != nil {
		return nil, err
	}
	assembled := e.assembleInputs(ctx, nodeID, cfg)
	for port, val := range in.Ports {
		assembled.Ports[port] = val
	}
	out, err := n.Execute(ctx, assembled)
	if err != nil {
		return nil, fmt.Errorf("executor: sibling node %q failed: %w", nodeID, err)
	}
	return out, nil
}

// circuitBreakerFor returns the breaker for a node's primary resource
// class (first in canonical order), or a shared "standard" breaker for
// resource-class-less nodes.
func (e *Executor) circuitBreakerFor(d node.Descriptor) *CircuitBreaker {
	key := string(node.ResourceStandard)
	for _, c := range node.CanonicalOrder {
		for _, declared := range d.ResourceClasses {
			if declared == c {
				key = string(c)
				break
			}
		}
	}
	return e.circuitBreakers.GetOrCreate(key)
}

func firstValue(m map[string]any) (any, bool) {
	for _, v := range m {
		return v, true
	}
	return nil, false
}

func resolveConfigValue(v workflowdef.ConfigValue, variables map[string]any) any {
	switch v.Source {
	case "variable":
		if val, ok := variables[v.VariablePath]; ok {
			return val
		}
		return nil
	case "template":
		return v.Template
	default:
		var out any
		if len(v.Literal) > 0 {
			_ = json.Unmarshal(v.Literal, &out)
		}
		return out
	}
}

// credentialIDs extracts the conventional "credential_ids" config key, if
// present, for resolution.
func credentialIDs(config map[string]any) []string {
	raw, ok := config["credential_ids"]
	if !ok {
		return nil
	}
	var ids []string
	switch v := raw.(type) {
	case []string:
		ids = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids
}
