package jsrun

import (
	"context"
	"fmt"

	"github.com/weaveflow/weaveflow/internal/node"
)

// NodeType is the node_type a workflow definition uses to reach this node.
const NodeType = "code_js"

// Node is the node.Node implementation the executor's registry instantiates
// for every code_js node in a graph. A single Engine (and its VM pool) is
// shared across every instance the registry creates, since node.Registry
// factories are called once per node execution (§4.3).
type Node struct {
	engine *Engine
}

// New wires engine into the registry as a node.Node factory:
//
//	registry.Register(jsrun.NodeType, func() node.Node { return jsrun.New(engine) })
func New(engine *Engine) *Node {
	return &Node{engine: engine}
}

func (n *Node) Describe() node.Descriptor {
	return node.Descriptor{
		Type:            NodeType,
		InputPorts:      []string{"input"},
		OutputPorts:     []string{"result"},
		ResourceClasses: []node.ResourceClass{node.ResourceStandard},
	}
}

// Execute runs in.Config["script"] against a sandboxed VM seeded with the
// node's ports, workflow variables, and execution metadata as the `ctx`
// global. If the script's return value is itself a map, its keys are
// spread into the output alongside "result", so a script can produce
// several named ports (`return {a: 1, b: 2}`) without the caller needing
// to destructure "result" downstream.
func (n *Node) Execute(ctx context.Context, in node.Input) (node.Output, error) {
	script, _ := in.Config["script"].(string)
	if script == "" {
		return nil, fmt.Errorf("jsrun: node %s has no script configured", in.NodeID)
	}

	execCtx := NewExecutionContext().
		WithInput(in.Ports).
		WithVars(in.Variables).
		WithEnv(map[string]any{
			"workflow_id":  in.WorkflowID,
			"execution_id": in.ExecutionID,
			"node_id":      in.NodeID,
		})

	result, err := n.engine.Execute(ctx, &ExecuteConfig{
		Script:      script,
		Context:     execCtx,
		ExecutionID: in.ExecutionID,
		WorkflowID:  in.WorkflowID,
		NodeID:      in.NodeID,
	})
	if err != nil {
		return nil, err
	}

	out := node.Output{"result": result.Result}
	if asMap, ok := result.Result.(map[string]any); ok {
		for k, v := range asMap {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	if len(result.ConsoleLogs) > 0 {
		logs := make([]map[string]any, 0, len(result.ConsoleLogs))
		for _, l := range result.ConsoleLogs {
			logs = append(logs, map[string]any{"level": l.Level, "message": l.Message})
		}
		out["console"] = logs
	}
	return out, nil
}
