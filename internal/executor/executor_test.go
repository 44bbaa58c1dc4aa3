package executor_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/internal/execctx"
	"github.com/weaveflow/weaveflow/internal/executor"
	"github.com/weaveflow/weaveflow/internal/graph"
	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// funcNode adapts a plain function into a node.Node for tests.
type funcNode struct {
	desc node.Descriptor
	fn   func(ctx context.Context, in node.Input) (node.Output, error)
}

func (f *funcNode) Describe() node.Descriptor { return f.desc }
func (f *funcNode) Execute(ctx context.Context, in node.Input) (node.Output, error) {
	return f.fn(ctx, in)
}

func registryWith(types map[string]func() node.Node) *node.Registry {
	r := node.NewRegistry()
	for t, factory := range types {
		r.Register(t, factory)
	}
	return r
}

func defaultConfig() executor.Config {
	return executor.Config{
		MaxConcurrentNodes: 5,
		AIConcurrentLimit:  5,
		DefaultTimeout:      5 * time.Second,
		StopOnError:         true,
		MaxRetries:          3,
		RetryDelay:          5 * time.Millisecond,
		BackoffMultiplier:   2.0,
		MaxRetryDelay:       50 * time.Millisecond,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Scenario 1: Linear A -> B -> C.
func TestExecutor_LinearChain(t *testing.T) {
	def := &workflowdef.Definition{
		Nodes: []workflowdef.NodeConfiguration{
			{NodeID: "A", NodeType: "emit42", Category: workflowdef.CategoryActions},
			{NodeID: "B", NodeType: "double", Category: workflowdef.CategoryActions},
			{NodeID: "C", NodeType: "incr", Category: workflowdef.CategoryActions},
		},
		Connections: []workflowdef.Connection{
			{SourceNodeID: "A", SourcePort: "out", TargetNodeID: "B", TargetPort: "x"},
			{SourceNodeID: "B", SourcePort: "out", TargetNodeID: "C", TargetPort: "x"},
		},
	}
	g, warnings := graph.Build(def)
	require.Empty(t, warnings)

	reg := registryWith(map[string]func() node.Node{
		"emit42": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				return node.Output{"out": 42.0}, nil
			}}
		},
		"double": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				x := in.Ports["x"].(float64)
				return node.Output{"out": x * 2}, nil
			}}
		},
		"incr": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				x := in.Ports["x"].(float64)
				return node.Output{"out": x + 1}, nil
			}}
		},
	})

	ec := execctx.New("wf-1", execctx.ModeParallel, nil, "manual", "")
	ex := executor.New(g, ec, reg, defaultConfig(), testLogger(), nil, nil, nil, nil)
	status := ex.Run(context.Background())

	assert.Equal(t, execctx.StatusCompleted, status)
	outA, _ := ec.NodeOutputsFor("A")
	outB, _ := ec.NodeOutputsFor("B")
	outC, _ := ec.NodeOutputsFor("C")
	assert.Equal(t, 42.0, outA["out"])
	assert.Equal(t, 84.0, outB["out"])
	assert.Equal(t, 85.0, outC["out"])
	assert.Equal(t, 3, ec.Progress.Completed)
	assert.Equal(t, 0, ec.Progress.Failed)
	assert.Equal(t, 0, ec.Progress.Skipped)
}

// Scenario 2: Decision branch pruning.
func TestExecutor_DecisionBranchPruning(t *testing.T) {
	def := &workflowdef.Definition{
		Nodes: []workflowdef.NodeConfiguration{
			{NodeID: "D", NodeType: "decide", Category: workflowdef.CategoryWorkflow},
			{NodeID: "X", NodeType: "noop", Category: workflowdef.CategoryActions},
			{NodeID: "Y", NodeType: "noop", Category: workflowdef.CategoryActions},
			{NodeID: "Z", NodeType: "noop", Category: workflowdef.CategoryActions},
		},
		Connections: []workflowdef.Connection{
			{SourceNodeID: "D", SourcePort: "false", TargetNodeID: "X", TargetPort: "in", Branch: "false"},
			{SourceNodeID: "D", SourcePort: "true", TargetNodeID: "Y", TargetPort: "in", Branch: "true"},
			{SourceNodeID: "Y", SourcePort: "out", TargetNodeID: "Z", TargetPort: "in"},
		},
	}
	g, _ := graph.Build(def)

	reg := registryWith(map[string]func() node.Node{
		"decide": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				return node.Output{"active_path": "true", "blocked_outputs": []string{"false"}}, nil
			}}
		},
		"noop": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				return node.Output{"out": true}, nil
			}}
		},
	})

	ec := execctx.New("wf-2", execctx.ModeParallel, nil, "manual", "")
	ex := executor.New(g, ec, reg, defaultConfig(), testLogger(), nil, nil, nil, nil)
	status := ex.Run(context.Background())

	require.Equal(t, execctx.StatusCompleted, status)
	assert.True(t, ec.NodeResults["X"].Skipped)
	assert.True(t, ec.NodeResults["Y"].Success)
	assert.True(t, ec.NodeResults["Z"].Success)
	assert.GreaterOrEqual(t, ec.Progress.Skipped, 1)
}

// Scenario 3: tools-only provider node.
func TestExecutor_ToolsOnlyNodeNeverScheduled(t *testing.T) {
	var aRan atomic.Bool
	def := &workflowdef.Definition{
		Nodes: []workflowdef.NodeConfiguration{
			{NodeID: "A", NodeType: "tool", Category: workflowdef.CategoryActions},
			{NodeID: "B", NodeType: "agent", Category: workflowdef.CategoryAI},
		},
		Connections: []workflowdef.Connection{
			{SourceNodeID: "A", SourcePort: "out", TargetNodeID: "B", TargetPort: workflowdef.PortTools},
		},
	}
	g, _ := graph.Build(def)

	reg := registryWith(map[string]func() node.Node{
		"tool": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				aRan.Store(true)
				return node.Output{"out": "tool-config"}, nil
			}}
		},
		"agent": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				return node.Output{"out": "agent-result"}, nil
			}}
		},
	})

	ec := execctx.New("wf-3", execctx.ModeParallel, nil, "manual", "")
	ex := executor.New(g, ec, reg, defaultConfig(), testLogger(), nil, nil, nil, nil)
	status := ex.Run(context.Background())

	require.Equal(t, execctx.StatusCompleted, status)
	assert.False(t, aRan.Load(), "tools-only provider must never be scheduled by the executor")
	assert.True(t, ec.NodeResults["B"].Success)
}

// Scenario 5: retry with backoff, succeeds on third attempt.
func TestExecutor_RetryWithBackoff(t *testing.T) {
	var attempts atomic.Int32
	def := &workflowdef.Definition{
		Nodes: []workflowdef.NodeConfiguration{{NodeID: "N", NodeType: "flaky", Category: workflowdef.CategoryActions}},
	}
	g, _ := graph.Build(def)

	reg := registryWith(map[string]func() node.Node{
		"flaky": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				n := attempts.Add(1)
				if n < 3 {
					return nil, fmt.Errorf("transient failure %d", n)
				}
				return node.Output{"out": "ok"}, nil
			}}
		},
	})

	ec := execctx.New("wf-5", execctx.ModeParallel, nil, "manual", "")
	cfg := defaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.BackoffMultiplier = 2.0
	cfg.MaxRetries = 3
	ex := executor.New(g, ec, reg, cfg, testLogger(), nil, nil, nil, nil)

	start := time.Now()
	status := ex.Run(context.Background())
	elapsed := time.Since(start)

	require.Equal(t, execctx.StatusCompleted, status)
	assert.True(t, ec.NodeResults["N"].Success)
	assert.Equal(t, 2, ec.NodeResults["N"].RetryCount)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

// Scenario 6: human interaction suspension then external resolution.
func TestExecutor_HumanInteractionSuspension(t *testing.T) {
	def := &workflowdef.Definition{
		Nodes: []workflowdef.NodeConfiguration{
			{NodeID: "N", NodeType: "ask", Category: workflowdef.CategoryWorkflow},
			{NodeID: "After", NodeType: "noop", Category: workflowdef.CategoryActions},
		},
		Connections: []workflowdef.Connection{
			{SourceNodeID: "N", SourcePort: "out", TargetNodeID: "After", TargetPort: "in"},
		},
	}
	g, _ := graph.Build(def)

	reg := registryWith(map[string]func() node.Node{
		"ask": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				return node.Output{node.AwaitKey: node.AwaitHumanInteraction, "interaction_id": "I1"}, nil
			}}
		},
		"noop": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				return node.Output{"out": true}, nil
			}}
		},
	})

	ec := execctx.New("wf-6", execctx.ModeParallel, nil, "manual", "")
	ex := executor.New(g, ec, reg, defaultConfig(), testLogger(), nil, nil, nil, nil)

	status := ex.Run(context.Background())
	require.Equal(t, execctx.StatusPaused, status)
	assert.NotContains(t, ec.NodeResults, "After")
	require.Contains(t, ec.PendingInteractions, "N")

	status = ex.ResumeInteraction(context.Background(), "N", map[string]any{"result": "ok"}, nil)
	require.Equal(t, execctx.StatusCompleted, status)
	assert.True(t, ec.NodeResults["N"].Success)
	assert.Equal(t, "ok", ec.NodeResults["N"].Outputs["result"])
	assert.True(t, ec.NodeResults["After"].Success)
	assert.Equal(t, ec.Progress.Total(), len(def.Nodes))
}

// A node that panics must fail that node rather than take down the whole
// run: the dispatch goroutine recovers it and reports a failed result.
func TestExecutor_NodePanicRecovered(t *testing.T) {
	def := &workflowdef.Definition{
		Nodes: []workflowdef.NodeConfiguration{{NodeID: "N", NodeType: "exploder", Category: workflowdef.CategoryActions}},
	}
	g, _ := graph.Build(def)

	reg := registryWith(map[string]func() node.Node{
		"exploder": func() node.Node {
			return &funcNode{fn: func(ctx context.Context, in node.Input) (node.Output, error) {
				panic("boom")
			}}
		},
	})

	ec := execctx.New("wf-7", execctx.ModeParallel, nil, "manual", "")
	cfg := defaultConfig()
	cfg.MaxRetries = 0
	ex := executor.New(g, ec, reg, cfg, testLogger(), nil, nil, nil, nil)

	status := ex.Run(context.Background())

	require.Equal(t, execctx.StatusFailed, status)
	require.False(t, ec.NodeResults["N"].Success)
	assert.Contains(t, ec.NodeResults["N"].Error, "panic")
}
