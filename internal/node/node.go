// Package node defines the contract the Parallel Executor and Trigger
// Manager consume — the node registry, resource classes, and the optional
// Trigger/Interaction capabilities — generalizing the teacher's
// switch-on-node-type dispatch in internal/executor/executor.go into an
// explicit interface plus a process-local registry (per spec.md §9's
// "replace mixins with composition" design note).
package node

import (
	"context"
	"fmt"
	"sync"
)

// ResourceClass is one of the three admission pools the executor's resource
// semaphores gate on.
type ResourceClass string

const (
	ResourceStandard ResourceClass = "standard"
	ResourceLLM      ResourceClass = "llm"
	ResourceAI       ResourceClass = "ai"
)

// CanonicalOrder fixes the lock order resource classes must be acquired in
// to avoid deadlock when a node declares more than one (§4.3).
var CanonicalOrder = []ResourceClass{ResourceStandard, ResourceLLM, ResourceAI}

// PortValue is a tagged union over the value kinds a port can carry,
// modeling the dynamic/duck-typed ports of the original system as an
// explicit Go type (spec.md §9 design note). Exactly one of the typed
// fields is meaningful, selected by Kind.
type PortValue struct {
	Kind  PortKind
	Text  string
	Num   float64
	Bool  bool
	Media string // opaque reference (URL, blob id, ...)
	Map   map[string]any
	Seq   []any
	Raw   any // opaque escape hatch for node-local types
}

type PortKind string

const (
	PortKindText    PortKind = "text"
	PortKindNumber  PortKind = "number"
	PortKindBool    PortKind = "bool"
	PortKindMedia   PortKind = "media"
	PortKindMapping PortKind = "mapping"
	PortKindSeq     PortKind = "sequence"
	PortKindOpaque  PortKind = "opaque"
)

// Runner lets an executing node invoke a sibling node directly — used by
// agent-like nodes that orchestrate tool calls themselves (§4.3.1).
type Runner interface {
	RunNode(ctx context.Context, nodeID string, input Input) (Output, error)
}

// Input is what the executor hands to Node.Execute, assembled per §4.3.1.
type Input struct {
	Ports          map[string]any
	WorkflowID     string
	ExecutionID    string
	NodeID         string
	Variables      map[string]any
	Config         map[string]any
	Credentials    map[string]string
	NodeRunner     Runner
	FrontendOrigin string
}

// Output is the raw outputs map a node returns; a reserved "_await" key
// with value "human_interaction" is the suspension sentinel (§6).
type Output map[string]any

const AwaitKey = "_await"
const AwaitHumanInteraction = "human_interaction"

// IsSuspension reports whether this output asks the executor to suspend
// the node for human interaction, and returns the descriptor fields if so.
func (o Output) IsSuspension() (map[string]any, bool) {
	if v, ok := o[AwaitKey]; ok {
		if s, ok := v.(string); ok && s == AwaitHumanInteraction {
			return o, true
		}
	}
	return nil, false
}

// Descriptor is the static metadata a node advertises.
type Descriptor struct {
	Type            string
	InputPorts      []string
	OutputPorts     []string
	ResourceClasses []ResourceClass
}

// Node is the contract every executable unit implements.
type Node interface {
	Describe() Descriptor
	Execute(ctx context.Context, in Input) (Output, error)
}

// TriggerCallback is invoked by a Trigger capability when it fires.
type TriggerCallback func(workflowID string, triggerData map[string]any, executionSource string)

// Trigger is the optional capability a TRIGGERS-category node implements so
// the Trigger Manager can start/stop monitoring for it.
type Trigger interface {
	StartMonitoring(ctx context.Context, workflowID string, cb TriggerCallback) error
	StopMonitoring(ctx context.Context) error
}

// DecisionResult is what a decision node's output carries to drive branch
// pruning (§4.3.2). A node is treated as a decision node by the executor
// iff its Output, once produced, parses into this shape.
type DecisionResult struct {
	ActivePath     string
	BlockedOutputs []string
	ActiveOutputs  []string
}

// AsDecisionResult extracts a DecisionResult from raw node output, if the
// conventional fields are present.
func AsDecisionResult(o Output) (DecisionResult, bool) {
	ap, hasAP := o["active_path"].(string)
	bo, hasBO := o["blocked_outputs"]
	if !hasAP && !hasBO {
		return DecisionResult{}, false
	}
	dr := DecisionResult{ActivePath: ap}
	if boList, ok := bo.([]string); ok {
		dr.BlockedOutputs = boList
	} else if boAny, ok := bo.([]any); ok {
		for _, v := range boAny {
			if s, ok := v.(string); ok {
				dr.BlockedOutputs = append(dr.BlockedOutputs, s)
			}
		}
	}
	if ao, ok := o["active_outputs"].([]string); ok {
		dr.ActiveOutputs = ao
	}
	return dr, hasAP || len(dr.BlockedOutputs) > 0
}

// Registry is a process-local, concurrency-safe map from node_type to a
// factory — discovery is explicit registration at process bootstrap, never
// filesystem scanning (spec.md §9).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Node
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Node)}
}

// Register adds a factory for node_type. Re-registering the same type
// panics at bootstrap time — this is a programmer error, not a runtime one.
func (r *Registry) Register(nodeType string, factory func() Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[nodeType]; exists {
		panic(fmt.Sprintf("node: type %q already registered", nodeType))
	}
	r.factories[nodeType] = factory
}

// New instantiates a node by type.
func (r *Registry) New(nodeType string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[nodeType]
	if !ok {
		return nil, fmt.Errorf("node: unknown type %q", nodeType)
	}
	return f(), nil
}

// Has reports whether a type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[nodeType]
	return ok
}
