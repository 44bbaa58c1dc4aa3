// Package workflowdef holds the wire-format types a Workflow Definition is
// built from: node configurations and the connections between their ports.
// These types are pure data shapes consumed by internal/graph and
// internal/execctx; nothing in this package performs I/O.
package workflowdef

import "encoding/json"

// NodeCategory classifies a node for admission and graph-building purposes.
type NodeCategory string

const (
	CategoryTriggers      NodeCategory = "TRIGGERS"
	CategoryAI             NodeCategory = "AI"
	CategoryActions        NodeCategory = "ACTIONS"
	CategoryProcessing     NodeCategory = "PROCESSING"
	CategoryWorkflow       NodeCategory = "WORKFLOW"
	CategoryUI             NodeCategory = "UI"
	CategoryCommunication  NodeCategory = "COMMUNICATION"
	CategoryBusiness       NodeCategory = "BUSINESS"
	CategoryInput          NodeCategory = "INPUT"
	CategoryOutput         NodeCategory = "OUTPUT"
)

// CapabilityPort names never gate execution order; they carry data for
// capability-style consumption (an agent reading a tool or memory node).
const (
	PortTools  = "tools"
	PortMemory = "memory"
)

// IsCapabilityPort reports whether a target port name is a capability port.
func IsCapabilityPort(port string) bool {
	return port == PortTools || port == PortMemory
}

// ConfigValue is a single config entry for a node. A value is either a
// literal JSON value, a reference into the execution variable namespace, or
// a template string to be rendered against variables — resolution of the
// latter two is a node-local/executor concern (§4.3.1), this type only
// carries the shape.
type ConfigValue struct {
	Source       string          `json:"source,omitempty"` // "", "variable", "template"
	Literal      json.RawMessage `json:"literal,omitempty"`
	VariablePath string          `json:"variable_path,omitempty"`
	Template     string          `json:"template,omitempty"`
}

// NodeConfiguration describes one node in a Workflow Definition.
type NodeConfiguration struct {
	NodeID                string                 `json:"node_id"`
	NodeType               string                 `json:"node_type"`
	Name                   string                 `json:"name"`
	Category               NodeCategory           `json:"category"`
	Config                 map[string]ConfigValue `json:"config"`
	ShareOutputToVariables bool                   `json:"share_output_to_variables"`
	VariableName           string                 `json:"variable_name,omitempty"`
}

// Connection is a directed edge from a source node's output port to a
// target node's input port. Branch carries the decision-routing
// discriminant ("true"/"false") when the source is a decision node.
type Connection struct {
	SourceNodeID string `json:"source_node_id"`
	SourcePort   string `json:"source_port"`
	TargetNodeID string `json:"target_node_id"`
	TargetPort   string `json:"target_port"`
	Branch       string `json:"branch,omitempty"`
}

// ExecutionConfig carries per-workflow overrides of the runtime budget; any
// zero/empty field falls back to global settings then to a hard default
// (see internal/settings).
type ExecutionConfig struct {
	MaxConcurrentNodes     int     `json:"max_concurrent_nodes,omitempty"`
	AIConcurrentLimit      int     `json:"ai_concurrent_limit,omitempty"`
	DefaultTimeoutSeconds  int     `json:"default_timeout_seconds,omitempty"`
	WorkflowTimeoutSeconds int     `json:"workflow_timeout_seconds,omitempty"`
	StopOnError            *bool   `json:"stop_on_error,omitempty"`
	MaxRetries             int     `json:"max_retries,omitempty"`
	RetryDelayMillis       int     `json:"retry_delay_ms,omitempty"`
	BackoffMultiplier      float64 `json:"backoff_multiplier,omitempty"`
	MaxRetryDelayMillis    int     `json:"max_retry_delay_ms,omitempty"`
	MaxConcurrentRuns      int     `json:"max_concurrent_runs,omitempty"`
	MaxQueueDepth          int     `json:"max_queue_depth,omitempty"`
}

// Definition is a user-provided description of nodes and connections.
type Definition struct {
	WorkflowID      string               `json:"workflow_id"`
	Name            string               `json:"name"`
	Version         int                  `json:"version"`
	Nodes           []NodeConfiguration  `json:"nodes"`
	Connections     []Connection         `json:"connections"`
	ExecutionConfig *ExecutionConfig     `json:"execution_config,omitempty"`
}

// NodeByID returns the node with the given id, or false if absent.
func (d *Definition) NodeByID(id string) (NodeConfiguration, bool) {
	for _, n := range d.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeConfiguration{}, false
}

// TriggerNodeIDs returns the ids of all nodes categorized TRIGGERS.
func (d *Definition) TriggerNodeIDs() []string {
	var ids []string
	for _, n := range d.Nodes {
		if n.Category == CategoryTriggers {
			ids = append(ids, n.NodeID)
		}
	}
	return ids
}
