// Package execctx implements the Execution Context: mutable per-run state
// shared between the Parallel Executor's scheduling loop and anything that
// inspects a run in flight. Every mutating method here is only ever called
// from the executor's own scheduling goroutine (see internal/executor) —
// apart from NodeOutputs (guarded by outputsMu), this package does not lock
// itself, by design (§5 "shared-resource policy"): the single-writer
// discipline lives in the caller.
package execctx

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionMode selects how the Parallel Executor schedules nodes.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "PARALLEL"
	ModeSequential ExecutionMode = "SEQUENTIAL"
	ModeDryRun     ExecutionMode = "DRY_RUN"
	ModeSimulation ExecutionMode = "SIMULATION"
)

// TimeMode selects whether GetCurrentTime reads the wall clock or a virtual
// clock advanced explicitly by the caller — carried from the original
// implementation's simulation support (see SPEC_FULL.md, Supplemented
// Features #1).
type TimeMode string

const (
	TimeModeReal    TimeMode = "REAL"
	TimeModeVirtual TimeMode = "VIRTUAL"
)

// Status is the terminal/non-terminal lifecycle state of an Execution
// record (§6 persistence contract).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
	StatusCancelled Status = "CANCELLED"
)

// NodeExecutionResult is the outcome recorded for exactly one node, exactly
// once per run (§3 invariants).
type NodeExecutionResult struct {
	NodeID      string
	Success     bool
	Outputs     map[string]any
	Error       string
	Skipped     bool
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
	RetryCount  int
	Metadata    map[string]any
}

// LogEntry is one line of the execution_log.
type LogEntry struct {
	Timestamp time.Time
	EventType string
	Data      map[string]any
}

// ErrorEntry is one line of the errors list.
type ErrorEntry struct {
	NodeID    string
	Error     string
	Timestamp time.Time
}

// Progress holds the five mutually-exclusive node counters plus the
// derived percentage (§4.2 rule).
type Progress struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Skipped   int
}

// Percentage implements the exact rule from §4.2: finished =
// completed+failed, in_scope = finished+running+pending (skipped excluded
// from the denominator per the spec's formula), rounded to 1 decimal, 0
// when in_scope is 0.
func (p Progress) Percentage() float64 {
	finished := p.Completed + p.Failed
	inScope := finished + p.Running + p.Pending
	if inScope == 0 {
		return 0
	}
	raw := float64(finished) / float64(inScope) * 100
	return math.Round(raw*10) / 10
}

func (p *Progress) NodeStarted() {
	p.Pending--
	p.Running++
}

func (p *Progress) NodeCompleted() {
	p.Running--
	p.Completed++
}

func (p *Progress) NodeFailed() {
	p.Running--
	p.Failed++
}

func (p *Progress) NodesSkipped(n int) {
	p.Pending -= n
	p.Skipped += n
}

// Total returns the sum of all five counters, which must stay constant
// across a run once the ready set is initialized (§8 universal invariant).
func (p Progress) Total() int {
	return p.Pending + p.Running + p.Completed + p.Failed + p.Skipped
}

// InteractionDescriptor is the sentinel payload a node returns to suspend
// for human input (§4.3 step 5, §6 Node contract).
type InteractionDescriptor struct {
	InteractionID string
	ExpiresAt     *time.Time
	Extra         map[string]any
	Cancelled     bool
}

// Variables is the execution's shared namespace. Nodes is the reserved
// sub-mapping (modeled as a typed field per DESIGN.md Open Question #2,
// rather than a magic "_nodes" map key) populated by share-to-variables
// (§4.3.3); User holds everything else a node or trigger sets directly.
type Variables struct {
	User  map[string]any
	Nodes map[string]map[string]any
}

func newVariables() Variables {
	return Variables{User: make(map[string]any), Nodes: make(map[string]map[string]any)}
}

// Context is the Execution Context: all mutable per-run state.
type Context struct {
	WorkflowID      string
	ExecutionID     string
	ExecutionSource string
	TriggerData     map[string]any
	StartedBy       string
	Mode            ExecutionMode
	FrontendOrigin  string

	NodeOutputs map[string]map[string]any
	NodeResults map[string]NodeExecutionResult

	ExecutionLog []LogEntry
	Variables    Variables

	PendingInteractions map[string]*InteractionDescriptor
	Errors              []ErrorEntry

	Progress Progress

	StartedAt    time.Time
	CompletedAt  time.Time
	FinalOutputs map[string]any
	Metadata     map[string]any

	TimeMode    TimeMode
	virtualTime time.Time

	// outputsMu guards NodeOutputs only. Every other field here is mutated
	// solely by the executor's scheduling goroutine (§5 single-writer
	// policy); NodeOutputs is the one exception, because retrying a node
	// reassembles its inputs from a fresh read (DESIGN.md Open Question
	// #1) and that reassembly runs on the node's own task goroutine, not
	// the scheduler's. A lock on this one map is a minimal, well-scoped
	// way to implement the §5 happens-before guarantee without serializing
	// the rest of the Context through it.
	outputsMu sync.RWMutex
}

// New allocates a fresh Context for one run.
func New(workflowID string, mode ExecutionMode, triggerData map[string]any, executionSource, startedBy string) *Context {
	c := &Context{
		WorkflowID:          workflowID,
		ExecutionID:         uuid.NewString(),
		ExecutionSource:     executionSource,
		TriggerData:         triggerData,
		StartedBy:           startedBy,
		Mode:                mode,
		NodeOutputs:         make(map[string]map[string]any),
		NodeResults:         make(map[string]NodeExecutionResult),
		Variables:           newVariables(),
		PendingInteractions: make(map[string]*InteractionDescriptor),
		Metadata:            make(map[string]any),
		TimeMode:            TimeModeReal,
		StartedAt:           time.Now(),
	}
	if triggerData != nil {
		c.Variables.User["trigger_data"] = triggerData
	}
	return c
}

// SetNodeOutputs replaces the recorded outputs of a node (§4.2 contract).
func (c *Context) SetNodeOutputs(nodeID string, outputs map[string]any) {
	c.outputsMu.Lock()
	defer c.outputsMu.Unlock()
	c.NodeOutputs[nodeID] = outputs
}

// NodeOutputsFor reads back the recorded outputs of a node, safe to call
// concurrently with SetNodeOutputs (used by input reassembly on retry).
func (c *Context) NodeOutputsFor(nodeID string) (map[string]any, bool) {
	c.outputsMu.RLock()
	defer c.outputsMu.RUnlock()
	v, ok := c.NodeOutputs[nodeID]
	return v, ok
}

// SetNodeResult stores a result, writes outputs on success, logs a
// node_executed event, and appends to Errors on failure.
func (c *Context) SetNodeResult(result NodeExecutionResult) {
	c.NodeResults[result.NodeID] = result
	if result.Success {
		c.SetNodeOutputs(result.NodeID, result.Outputs)
	} else if !result.Skipped {
		c.Errors = append(c.Errors, ErrorEntry{
			NodeID:    result.NodeID,
			Error:     result.Error,
			Timestamp: c.GetCurrentTime(),
		})
	}
	c.LogEvent("node_executed", map[string]any{
		"node_id": result.NodeID,
		"success": result.Success,
		"skipped": result.Skipped,
	})
}

// LogEvent appends a timestamped entry to the execution log.
func (c *Context) LogEvent(eventType string, data map[string]any) {
	c.ExecutionLog = append(c.ExecutionLog, LogEntry{
		Timestamp: c.GetCurrentTime(),
		EventType: eventType,
		Data:      data,
	})
}

// SetVariable sets a user-space variable.
func (c *Context) SetVariable(name string, value any) {
	c.Variables.User[name] = value
}

// GetVariable reads a user-space variable, returning def if absent.
func (c *Context) GetVariable(name string, def any) any {
	if v, ok := c.Variables.User[name]; ok {
		return v
	}
	return def
}

// GetCurrentTime returns the wall clock unless TimeMode is VIRTUAL, in
// which case it returns the clock last set by AdvanceVirtualTime.
func (c *Context) GetCurrentTime() time.Time {
	if c.TimeMode == TimeModeVirtual {
		return c.virtualTime
	}
	return time.Now()
}

// AdvanceVirtualTime moves the virtual clock forward by d and switches
// TimeMode to VIRTUAL if it wasn't already.
func (c *Context) AdvanceVirtualTime(d time.Duration) {
	if c.virtualTime.IsZero() {
		c.virtualTime = time.Now()
	}
	c.virtualTime = c.virtualTime.Add(d)
	c.TimeMode = TimeModeVirtual
}

// ShareToVariables implements §4.3.3's flattening rule: single-port outputs
// merge directly under key K (mapping values flatten their keys under K,
// scalars publish as K itself via the "_value" field); multi-port outputs
// preserve port structure under K.
func (c *Context) ShareToVariables(key string, outputs map[string]any) {
	if c.Variables.Nodes == nil {
		c.Variables.Nodes = make(map[string]map[string]any)
	}
	if len(outputs) == 1 {
		for _, v := range outputs {
			if m, ok := v.(map[string]any); ok {
				c.Variables.Nodes[key] = m
			} else {
				c.Variables.Nodes[key] = map[string]any{"_value": v}
			}
			return
		}
	}
	c.Variables.Nodes[key] = outputs
}

// String renders a terminal status line, useful for logging.
func (r NodeExecutionResult) String() string {
	if r.Skipped {
		return fmt.Sprintf("%s: skipped", r.NodeID)
	}
	if r.Success {
		return fmt.Sprintf("%s: success (%dms, retries=%d)", r.NodeID, r.DurationMs, r.RetryCount)
	}
	return fmt.Sprintf("%s: failed: %s", r.NodeID, r.Error)
}
