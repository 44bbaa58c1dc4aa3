// Package jsrun is the reference Code node: a goja-sandboxed JavaScript
// execution environment a workflow author can drop into a graph for
// transform logic that doesn't warrant a dedicated node type. Adapted from
// the teacher's internal/executor/javascript package — the VM pool,
// sandbox, and timeout/interrupt plumbing are kept; the separate
// audit/trace/structured-logger wrapper types are collapsed into a single
// *slog.Logger, since this package's only caller is the node registry, not
// an HTTP-facing execution API with its own audit trail requirement.
package jsrun

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ExecutionContext is the data surfaced to the script as the `ctx` global.
type ExecutionContext struct {
	Trigger map[string]any `json:"trigger,omitempty"`
	Steps   map[string]any `json:"steps,omitempty"`
	Env     map[string]any `json:"env,omitempty"`
	Vars    map[string]any `json:"vars,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

func NewExecutionContext() *ExecutionContext { return &ExecutionContext{} }

func (c *ExecutionContext) WithInput(v map[string]any) *ExecutionContext { c.Input = v; return c }
func (c *ExecutionContext) WithVars(v map[string]any) *ExecutionContext  { c.Vars = v; return c }
func (c *ExecutionContext) WithEnv(v map[string]any) *ExecutionContext   { c.Env = v; return c }

func (c *ExecutionContext) toMap() map[string]any {
	return map[string]any{
		"trigger": orEmpty(c.Trigger),
		"steps":   orEmpty(c.Steps),
		"env":     orEmpty(c.Env),
		"vars":    orEmpty(c.Vars),
		"input":   orEmpty(c.Input),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// EngineConfig configures a shared Engine.
type EngineConfig struct {
	Limits               *Limits
	PoolSize             int
	Logger               *slog.Logger
	EnableConsoleCapture bool
}

func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Limits:               DefaultLimits(),
		PoolSize:             10,
		Logger:               slog.Default(),
		EnableConsoleCapture: true,
	}
}

// Engine runs scripts against pooled, sandboxed goja runtimes.
type Engine struct {
	pool           *vmPool
	logger         *slog.Logger
	limits         *Limits
	consoleCapture bool
}

func NewEngine(cfg *EngineConfig) *Engine {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if cfg.Limits == nil {
		cfg.Limits = DefaultLimits()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sandbox := NewSandbox(nil)
	return &Engine{
		pool:           newVMPool(cfg.PoolSize, sandbox, cfg.Limits),
		logger:         logger,
		limits:         cfg.Limits,
		consoleCapture: cfg.EnableConsoleCapture,
	}
}

// ExecuteConfig is one script run.
type ExecuteConfig struct {
	Script      string
	Context     *ExecutionContext
	Timeout     time.Duration
	ExecutionID string
	WorkflowID  string
	NodeID      string
}

// ExecuteResult is the outcome of a run.
type ExecuteResult struct {
	Result      any
	ConsoleLogs []ConsoleEntry
	Duration    time.Duration
}

// Execute runs a script to completion or until ctx / the configured timeout
// is exceeded, whichever comes first.
func (e *Engine) Execute(ctx context.Context, cfg *ExecuteConfig) (*ExecuteResult, error) {
	start := time.Now()

	if cfg.Script == "" {
		return nil, wrapPhase(PhaseValidation, ErrEmptyScript)
	}
	if err := validateScriptLength(cfg.Script, e.limits.MaxScriptLength); err != nil {
		return nil, wrapPhase(PhaseValidation, err)
	}
	if err := ValidateScript(cfg.Script); err != nil {
		return nil, wrapPhase(PhaseValidation, err)
	}

	timeout := e.limits.clampTimeout(cfg.Timeout)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm, err := e.pool.get(execCtx)
	if err != nil {
		return nil, wrapPhase(PhaseExecution, fmt.Errorf("acquire VM: %w", err))
	}
	defer e.pool.put(vm)

	var capture *ConsoleCapture
	if e.consoleCapture {
		capture = NewConsoleCapture()
		if err := capture.InstallInRuntime(vm); err != nil {
			return nil, wrapPhase(PhaseExecution, err)
		}
	}

	if cfg.Context != nil {
		if err := vm.Set("ctx", cfg.Context.toMap()); err != nil {
			return nil, wrapPhase(PhaseExecution, fmt.Errorf("inject context: %w", err))
		}
	}

	value, runErr := e.runScript(execCtx, vm, cfg.Script)

	result := &ExecuteResult{Duration: time.Since(start)}
	if capture != nil {
		result.ConsoleLogs = capture.Logs()
	}

	if runErr != nil {
		e.logger.Warn("jsrun: script execution failed", "execution_id", cfg.ExecutionID, "node_id", cfg.NodeID, "error", runErr)
		return nil, wrapPhase(PhaseExecution, runErr)
	}

	result.Result = value.Export()
	return result, nil
}

func (e *Engine) runScript(ctx context.Context, vm *goja.Runtime, script string) (goja.Value, error) {
	wrapped := "(function() {\n" + script + "\n})();"

	type outcome struct {
		val goja.Value
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("script panic: %v", r)}
			}
		}()
		val, err := vm.RunString(wrapped)
		done <- outcome{val: val, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		vm.Interrupt("execution timeout")
		<-done // RunString always returns once interrupted; drain to avoid leaking the goroutine.
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (e *Engine) Close() { e.pool.close() }

// vmPool hands out sandboxed, freshly-reset runtimes: a VM is never reused
// across scripts (a fresh one is built on Put), trading pool-fill cost for
// the certainty that one script's global mutations never leak into the
// next — the same tradeoff the teacher's VMPool makes.
type vmPool struct {
	ch      chan *goja.Runtime
	sandbox *Sandbox
	limits  *Limits
	mu      sync.Mutex
	closed  bool
}

func newVMPool(size int, sandbox *Sandbox, limits *Limits) *vmPool {
	if size <= 0 {
		size = 10
	}
	p := &vmPool{ch: make(chan *goja.Runtime, size), sandbox: sandbox, limits: limits}
	for i := 0; i < size; i++ {
		if vm := p.build(); vm != nil {
			p.ch <- vm
		}
	}
	return p
}

func (p *vmPool) build() *goja.Runtime {
	vm := goja.New()
	if p.sandbox != nil {
		if err := p.sandbox.ApplyToRuntime(vm); err != nil {
			return nil
		}
	}
	if p.limits != nil {
		vm.SetMaxCallStackSize(p.limits.MaxCallStackSize)
	}
	return vm
}

func (p *vmPool) get(ctx context.Context) (*goja.Runtime, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case vm := <-p.ch:
		return vm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		vm := p.build()
		if vm == nil {
			return nil, fmt.Errorf("jsrun: failed to build VM")
		}
		return vm, nil
	}
}

func (p *vmPool) put(_ *goja.Runtime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	fresh := p.build()
	if fresh == nil {
		return
	}
	select {
	case p.ch <- fresh:
	default:
	}
}

func (p *vmPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
