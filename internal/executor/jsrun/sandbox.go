package jsrun

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// forbiddenGlobals removes host/runtime escape hatches, adapted from the
// teacher's executor/javascript/sandbox.go ForbiddenGlobals list.
var forbiddenGlobals = []string{
	"require", "module", "exports", "__dirname", "__filename",
	"process", "Buffer", "global", "globalThis",
	"window", "document", "location", "navigator", "fetch", "XMLHttpRequest", "WebSocket",
	"eval", "Function",
}

// dangerousPatterns are rejected at script-validation time, before a VM is
// even touched, so a sandbox-bypass attempt never reaches RunString.
var dangerousPatterns = []string{
	"new Function", "eval(", "constructor[", ".constructor(", "__proto__", "prototype.constructor",
}

// Sandbox strips a goja.Runtime of host-escape globals and installs a
// console implementation that a ConsoleCapture can later wrap.
type Sandbox struct {
	extraForbidden []string
}

func NewSandbox(extraForbidden []string) *Sandbox {
	return &Sandbox{extraForbidden: extraForbidden}
}

func (s *Sandbox) ApplyToRuntime(vm *goja.Runtime) error {
	for _, name := range forbiddenGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("jsrun: remove global %s: %w", name, err)
		}
	}
	for _, name := range s.extraForbidden {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("jsrun: remove global %s: %w", name, err)
		}
	}
	return nil
}

// ValidateScript rejects scripts containing a known sandbox-escape pattern.
// This is a coarse textual filter, not a parser — it catches the obvious
// attempts and nothing cleverly obfuscated.
func ValidateScript(script string) error {
	lower := strings.ToLower(script)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return fmt.Errorf("%w: contains %q", ErrForbiddenOperation, pattern)
		}
	}
	return nil
}

// ConsoleEntry is one captured console.* call.
type ConsoleEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ConsoleCapture installs a console object whose methods record their
// arguments instead of writing anywhere, so a script's console.log calls
// surface as structured node output rather than stdout noise.
type ConsoleCapture struct {
	logs []ConsoleEntry
}

func NewConsoleCapture() *ConsoleCapture {
	return &ConsoleCapture{}
}

func (c *ConsoleCapture) InstallInRuntime(vm *goja.Runtime) error {
	console := vm.NewObject()
	methods := map[string]string{"log": "info", "info": "info", "warn": "warn", "error": "error", "debug": "debug"}
	for method, level := range methods {
		level := level
		logger := func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprintf("%v", arg.Export())
			}
			c.logs = append(c.logs, ConsoleEntry{Level: level, Message: strings.Join(parts, " ")})
			return goja.Undefined()
		}
		if err := console.Set(method, logger); err != nil {
			return fmt.Errorf("jsrun: install console.%s: %w", method, err)
		}
	}
	return vm.Set("console", console)
}

func (c *ConsoleCapture) Logs() []ConsoleEntry { return c.logs }
