// Package decision implements the reference Decision node (§4.3.2): a
// node whose output, once produced, the executor's branch-pruning pass
// recognizes as a node.DecisionResult. It evaluates a boolean expr-lang
// condition against the node's assembled ports/variables/config, adapted
// from the teacher's internal/executor/expression.Evaluator.EvaluateCondition
// (same expr.Compile(..., expr.Env(ctx), expr.AsBool()) + expr.Run shape)
// trimmed down to the one operation a Decision node actually needs —
// the template-variable extraction and path-resolution helpers the
// teacher built alongside it (ExtractPaths, GetValueByPath,
// ResolveTemplateVariables, EvaluateBooleanExpression) have no caller in
// a graph where expr-lang itself does variable resolution, so they are
// not carried over.
package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/weaveflow/weaveflow/internal/node"
)

// NodeType is the node_type a workflow definition uses to reference this
// node.
const NodeType = "decision"

// ConditionKey is the config field holding the boolean expression to
// evaluate, optionally wrapped in {{...}} template syntax.
const ConditionKey = "condition"

// TrueOutput and FalseOutput are the two output ports branch pruning
// chooses between.
const (
	TrueOutput  = "true"
	FalseOutput = "false"
)

// Decision routes execution down one of two output branches based on a
// boolean expression evaluated against the node's inputs.
type Decision struct{}

// New constructs a Decision node.
func New() *Decision { return &Decision{} }

func (d *Decision) Describe() node.Descriptor {
	return node.Descriptor{
		Type:            NodeType,
		InputPorts:      []string{ConditionKey},
		OutputPorts:     []string{TrueOutput, FalseOutput},
		ResourceClasses: []node.ResourceClass{node.ResourceStandard},
	}
}

func (d *Decision) Execute(_ context.Context, in node.Input) (node.Output, error) {
	raw, _ := in.Config[ConditionKey].(string)
	if raw == "" {
		raw, _ = in.Ports[ConditionKey].(string)
	}
	if raw == "" {
		return nil, fmt.Errorf("decision: %s is required", ConditionKey)
	}

	expr := unwrapTemplate(raw)

	env := map[string]any{
		"ports":     in.Ports,
		"variables": in.Variables,
		"config":    in.Config,
	}

	taken, err := evaluate(expr, env)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}

	if taken {
		return node.Output{
			"active_path":     TrueOutput,
			"blocked_outputs": []string{FalseOutput},
			"active_outputs":  []string{TrueOutput},
			"result":          true,
		}, nil
	}
	return node.Output{
		"active_path":     FalseOutput,
		"blocked_outputs": []string{TrueOutput},
		"active_outputs":  []string{FalseOutput},
		"result":          false,
	}, nil
}

func evaluate(expression string, env map[string]any) (bool, error) {
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to bool, got %T", result)
	}
	return b, nil
}

// unwrapTemplate strips an outer {{ ... }} wrapper if present, matching
// the teacher's template-expression convention.
func unwrapTemplate(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		return strings.TrimSpace(s[2 : len(s)-2])
	}
	return s
}
