package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength bounds a custom guard expression so an admin cannot
// author a pathologically large program.
const maxExpressionLength = 1024

// maxCostBudget limits CEL evaluation cost per call.
const maxCostBudget = 100_000

// celEvalTimeout bounds a single custom guard evaluation.
const celEvalTimeout = 2 * time.Second

// CELGuard is an optional PolicySpec guard extension: a CEL expression
// evaluated against the call's agent/tool/action/params, in addition to the
// structural guards in Guards. It exists for operators who need a
// conditional rule the declarative guard fields cannot express directly,
// without falling back to code changes.
type CELGuard struct {
	env *cel.Env
}

// NewCELGuard builds the CEL environment used for custom guard expressions.
func NewCELGuard() (*CELGuard, error) {
	env, err := cel.NewEnv(
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("tool", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build cel env: %w", err)
	}
	return &CELGuard{env: env}, nil
}

// Compile parses and type-checks expr, returning a reusable program.
func (g *CELGuard) Compile(expr string) (cel.Program, error) {
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("policy: guard expression too long: %d chars", len(expr))
	}
	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile guard expression: %w", issues.Err())
	}
	prg, err := g.env.Program(ast, cel.EvalOptions(cel.OptOptimize), cel.CostLimit(maxCostBudget))
	if err != nil {
		return nil, fmt.Errorf("policy: build guard program: %w", err)
	}
	return prg, nil
}

// Evaluate runs prg against the call context. Evaluation errors and
// non-boolean results deny the call, matching Guards' fail-closed posture.
func (g *CELGuard) Evaluate(prg cel.Program, agentID, tool, action string, params map[string]any) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), celEvalTimeout)
	defer cancel()

	activation := map[string]any{
		"agent_id": agentID,
		"tool":     tool,
		"action":   action,
		"params":   params,
	}

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("policy: evaluate guard expression: %w", err)
	}
	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: guard expression must return bool, got %T", result.Value())
	}
	return allowed, nil
}
