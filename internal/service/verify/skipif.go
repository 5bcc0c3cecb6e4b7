package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Guard limits mirroring the evaluator the teacher uses for its own policy
// expressions: a skip_if guard is attacker-adjacent in the same way a
// policy rule is (it comes from a CLI flag or config file, not a trusted
// compile-time constant), so it gets the same cost/time ceiling.
const (
	maxSkipIfLength     = 1024
	maxSkipIfCostBudget = 100_000
	skipIfEvalTimeout   = 5 * time.Second
	interruptCheckFreq  = 100
)

// SkipIfEnv compiles and evaluates skip_if expressions. An expression sees
// method (string), tool_name (string), and params (map[string, dyn]) for
// the interaction under consideration.
type SkipIfEnv struct {
	env *cel.Env
}

// NewSkipIfEnv builds the CEL environment shared by every skip_if
// expression evaluated during a verify run.
func NewSkipIfEnv() (*SkipIfEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("verify: building skip_if environment: %w", err)
	}
	return &SkipIfEnv{env: env}, nil
}

// Compile parses and type-checks expr, rejecting expressions longer than
// maxSkipIfLength and building a program with a runtime cost limit.
func (e *SkipIfEnv) Compile(expr string) (cel.Program, error) {
	if len(expr) > maxSkipIfLength {
		return nil, fmt.Errorf("verify: skip_if expression too long: %d characters (max %d)", len(expr), maxSkipIfLength)
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("verify: skip_if compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxSkipIfCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("verify: skip_if program creation failed: %w", err)
	}
	return prg, nil
}

// Eval runs prg against one interaction's method/tool_name/params.
func Eval(prg cel.Program, method, toolName string, params map[string]any) (bool, error) {
	if params == nil {
		params = map[string]any{}
	}
	activation := map[string]any{
		"method":    method,
		"tool_name": toolName,
		"params":    params,
	}
	ctx, cancel := context.WithTimeout(context.Background(), skipIfEvalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("verify: skip_if evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("verify: skip_if expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}
