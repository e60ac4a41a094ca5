package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CEL wraps a compiled Common Expression Language expression as a policy.
// The evaluation context is bound to the `context` variable; the expression
// must produce a boolean, true meaning allow.
type CEL struct {
	name       string
	version    string
	expression string
	program    cel.Program
}

// NewCEL compiles the expression once at construction.
func NewCEL(name, version, expression string) (*CEL, error) {
	if name == "" {
		name = "cel"
	}
	if version == "" {
		version = "1.0.0"
	}
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile %s: %w", name, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel: program %s: %w", name, err)
	}
	return &CEL{name: name, version: version, expression: expression, program: program}, nil
}

func celFactory(name, version string, params map[string]interface{}) (Policy, error) {
	expression, _ := params["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("cel policy %s requires an expression parameter", name)
	}
	return NewCEL(name, version, expression)
}

func (p *CEL) Name() string    { return p.name }
func (p *CEL) Version() string { return p.version }

func (p *CEL) Evaluate(ctx context.Context, pc Context) (Decision, error) {
	out, _, err := p.program.ContextEval(ctx, map[string]interface{}{
		"context": map[string]interface{}(pc),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("cel: eval %s: %w", p.name, err)
	}
	allow, ok := out.Value().(bool)
	if !ok {
		return Decision{}, fmt.Errorf("cel: %s produced %T, want bool", p.name, out.Value())
	}

	proof := map[string]interface{}{"policy": p.name, "expression": p.expression}
	if allow {
		return Allowed("CEL expression evaluated to true").WithProof(proof), nil
	}
	return Denied("CEL expression evaluated to false").WithProof(proof), nil
}
