// Package admission decides whether a normalized measurement may enter the
// pipeline, using a CEL expression over its coordinates and distance.
package admission

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/zkhotdog/pkg/geometry"
)

// DefaultExpression admits every well-formed measurement whose squared
// distance can be written exactly into the circuit input (2^53-1).
const DefaultExpression = "distance_squared <= 9007199254740991u"

// Uint32Expression restricts squared distances to 32 bits, for circuits
// that declare a u32 public input. Opt-in only.
const Uint32Expression = "distance_squared <= 4294967295u"

// ErrRejected is returned when the expression evaluates to false.
var ErrRejected = errors.New("measurement rejected by admission policy")

const evalCostLimit = 10_000

type Policy struct {
	expr string
	prg  cel.Program
}

// NewPolicy compiles expr. Available variables: start and end as
// list(int) in [x, y, z] order, distance_squared as uint. The expression
// must be boolean.
func NewPolicy(expr string) (*Policy, error) {
	if expr == "" {
		expr = DefaultExpression
	}
	env, err := cel.NewEnv(
		cel.Variable("start", cel.ListType(cel.IntType)),
		cel.Variable("end", cel.ListType(cel.IntType)),
		cel.Variable("distance_squared", cel.UintType),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile admission policy: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("admission policy must be boolean, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast, cel.CostLimit(evalCostLimit))
	if err != nil {
		return nil, fmt.Errorf("build admission policy: %w", err)
	}
	return &Policy{expr: expr, prg: prg}, nil
}

func (p *Policy) String() string { return p.expr }

// Admit returns nil if the measurement passes, an error wrapping ErrRejected
// if it does not, and any other error if evaluation failed.
func (p *Policy) Admit(start, end geometry.FixedPoint3D, distanceSquared uint64) error {
	s, e := start.Array(), end.Array()
	out, _, err := p.prg.Eval(map[string]any{
		"start":            s[:],
		"end":              e[:],
		"distance_squared": distanceSquared,
	})
	if err != nil {
		return fmt.Errorf("evaluate admission policy: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fmt.Errorf("admission policy returned %T", out.Value())
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRejected, p.expr)
	}
	return nil
}
