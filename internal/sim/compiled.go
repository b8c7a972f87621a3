package sim

import (
	"fmt"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
)

// Compiled evaluates a symbolic transition with inputs (t, y, controls...,
// fixed...) and outputs (ynew, quad) numerically. The trailing inputs are
// bound once to fixed values. Not safe for concurrent use.
type Compiled struct {
	prog       *expr.Program
	stateDim   int
	controlDim int
	fixed      []float64
	in         []float64
	out        []float64
}

// NewCompiled compiles F. controlDim scalar inputs follow the state; every
// remaining input is taken from fixed, in order.
func NewCompiled(F *expr.Function, controlDim int, fixed ...[]float64) (*Compiled, error) {
	inputs := F.Inputs()
	outputs := F.Outputs()
	if len(inputs) < 2 || len(inputs[0]) != 1 {
		return nil, fmt.Errorf("sim: %s must take time and state first", F.Name())
	}
	if len(outputs) != 2 || len(outputs[1]) != 1 {
		return nil, fmt.Errorf("sim: %s must return a state and a scalar quadrature", F.Name())
	}

	stateDim := len(inputs[1])
	flat := expr.Concat(inputs...)
	var fix []float64
	for _, f := range fixed {
		fix = append(fix, f...)
	}
	if want := len(flat) - 1 - stateDim - controlDim; len(fix) != want {
		return nil, fmt.Errorf("%w: %s needs %d fixed inputs, got %d", dynamo.ErrDimensionMismatch, F.Name(), want, len(fix))
	}

	prog, err := expr.Compile(flat, expr.Concat(outputs...)...)
	if err != nil {
		return nil, fmt.Errorf("sim: compile %s: %w", F.Name(), err)
	}

	return &Compiled{
		prog:       prog,
		stateDim:   stateDim,
		controlDim: controlDim,
		fixed:      fix,
		in:         make([]float64, len(flat)),
		out:        make([]float64, stateDim+1),
	}, nil
}

func (c *Compiled) StateDim() int   { return c.stateDim }
func (c *Compiled) ControlDim() int { return c.controlDim }

func (c *Compiled) Step(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, float64) {
	c.in[0] = t
	copy(c.in[1:], x)
	copy(c.in[1+c.stateDim:], u)
	copy(c.in[1+c.stateDim+c.controlDim:], c.fixed)
	c.prog.Eval(c.in, c.out)
	return dynamo.State(c.out[:c.stateDim]).Clone(), c.out[c.stateDim]
}
