package integrators

import (
	"fmt"

	"github.com/san-kum/fumes/internal/expr"
)

// Argument positions of a right-hand side function: time first, then the
// state. Every other argument is held constant over a step.
const (
	timeArg  = 0
	stateArg = 1
)

// RK4 is the classic fourth order Runge-Kutta scheme applied SubSteps times
// over each macro step. There is no error control.
type RK4 struct {
	SubSteps int
}

func NewRK4(subSteps int) *RK4 {
	if subSteps < 1 {
		subSteps = 1
	}
	return &RK4{SubSteps: subSteps}
}

// Step advances y from t over dt by calling f with args, where args holds
// one vector per input of f and the time and state slots are replaced.
func (r *RK4) Step(f *expr.Function, t expr.Expr, y expr.Vec, args []expr.Vec, dt float64) (expr.Vec, error) {
	if len(f.Inputs()) < 2 {
		return nil, fmt.Errorf("integrators: %s needs time and state inputs", f.Name())
	}
	ns := r.SubSteps
	if ns < 1 {
		ns = 1
	}

	in := make([]expr.Vec, len(args))
	copy(in, args)

	derive := func(at expr.Expr, z expr.Vec) (expr.Vec, error) {
		in[timeArg] = expr.Vec{at}
		in[stateArg] = z
		out, err := f.Call(in...)
		if err != nil {
			return nil, err
		}
		return out[0], nil
	}

	st := dt / float64(ns)
	mt := st / 2
	z := y

	for k := 0; k < ns; k++ {
		tk := t.AddConst(float64(k) * st)

		k1, err := derive(tk, z)
		if err != nil {
			return nil, err
		}
		k2, err := derive(tk.AddConst(mt), z.Add(k1.ScaleConst(mt)))
		if err != nil {
			return nil, err
		}
		k3, err := derive(tk.AddConst(mt), z.Add(k2.ScaleConst(mt)))
		if err != nil {
			return nil, err
		}
		k4, err := derive(tk.AddConst(st), z.Add(k3.ScaleConst(st)))
		if err != nil {
			return nil, err
		}

		incr := k1.Add(k2.ScaleConst(2)).Add(k3.ScaleConst(2)).Add(k4)
		z = z.Add(incr.ScaleConst(st / 6))
	}

	return z, nil
}

// Quadrature maps the end time of a step and the new state to a scalar
// accumulated alongside the transition.
type Quadrature func(tEnd expr.Expr, ynew expr.Vec) expr.Expr

// SquaredTracking penalizes the distance of state channel idx to target at
// the end of the step.
func SquaredTracking(target func(expr.Expr) expr.Expr, idx int) Quadrature {
	return func(tEnd expr.Expr, ynew expr.Vec) expr.Expr {
		return target(tEnd).Sub(ynew[idx]).Pow(2)
	}
}

// Transition wraps one macro step of rhs into a function with the same
// inputs as rhs and outputs ynew and quad.
func (r *RK4) Transition(rhs *expr.Function, dt float64, quad Quadrature) (*expr.Function, error) {
	inputs := rhs.Inputs()
	if len(inputs) < 2 || len(inputs[timeArg]) != 1 {
		return nil, fmt.Errorf("integrators: %s needs a scalar time input and a state input", rhs.Name())
	}
	t := inputs[timeArg][0]
	y := inputs[stateArg]

	ynew, err := r.Step(rhs, t, y, inputs, dt)
	if err != nil {
		return nil, fmt.Errorf("integrators: step %s: %w", rhs.Name(), err)
	}

	q := t.Graph().Const(0)
	if quad != nil {
		q = quad(t.AddConst(dt), ynew)
	}

	return expr.NewFunction("F", rhs.InputNames(), inputs, []string{"ynew", "quad"}, []expr.Vec{ynew, {q}})
}
