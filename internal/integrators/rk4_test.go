package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/fumes/internal/expr"
)

func decay(t *testing.T, g *expr.Graph) *expr.Function {
	t.Helper()
	ts := g.Sym("t")
	y := g.SymVec("y", 1)
	f, err := expr.NewFunction("decay", []string{"t", "y"}, []expr.Vec{{ts}, y}, []string{"ydot"}, []expr.Vec{{y[0].Neg()}})
	if err != nil {
		t.Fatalf("new function: %v", err)
	}
	return f
}

func stepValue(t *testing.T, r *RK4, f *expr.Function, t0, y0, dt float64) float64 {
	t.Helper()
	g := f.Graph()
	args := []expr.Vec{{g.Const(t0)}, g.ConstVec(y0)}
	out, err := r.Step(f, g.Const(t0), g.ConstVec(y0), args, dt)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	v, ok := out[0].Value()
	if !ok {
		t.Fatalf("numeric step should fold to a constant")
	}
	return v
}

func TestRK4Accuracy(t *testing.T) {
	g := expr.NewGraph()
	f := decay(t, g)
	integ := NewRK4(4)

	y := 1.0
	dt := 0.1
	for i := 0; i < 20; i++ {
		y = stepValue(t, integ, f, float64(i)*dt, y, dt)
	}

	expected := math.Exp(-2)
	if math.Abs(y-expected) > 1e-9 {
		t.Errorf("error too large: got %.12f, expected %.12f", y, expected)
	}
}

func TestRK4SubStepConvergence(t *testing.T) {
	g := expr.NewGraph()
	f := decay(t, g)
	dt := 0.5
	exact := math.Exp(-dt)

	var errs []float64
	for _, ns := range []int{1, 2, 4, 8} {
		y := stepValue(t, NewRK4(ns), f, 0, 1, dt)
		errs = append(errs, math.Abs(y-exact))
	}

	for i := 0; i+1 < len(errs); i++ {
		ratio := errs[i] / errs[i+1]
		if ratio < 15 || ratio > 21 {
			t.Errorf("halving the sub-step should cut the error ~16x, got ratio %.2f (%g -> %g)", ratio, errs[i], errs[i+1])
		}
	}
}

func TestRK4AdvancesTimeAcrossSubSteps(t *testing.T) {
	g := expr.NewGraph()
	ts := g.Sym("t")
	y := g.SymVec("y", 1)
	f, err := expr.NewFunction("cubic", []string{"t", "y"}, []expr.Vec{{ts}, y}, []string{"ydot"}, []expr.Vec{{ts.Pow(3)}})
	if err != nil {
		t.Fatalf("new function: %v", err)
	}

	// RK4 integrates cubics in t exactly.
	got := stepValue(t, NewRK4(3), f, 1, 0, 1)
	want := (math.Pow(2, 4) - 1) / 4
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("got %.15f, want %.15f", got, want)
	}
}

func TestTransition(t *testing.T) {
	g := expr.NewGraph()
	f := decay(t, g)
	integ := NewRK4(4)

	target := func(at expr.Expr) expr.Expr { return at.Scale(0.1) }
	F, err := integ.Transition(f, 0.5, SquaredTracking(target, 0))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if names := F.OutputNames(); len(names) != 2 || names[0] != "ynew" || names[1] != "quad" {
		t.Fatalf("unexpected outputs %v", names)
	}

	out, err := F.CallNamed(map[string]expr.Vec{"t": {g.Const(1)}, "y": g.ConstVec(2)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	ynew, _ := out["ynew"][0].Value()
	quad, _ := out["quad"][0].Value()

	want := stepValue(t, integ, f, 1, 2, 0.5)
	if ynew != want {
		t.Errorf("ynew = %g, want %g", ynew, want)
	}
	if wantQuad := math.Pow(0.15-ynew, 2); math.Abs(quad-wantQuad) > 1e-15 {
		t.Errorf("quad = %g, want %g", quad, wantQuad)
	}
}

func TestTransitionWithoutQuadrature(t *testing.T) {
	g := expr.NewGraph()
	F, err := NewRK4(1).Transition(decay(t, g), 0.1, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	out, err := F.Call(expr.Vec{g.Const(0)}, g.ConstVec(1))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if q, ok := out[1][0].Value(); !ok || q != 0 {
		t.Errorf("expected zero quadrature, got %v", out[1][0])
	}
}
