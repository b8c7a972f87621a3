package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
	"github.com/san-kum/fumes/internal/integrators"
)

// decayTransition is an explicit Euler step of dx/dt = -x + u with the
// squared state as quadrature.
type decayTransition struct {
	dt float64
}

func (d *decayTransition) Step(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, float64) {
	next := dynamo.State{x[0] + d.dt*(-x[0]+u[0])}
	return next, next[0] * next[0]
}

func (d *decayTransition) StateDim() int   { return 1 }
func (d *decayTransition) ControlDim() int { return 1 }

func TestSimulatorRun(t *testing.T) {
	sim := New(&decayTransition{dt: 0.1}, &Hold{U: dynamo.Control{0}})

	result, err := sim.Run(context.Background(), dynamo.State{1.0}, Config{Dt: 0.1, Duration: 1.0})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(result.States) != 11 {
		t.Errorf("expected 11 states, got %d", len(result.States))
	}
	if len(result.Times) != 11 || len(result.Controls) != 10 {
		t.Errorf("expected 11 times and 10 controls, got %d and %d", len(result.Times), len(result.Controls))
	}
	if result.Times[10] != 1.0 {
		t.Errorf("expected final time 1.0, got %g", result.Times[10])
	}

	expected := math.Exp(-1.0)
	if math.Abs(result.Final()[0]-expected) > 0.2 {
		t.Errorf("expected final state ~%.4f, got %.4f", expected, result.Final()[0])
	}
	if result.Quadrature <= 0 {
		t.Errorf("expected positive quadrature, got %g", result.Quadrature)
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	sim := New(&decayTransition{dt: 0.1}, &Hold{U: dynamo.Control{0}})

	tests := []struct {
		name string
		x0   dynamo.State
		cfg  Config
	}{
		{"zero dt", dynamo.State{1}, Config{Dt: 0, Duration: 1.0}},
		{"negative dt", dynamo.State{1}, Config{Dt: -0.1, Duration: 1.0}},
		{"zero duration", dynamo.State{1}, Config{Dt: 0.1, Duration: 0}},
		{"negative duration", dynamo.State{1}, Config{Dt: 0.1, Duration: -1.0}},
		{"wrong state size", dynamo.State{1, 2}, Config{Dt: 0.1, Duration: 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sim.Run(context.Background(), tt.x0, tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

type testMetric struct {
	count int
	sum   float64
}

func (t *testMetric) Name() string { return "test" }
func (t *testMetric) Observe(x dynamo.State, u dynamo.Control, time float64) {
	t.count++
	t.sum += x[0]
}
func (t *testMetric) Value() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}
func (t *testMetric) Reset() {
	t.count = 0
	t.sum = 0
}

func TestSimulatorMetrics(t *testing.T) {
	sim := New(&decayTransition{dt: 0.1}, &Hold{U: dynamo.Control{0}})

	metric := &testMetric{}
	sim.AddMetric(metric)

	result, err := sim.Run(context.Background(), dynamo.State{1.0}, Config{Dt: 0.1, Steps: 10})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if _, ok := result.Metrics["test"]; !ok {
		t.Error("metric not found in result")
	}
	if metric.count != 10 {
		t.Errorf("expected 10 observations, got %d", metric.count)
	}
}

type blowUp struct{}

func (blowUp) Step(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, float64) {
	if t > 0.25 {
		return dynamo.State{math.NaN()}, 0
	}
	return x.Clone(), 0
}
func (blowUp) StateDim() int   { return 1 }
func (blowUp) ControlDim() int { return 0 }

func TestSimulatorValidateState(t *testing.T) {
	sim := New(blowUp{}, &Hold{})

	result, err := sim.Run(context.Background(), dynamo.State{1}, Config{Dt: 0.1, Duration: 1, ValidateState: true})
	var se *dynamo.SimulationError
	if !errors.As(err, &se) {
		t.Fatalf("expected SimulationError, got %v", err)
	}
	if se.Step != 3 {
		t.Errorf("expected failure at step 3, got %d", se.Step)
	}
	if len(result.States) != 4 {
		t.Errorf("expected the valid prefix to be kept, got %d states", len(result.States))
	}
}

func TestReplay(t *testing.T) {
	r := &Replay{Controls: []dynamo.Control{{1}, {2}, {3}}, Dt: 15}

	tests := []struct {
		t    float64
		want float64
	}{
		{0, 1}, {15, 2}, {29.9999, 3}, {300, 3}, {-5, 1},
	}
	for _, tt := range tests {
		if got := r.Compute(nil, tt.t)[0]; got != tt.want {
			t.Errorf("Compute(%g) = %g, want %g", tt.t, got, tt.want)
		}
	}
}

func TestCompiledMatchesSymbolicStep(t *testing.T) {
	g := expr.NewGraph()
	ts := g.Sym("t")
	y := g.SymVec("y", 1)
	k := g.Sym("k")
	b := g.SymVec("b", 1)
	f, err := expr.NewFunction("f", []string{"t", "y", "k", "b"}, []expr.Vec{{ts}, y, {k}, b},
		[]string{"ydot"}, []expr.Vec{{k.Mul(y[0]).Neg().Add(b[0])}})
	if err != nil {
		t.Fatalf("new function: %v", err)
	}

	F, err := integrators.NewRK4(2).Transition(f, 0.5, func(tEnd expr.Expr, ynew expr.Vec) expr.Expr {
		return ynew[0].Pow(2)
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	c, err := NewCompiled(F, 1, []float64{0.3})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if c.StateDim() != 1 || c.ControlDim() != 1 {
		t.Fatalf("unexpected dimensions %d, %d", c.StateDim(), c.ControlDim())
	}

	next, quad := c.Step(0, dynamo.State{1}, dynamo.Control{2})

	out, err := F.Call(expr.Vec{g.Const(0)}, g.ConstVec(1), expr.Vec{g.Const(2)}, g.ConstVec(0.3))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	want, _ := out[0][0].Value()
	wantQuad, _ := out[1][0].Value()
	if math.Abs(next[0]-want) > 1e-15 || math.Abs(quad-wantQuad) > 1e-15 {
		t.Errorf("compiled step (%g, %g) != symbolic (%g, %g)", next[0], quad, want, wantQuad)
	}

	if _, err := NewCompiled(F, 1); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch for missing fixed inputs, got %v", err)
	}
}

func TestPIDTracksSetpoint(t *testing.T) {
	pid := NewPID(5, 1, 0, dynamo.Control{0}, 0)
	pid.Setpoint = func(float64) float64 { return 0.5 }
	pid.Measure = func(x dynamo.State) float64 { return x[0] }

	result, err := New(&decayTransition{dt: 0.05}, pid).Run(context.Background(), dynamo.State{0}, Config{Dt: 0.05, Duration: 20})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := result.Final()[0]; math.Abs(got-0.5) > 0.01 {
		t.Errorf("expected state to settle at 0.5, got %.4f", got)
	}
}

func TestPIDSaturates(t *testing.T) {
	pid := NewPID(100, 10, 0, dynamo.Control{0, 7}, 0)
	pid.Setpoint = func(float64) float64 { return 1 }
	pid.Measure = func(x dynamo.State) float64 { return x[0] }
	pid.Min, pid.Max = 0, 2

	x := dynamo.State{0}
	for i := 0; i < 10; i++ {
		u := pid.Compute(x, float64(i))
		if u[0] != 2 {
			t.Fatalf("step %d: expected saturated output 2, got %g", i, u[0])
		}
		if u[1] != 7 {
			t.Fatalf("step %d: untouched channel changed to %g", i, u[1])
		}
	}
	if pid.integral != 0 {
		t.Errorf("integral should not wind up while saturated, got %g", pid.integral)
	}

	pid.Reset()
	if pid.started {
		t.Error("reset should clear the controller memory")
	}
}
