package experiment

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/san-kum/fumes/internal/config"
	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
	"github.com/san-kum/fumes/internal/furnace"
	"github.com/san-kum/fumes/internal/nlp"
)

func scenario() furnace.Parameters {
	return furnace.Parameters{
		Moles:              3000,
		BoilerStartTime:    0,
		BoilerResponseTime: 100,
		BoilerCapacity:     17,
		Sharpness:          50,
		TimeStep:           15,
		Initial:            furnace.Composition{Water: 0.001, Hydrogen: 0.05, CarbonMonoxide: 1e-4},
		SourceOne:          furnace.Composition{Water: 4e-5, Hydrogen: 0.05},
		SourceTwo:          furnace.Composition{Water: 4e-5, Hydrogen: 0.005},
		FlowOne:            300,
		TotalFlowMin:       100,
		TotalFlowMax:       500,
		CompositionMin:     furnace.Composition{Hydrogen: 0.045},
		CompositionMax:     furnace.Composition{Water: 0.017, Hydrogen: 0.065, CarbonMonoxide: 0.01},
		BoilerPenalty:      0.1,
		MixPenalty:         1e-5,
		FlowPenalty:        5e-4,
		Segments: []furnace.Segment{
			{Duration: 600, TargetWater: 0.002, Reduction: 0.01, Oxidation: 0.02, Decarburization: 0.03},
		},
		CompensateFlow:          true,
		OptimizeFlow:            true,
		ConstrainHydrogen:       true,
		ConstrainCarbonMonoxide: true,
	}
}

// echoSolver returns the initial guess with the given status.
type echoSolver struct {
	status string
}

func (s echoSolver) Solve(ctx context.Context, p *nlp.Problem) (*nlp.Solution, error) {
	return &nlp.Solution{
		X:          append([]float64(nil), p.X0...),
		G:          make([]float64, len(p.G)),
		Status:     s.status,
		Iterations: 3,
	}, nil
}

func mustNew(t *testing.T, p furnace.Parameters, opts Options) *Experiment {
	t.Helper()
	e, err := New(p, opts)
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	return e
}

func TestRunWithEchoSolver(t *testing.T) {
	p := scenario()
	e := mustNew(t, p, Options{})

	rec, err := e.Run(context.Background(), echoSolver{status: nlp.StatusSucceeded})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// 40 macro steps plus the extra step.
	if rec.Len() != 41 {
		t.Fatalf("expected 41 rows, got %d", rec.Len())
	}
	if rec.Time[0] != 0 || rec.Time[40] != 600 {
		t.Errorf("unexpected time grid: %g .. %g", rec.Time[0], rec.Time[40])
	}
	if rec.Water[0] != p.Initial.Water || rec.Hydrogen[0] != p.Initial.Hydrogen ||
		rec.CarbonMonoxide[0] != p.Initial.CarbonMonoxide || rec.BoilerApplied[0] != p.InitialBoiler {
		t.Errorf("first row should hold the initial state exactly")
	}
	for i := range rec.Time {
		if rec.MixRatio[i] != 1 || rec.TotalFlow[i] != 300 {
			t.Fatalf("row %d: forward guess should hold the initial controls", i)
		}
		if math.Abs(rec.Target[i]-0.002) > 1e-3 {
			t.Errorf("row %d: target %g", i, rec.Target[i])
		}
	}
	if rec.Defect > 1e-12 {
		t.Errorf("forward simulation should be continuous, defect %g", rec.Defect)
	}
	if len(rec.Final) != dynamo.StateDim {
		t.Errorf("final node missing")
	}
	if rec.Status != nlp.StatusSucceeded || rec.Iterations != 3 {
		t.Errorf("solver diagnostics not carried: %s %d", rec.Status, rec.Iterations)
	}
	for _, name := range []string{"tracking_rmse", "control_effort", "bounds_compliance"} {
		if _, ok := rec.Metrics[name]; !ok {
			t.Errorf("missing metric %s", name)
		}
	}
}

func TestRunReportsSolverFailure(t *testing.T) {
	e := mustNew(t, scenario(), Options{})

	_, err := e.Run(context.Background(), echoSolver{status: nlp.StatusMaxIterations})
	if !errors.Is(err, dynamo.ErrSolverDiverged) {
		t.Fatalf("expected ErrSolverDiverged, got %v", err)
	}
	var div *dynamo.SolverDivergedError
	if !errors.As(err, &div) || div.Status != nlp.StatusMaxIterations || div.Iterations != 3 {
		t.Errorf("expected diagnostics in the error, got %#v", err)
	}
}

func TestHoldGuess(t *testing.T) {
	p := scenario()
	e := mustNew(t, p, Options{Guess: GuessHold})

	prob, err := e.Problem(context.Background())
	if err != nil {
		t.Fatalf("problem: %v", err)
	}
	y0 := p.InitialState()
	l := e.Layout()
	for k := 0; k <= l.Steps; k++ {
		for j, want := range y0 {
			if got := prob.X0[l.StateOffset(k)+j]; got != want {
				t.Fatalf("node %d entry %d: expected %g, got %g", k, j, want, got)
			}
		}
	}
}

func TestUnknownGuessMode(t *testing.T) {
	if _, err := New(scenario(), Options{Guess: "random"}); err == nil {
		t.Error("expected an error for an unknown guess mode")
	}
}

func TestInvalidParameters(t *testing.T) {
	p := scenario()
	p.Moles = 0
	if _, err := New(p, Options{}); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds, got %v", err)
	}
}

func TestSimulate(t *testing.T) {
	p := scenario()
	e := mustNew(t, p, Options{})

	res, err := e.Simulate(context.Background(), nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(res.States) != 42 || len(res.Controls) != 41 {
		t.Fatalf("expected 42 states and 41 controls, got %d and %d", len(res.States), len(res.Controls))
	}
	// Dry gas flushes the furnace, so water content must fall.
	if res.Final()[dynamo.Water] >= p.Initial.Water {
		t.Errorf("water should decrease without steam, got %g", res.Final()[dynamo.Water])
	}
	if res.Quadrature <= 0 {
		t.Errorf("tracking quadrature should be positive, got %g", res.Quadrature)
	}

	rec, err := e.SimulationRecord(res)
	if err != nil {
		t.Fatalf("simulation record: %v", err)
	}
	if rec.Len() != 41 || rec.Status != StatusSimulated {
		t.Errorf("unexpected record: %d rows, status %s", rec.Len(), rec.Status)
	}
	if rec.Objective != res.Quadrature {
		t.Errorf("objective %g, want quadrature %g", rec.Objective, res.Quadrature)
	}
	if rec.Defect > 1e-12 {
		t.Errorf("simulated trajectory should be continuous, defect %g", rec.Defect)
	}
	if !reflect.DeepEqual([]float64(rec.Final), []float64(res.Final())) {
		t.Errorf("final %v, want %v", rec.Final, res.Final())
	}
}

func TestDewPointPID(t *testing.T) {
	p := scenario()
	e := mustNew(t, p, Options{})

	held, err := e.Simulate(context.Background(), nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	pid := e.DewPointPID(0.05, 5e-4, 0)
	closed, err := e.Simulate(context.Background(), pid)
	if err != nil {
		t.Fatalf("simulate with pid: %v", err)
	}

	for k, u := range closed.Controls {
		if u[dynamo.BoilerCommand] < 0 || u[dynamo.BoilerCommand] > p.BoilerCapacity {
			t.Fatalf("step %d: boiler command %g outside [0, %g]", k, u[dynamo.BoilerCommand], p.BoilerCapacity)
		}
		if u[dynamo.MixRatio] != 1 || u[dynamo.TotalFlow] != 300 {
			t.Fatalf("step %d: mix and flow should stay at their initial values", k)
		}
	}
	// The target sits above the dry-gas equilibrium, so steam must help.
	if closed.Quadrature >= held.Quadrature {
		t.Errorf("feedback should track better than holding: %g >= %g", closed.Quadrature, held.Quadrature)
	}
}

func TestReplayReproducesRun(t *testing.T) {
	p := scenario()
	p.InitialBoiler = 1
	e := mustNew(t, p, Options{})

	pid := e.DewPointPID(0.05, 5e-4, 0)
	res, err := e.Simulate(context.Background(), pid)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	rec, err := e.SimulationRecord(res)
	if err != nil {
		t.Fatalf("simulation record: %v", err)
	}

	replayed, err := e.Simulate(context.Background(), e.Replay(rec))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	for k := range res.States {
		if d := replayed.States[k].Sub(res.States[k]).MaxAbs(); d > 1e-12 {
			t.Fatalf("state %d differs by %g", k, d)
		}
	}
}

func TestIntegrateOnlySolve(t *testing.T) {
	p := scenario()
	p.InitialBoiler = 2
	p.IntegrateOnly = true
	p.CompensateFlow = false
	p.OptimizeFlow = false
	e := mustNew(t, p, Options{})

	rec, err := e.Run(context.Background(), nlp.NewAugmentedLagrangian())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	sim, err := e.Simulate(context.Background(), nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	for k := range rec.Time {
		if math.Abs(rec.Water[k]-sim.States[k][dynamo.Water]) > 1e-4 {
			t.Fatalf("node %d: optimized water %g differs from forward simulation %g",
				k, rec.Water[k], sim.States[k][dynamo.Water])
		}
		if rec.BoilerCommand[k] != 2 || rec.MixRatio[k] != 1 || rec.TotalFlow[k] != 300 {
			t.Fatalf("node %d: pinned controls moved", k)
		}
	}
}

func TestOptimizeScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("full optimization is slow")
	}
	p := scenario()
	e := mustNew(t, p, Options{})

	rec, err := e.Run(context.Background(), nlp.NewAugmentedLagrangian())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Defect > 1e-4 {
		t.Errorf("continuity defect too large: %g", rec.Defect)
	}
	for i := range rec.Time {
		if rec.BoilerCommand[i] < 0 || rec.BoilerCommand[i] > p.BoilerCapacity {
			t.Errorf("row %d: boiler command %g out of bounds", i, rec.BoilerCommand[i])
		}
		if rec.MixRatio[i] < 0 || rec.MixRatio[i] > 1 {
			t.Errorf("row %d: mixing ratio %g out of bounds", i, rec.MixRatio[i])
		}
		if rec.TotalFlow[i] < p.TotalFlowMin || rec.TotalFlow[i] > p.TotalFlowMax {
			t.Errorf("row %d: total flow %g out of bounds", i, rec.TotalFlow[i])
		}
	}
	if rec.Water[0] != p.Initial.Water {
		t.Errorf("initial water moved to %g", rec.Water[0])
	}
	if math.IsNaN(rec.Objective) || math.IsInf(rec.Objective, 0) || rec.Objective < 0 {
		t.Errorf("objective should be finite and non-negative, got %g", rec.Objective)
	}
	checkFinalInBounds(t, p, rec)

	// The forward-simulated guess is feasible, so the solver should improve on it.
	if guess := guessObjective(t, e); rec.Objective > guess*(1+1e-9) {
		t.Errorf("solved objective %g is worse than the initial guess %g", rec.Objective, guess)
	}
}

func TestSamplePresetSolves(t *testing.T) {
	if testing.Short() {
		t.Skip("full optimization is slow")
	}
	exp, solver, err := Setup(config.GetPreset("sample"), NewRegistry(), nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	rec, err := exp.Run(context.Background(), solver)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Status != nlp.StatusSucceeded && rec.Status != nlp.StatusAcceptable {
		t.Errorf("expected an optimal status, got %s", rec.Status)
	}
	if rec.Defect > 1e-4 {
		t.Errorf("continuity defect too large: %g", rec.Defect)
	}
	checkFinalInBounds(t, exp.Parameters(), rec)
	if guess := guessObjective(t, exp); rec.Objective > guess*(1+1e-9) {
		t.Errorf("solved objective %g is worse than the initial guess %g", rec.Objective, guess)
	}
}

func checkFinalInBounds(t *testing.T, p furnace.Parameters, rec *Record) {
	t.Helper()
	const slack = 1e-9
	if len(rec.Final) != dynamo.StateDim {
		t.Fatalf("final node missing")
	}
	bounds := []struct {
		name   string
		value  float64
		lo, hi float64
	}{
		{"water", rec.Final[dynamo.Water], p.CompositionMin.Water, p.CompositionMax.Water},
		{"hydrogen", rec.Final[dynamo.Hydrogen], p.CompositionMin.Hydrogen, p.CompositionMax.Hydrogen},
		{"carbon monoxide", rec.Final[dynamo.CarbonMonoxide], p.CompositionMin.CarbonMonoxide, p.CompositionMax.CarbonMonoxide},
		{"boiler", rec.Final[dynamo.Boiler], 0, p.BoilerCapacity},
	}
	if !p.ConstrainHydrogen {
		bounds[1].lo, bounds[1].hi = 0, 1
	}
	if !p.ConstrainCarbonMonoxide {
		bounds[2].lo, bounds[2].hi = 0, 1
	}
	for _, b := range bounds {
		if b.value < b.lo-slack || b.value > b.hi+slack {
			t.Errorf("final %s %g outside [%g, %g]", b.name, b.value, b.lo, b.hi)
		}
	}
}

// guessObjective evaluates the transcribed objective at the initial guess.
func guessObjective(t *testing.T, e *Experiment) float64 {
	t.Helper()
	prob, err := e.Problem(context.Background())
	if err != nil {
		t.Fatalf("problem: %v", err)
	}
	prog, err := expr.Compile(prob.X, prob.F)
	if err != nil {
		t.Fatalf("compile objective: %v", err)
	}
	out := make([]float64, 1)
	prog.Eval(prob.X0, out)
	return out[0]
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if names := r.ListSolvers(); len(names) != 1 || names[0] != "auglag" {
		t.Errorf("unexpected solvers: %v", names)
	}
	s, err := r.GetSolver("auglag", SolverSettings{MaxIterations: 7, Tolerance: 1e-8})
	if err != nil {
		t.Fatalf("get solver: %v", err)
	}
	al, ok := s.(*nlp.AugmentedLagrangian)
	if !ok || al.MaxOuter != 7 || al.ConstraintTol != 1e-8 || al.InnerIterations != 300 {
		t.Errorf("settings not applied: %+v", s)
	}
	if _, err := r.GetSolver("ipopt", SolverSettings{}); err == nil {
		t.Error("expected an error for an unknown solver")
	}
}

func TestSetup(t *testing.T) {
	cfg := config.GetPreset("single-coil")
	cfg.Solver.MaxIterations = 5

	var calls int
	exp, solver, err := Setup(cfg, NewRegistry(), func(nlp.Iteration) { calls++ })
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	// 10 minutes at 15 s plus the extra step.
	if exp.Layout().Steps != 41 {
		t.Errorf("expected 41 steps, got %d", exp.Layout().Steps)
	}
	al := solver.(*nlp.AugmentedLagrangian)
	if al.MaxOuter != 5 || al.Progress == nil {
		t.Errorf("solver settings not applied")
	}

	cfg.Solver.Name = "ipopt"
	if _, _, err := Setup(cfg, NewRegistry(), nil); err == nil {
		t.Error("expected an error for an unknown solver")
	}

	cfg.Solver.Name = ""
	cfg.Solver.Guess = "random"
	if _, _, err := Setup(cfg, NewRegistry(), nil); err == nil {
		t.Error("expected an error for an unknown guess mode")
	}

	cfg = config.DefaultConfig()
	cfg.Chamber.FreeVolume = 0
	if _, _, err := Setup(cfg, NewRegistry(), nil); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds, got %v", err)
	}
}
