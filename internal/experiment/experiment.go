// Package experiment runs one furnace atmosphere optimization end to end:
// model assembly, initial guess, transcription, solve and unpacking.
package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
	"github.com/san-kum/fumes/internal/furnace"
	"github.com/san-kum/fumes/internal/integrators"
	"github.com/san-kum/fumes/internal/metrics"
	"github.com/san-kum/fumes/internal/nlp"
	"github.com/san-kum/fumes/internal/sim"
	"github.com/san-kum/fumes/internal/trajectory"
	"github.com/san-kum/fumes/internal/transcribe"
	"github.com/san-kum/fumes/internal/units"
)

// GuessMode selects how the initial guess of the NLP is built.
type GuessMode string

const (
	// GuessSimulate integrates the model with the initial controls held.
	GuessSimulate GuessMode = "simulate"
	// GuessHold repeats the initial state at every node.
	GuessHold GuessMode = "hold"
)

// StatusSimulated marks records produced by forward simulation.
const StatusSimulated = "Simulated"

type Options struct {
	Guess GuessMode
}

// Experiment owns one expression graph. Experiments share nothing and may
// run concurrently; a single Experiment must not.
type Experiment struct {
	params     furnace.Parameters
	opts       Options
	model      *furnace.Model
	transition *expr.Function
	tr         *transcribe.Transcriber
	stepper    *sim.Compiled
}

func New(p furnace.Parameters, opts Options) (*Experiment, error) {
	if opts.Guess == "" {
		opts.Guess = GuessSimulate
	}
	if opts.Guess != GuessSimulate && opts.Guess != GuessHold {
		return nil, fmt.Errorf("experiment: unknown guess mode %q", opts.Guess)
	}

	model, err := furnace.NewModel(expr.NewGraph(), p)
	if err != nil {
		return nil, err
	}

	rk := integrators.NewRK4(p.SubStepCount())
	F, err := rk.Transition(model.RHS(), p.TimeStep, integrators.SquaredTracking(model.TargetAt, dynamo.Water))
	if err != nil {
		return nil, fmt.Errorf("experiment: build transition: %w", err)
	}

	tr, err := transcribe.New(model, F)
	if err != nil {
		return nil, err
	}

	stepper, err := sim.NewCompiled(F, dynamo.ControlDim,
		furnace.Steam.Slice(), p.SourceOne.Slice(), p.SourceTwo.Slice())
	if err != nil {
		return nil, err
	}

	return &Experiment{
		params:     p,
		opts:       opts,
		model:      model,
		transition: F,
		tr:         tr,
		stepper:    stepper,
	}, nil
}

func (e *Experiment) Parameters() furnace.Parameters { return e.params }
func (e *Experiment) Layout() transcribe.Layout      { return e.tr.Layout() }

// Metrics returns fresh instances of the metrics reported with every run.
func (e *Experiment) Metrics() []sim.Metric {
	lo, hi := e.tr.StateBounds()
	target := e.model.Target()
	b := e.params.Sharpness
	return []sim.Metric{
		metrics.NewTrackingError(dynamo.Water, func(t float64) float64 { return target.Value(t, b) }),
		metrics.NewControlEffort(e.params.BoilerPenalty, e.params.MixPenalty, e.params.FlowPenalty),
		metrics.NewBoundsCompliance(lo, hi, 1e-6),
	}
}

// Simulate integrates the model forward without optimizing. A nil
// controller holds the initial controls.
func (e *Experiment) Simulate(ctx context.Context, controller sim.Controller, observers ...sim.Observer) (*sim.Result, error) {
	if controller == nil {
		controller = &sim.Hold{U: e.params.InitialControl()}
	}
	s := sim.New(e.stepper, controller)
	for _, m := range e.Metrics() {
		s.AddMetric(m)
	}
	for _, o := range observers {
		s.AddObserver(o)
	}
	return s.Run(ctx, e.params.InitialState(), sim.Config{
		Dt:            e.params.TimeStep,
		Steps:         e.tr.Layout().Steps,
		ValidateState: true,
	})
}

// DewPointPID returns a controller that steers the boiler command so the
// dew point follows the target schedule. Mix and flow keep their initial
// values.
func (e *Experiment) DewPointPID(kp, ki, kd float64) *sim.PID {
	target := e.model.Target()
	b := e.params.Sharpness
	pid := sim.NewPID(kp, ki, kd, e.params.InitialControl(), dynamo.BoilerCommand)
	pid.Setpoint = func(t float64) float64 { return units.WaterContentToDewPoint(target.Value(t, b)) }
	pid.Measure = func(x dynamo.State) float64 { return units.WaterContentToDewPoint(x[dynamo.Water]) }
	pid.Min, pid.Max = 0, e.params.BoilerCapacity
	return pid
}

// Replay returns a controller that plays back the controls of a stored run
// on this experiment's time grid.
func (e *Experiment) Replay(rec *Record) *sim.Replay {
	return &sim.Replay{Controls: rec.Controls(), Dt: e.params.TimeStep}
}

// SimulationRecord converts a forward simulation into a record. The
// objective is the accumulated tracking quadrature.
func (e *Experiment) SimulationRecord(res *sim.Result) (*Record, error) {
	x, err := e.tr.Layout().Pack(res.States, res.Controls)
	if err != nil {
		return nil, err
	}
	traj, err := trajectory.Unpack(x, dynamo.StateDim, dynamo.ControlDim, e.params.TimeStep)
	if err != nil {
		return nil, err
	}
	rec := e.record(traj)
	rec.Objective = res.Quadrature
	rec.Status = StatusSimulated
	rec.Defect = e.VerifyContinuity(traj)
	return rec, nil
}

func (e *Experiment) guess(ctx context.Context) ([]float64, error) {
	if e.opts.Guess == GuessHold {
		return e.tr.HoldGuess(), nil
	}
	res, err := e.Simulate(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("experiment: initial guess: %w", err)
	}
	return e.tr.Layout().Pack(res.States, res.Controls)
}

// Problem transcribes the run into an NLP without solving it.
func (e *Experiment) Problem(ctx context.Context) (*nlp.Problem, error) {
	x0, err := e.guess(ctx)
	if err != nil {
		return nil, err
	}
	return e.tr.Build(x0)
}

// Run solves the optimal control problem. A non-successful solver status is
// reported as *dynamo.SolverDivergedError.
func (e *Experiment) Run(ctx context.Context, solver nlp.Solver) (*Record, error) {
	start := time.Now()

	prob, err := e.Problem(ctx)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"steps":     e.tr.Layout().Steps,
		"variables": len(prob.X),
	})
	logger.Info("solving furnace problem")

	sol, err := solver.Solve(ctx, prob)
	if err != nil {
		return nil, fmt.Errorf("experiment: solve: %w", err)
	}
	if !sol.Succeeded() {
		return nil, &dynamo.SolverDivergedError{
			Status:     sol.Status,
			Iterations: sol.Iterations,
			Objective:  sol.F,
			Violation:  sol.MaxViolation(),
		}
	}

	traj, err := trajectory.Unpack(sol.X, dynamo.StateDim, dynamo.ControlDim, e.params.TimeStep)
	if err != nil {
		return nil, err
	}

	rec := e.record(traj)
	rec.Objective = sol.F
	rec.Status = sol.Status
	rec.Iterations = sol.Iterations
	rec.Defect = e.VerifyContinuity(traj)
	rec.Elapsed = time.Since(start)

	logger.WithFields(log.Fields{
		"objective":  rec.Objective,
		"iterations": rec.Iterations,
		"defect":     rec.Defect,
		"elapsed":    rec.Elapsed,
	}).Info("furnace problem solved")

	return rec, nil
}

// VerifyContinuity re-integrates every node with its controls and returns
// the largest distance to the next node.
func (e *Experiment) VerifyContinuity(traj *trajectory.Trajectory) float64 {
	states := traj.States()
	defect := 0.0
	for k, row := range traj.Rows {
		// The step's objective quadrature plays no part in continuity.
		next, _ := e.stepper.Step(row.Time, row.State, row.Control)
		d := next.Sub(states[k+1]).MaxAbs()
		if math.IsNaN(d) {
			return math.NaN()
		}
		defect = math.Max(defect, d)
	}
	return defect
}

func (e *Experiment) record(traj *trajectory.Trajectory) *Record {
	target := e.model.Target()
	rec := &Record{
		Time:           traj.Times(),
		Water:          traj.State(dynamo.Water),
		Hydrogen:       traj.State(dynamo.Hydrogen),
		CarbonMonoxide: traj.State(dynamo.CarbonMonoxide),
		BoilerApplied:  traj.State(dynamo.Boiler),
		BoilerCommand:  traj.Control(dynamo.BoilerCommand),
		MixRatio:       traj.Control(dynamo.MixRatio),
		TotalFlow:      traj.Control(dynamo.TotalFlow),
		Final:          traj.Final.Clone(),
		Metrics:        make(map[string]float64),
	}
	rec.Target = make([]float64, len(rec.Time))
	for i, t := range rec.Time {
		rec.Target[i] = target.Value(t, e.params.Sharpness)
	}

	ms := e.Metrics()
	for _, row := range traj.Rows {
		for _, m := range ms {
			m.Observe(row.State, row.Control, row.Time)
		}
	}
	for _, m := range ms {
		rec.Metrics[m.Name()] = m.Value()
	}
	return rec
}
