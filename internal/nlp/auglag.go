package nlp

import (
	"context"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/fumes/internal/expr"
)

// AugmentedLagrangian minimizes f + lam.g + rho/2 |g|^2 with L-BFGS, keeping
// the iterates strictly inside the box with a logarithmic barrier whose
// weight shrinks between outer iterations. Multipliers and penalty are
// updated between outer iterations too. Variables with equal bounds are
// never moved.
//
// A point is reported optimal once it is feasible and the projected gradient
// of the Lagrangian of the scaled problem is below OptimalityTol. When the
// iterations run out the best feasible point seen is returned instead of the
// last one.
type AugmentedLagrangian struct {
	MaxOuter        int
	InnerIterations int
	ConstraintTol   float64
	OptimalityTol   float64
	AcceptableTol   float64
	InitialPenalty  float64
	PenaltyGrowth   float64
	MaxPenalty      float64
	InitialBarrier  float64
	MinBarrier      float64

	// BoundPush is the relative distance the starting point keeps from
	// each finite bound.
	BoundPush float64

	// Progress, when set, is called after every outer iteration.
	Progress func(Iteration)
}

func NewAugmentedLagrangian() *AugmentedLagrangian {
	return &AugmentedLagrangian{
		MaxOuter:        60,
		InnerIterations: 300,
		ConstraintTol:   1e-6,
		OptimalityTol:   1e-6,
		AcceptableTol:   1e-3,
		InitialPenalty:  10,
		PenaltyGrowth:   10,
		MaxPenalty:      1e10,
		InitialBarrier:  1e-2,
		MinBarrier:      1e-10,
		BoundPush:       1e-2,
	}
}

type boundKind uint8

const (
	kindFixed boundKind = iota
	kindBox
	kindLower
	kindUpper
	kindFree
)

// bounds classifies the decision variables and evaluates the barrier on the
// ones the solver may move.
type bounds struct {
	lb, ub []float64
	kind   []boundKind
	free   []int
}

func newBounds(lb, ub []float64) *bounds {
	b := &bounds{lb: lb, ub: ub, kind: make([]boundKind, len(lb))}
	for i := range lb {
		lo, hi := !math.IsInf(lb[i], -1), !math.IsInf(ub[i], 1)
		switch {
		case lb[i] == ub[i]:
			b.kind[i] = kindFixed
		case lo && hi:
			b.kind[i] = kindBox
		case lo:
			b.kind[i] = kindLower
		case hi:
			b.kind[i] = kindUpper
		default:
			b.kind[i] = kindFree
		}
		if b.kind[i] != kindFixed {
			b.free = append(b.free, i)
		}
	}
	return b
}

// push moves x strictly inside its bounds. The distance kept from a bound is
// frac*max(1, |bound|), capped at frac of the box width.
func (b *bounds) push(x []float64, frac float64) {
	for _, i := range b.free {
		lo, hi := b.lb[i], b.ub[i]
		switch b.kind[i] {
		case kindBox:
			w := hi - lo
			dl := math.Min(frac*math.Max(1, math.Abs(lo)), frac*w)
			du := math.Min(frac*math.Max(1, math.Abs(hi)), frac*w)
			x[i] = math.Max(lo+dl, math.Min(hi-du, x[i]))
		case kindLower:
			x[i] = math.Max(lo+frac*math.Max(1, math.Abs(lo)), x[i])
		case kindUpper:
			x[i] = math.Min(hi-frac*math.Max(1, math.Abs(hi)), x[i])
		}
	}
}

// barrier is -sum log(distance to bound) over the finite bounds of the free
// entries, or +Inf when x is not strictly inside them.
func (b *bounds) barrier(x []float64) float64 {
	v := 0.0
	for _, i := range b.free {
		switch b.kind[i] {
		case kindBox:
			dl, du := x[i]-b.lb[i], b.ub[i]-x[i]
			if dl <= 0 || du <= 0 {
				return math.Inf(1)
			}
			v -= math.Log(dl) + math.Log(du)
		case kindLower:
			dl := x[i] - b.lb[i]
			if dl <= 0 {
				return math.Inf(1)
			}
			v -= math.Log(dl)
		case kindUpper:
			du := b.ub[i] - x[i]
			if du <= 0 {
				return math.Inf(1)
			}
			v -= math.Log(du)
		}
	}
	return v
}

// addBarrierGrad adds mu times the barrier gradient to g.
func (b *bounds) addBarrierGrad(x, g []float64, mu float64) {
	for _, i := range b.free {
		switch b.kind[i] {
		case kindBox:
			g[i] += mu * (1/(b.ub[i]-x[i]) - 1/(x[i]-b.lb[i]))
		case kindLower:
			g[i] -= mu / (x[i] - b.lb[i])
		case kindUpper:
			g[i] += mu / (b.ub[i] - x[i])
		}
	}
}

// residual is max |x - P(x - g)| over the free entries, where P projects
// onto the box. It vanishes exactly at first-order stationary points.
func (b *bounds) residual(x, g []float64) float64 {
	r := 0.0
	for _, i := range b.free {
		p := math.Max(b.lb[i], math.Min(b.ub[i], x[i]-g[i]))
		r = math.Max(r, math.Abs(x[i]-p))
	}
	return r
}

func (b *bounds) gather(x, z []float64) {
	for j, i := range b.free {
		z[j] = x[i]
	}
}

// startPoint clamps the guess into the box and fills missing entries.
func startPoint(p *Problem) []float64 {
	x := make([]float64, len(p.X))
	for i := range x {
		lb, ub := p.LBX[i], p.UBX[i]
		var v float64
		switch {
		case p.X0 != nil:
			v = p.X0[i]
		case !math.IsInf(lb, 0) && !math.IsInf(ub, 0):
			v = (lb + ub) / 2
		case !math.IsInf(lb, 0):
			v = lb
		case !math.IsInf(ub, 0):
			v = ub
		}
		if lb == ub {
			v = lb
		}
		x[i] = math.Max(lb, math.Min(ub, v))
	}
	return x
}

// objectiveScale brings the objective at the starting point to unit size.
func objectiveScale(f float64) float64 {
	a := math.Abs(f)
	if a == 0 || math.IsInf(a, 0) || math.IsNaN(a) {
		return 1
	}
	return math.Max(1e-8, math.Min(1e8, 1/a))
}

// lagrangian evaluates the compiled problem at points of the inner space,
// the free entries of x, and remembers the last point to serve Func and
// Grad from one evaluation. Multipliers live in scaled units.
type lagrangian struct {
	prog *expr.Program
	b    *bounds
	m    int

	scale float64
	lam   []float64
	rho   float64
	mu    float64

	x     []float64
	out   []float64
	seeds []float64
	gx    []float64

	lastZ []float64
	valid bool
}

func (l *lagrangian) at(z []float64) {
	if l.valid && floats.Equal(z, l.lastZ) {
		return
	}
	for j, i := range l.b.free {
		l.x[i] = z[j]
	}
	l.prog.Eval(l.x, l.out)
	copy(l.lastZ, z)
	l.valid = true
}

func (l *lagrangian) objective() float64 {
	return l.out[0]
}

func (l *lagrangian) constraints() []float64 {
	return l.out[1:]
}

func (l *lagrangian) value(z []float64) float64 {
	l.at(z)
	bar := l.b.barrier(l.x)
	if math.IsInf(bar, 1) {
		return bar
	}
	v := l.scale*l.out[0] + l.mu*bar
	for i, g := range l.constraints() {
		v += l.lam[i]*g + 0.5*l.rho*g*g
	}
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// lagGrad fills gx with the x-gradient of the scaled Lagrangian, using
// lam + rho*g as the constraint multipliers.
func (l *lagrangian) lagGrad() {
	l.seeds[0] = l.scale
	for i, g := range l.constraints() {
		l.seeds[1+i] = l.lam[i] + l.rho*g
	}
	l.prog.Gradient(l.x, l.seeds, nil, l.gx)
}

func (l *lagrangian) grad(gz, z []float64) {
	l.at(z)
	l.lagGrad()
	l.b.addBarrierGrad(l.x, l.gx, l.mu)
	for j, i := range l.b.free {
		gz[j] = l.gx[i]
	}
}

// optimality is the projected gradient residual at the current point.
func (l *lagrangian) optimality() float64 {
	l.lagGrad()
	return l.b.residual(l.x, l.gx)
}

// feasiblePoint is a snapshot of an iterate that met the constraint
// tolerance, with its scaled multiplier estimates.
type feasiblePoint struct {
	x          []float64
	f          float64
	lam        []float64
	optimality float64
}

func (l *lagrangian) snapshot(opt float64) *feasiblePoint {
	fp := &feasiblePoint{
		x:          append([]float64(nil), l.x...),
		f:          l.objective(),
		lam:        make([]float64, l.m),
		optimality: opt,
	}
	for i, g := range l.constraints() {
		fp.lam[i] = l.lam[i] + l.rho*g
	}
	return fp
}

// restore loads a snapshot as the current point. The penalty is dropped so
// that lam alone carries the stored multipliers.
func (l *lagrangian) restore(fp *feasiblePoint, z []float64) {
	copy(l.x, fp.x)
	copy(l.lam, fp.lam)
	l.rho = 0
	l.b.gather(l.x, z)
	l.valid = false
	l.at(z)
}

func (s *AugmentedLagrangian) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	prog, err := expr.Compile(p.X, append([]expr.Expr{p.F}, p.G...)...)
	if err != nil {
		return nil, fmt.Errorf("nlp: compile problem: %w", err)
	}

	n, m := len(p.X), len(p.G)
	b := newBounds(p.LBX, p.UBX)
	x := startPoint(p)

	l := &lagrangian{
		prog:  prog,
		b:     b,
		m:     m,
		scale: 1,
		lam:   make([]float64, m),
		rho:   s.InitialPenalty,
		mu:    s.InitialBarrier,
		x:     x,
		out:   make([]float64, 1+m),
		seeds: make([]float64, 1+m),
		gx:    make([]float64, n),
		lastZ: make([]float64, len(b.free)),
	}

	z := make([]float64, len(b.free))
	b.gather(x, z)
	l.at(z)

	logger := log.WithFields(log.Fields{
		"variables":   n,
		"free":        len(b.free),
		"constraints": m,
		"tape":        prog.Size(),
	})
	logger.Debug("starting augmented Lagrangian solve")

	sol := &Solution{Status: StatusMaxIterations}
	if !finite(l.out) {
		sol.Status = StatusInvalidNumber
		s.finish(l, sol)
		return sol, nil
	}
	l.scale = objectiveScale(l.objective())

	// The guess itself may already be feasible; it is the fallback answer.
	var best *feasiblePoint
	if maxAbs(l.constraints()) <= s.ConstraintTol {
		best = l.snapshot(l.optimality())
	}

	b.push(x, s.BoundPush)
	b.gather(x, z)
	l.valid = false
	l.at(z)

	problem := optimize.Problem{
		Func: l.value,
		Grad: l.grad,
	}
	settings := &optimize.Settings{
		MajorIterations:   s.InnerIterations,
		GradientThreshold: 1e-12,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-16,
			Relative:   1e-11,
			Iterations: 25,
		},
	}

	prevViol := math.Inf(1)
	stalled := 0

	for outer := 1; outer <= s.MaxOuter; outer++ {
		if err := ctx.Err(); err != nil {
			s.finish(l, sol)
			return sol, err
		}

		inner := 0
		if len(b.free) > 0 {
			// Backtracking only asks for values along the search direction,
			// so points outside the box are rejected by their infinite value.
			method := &optimize.LBFGS{Store: 20, Linesearcher: &optimize.Backtracking{}}
			res, err := optimize.Minimize(problem, z, settings, method)
			if res != nil {
				if finite(res.X) && !math.IsInf(l.value(res.X), 1) {
					copy(z, res.X)
				}
				inner = res.Stats.MajorIterations
			} else if err != nil {
				logger.WithError(err).Warn("inner minimization failed")
			}
		}
		sol.Iterations += inner

		l.valid = false
		l.at(z)
		f := l.objective()
		viol := maxAbs(l.constraints())
		feasible := viol <= s.ConstraintTol
		opt := l.optimality()

		it := Iteration{
			Outer:      outer,
			Inner:      inner,
			Objective:  f,
			Violation:  viol,
			Optimality: opt,
			Penalty:    l.rho,
			Barrier:    l.mu,
			Converging: feasible || viol <= 0.25*prevViol,
		}
		logger.WithFields(log.Fields{
			"outer":      outer,
			"inner":      inner,
			"objective":  f,
			"violation":  viol,
			"optimality": opt,
			"penalty":    l.rho,
			"barrier":    l.mu,
		}).Debug("outer iteration")
		if s.Progress != nil {
			s.Progress(it)
		}

		if math.IsNaN(f) || math.IsInf(f, 0) || math.IsNaN(viol) || math.IsNaN(opt) {
			sol.Status = StatusInvalidNumber
			break
		}
		if feasible {
			if best == nil || f <= best.f {
				best = l.snapshot(opt)
			}
			if opt <= s.OptimalityTol {
				sol.Status = StatusSucceeded
				break
			}
		}

		for i, g := range l.constraints() {
			l.lam[i] += l.rho * g
		}

		if !it.Converging {
			if l.rho >= s.MaxPenalty {
				stalled++
				if stalled >= 3 {
					sol.Status = StatusInfeasible
					break
				}
			}
			l.rho = math.Min(l.rho*s.PenaltyGrowth, s.MaxPenalty)
		}
		l.mu = math.Max(s.MinBarrier, math.Min(0.2*l.mu, math.Pow(l.mu, 1.5)))
		prevViol = math.Min(prevViol, viol)
		l.valid = false
	}

	if best != nil && (sol.Status == StatusMaxIterations || sol.Status == StatusInfeasible) {
		l.restore(best, z)
		sol.Status = StatusMaxIterations
		if best.optimality <= s.AcceptableTol {
			sol.Status = StatusAcceptable
		}
	}

	s.finish(l, sol)
	logger.WithFields(log.Fields{
		"status":     sol.Status,
		"objective":  sol.F,
		"violation":  sol.MaxViolation(),
		"iterations": sol.Iterations,
	}).Info("solve finished")
	return sol, nil
}

// finish copies the current point into sol and reports the multipliers in
// the units of the unscaled problem.
func (s *AugmentedLagrangian) finish(l *lagrangian, sol *Solution) {
	n := len(l.x)
	sol.X = append([]float64(nil), l.x...)
	sol.F = l.objective()
	sol.G = append([]float64(nil), l.constraints()...)

	sol.LamG = make([]float64, l.m)
	l.seeds[0] = 1
	for i, g := range sol.G {
		sol.LamG[i] = (l.lam[i] + l.rho*g) / l.scale
		l.seeds[1+i] = sol.LamG[i]
	}

	// lam_x = -(grad f + J'lam_g); it is the bound multiplier on fixed and
	// active variables and vanishes elsewhere at a stationary point.
	sol.LamX = make([]float64, n)
	if !finite(sol.X) {
		return
	}
	l.prog.Gradient(l.x, l.seeds, nil, l.gx)
	for i := range sol.LamX {
		sol.LamX[i] = -l.gx[i]
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
