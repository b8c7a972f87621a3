package transcribe

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
	"github.com/san-kum/fumes/internal/furnace"
	"github.com/san-kum/fumes/internal/nlp"
)

// Transcriber builds the multiple shooting problem of a furnace model. One
// control triple is introduced per macro step plus one extra step, so the
// number of controls matches the number of reported outputs.
type Transcriber struct {
	model      *furnace.Model
	transition *expr.Function
	layout     Layout
}

// New takes the model and its one-step transition, a function of
// furnace.InputNames with outputs ynew and quad.
func New(m *furnace.Model, transition *expr.Function) (*Transcriber, error) {
	if got := transition.OutputNames(); len(got) != 2 || got[0] != "ynew" || got[1] != "quad" {
		return nil, fmt.Errorf("transcribe: transition outputs must be ynew and quad, got %v", got)
	}
	if len(transition.Inputs()) != len(furnace.InputNames) {
		return nil, fmt.Errorf("transcribe: transition takes %d inputs, want %d", len(transition.Inputs()), len(furnace.InputNames))
	}
	return &Transcriber{
		model:      m,
		transition: transition,
		layout:     NewLayout(m.Parameters().Steps() + 1),
	}, nil
}

func (tr *Transcriber) Layout() Layout { return tr.layout }

// ControlBounds returns the bounds of (v, r, q). A control disabled by its
// mode flag is pinned to its initial value.
func (tr *Transcriber) ControlBounds() (lo, hi dynamo.Control) {
	p := tr.model.Parameters()
	u0 := p.InitialControl()
	lo = make(dynamo.Control, dynamo.ControlDim)
	hi = make(dynamo.Control, dynamo.ControlDim)

	if p.IntegrateOnly {
		lo[dynamo.BoilerCommand], hi[dynamo.BoilerCommand] = u0[dynamo.BoilerCommand], u0[dynamo.BoilerCommand]
	} else {
		lo[dynamo.BoilerCommand], hi[dynamo.BoilerCommand] = 0, p.BoilerCapacity
	}
	if p.CompensateFlow {
		lo[dynamo.MixRatio], hi[dynamo.MixRatio] = 0, 1
	} else {
		lo[dynamo.MixRatio], hi[dynamo.MixRatio] = u0[dynamo.MixRatio], u0[dynamo.MixRatio]
	}
	if p.OptimizeFlow {
		lo[dynamo.TotalFlow], hi[dynamo.TotalFlow] = p.TotalFlowMin, p.TotalFlowMax
	} else {
		lo[dynamo.TotalFlow], hi[dynamo.TotalFlow] = u0[dynamo.TotalFlow], u0[dynamo.TotalFlow]
	}
	return lo, hi
}

// StateBounds returns the bounds of every state node after the first.
// Species limits widen to [0, 1] when their constraint is disabled.
func (tr *Transcriber) StateBounds() (lo, hi dynamo.State) {
	p := tr.model.Parameters()
	lo = dynamo.State{p.CompositionMin.Water, 0, 0, 0}
	hi = dynamo.State{p.CompositionMax.Water, 1, 1, p.BoilerCapacity}
	if p.ConstrainHydrogen {
		lo[dynamo.Hydrogen], hi[dynamo.Hydrogen] = p.CompositionMin.Hydrogen, p.CompositionMax.Hydrogen
	}
	if p.ConstrainCarbonMonoxide {
		lo[dynamo.CarbonMonoxide], hi[dynamo.CarbonMonoxide] = p.CompositionMin.CarbonMonoxide, p.CompositionMax.CarbonMonoxide
	}
	return lo, hi
}

// cursor appends bounds in decision-vector order and records the first
// inconsistent pair.
type cursor struct {
	layout Layout
	lb, ub []float64
	err    error
}

func (c *cursor) push(lo, hi []float64) {
	for j := range lo {
		i := len(c.lb)
		if c.err == nil && (math.IsNaN(lo[j]) || math.IsNaN(hi[j]) || lo[j] > hi[j]) {
			c.err = &dynamo.InvalidBoundsError{Index: i, Name: c.layout.Name(i), Lower: lo[j], Upper: hi[j]}
		}
		c.lb = append(c.lb, lo[j])
		c.ub = append(c.ub, hi[j])
	}
}

// Bounds builds LBX and UBX. The first node is pinned to the initial state.
func (tr *Transcriber) Bounds() (lbx, ubx []float64, err error) {
	p := tr.model.Parameters()
	c := &cursor{
		layout: tr.layout,
		lb:     make([]float64, 0, tr.layout.Len()),
		ub:     make([]float64, 0, tr.layout.Len()),
	}

	y0 := p.InitialState()
	c.push(y0, y0)

	ulo, uhi := tr.ControlBounds()
	ylo, yhi := tr.StateBounds()
	for k := 0; k < tr.layout.Steps; k++ {
		c.push(ulo, uhi)
		c.push(ylo, yhi)
	}

	if c.err != nil {
		return nil, nil, c.err
	}
	return c.lb, c.ub, nil
}

// Pack lays out states (Steps+1 nodes) and controls (Steps triples) as a
// flat decision vector.
func (l Layout) Pack(states []dynamo.State, controls []dynamo.Control) ([]float64, error) {
	if len(states) != l.Steps+1 || len(controls) != l.Steps {
		return nil, fmt.Errorf("%w: layout of %d steps, got %d states and %d controls",
			dynamo.ErrDimensionMismatch, l.Steps, len(states), len(controls))
	}
	x := make([]float64, l.Len())
	for k, s := range states {
		if len(s) != l.StateDim {
			return nil, fmt.Errorf("%w: state %d has %d entries", dynamo.ErrDimensionMismatch, k, len(s))
		}
		copy(x[l.StateOffset(k):], s)
	}
	for k, u := range controls {
		if len(u) != l.ControlDim {
			return nil, fmt.Errorf("%w: control %d has %d entries", dynamo.ErrDimensionMismatch, k, len(u))
		}
		copy(x[l.ControlOffset(k):], u)
	}
	return x, nil
}

// HoldGuess repeats the initial state and controls over the whole horizon.
func (tr *Transcriber) HoldGuess() []float64 {
	p := tr.model.Parameters()
	states := make([]dynamo.State, tr.layout.Steps+1)
	controls := make([]dynamo.Control, tr.layout.Steps)
	for k := range states {
		states[k] = p.InitialState()
	}
	for k := range controls {
		controls[k] = p.InitialControl()
	}
	// Pack only fails on mismatched lengths, and both slices come from the layout.
	x, _ := tr.layout.Pack(states, controls)
	return x
}

// Build transcribes the horizon into an NLP. Bounds are checked before any
// expression is built. guess may be nil.
func (tr *Transcriber) Build(guess []float64) (*nlp.Problem, error) {
	lbx, ubx, err := tr.Bounds()
	if err != nil {
		return nil, err
	}
	if guess == nil {
		guess = tr.HoldGuess()
	}
	if len(guess) != tr.layout.Len() {
		return nil, fmt.Errorf("%w: guess of %d for %d variables", dynamo.ErrDimensionMismatch, len(guess), tr.layout.Len())
	}

	p := tr.model.Parameters()
	g := tr.model.Graph()
	l := tr.layout
	sources := tr.model.Sources()

	w := g.SymVec("w", l.Len())
	f := g.Const(0)
	cons := make(expr.Vec, 0, l.Constraints())

	var prev expr.Vec
	for k := 0; k < l.Steps; k++ {
		yk := w[l.StateOffset(k) : l.StateOffset(k)+l.StateDim]
		uk := w[l.ControlOffset(k) : l.ControlOffset(k)+l.ControlDim]

		args := []expr.Vec{
			{g.Const(float64(k) * p.TimeStep)},
			yk,
			{uk[dynamo.BoilerCommand]},
			{uk[dynamo.MixRatio]},
			{uk[dynamo.TotalFlow]},
		}
		out, err := tr.transition.Call(append(args, sources...)...)
		if err != nil {
			return nil, fmt.Errorf("transcribe: step %d: %w", k, err)
		}

		f = f.Add(out[1][0])

		if k > 0 {
			if !p.IntegrateOnly {
				f = f.Add(penalty(p.BoilerPenalty, uk[dynamo.BoilerCommand], prev[dynamo.BoilerCommand]))
			}
			if p.CompensateFlow {
				f = f.Add(penalty(p.MixPenalty, uk[dynamo.MixRatio], prev[dynamo.MixRatio]))
			}
			if p.OptimizeFlow {
				f = f.Add(penalty(p.FlowPenalty, uk[dynamo.TotalFlow], prev[dynamo.TotalFlow]))
			}
		}
		prev = uk

		next := w[l.StateOffset(k+1) : l.StateOffset(k+1)+l.StateDim]
		cons = append(cons, out[0].Sub(next)...)
	}

	log.WithFields(log.Fields{
		"steps":       l.Steps,
		"variables":   l.Len(),
		"constraints": len(cons),
		"nodes":       g.Len(),
	}).Debug("transcribed multiple shooting problem")

	return &nlp.Problem{
		X:   w,
		F:   f,
		G:   cons,
		LBX: lbx,
		UBX: ubx,
		X0:  append([]float64(nil), guess...),
	}, nil
}

func penalty(weight float64, cur, prev expr.Expr) expr.Expr {
	return cur.Sub(prev).Pow(2).Scale(weight)
}
