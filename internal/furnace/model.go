package furnace

import (
	"fmt"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
	"github.com/san-kum/fumes/internal/schedule"
)

// Argument names of the right-hand side and of every function derived from it.
var InputNames = []string{"t", "y", "v", "r", "q", "xs0", "xs1", "xs2"}

// Steam is the composition injected by the boiler.
var Steam = Composition{Water: 1}

// Model holds the symbols and right-hand side of the furnace ODE system
//
//	w2 = kdec*x0
//	w0 = kred*x1 - koxi*x0 - w2
//	w1 = -w0
//	xdot = (u*xs0 + q*(r*xs1 + (1-r)*xs2) - (u+q)*x + w) / n
//	udot = H(t, tstart) * (v - u) / tau
//
// where x is the composition part of the state and u the boiler output.
type Model struct {
	params Parameters
	graph  *expr.Graph

	T   expr.Expr
	Y   expr.Vec
	V   expr.Expr
	R   expr.Expr
	Q   expr.Expr
	XS0 expr.Vec
	XS1 expr.Vec
	XS2 expr.Vec

	YDot expr.Vec

	target schedule.Schedule
	rhs    *expr.Function
}

func NewModel(g *expr.Graph, p Parameters) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		params: p,
		graph:  g,
		T:      g.Sym("t"),
		Y:      g.SymVec("y", dynamo.StateDim),
		V:      g.Sym("v"),
		R:      g.Sym("r"),
		Q:      g.Sym("q"),
		XS0:    g.SymVec("xs0", 3),
		XS1:    g.SymVec("xs1", 3),
		XS2:    g.SymVec("xs2", 3),
	}

	var err error
	if m.target, err = p.Target(); err != nil {
		return nil, err
	}
	kred, err := m.coefficient(func(s Segment) float64 { return s.Reduction })
	if err != nil {
		return nil, err
	}
	koxi, err := m.coefficient(func(s Segment) float64 { return s.Oxidation })
	if err != nil {
		return nil, err
	}
	kdec, err := m.coefficient(func(s Segment) float64 { return s.Decarburization })
	if err != nil {
		return nil, err
	}

	x := m.Y[:dynamo.Boiler]
	u := m.Y[dynamo.Boiler]

	w2 := kdec.Mul(x[0])
	w0 := kred.Mul(x[1]).Sub(koxi.Mul(x[0])).Sub(w2)
	w1 := w0.Neg()
	w := expr.Vec{w0, w1, w2}

	one := g.Const(1)
	qIn := m.XS0.Scale(u).Add(m.XS1.Scale(m.R).Add(m.XS2.Scale(one.Sub(m.R))).Scale(m.Q))
	qOut := u.Add(m.Q)
	nt := g.Const(p.Moles)
	xdot := qIn.Sub(x.Scale(qOut)).Add(w).DivBy(nt)

	heat := schedule.SmoothHeaviside(m.T, p.EffectiveBoilerStart(), p.Sharpness)
	udot := heat.Mul(m.V.Sub(u)).Scale(1 / p.BoilerResponseTime)

	m.YDot = expr.Concat(xdot, expr.Vec{udot})

	m.rhs, err = expr.NewFunction("f", InputNames, m.Inputs(), []string{"ydot"}, []expr.Vec{m.YDot})
	if err != nil {
		return nil, fmt.Errorf("furnace: build right-hand side: %w", err)
	}
	return m, nil
}

func (m *Model) coefficient(level func(Segment) float64) (expr.Expr, error) {
	s, err := m.params.schedule(level)
	if err != nil {
		return expr.Expr{}, err
	}
	return s.Build(m.T, m.params.Sharpness), nil
}

// Inputs returns the argument vectors of the right-hand side in InputNames order.
func (m *Model) Inputs() []expr.Vec {
	return []expr.Vec{{m.T}, m.Y, {m.V}, {m.R}, {m.Q}, m.XS0, m.XS1, m.XS2}
}

// RHS is ydot as a function of InputNames.
func (m *Model) RHS() *expr.Function { return m.rhs }

func (m *Model) Graph() *expr.Graph             { return m.graph }
func (m *Model) Parameters() Parameters         { return m.params }
func (m *Model) Target() schedule.Schedule      { return m.target }
func (m *Model) TargetAt(t expr.Expr) expr.Expr { return m.target.Build(t, m.params.Sharpness) }

// Sources returns the constant composition arguments xs0, xs1 and xs2.
func (m *Model) Sources() []expr.Vec {
	return []expr.Vec{
		m.graph.ConstVec(Steam.Slice()...),
		m.graph.ConstVec(m.params.SourceOne.Slice()...),
		m.graph.ConstVec(m.params.SourceTwo.Slice()...),
	}
}
