package expr

import (
	"fmt"
	"math"
	"strconv"
)

type op uint8

const (
	opConst op = iota
	opSym
	opAdd
	opSub
	opMul
	opDiv
	opNeg
	opPow
	opExp
	opStep
)

type node struct {
	op   op
	a, b int32
	k    int
	val  float64
	name string
}

// Graph is an append-only arena of expression nodes. Operands are always
// pushed before the nodes using them, so ascending ids are a topological
// order of the graph.
type Graph struct {
	nodes []node
	zero  int32
	one   int32
}

func NewGraph() *Graph {
	g := &Graph{nodes: make([]node, 0, 1024)}
	g.zero = g.push(node{op: opConst, val: 0})
	g.one = g.push(node{op: opConst, val: 1})
	return g
}

// Len returns the number of nodes allocated so far.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) push(n node) int32 {
	g.nodes = append(g.nodes, n)
	return int32(len(g.nodes) - 1)
}

// Expr is a handle to a node of a Graph. The zero Expr is invalid.
type Expr struct {
	g  *Graph
	id int32
}

func (g *Graph) Const(v float64) Expr {
	switch v {
	case 0:
		return Expr{g, g.zero}
	case 1:
		return Expr{g, g.one}
	}
	return Expr{g, g.push(node{op: opConst, val: v})}
}

func (g *Graph) Sym(name string) Expr {
	return Expr{g, g.push(node{op: opSym, name: name})}
}

// SymVec allocates n scalar symbols named name[0] ... name[n-1].
func (g *Graph) SymVec(name string, n int) Vec {
	v := make(Vec, n)
	for i := range v {
		v[i] = g.Sym(name + "[" + strconv.Itoa(i) + "]")
	}
	return v
}

func (g *Graph) ConstVec(vals ...float64) Vec {
	v := make(Vec, len(vals))
	for i, val := range vals {
		v[i] = g.Const(val)
	}
	return v
}

func (g *Graph) check(x Expr) {
	if x.g == nil {
		panic("expr: use of zero Expr")
	}
	if x.g != g {
		panic("expr: mixing expressions from different graphs")
	}
}

func (x Expr) Graph() *Graph { return x.g }

// Value reports the value of a constant expression.
func (x Expr) Value() (float64, bool) {
	n := x.g.nodes[x.id]
	return n.val, n.op == opConst
}

func (x Expr) IsSymbol() bool {
	return x.g != nil && x.g.nodes[x.id].op == opSym
}

func (x Expr) Add(y Expr) Expr { return x.g.binary(opAdd, x, y) }
func (x Expr) Sub(y Expr) Expr { return x.g.binary(opSub, x, y) }
func (x Expr) Mul(y Expr) Expr { return x.g.binary(opMul, x, y) }
func (x Expr) Div(y Expr) Expr { return x.g.binary(opDiv, x, y) }

func (x Expr) AddConst(c float64) Expr { return x.Add(x.g.Const(c)) }
func (x Expr) Scale(c float64) Expr    { return x.Mul(x.g.Const(c)) }

func (x Expr) Neg() Expr {
	x.g.check(x)
	if v, ok := x.Value(); ok {
		return x.g.Const(-v)
	}
	return Expr{x.g, x.g.push(node{op: opNeg, a: x.id})}
}

// Pow raises x to an integer power.
func (x Expr) Pow(k int) Expr {
	x.g.check(x)
	switch k {
	case 0:
		return x.g.Const(1)
	case 1:
		return x
	}
	if v, ok := x.Value(); ok {
		return x.g.Const(powi(v, k))
	}
	return Expr{x.g, x.g.push(node{op: opPow, a: x.id, k: k})}
}

func (x Expr) Exp() Expr {
	x.g.check(x)
	if v, ok := x.Value(); ok {
		return x.g.Const(math.Exp(v))
	}
	return Expr{x.g, x.g.push(node{op: opExp, a: x.id})}
}

// Step is the exact unit step: 0 below zero, 1 above and 1/2 at zero. Its
// derivative is taken as zero everywhere.
func (x Expr) Step() Expr {
	x.g.check(x)
	if v, ok := x.Value(); ok {
		return x.g.Const(heaviside(v))
	}
	return Expr{x.g, x.g.push(node{op: opStep, a: x.id})}
}

func (g *Graph) binary(o op, a, b Expr) Expr {
	g.check(a)
	g.check(b)

	av, aok := a.Value()
	bv, bok := b.Value()
	if aok && bok {
		return g.Const(apply(o, av, bv, 0))
	}

	switch o {
	case opAdd:
		if aok && av == 0 {
			return b
		}
		if bok && bv == 0 {
			return a
		}
	case opSub:
		if bok && bv == 0 {
			return a
		}
		if aok && av == 0 {
			return b.Neg()
		}
	case opMul:
		if (aok && av == 0) || (bok && bv == 0) {
			return g.Const(0)
		}
		if aok && av == 1 {
			return b
		}
		if bok && bv == 1 {
			return a
		}
	case opDiv:
		if bok && bv == 1 {
			return a
		}
		if aok && av == 0 {
			return g.Const(0)
		}
	}

	return Expr{g, g.push(node{op: o, a: a.id, b: b.id})}
}

// rebuild re-applies the operation of n to new operands.
func (g *Graph) rebuild(n node, a, b Expr) Expr {
	switch n.op {
	case opAdd, opSub, opMul, opDiv:
		return g.binary(n.op, a, b)
	case opNeg:
		return a.Neg()
	case opPow:
		return a.Pow(n.k)
	case opExp:
		return a.Exp()
	case opStep:
		return a.Step()
	}
	panic(fmt.Sprintf("expr: cannot rebuild op %d", n.op))
}

func apply(o op, a, b float64, k int) float64 {
	switch o {
	case opAdd:
		return a + b
	case opSub:
		return a - b
	case opMul:
		return a * b
	case opDiv:
		return a / b
	case opNeg:
		return -a
	case opPow:
		return powi(a, k)
	case opExp:
		return math.Exp(a)
	case opStep:
		return heaviside(a)
	}
	panic(fmt.Sprintf("expr: unknown op %d", o))
}

func powi(x float64, k int) float64 {
	switch k {
	case 2:
		return x * x
	case 3:
		return x * x * x
	}
	return math.Pow(x, float64(k))
}

func heaviside(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 0:
		return 1
	}
	return 0.5
}

func (x Expr) String() string {
	n := x.g.nodes[x.id]
	switch n.op {
	case opConst:
		return strconv.FormatFloat(n.val, 'g', -1, 64)
	case opSym:
		return n.name
	case opAdd:
		return "(" + Expr{x.g, n.a}.String() + " + " + Expr{x.g, n.b}.String() + ")"
	case opSub:
		return "(" + Expr{x.g, n.a}.String() + " - " + Expr{x.g, n.b}.String() + ")"
	case opMul:
		return Expr{x.g, n.a}.String() + "*" + Expr{x.g, n.b}.String()
	case opDiv:
		return Expr{x.g, n.a}.String() + "/" + Expr{x.g, n.b}.String()
	case opNeg:
		return "-" + Expr{x.g, n.a}.String()
	case opPow:
		return Expr{x.g, n.a}.String() + "^" + strconv.Itoa(n.k)
	case opExp:
		return "exp(" + Expr{x.g, n.a}.String() + ")"
	case opStep:
		return "step(" + Expr{x.g, n.a}.String() + ")"
	}
	return "?"
}

// reachable marks every node the given roots depend on.
func (g *Graph) reachable(roots []int32) []bool {
	seen := make([]bool, len(g.nodes))
	stack := append([]int32(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		n := g.nodes[id]
		switch n.op {
		case opConst, opSym:
		case opAdd, opSub, opMul, opDiv:
			stack = append(stack, n.a, n.b)
		default:
			stack = append(stack, n.a)
		}
	}
	return seen
}
