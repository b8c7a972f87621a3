package expr

import (
	"fmt"
	"math"
)

type instr struct {
	op  op
	a   int32
	b   int32
	k   int
	val float64
	in  int32
}

// Program is a compiled tape of the nodes some outputs depend on, with the
// listed symbols bound to input positions. A Program reuses its buffers and
// must not be shared between goroutines.
type Program struct {
	code    []instr
	outputs []int32
	nIn     int
	vals    []float64
	adj     []float64
}

func Compile(inputs Vec, outputs ...Expr) (*Program, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("expr: compile: no outputs")
	}
	g := outputs[0].g
	if g == nil {
		return nil, fmt.Errorf("expr: compile: zero expression")
	}

	roots := make([]int32, len(outputs))
	for i, o := range outputs {
		if o.g != g {
			return nil, fmt.Errorf("expr: compile: output %d: %w", i, ErrForeignExpr)
		}
		roots[i] = o.id
	}

	inputIndex := make(map[int32]int32, len(inputs))
	for i, s := range inputs {
		if s.g != g {
			return nil, fmt.Errorf("expr: compile: input %d: %w", i, ErrForeignExpr)
		}
		if !s.IsSymbol() {
			return nil, fmt.Errorf("expr: compile: input %d: %w", i, ErrNotSymbol)
		}
		if _, dup := inputIndex[s.id]; dup {
			return nil, fmt.Errorf("expr: compile: symbol %s bound twice", s)
		}
		inputIndex[s.id] = int32(i)
	}

	seen := g.reachable(roots)
	pos := make([]int32, len(seen))
	code := make([]instr, 0, len(seen)/2)

	for id := range seen {
		if !seen[id] {
			continue
		}
		n := g.nodes[id]
		in := instr{op: n.op, k: n.k, val: n.val, in: -1}

		switch n.op {
		case opConst:
		case opSym:
			idx, ok := inputIndex[int32(id)]
			if !ok {
				return nil, fmt.Errorf("expr: compile: %q: %w", n.name, ErrFreeSymbol)
			}
			in.in = idx
		case opAdd, opSub, opMul, opDiv:
			in.a = pos[n.a]
			in.b = pos[n.b]
		default:
			in.a = pos[n.a]
		}

		pos[id] = int32(len(code))
		code = append(code, in)
	}

	outPos := make([]int32, len(roots))
	for i, r := range roots {
		outPos[i] = pos[r]
	}

	return &Program{
		code:    code,
		outputs: outPos,
		nIn:     len(inputs),
		vals:    make([]float64, len(code)),
		adj:     make([]float64, len(code)),
	}, nil
}

func (p *Program) NumInputs() int  { return p.nIn }
func (p *Program) NumOutputs() int { return len(p.outputs) }

// Size is the number of instructions on the tape.
func (p *Program) Size() int { return len(p.code) }

func (p *Program) forward(x []float64) {
	if len(x) != p.nIn {
		panic(fmt.Sprintf("expr: program has %d inputs, got %d", p.nIn, len(x)))
	}

	v := p.vals
	for i := range p.code {
		c := &p.code[i]
		switch c.op {
		case opConst:
			v[i] = c.val
		case opSym:
			v[i] = x[c.in]
		case opAdd:
			v[i] = v[c.a] + v[c.b]
		case opSub:
			v[i] = v[c.a] - v[c.b]
		case opMul:
			v[i] = v[c.a] * v[c.b]
		case opDiv:
			v[i] = v[c.a] / v[c.b]
		case opNeg:
			v[i] = -v[c.a]
		case opPow:
			v[i] = powi(v[c.a], c.k)
		case opExp:
			v[i] = math.Exp(v[c.a])
		case opStep:
			v[i] = heaviside(v[c.a])
		}
	}
}

// Eval writes the outputs at x into out.
func (p *Program) Eval(x, out []float64) {
	if len(out) != len(p.outputs) {
		panic(fmt.Sprintf("expr: program has %d outputs, got buffer of %d", len(p.outputs), len(out)))
	}
	p.forward(x)
	for j, o := range p.outputs {
		out[j] = p.vals[o]
	}
}

// Gradient evaluates the outputs at x into out (when non-nil) and stores in
// grad the gradient of sum_j seeds[j]*output_j with respect to the inputs.
func (p *Program) Gradient(x, seeds, out, grad []float64) {
	if len(seeds) != len(p.outputs) {
		panic(fmt.Sprintf("expr: program has %d outputs, got %d seeds", len(p.outputs), len(seeds)))
	}
	if len(grad) != p.nIn {
		panic(fmt.Sprintf("expr: program has %d inputs, got gradient of %d", p.nIn, len(grad)))
	}

	p.forward(x)
	if out != nil {
		for j, o := range p.outputs {
			out[j] = p.vals[o]
		}
	}

	v := p.vals
	adj := p.adj
	for i := range adj {
		adj[i] = 0
	}
	for i := range grad {
		grad[i] = 0
	}
	for j, o := range p.outputs {
		adj[o] += seeds[j]
	}

	for i := len(p.code) - 1; i >= 0; i-- {
		a := adj[i]
		if a == 0 {
			continue
		}
		c := &p.code[i]
		switch c.op {
		case opSym:
			grad[c.in] += a
		case opAdd:
			adj[c.a] += a
			adj[c.b] += a
		case opSub:
			adj[c.a] += a
			adj[c.b] -= a
		case opMul:
			adj[c.a] += a * v[c.b]
			adj[c.b] += a * v[c.a]
		case opDiv:
			adj[c.a] += a / v[c.b]
			adj[c.b] -= a * v[i] / v[c.b]
		case opNeg:
			adj[c.a] -= a
		case opPow:
			adj[c.a] += a * float64(c.k) * powi(v[c.a], c.k-1)
		case opExp:
			adj[c.a] += a * v[i]
		}
	}
}
