package expr

import (
	"errors"
	"fmt"
)

var (
	ErrArity       = errors.New("expr: wrong number of arguments")
	ErrShape       = errors.New("expr: argument shape mismatch")
	ErrNotSymbol   = errors.New("expr: function input is not a symbol")
	ErrFreeSymbol  = errors.New("expr: free symbol not bound to an input")
	ErrForeignExpr = errors.New("expr: expression belongs to another graph")
)

// Function is a named mapping from symbolic inputs to symbolic outputs.
// Calling it substitutes the arguments for the input symbols by copying the
// part of the graph the outputs depend on, folding constants on the way.
type Function struct {
	name     string
	g        *Graph
	inNames  []string
	inputs   []Vec
	outNames []string
	outputs  []Vec
}

func NewFunction(name string, inNames []string, inputs []Vec, outNames []string, outputs []Vec) (*Function, error) {
	if len(inNames) != len(inputs) {
		return nil, fmt.Errorf("%s: %d input names for %d inputs", name, len(inNames), len(inputs))
	}
	if len(outNames) != len(outputs) {
		return nil, fmt.Errorf("%s: %d output names for %d outputs", name, len(outNames), len(outputs))
	}
	if err := uniqueNames(inNames); err != nil {
		return nil, fmt.Errorf("%s: inputs: %w", name, err)
	}
	if err := uniqueNames(outNames); err != nil {
		return nil, fmt.Errorf("%s: outputs: %w", name, err)
	}

	var g *Graph
	for _, v := range append(append([]Vec{}, inputs...), outputs...) {
		for _, e := range v {
			if e.g == nil {
				return nil, fmt.Errorf("%s: zero expression", name)
			}
			if g == nil {
				g = e.g
			}
			if e.g != g {
				return nil, fmt.Errorf("%s: %w", name, ErrForeignExpr)
			}
		}
	}
	if g == nil {
		return nil, fmt.Errorf("%s: function has no expressions", name)
	}

	seen := make(map[int32]bool)
	for i, in := range inputs {
		for j, s := range in {
			if !s.IsSymbol() {
				return nil, fmt.Errorf("%s: %s[%d]: %w", name, inNames[i], j, ErrNotSymbol)
			}
			if seen[s.id] {
				return nil, fmt.Errorf("%s: symbol %s used twice as input", name, s)
			}
			seen[s.id] = true
		}
	}

	return &Function{
		name:     name,
		g:        g,
		inNames:  inNames,
		inputs:   inputs,
		outNames: outNames,
		outputs:  outputs,
	}, nil
}

func uniqueNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return fmt.Errorf("duplicate name %q", n)
		}
		seen[n] = true
	}
	return nil
}

func (f *Function) Name() string          { return f.name }
func (f *Function) Graph() *Graph         { return f.g }
func (f *Function) InputNames() []string  { return f.inNames }
func (f *Function) OutputNames() []string { return f.outNames }
func (f *Function) Inputs() []Vec         { return f.inputs }
func (f *Function) Outputs() []Vec        { return f.outputs }

// Call evaluates f symbolically with positional arguments.
func (f *Function) Call(args ...Vec) ([]Vec, error) {
	if len(args) != len(f.inputs) {
		return nil, fmt.Errorf("%s: %w: want %d, got %d", f.name, ErrArity, len(f.inputs), len(args))
	}

	subst := make(map[int32]Expr)
	for i, in := range f.inputs {
		if len(args[i]) != len(in) {
			return nil, fmt.Errorf("%s: %s: %w: want %d, got %d", f.name, f.inNames[i], ErrShape, len(in), len(args[i]))
		}
		for j, s := range in {
			a := args[i][j]
			if a.g != f.g {
				return nil, fmt.Errorf("%s: %s[%d]: %w", f.name, f.inNames[i], j, ErrForeignExpr)
			}
			subst[s.id] = a
		}
	}

	return f.g.substitute(f.outputs, subst), nil
}

// CallNamed evaluates f symbolically with arguments given by input name and
// returns the outputs keyed by output name.
func (f *Function) CallNamed(args map[string]Vec) (map[string]Vec, error) {
	positional := make([]Vec, len(f.inputs))
	for i, n := range f.inNames {
		a, ok := args[n]
		if !ok {
			return nil, fmt.Errorf("%s: %w: missing %q", f.name, ErrArity, n)
		}
		positional[i] = a
	}
	if len(args) != len(f.inNames) {
		return nil, fmt.Errorf("%s: %w: unexpected arguments", f.name, ErrArity)
	}

	outs, err := f.Call(positional...)
	if err != nil {
		return nil, err
	}

	named := make(map[string]Vec, len(outs))
	for i, n := range f.outNames {
		named[n] = outs[i]
	}
	return named, nil
}

func (g *Graph) substitute(outs []Vec, subst map[int32]Expr) []Vec {
	var roots []int32
	for _, v := range outs {
		for _, e := range v {
			roots = append(roots, e.id)
		}
	}

	seen := g.reachable(roots)
	memo := make([]Expr, len(seen))
	for id := range seen {
		if !seen[id] {
			continue
		}
		n := g.nodes[id]
		switch n.op {
		case opConst:
			memo[id] = Expr{g, int32(id)}
		case opSym:
			if e, ok := subst[int32(id)]; ok {
				memo[id] = e
			} else {
				memo[id] = Expr{g, int32(id)}
			}
		case opAdd, opSub, opMul, opDiv:
			memo[id] = g.rebuild(n, memo[n.a], memo[n.b])
		default:
			memo[id] = g.rebuild(n, memo[n.a], Expr{})
		}
	}

	result := make([]Vec, len(outs))
	for i, v := range outs {
		result[i] = make(Vec, len(v))
		for j, e := range v {
			result[i][j] = memo[e.id]
		}
	}
	return result
}
