// Package expr is a small symbolic expression engine for building optimal
// control problems.
//
// Expressions live in a [Graph], an append-only arena addressed by index.
// Constants fold on construction, so substituting numeric arguments into a
// [Function] collapses every time-only subexpression to a number. A
// [Program] compiles the nodes some outputs depend on into a tape that can
// be evaluated and differentiated in reverse mode.
//
//	g := expr.NewGraph()
//	x := g.Sym("x")
//	f := x.Pow(2).Add(x.Exp())
//	p, _ := expr.Compile(expr.Vec{x}, f)
//	out := make([]float64, 1)
//	grad := make([]float64, 1)
//	p.Gradient([]float64{1}, []float64{1}, out, grad)
//
// A Graph is not safe for concurrent mutation; build one graph per problem.
package expr
