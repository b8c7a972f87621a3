package experiment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/fumes/internal/nlp"
)

var ErrUnknownSolver = errors.New("unknown solver")

// SolverSettings are the knobs shared by every registered solver.
type SolverSettings struct {
	MaxIterations   int
	InnerIterations int
	Tolerance       float64
	Progress        func(nlp.Iteration)
}

type Registry struct {
	solvers map[string]func(SolverSettings) nlp.Solver
}

func NewRegistry() *Registry {
	r := &Registry{
		solvers: make(map[string]func(SolverSettings) nlp.Solver),
	}

	r.solvers["auglag"] = func(s SolverSettings) nlp.Solver {
		al := nlp.NewAugmentedLagrangian()
		if s.MaxIterations > 0 {
			al.MaxOuter = s.MaxIterations
		}
		if s.InnerIterations > 0 {
			al.InnerIterations = s.InnerIterations
		}
		if s.Tolerance > 0 {
			al.ConstraintTol = s.Tolerance
		}
		al.Progress = s.Progress
		return al
	}

	return r
}

// Register adds or replaces a solver factory.
func (r *Registry) Register(name string, factory func(SolverSettings) nlp.Solver) {
	r.solvers[name] = factory
}

func (r *Registry) GetSolver(name string, s SolverSettings) (nlp.Solver, error) {
	fn, ok := r.solvers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSolver, name)
	}
	return fn(s), nil
}

func (r *Registry) ListSolvers() []string {
	names := make([]string, 0, len(r.solvers))
	for name := range r.solvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
