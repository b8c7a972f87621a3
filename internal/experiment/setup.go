package experiment

import (
	"github.com/san-kum/fumes/internal/config"
	"github.com/san-kum/fumes/internal/nlp"
)

// Setup converts a configuration into an experiment and the solver it
// names. progress may be nil.
func Setup(cfg *config.Config, registry *Registry, progress func(nlp.Iteration)) (*Experiment, nlp.Solver, error) {
	params, err := cfg.Parameters()
	if err != nil {
		return nil, nil, err
	}

	name := cfg.Solver.Name
	if name == "" {
		name = config.DefaultSolver
	}
	solver, err := registry.GetSolver(name, SolverSettings{
		MaxIterations:   cfg.Solver.MaxIterations,
		InnerIterations: cfg.Solver.InnerIterations,
		Tolerance:       cfg.Solver.Tolerance,
		Progress:        progress,
	})
	if err != nil {
		return nil, nil, err
	}

	exp, err := New(params, Options{Guess: GuessMode(cfg.Solver.Guess)})
	if err != nil {
		return nil, nil, err
	}
	return exp, solver, nil
}
