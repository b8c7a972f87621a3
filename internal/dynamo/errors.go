package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for model construction and solution handling.
var (
	// ErrInvalidSchedule indicates an empty or inconsistent step schedule.
	ErrInvalidSchedule = errors.New("dynamo: invalid step schedule")

	// ErrInvalidBounds indicates a decision variable whose lower bound exceeds its upper bound.
	ErrInvalidBounds = errors.New("dynamo: lower bound exceeds upper bound")

	// ErrSolverDiverged indicates the nonlinear solver did not report an optimal solution.
	ErrSolverDiverged = errors.New("dynamo: solver did not converge")

	// ErrMalformedSolution indicates a solution vector that does not match the problem layout.
	ErrMalformedSolution = errors.New("dynamo: malformed solution vector")

	// ErrParameterBounds indicates a physical parameter value is outside its valid range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// InvalidScheduleError reports why a step schedule was rejected.
type InvalidScheduleError struct {
	Durations int
	Levels    int
	Reason    string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("%s: %s (durations=%d, levels=%d)", ErrInvalidSchedule, e.Reason, e.Durations, e.Levels)
}

func (e *InvalidScheduleError) Unwrap() error {
	return ErrInvalidSchedule
}

// InvalidBoundsError identifies the decision variable whose bounds collapsed
// to an empty interval.
type InvalidBoundsError struct {
	Index int
	Name  string
	Lower float64
	Upper float64
}

func (e *InvalidBoundsError) Error() string {
	return fmt.Sprintf("%s: %s (index %d): %g > %g", ErrInvalidBounds, e.Name, e.Index, e.Lower, e.Upper)
}

func (e *InvalidBoundsError) Unwrap() error {
	return ErrInvalidBounds
}

// SolverDivergedError carries the diagnostics of a failed solve.
type SolverDivergedError struct {
	Status     string
	Iterations int
	Objective  float64
	Violation  float64
}

func (e *SolverDivergedError) Error() string {
	return fmt.Sprintf("%s: status %s after %d iterations (f=%g, max|g|=%g)",
		ErrSolverDiverged, e.Status, e.Iterations, e.Objective, e.Violation)
}

func (e *SolverDivergedError) Unwrap() error {
	return ErrSolverDiverged
}

// MalformedSolutionError describes a solution vector whose length is not
// N*stride + stateDim for some N >= 1.
type MalformedSolutionError struct {
	Length   int
	Stride   int
	StateDim int
}

func (e *MalformedSolutionError) Error() string {
	return fmt.Sprintf("%s: length %d is not n*%d+%d", ErrMalformedSolution, e.Length, e.Stride, e.StateDim)
}

func (e *MalformedSolutionError) Unwrap() error {
	return ErrMalformedSolution
}

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
