// Package nlp defines the nonlinear program handed to a solver and ships an
// augmented Lagrangian solver for equality-constrained, box-bounded problems.
package nlp

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
)

// Solver status values. The names follow the Ipopt return codes.
const (
	StatusSucceeded     = "Solve_Succeeded"
	StatusAcceptable    = "Solved_To_Acceptable_Level"
	StatusMaxIterations = "Maximum_Iterations_Exceeded"
	StatusInfeasible    = "Infeasible_Problem_Detected"
	StatusInvalidNumber = "Invalid_Number_Detected"
)

// Problem is min F(X) subject to G(X) = 0 and LBX <= X <= UBX.
type Problem struct {
	X   expr.Vec
	F   expr.Expr
	G   expr.Vec
	LBX []float64
	UBX []float64

	// X0 is the initial guess. When nil the solver starts from the bounds.
	X0 []float64
}

// Validate checks that the bound and guess arrays match the decision vector.
func (p *Problem) Validate() error {
	n := len(p.X)
	if len(p.LBX) != n || len(p.UBX) != n {
		return fmt.Errorf("%w: %d variables, %d lower and %d upper bounds",
			dynamo.ErrDimensionMismatch, n, len(p.LBX), len(p.UBX))
	}
	if p.X0 != nil && len(p.X0) != n {
		return fmt.Errorf("%w: %d variables, initial guess of %d", dynamo.ErrDimensionMismatch, n, len(p.X0))
	}
	for i := range p.LBX {
		if math.IsNaN(p.LBX[i]) || math.IsNaN(p.UBX[i]) || p.LBX[i] > p.UBX[i] {
			return &dynamo.InvalidBoundsError{Index: i, Name: p.X[i].String(), Lower: p.LBX[i], Upper: p.UBX[i]}
		}
	}
	return nil
}

// Solution mirrors the output of an NLP solver: primal values, bound and
// constraint multipliers, the objective and the final status.
type Solution struct {
	X          []float64 `json:"x"`
	G          []float64 `json:"g"`
	LamX       []float64 `json:"lam_x"`
	LamG       []float64 `json:"lam_g"`
	F          float64   `json:"f"`
	Status     string    `json:"status"`
	Iterations int       `json:"iterations"`
}

// Succeeded reports whether the solver converged, to full or acceptable
// tolerance.
func (s *Solution) Succeeded() bool {
	return s.Status == StatusSucceeded || s.Status == StatusAcceptable
}

// MaxViolation is the largest absolute constraint residual.
func (s *Solution) MaxViolation() float64 {
	return maxAbs(s.G)
}

type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}

// Iteration reports the state of an outer iteration to a progress callback.
type Iteration struct {
	Outer      int     `json:"outer"`
	Inner      int     `json:"inner"`
	Objective  float64 `json:"objective"`
	Violation  float64 `json:"violation"`
	Optimality float64 `json:"optimality"`
	Penalty    float64 `json:"penalty"`
	Barrier    float64 `json:"barrier"`
	Converging bool    `json:"converging"`
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m || math.IsNaN(a) {
			m = a
		}
	}
	return m
}
