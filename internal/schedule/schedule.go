// Package schedule builds smooth piecewise-constant functions of time from
// segment durations and per-segment levels.
package schedule

import (
	"math"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
)

// centerTolerance is the distance from zero below which a transition is
// treated as an exact unit step.
const centerTolerance = 10 * 2.220446049250313e-16

// Schedule holds one level per segment. Levels[0] applies from t = 0 and
// Levels[i] takes over at the cumulative duration of the segments before it.
type Schedule struct {
	Durations []float64
	Levels    []float64
}

func New(durations, levels []float64) (Schedule, error) {
	if len(durations) != len(levels) {
		return Schedule{}, &dynamo.InvalidScheduleError{
			Durations: len(durations),
			Levels:    len(levels),
			Reason:    "durations and levels must have the same length",
		}
	}
	if len(levels) == 0 {
		return Schedule{}, &dynamo.InvalidScheduleError{Reason: "at least one segment is required"}
	}
	for _, d := range durations {
		if d < 0 || math.IsNaN(d) {
			return Schedule{}, &dynamo.InvalidScheduleError{
				Durations: len(durations),
				Levels:    len(levels),
				Reason:    "durations must be non-negative",
			}
		}
	}

	s := Schedule{
		Durations: make([]float64, len(durations)),
		Levels:    make([]float64, len(levels)),
	}
	copy(s.Durations, durations)
	copy(s.Levels, levels)
	return s, nil
}

// Horizon is the total duration of the schedule.
func (s Schedule) Horizon() float64 {
	total := 0.0
	for _, d := range s.Durations {
		total += d
	}
	return total
}

// Transitions returns the times at which each level after the first takes over.
func (s Schedule) Transitions() []float64 {
	if len(s.Levels) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s.Levels)-1)
	tc := 0.0
	for i := 1; i < len(s.Levels); i++ {
		tc += s.Durations[i-1]
		out = append(out, tc)
	}
	return out
}

// Build returns k[0] + sum_i SmoothHeaviside(t, tc_i, b) * (k[i] - k[i-1]).
func (s Schedule) Build(t expr.Expr, b int) expr.Expr {
	g := t.Graph()
	val := g.Const(s.Levels[0])
	for i, tc := range s.Transitions() {
		jump := s.Levels[i+1] - s.Levels[i]
		val = val.Add(SmoothHeaviside(t, tc, b).Scale(jump))
	}
	return val
}

// Value evaluates the same function as Build at a numeric time.
func (s Schedule) Value(t float64, b int) float64 {
	val := s.Levels[0]
	for i, tc := range s.Transitions() {
		val += smoothHeaviside(t, tc, b) * (s.Levels[i+1] - s.Levels[i])
	}
	return val
}

// SmoothHeaviside approximates a unit step centered at tc with a
// Butterworth-like filter of order b: 1 - 1/(1 + (t/tc)^b). Higher orders
// give sharper steps. A center indistinguishable from zero falls back to the
// exact step.
func SmoothHeaviside(t expr.Expr, tc float64, b int) expr.Expr {
	g := t.Graph()
	if math.Abs(tc) <= centerTolerance {
		return t.AddConst(-tc).Step()
	}
	one := g.Const(1)
	return one.Sub(one.Div(one.Add(t.Scale(1 / tc).Pow(b))))
}

func smoothHeaviside(t, tc float64, b int) float64 {
	if math.Abs(tc) <= centerTolerance {
		switch {
		case t < tc:
			return 0
		case t > tc:
			return 1
		}
		return 0.5
	}
	return 1 - 1/(1+math.Pow(t*(1/tc), float64(b)))
}
