package sim

import "github.com/san-kum/fumes/internal/dynamo"

// Transition advances the state over one macro step with the controls held,
// returning the new state and the quadrature accumulated over the step.
type Transition interface {
	Step(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, float64)
	StateDim() int
	ControlDim() int
}

type Controller interface {
	Compute(x dynamo.State, t float64) dynamo.Control
}

type Metric interface {
	Name() string
	Observe(x dynamo.State, u dynamo.Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x dynamo.State, u dynamo.Control, t float64)
}

type Config struct {
	Dt       float64
	Duration float64

	// Steps overrides Duration when positive.
	Steps int

	ValidateState bool
}

// Result holds Steps+1 states and times and one control per step.
type Result struct {
	States     []dynamo.State
	Controls   []dynamo.Control
	Times      []float64
	Quadrature float64
	Metrics    map[string]float64
	StepsTaken int
}

// Final returns the last recorded state.
func (r *Result) Final() dynamo.State {
	if len(r.States) == 0 {
		return nil
	}
	return r.States[len(r.States)-1]
}
