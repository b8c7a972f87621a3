// Package furnace assembles the coupled atmosphere-composition and boiler
// dynamics of an annealing furnace as symbolic expressions.
package furnace

import (
	"fmt"
	"math"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/schedule"
)

// DefaultSubSteps is the number of RK4 sub-steps per macro step.
const DefaultSubSteps = 4

// Composition holds the molar fractions of the tracked species.
type Composition struct {
	Water          float64 `json:"water"`
	Hydrogen       float64 `json:"hydrogen"`
	CarbonMonoxide float64 `json:"carbon_monoxide"`
}

func (c Composition) Slice() []float64 {
	return []float64{c.Water, c.Hydrogen, c.CarbonMonoxide}
}

// Segment is one production coil: how long it stays in the furnace, the
// water content to track meanwhile and the surface reaction constants.
type Segment struct {
	Duration        float64 `json:"duration"`
	TargetWater     float64 `json:"target_water"`
	Reduction       float64 `json:"reduction"`
	Oxidation       float64 `json:"oxidation"`
	Decarburization float64 `json:"decarburization"`
}

// Parameters is the complete physical description of one optimization run
// in solver units: seconds, moles, moles per second and molar fractions.
type Parameters struct {
	Moles              float64 `json:"moles"`
	BoilerStartTime    float64 `json:"boiler_start_time"`
	BoilerResponseTime float64 `json:"boiler_response_time"`
	BoilerCapacity     float64 `json:"boiler_capacity"`
	Sharpness          int     `json:"sharpness"`

	TimeStep float64 `json:"time_step"`
	SubSteps int     `json:"sub_steps"`

	Initial       Composition `json:"initial"`
	InitialBoiler float64     `json:"initial_boiler"`

	SourceOne Composition `json:"source_one"`
	SourceTwo Composition `json:"source_two"`
	FlowOne   float64     `json:"flow_one"`
	FlowTwo   float64     `json:"flow_two"`

	TotalFlowMin float64 `json:"total_flow_min"`
	TotalFlowMax float64 `json:"total_flow_max"`

	// Composition limits applied to every state node after the first.
	// Hydrogen and carbon monoxide limits only apply when the matching
	// constrain flag is set.
	CompositionMin Composition `json:"composition_min"`
	CompositionMax Composition `json:"composition_max"`

	BoilerPenalty float64 `json:"boiler_penalty"`
	MixPenalty    float64 `json:"mix_penalty"`
	FlowPenalty   float64 `json:"flow_penalty"`

	Segments []Segment `json:"segments"`

	IntegrateOnly           bool `json:"integrate_only"`
	CompensateFlow          bool `json:"compensate_flow"`
	OptimizeFlow            bool `json:"optimize_flow"`
	ConstrainHydrogen       bool `json:"constrain_hydrogen"`
	ConstrainCarbonMonoxide bool `json:"constrain_carbon_monoxide"`
}

// Validate checks the physical sanity of the parameters. Bound ordering is
// left to the transcription, which reports it per decision variable.
func (p Parameters) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"moles", p.Moles},
		{"boiler_response_time", p.BoilerResponseTime},
		{"time_step", p.TimeStep},
	}
	for _, f := range positive {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %g", dynamo.ErrParameterBounds, f.name, f.v)
		}
	}
	if p.BoilerCapacity < 0 {
		return fmt.Errorf("%w: boiler_capacity must be non-negative, got %g", dynamo.ErrParameterBounds, p.BoilerCapacity)
	}
	if p.BoilerStartTime < 0 {
		return fmt.Errorf("%w: boiler_start_time must be non-negative, got %g", dynamo.ErrParameterBounds, p.BoilerStartTime)
	}
	if p.Sharpness < 1 {
		return fmt.Errorf("%w: sharpness must be at least 1, got %d", dynamo.ErrParameterBounds, p.Sharpness)
	}
	if p.SubSteps < 0 {
		return fmt.Errorf("%w: sub_steps must be non-negative, got %d", dynamo.ErrParameterBounds, p.SubSteps)
	}
	if p.FlowOne < 0 || p.FlowTwo < 0 {
		return fmt.Errorf("%w: source flows must be non-negative", dynamo.ErrParameterBounds)
	}
	if p.FlowOne+p.FlowTwo <= 0 {
		return fmt.Errorf("%w: initial total flow must be positive to define the mixing ratio", dynamo.ErrParameterBounds)
	}
	for _, pen := range []float64{p.BoilerPenalty, p.MixPenalty, p.FlowPenalty} {
		if pen < 0 {
			return fmt.Errorf("%w: penalties must be non-negative", dynamo.ErrParameterBounds)
		}
	}
	if len(p.Segments) == 0 {
		return &dynamo.InvalidScheduleError{Reason: "at least one production segment is required"}
	}
	if _, err := p.schedule(func(s Segment) float64 { return s.TargetWater }); err != nil {
		return err
	}
	if p.Horizon() <= 0 {
		return fmt.Errorf("%w: production horizon must be positive", dynamo.ErrParameterBounds)
	}
	return nil
}

// Steps returns the number of macro steps covering the horizon.
func (p Parameters) Steps() int {
	return int(math.Ceil(p.Horizon()/p.TimeStep - 1e-9))
}

func (p Parameters) Horizon() float64 {
	total := 0.0
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

func (p Parameters) SubStepCount() int {
	if p.SubSteps <= 0 {
		return DefaultSubSteps
	}
	return p.SubSteps
}

// InitialFlow is the total flow of both sources at the start of the run.
func (p Parameters) InitialFlow() float64 {
	return p.FlowOne + p.FlowTwo
}

// InitialMix is the fraction of the total flow drawn from source one.
func (p Parameters) InitialMix() float64 {
	return p.FlowOne / p.InitialFlow()
}

// InitialState is the state vector at t = 0.
func (p Parameters) InitialState() dynamo.State {
	return dynamo.State{p.Initial.Water, p.Initial.Hydrogen, p.Initial.CarbonMonoxide, p.InitialBoiler}
}

// InitialControl is the control triple the run starts from.
func (p Parameters) InitialControl() dynamo.Control {
	return dynamo.Control{p.InitialBoiler, p.InitialMix(), p.InitialFlow()}
}

// EffectiveBoilerStart is the boiler start time, collapsed to zero when the
// boiler is already producing steam.
func (p Parameters) EffectiveBoilerStart() float64 {
	if p.InitialBoiler > 0 {
		return 0
	}
	return p.BoilerStartTime
}

// Target is the water content schedule to track.
func (p Parameters) Target() (schedule.Schedule, error) {
	return p.schedule(func(s Segment) float64 { return s.TargetWater })
}

func (p Parameters) schedule(level func(Segment) float64) (schedule.Schedule, error) {
	durations := make([]float64, len(p.Segments))
	levels := make([]float64, len(p.Segments))
	for i, s := range p.Segments {
		durations[i] = s.Duration
		levels[i] = level(s)
	}
	return schedule.New(durations, levels)
}
