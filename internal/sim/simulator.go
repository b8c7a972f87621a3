package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/fumes/internal/dynamo"
)

type Simulator struct {
	transition Transition
	controller Controller
	metrics    []Metric
	observers  []Observer
}

func New(transition Transition, controller Controller) *Simulator {
	return &Simulator{
		transition: transition,
		controller: controller,
		metrics:    make([]Metric, 0),
		observers:  make([]Observer, 0),
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) Run(ctx context.Context, x0 dynamo.State, cfg Config) (*Result, error) {
	if err := s.validateConfig(x0, cfg); err != nil {
		return nil, err
	}

	steps := cfg.Steps
	if steps <= 0 {
		steps = int(math.Ceil(cfg.Duration/cfg.Dt - 1e-9))
	}
	result := &Result{
		States:   make([]dynamo.State, 0, steps+1),
		Controls: make([]dynamo.Control, 0, steps),
		Times:    make([]float64, 0, steps+1),
		Metrics:  make(map[string]float64),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	x := x0.Clone()
	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, 0)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		t := float64(i) * cfg.Dt
		u := s.controller.Compute(x, t)

		for _, m := range s.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, t)
		}

		newX, quad := s.transition.Step(t, x, u)
		if cfg.ValidateState && !newX.IsValid() {
			return result, &dynamo.SimulationError{
				Step:    i,
				Time:    t,
				State:   x.Clone(),
				Wrapped: fmt.Errorf("invalid state (NaN/Inf)"),
			}
		}

		x = newX
		result.Quadrature += quad
		result.StepsTaken++

		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u.Clone())
		result.Times = append(result.Times, float64(i+1)*cfg.Dt)
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	return result, nil
}

func (s *Simulator) validateConfig(x0 dynamo.State, cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Steps <= 0 && cfg.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", cfg.Duration)
	}
	if len(x0) != s.transition.StateDim() {
		return fmt.Errorf("%w: initial state has %d entries, want %d",
			dynamo.ErrDimensionMismatch, len(x0), s.transition.StateDim())
	}
	return nil
}
