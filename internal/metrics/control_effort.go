package metrics

import (
	"github.com/san-kum/fumes/internal/dynamo"
)

// ControlEffort accumulates the weighted squared change of each control
// channel between consecutive samples, the same quantity the optimizer
// penalizes.
type ControlEffort struct {
	name    string
	weights []float64
	prev    dynamo.Control
	sum     float64
}

func NewControlEffort(weights ...float64) *ControlEffort {
	return &ControlEffort{
		name:    "control_effort",
		weights: weights,
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if c.prev != nil {
		for i, val := range u {
			w := 1.0
			if i < len(c.weights) {
				w = c.weights[i]
			}
			d := val - c.prev[i]
			c.sum += w * d * d
		}
	}
	c.prev = u.Clone()
}

func (c *ControlEffort) Value() float64 {
	return c.sum
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.prev = nil
}
