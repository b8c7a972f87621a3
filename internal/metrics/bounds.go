package metrics

import (
	"github.com/san-kum/fumes/internal/dynamo"
)

// BoundsCompliance is the fraction of samples whose state lies inside
// [lower, upper] on every channel.
type BoundsCompliance struct {
	name       string
	lower      dynamo.State
	upper      dynamo.State
	tolerance  float64
	violations int
	samples    int
}

func NewBoundsCompliance(lower, upper dynamo.State, tolerance float64) *BoundsCompliance {
	return &BoundsCompliance{
		name:      "bounds_compliance",
		lower:     lower,
		upper:     upper,
		tolerance: tolerance,
	}
}

func (b *BoundsCompliance) Name() string {
	return b.name
}

func (b *BoundsCompliance) Observe(x dynamo.State, u dynamo.Control, t float64) {
	b.samples++
	for i, val := range x {
		if val < b.lower[i]-b.tolerance || val > b.upper[i]+b.tolerance {
			b.violations++
			break
		}
	}
}

func (b *BoundsCompliance) Value() float64 {
	if b.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(b.violations)/float64(b.samples)
}

func (b *BoundsCompliance) Reset() {
	b.violations = 0
	b.samples = 0
}
