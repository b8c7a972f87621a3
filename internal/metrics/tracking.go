package metrics

import (
	"math"

	"github.com/san-kum/fumes/internal/dynamo"
)

// TrackingError is the root mean square distance of one state channel to a
// time-dependent target.
type TrackingError struct {
	name    string
	channel int
	target  func(t float64) float64
	sum     float64
	samples int
}

func NewTrackingError(channel int, target func(t float64) float64) *TrackingError {
	return &TrackingError{
		name:    "tracking_rmse",
		channel: channel,
		target:  target,
	}
}

func (m *TrackingError) Name() string {
	return m.name
}

func (m *TrackingError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	d := x[m.channel] - m.target(t)
	m.sum += d * d
	m.samples++
}

func (m *TrackingError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sum / float64(m.samples))
}

func (m *TrackingError) Reset() {
	m.sum = 0
	m.samples = 0
}
