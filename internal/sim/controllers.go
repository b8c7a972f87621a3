package sim

import (
	"math"

	"github.com/san-kum/fumes/internal/dynamo"
)

// Hold keeps the controls constant.
type Hold struct {
	U dynamo.Control
}

func (h *Hold) Compute(x dynamo.State, t float64) dynamo.Control {
	return h.U.Clone()
}

// Replay plays back a control schedule sampled every Dt. Times past the end
// keep the last control.
type Replay struct {
	Controls []dynamo.Control
	Dt       float64
}

func (r *Replay) Compute(x dynamo.State, t float64) dynamo.Control {
	if len(r.Controls) == 0 {
		return nil
	}
	k := int(math.Round(t / r.Dt))
	if k < 0 {
		k = 0
	}
	if k >= len(r.Controls) {
		k = len(r.Controls) - 1
	}
	return r.Controls[k].Clone()
}

// PID drives one control channel from the error between a setpoint and a
// measured quantity. The other channels keep Base. Output is clamped to
// [Min, Max] and the integral stops growing while the output saturates.
type PID struct {
	Kp, Ki, Kd float64

	Setpoint func(t float64) float64
	Measure  func(x dynamo.State) float64

	Base     dynamo.Control
	Channel  int
	Min, Max float64

	integral float64
	prevErr  float64
	prevT    float64
	started  bool
}

func NewPID(kp, ki, kd float64, base dynamo.Control, channel int) *PID {
	return &PID{
		Kp:      kp,
		Ki:      ki,
		Kd:      kd,
		Base:    base.Clone(),
		Channel: channel,
		Min:     math.Inf(-1),
		Max:     math.Inf(1),
	}
}

func (p *PID) Compute(x dynamo.State, t float64) dynamo.Control {
	u := p.Base.Clone()
	err := p.Setpoint(t) - p.Measure(x)

	derivative := 0.0
	integral := p.integral
	if p.started {
		if dt := t - p.prevT; dt > 0 {
			integral += err * dt
			derivative = (err - p.prevErr) / dt
		}
	}
	p.prevErr, p.prevT, p.started = err, t, true

	raw := p.Base[p.Channel] + p.Kp*err + p.Ki*integral + p.Kd*derivative
	out := math.Min(math.Max(raw, p.Min), p.Max)
	if out == raw {
		p.integral = integral
	}
	u[p.Channel] = out
	return u
}

// Reset clears the integral and derivative memory.
func (p *PID) Reset() {
	p.integral, p.prevErr, p.prevT, p.started = 0, 0, 0, false
}
