// Package trajectory unpacks a flat multiple shooting solution into aligned
// time series.
package trajectory

import (
	"github.com/san-kum/fumes/internal/dynamo"
)

// Row is one discretization node: the state at Time and the controls held
// from Time to Time + dt.
type Row struct {
	Time    float64        `json:"time"`
	State   dynamo.State   `json:"state"`
	Control dynamo.Control `json:"control"`
}

// Trajectory holds one row per control-carrying node. Final is the trailing
// state node, which has no controls attached.
type Trajectory struct {
	Rows  []Row        `json:"rows"`
	Final dynamo.State `json:"final"`
	Dt    float64      `json:"dt"`
}

// Unpack splits x = y0, u0, ..., y(N-1), u(N-1), yN into N rows stamped
// k*dt. The length of x must be N*(stateDim+controlDim) + stateDim with N
// at least one.
func Unpack(x []float64, stateDim, controlDim int, dt float64) (*Trajectory, error) {
	stride := stateDim + controlDim
	malformed := &dynamo.MalformedSolutionError{Length: len(x), Stride: stride, StateDim: stateDim}
	if stateDim <= 0 || controlDim < 0 || len(x) < stride+stateDim {
		return nil, malformed
	}
	if (len(x)-stateDim)%stride != 0 {
		return nil, malformed
	}

	n := (len(x) - stateDim) / stride
	tr := &Trajectory{Rows: make([]Row, n), Dt: dt}
	for k := 0; k < n; k++ {
		off := k * stride
		tr.Rows[k] = Row{
			Time:    float64(k) * dt,
			State:   dynamo.State(x[off : off+stateDim]).Clone(),
			Control: dynamo.Control(x[off+stateDim : off+stride]).Clone(),
		}
	}
	tr.Final = dynamo.State(x[n*stride:]).Clone()
	return tr, nil
}

func (t *Trajectory) Len() int { return len(t.Rows) }

func (t *Trajectory) Times() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Time
	}
	return out
}

// State returns channel idx of the state across all rows.
func (t *Trajectory) State(idx int) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.State[idx]
	}
	return out
}

// Control returns channel idx of the controls across all rows.
func (t *Trajectory) Control(idx int) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Control[idx]
	}
	return out
}

// States returns every state node including Final.
func (t *Trajectory) States() []dynamo.State {
	out := make([]dynamo.State, 0, len(t.Rows)+1)
	for _, r := range t.Rows {
		out = append(out, r.State)
	}
	return append(out, t.Final)
}

func (t *Trajectory) Controls() []dynamo.Control {
	out := make([]dynamo.Control, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Control
	}
	return out
}
