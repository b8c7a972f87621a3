// Package transcribe turns the furnace dynamics into a multiple shooting
// nonlinear program over a flat, position-addressed decision vector.
package transcribe

import (
	"fmt"

	"github.com/san-kum/fumes/internal/dynamo"
)

// Layout addresses the flat decision vector
//
//	y0, u0, y1, u1, ..., y(N-1), u(N-1), yN
//
// where every y is a state node and every u a control triple.
type Layout struct {
	StateDim   int
	ControlDim int
	Steps      int
}

func NewLayout(steps int) Layout {
	return Layout{StateDim: dynamo.StateDim, ControlDim: dynamo.ControlDim, Steps: steps}
}

func (l Layout) Stride() int { return l.StateDim + l.ControlDim }

// Len is the number of decision variables.
func (l Layout) Len() int { return l.Steps*l.Stride() + l.StateDim }

func (l Layout) StateOffset(k int) int { return k * l.Stride() }

func (l Layout) ControlOffset(k int) int { return k*l.Stride() + l.StateDim }

// Constraints is the number of continuity residuals.
func (l Layout) Constraints() int { return l.Steps * l.StateDim }

var (
	stateNames   = [...]string{"water", "hydrogen", "carbon_monoxide", "boiler"}
	controlNames = [...]string{"v", "r", "q"}
)

// Name labels decision variable i for diagnostics.
func (l Layout) Name(i int) string {
	k, off := i/l.Stride(), i%l.Stride()
	if off < l.StateDim {
		if off < len(stateNames) {
			return fmt.Sprintf("y%d.%s", k, stateNames[off])
		}
		return fmt.Sprintf("y%d[%d]", k, off)
	}
	off -= l.StateDim
	if off < len(controlNames) {
		return fmt.Sprintf("%s%d", controlNames[off], k)
	}
	return fmt.Sprintf("u%d[%d]", k, off)
}
