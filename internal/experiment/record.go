package experiment

import (
	"time"

	"github.com/san-kum/fumes/internal/dynamo"
)

// Record is the column-oriented result of one optimization. The per-node
// columns have one entry per control interval; Final holds the trailing
// state node.
type Record struct {
	Time           []float64 `json:"time"`
	Water          []float64 `json:"water"`
	Hydrogen       []float64 `json:"hydrogen"`
	CarbonMonoxide []float64 `json:"carbon_monoxide"`
	BoilerApplied  []float64 `json:"boiler_applied"`
	BoilerCommand  []float64 `json:"boiler_command"`
	MixRatio       []float64 `json:"mix_ratio"`
	TotalFlow      []float64 `json:"total_flow"`
	Target         []float64 `json:"target"`

	Final dynamo.State `json:"final"`

	Objective  float64            `json:"objective"`
	Status     string             `json:"status"`
	Iterations int                `json:"iterations"`
	Defect     float64            `json:"defect"`
	Metrics    map[string]float64 `json:"metrics"`
	Elapsed    time.Duration      `json:"elapsed"`
}

func (r *Record) Len() int { return len(r.Time) }

// Columns returns the column names in export order.
func Columns() []string {
	return []string{
		"time", "water", "hydrogen", "carbon_monoxide", "boiler_applied",
		"boiler_command", "mix_ratio", "total_flow", "target",
	}
}

// Row returns the values of row i in Columns order.
func (r *Record) Row(i int) []float64 {
	return []float64{
		r.Time[i], r.Water[i], r.Hydrogen[i], r.CarbonMonoxide[i], r.BoilerApplied[i],
		r.BoilerCommand[i], r.MixRatio[i], r.TotalFlow[i], r.Target[i],
	}
}

// Column returns the named column, or nil if the name is unknown.
func (r *Record) Column(name string) []float64 {
	switch name {
	case "time":
		return r.Time
	case "water":
		return r.Water
	case "hydrogen":
		return r.Hydrogen
	case "carbon_monoxide":
		return r.CarbonMonoxide
	case "boiler_applied":
		return r.BoilerApplied
	case "boiler_command":
		return r.BoilerCommand
	case "mix_ratio":
		return r.MixRatio
	case "total_flow":
		return r.TotalFlow
	case "target":
		return r.Target
	}
	return nil
}

// Controls returns the control triple of every row.
func (r *Record) Controls() []dynamo.Control {
	us := make([]dynamo.Control, r.Len())
	for i := range us {
		us[i] = dynamo.Control{r.BoilerCommand[i], r.MixRatio[i], r.TotalFlow[i]}
	}
	return us
}
