// Package optim searches over run parameters, solving one independent
// furnace problem per grid point.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/furnace"
	"github.com/san-kum/fumes/internal/nlp"
)

// Setter writes one grid value into the parameters.
type Setter func(p *furnace.Parameters, v float64)

// Knobs are the parameters a grid may vary.
var Knobs = map[string]Setter{
	"boiler_penalty": func(p *furnace.Parameters, v float64) { p.BoilerPenalty = v },
	"mix_penalty":    func(p *furnace.Parameters, v float64) { p.MixPenalty = v },
	"flow_penalty":   func(p *furnace.Parameters, v float64) { p.FlowPenalty = v },
	"sharpness":      func(p *furnace.Parameters, v float64) { p.Sharpness = int(v) },
	"time_step":      func(p *furnace.Parameters, v float64) { p.TimeStep = v },
}

// Point is the outcome of one grid point. Failed solves keep their error
// and do not compete for the best point.
type Point struct {
	Values map[string]float64
	Record *experiment.Record
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64

	// Workers bounds the number of concurrent solves; zero means GOMAXPROCS.
	Workers int

	// OnPoint, when set, is called after each finished point with the number
	// of points done so far. It may be called from several goroutines.
	OnPoint func(done, total int)
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%w: %d parameters, %d ranges", dynamo.ErrDimensionMismatch, len(params), len(ranges))
	}
	for i, name := range params {
		if _, ok := Knobs[name]; !ok {
			return nil, fmt.Errorf("unknown grid parameter: %s", name)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("grid parameter %s has no values", name)
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Points enumerates the grid in row-major order.
func (g *GridSearch) Points() []map[string]float64 {
	var out []map[string]float64
	g.enumerate(0, make(map[string]float64), &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, current)
		return
	}
	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[name] = val
		g.enumerate(depth+1, next, out)
	}
}

// Search solves every grid point and returns all points plus the index of
// the one with the smallest metric. metricName is "objective" or a metric
// reported in Record.Metrics. The best index is -1 when every point failed.
func (g *GridSearch) Search(
	ctx context.Context,
	base furnace.Parameters,
	newSolver func() nlp.Solver,
	metricName string,
) ([]Point, int, error) {
	grid := g.Points()
	points := make([]Point, len(grid))

	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	var done atomic.Int64

	for i, values := range grid {
		eg.Go(func() error {
			p := base
			p.Segments = append([]furnace.Segment(nil), base.Segments...)
			for name, v := range values {
				Knobs[name](&p, v)
			}

			rec, err := solve(ctx, p, newSolver())
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			points[i] = Point{Values: values, Record: rec, Err: err}

			log.WithFields(log.Fields{"point": i, "values": values, "error": err}).Debug("grid point done")
			if g.OnPoint != nil {
				g.OnPoint(int(done.Add(1)), len(grid))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, -1, err
	}

	best, bestVal := -1, math.Inf(1)
	for i, pt := range points {
		if pt.Err != nil {
			continue
		}
		val, ok := metric(pt.Record, metricName)
		if !ok {
			return points, -1, fmt.Errorf("unknown metric: %s", metricName)
		}
		if val < bestVal {
			best, bestVal = i, val
		}
	}
	return points, best, nil
}

func solve(ctx context.Context, p furnace.Parameters, solver nlp.Solver) (*experiment.Record, error) {
	exp, err := experiment.New(p, experiment.Options{})
	if err != nil {
		return nil, err
	}
	return exp.Run(ctx, solver)
}

func metric(rec *experiment.Record, name string) (float64, bool) {
	if name == "objective" {
		return rec.Objective, true
	}
	v, ok := rec.Metrics[name]
	return v, ok
}
