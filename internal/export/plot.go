package export

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/units"
)

var (
	actualColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	targetColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

type series struct {
	label string
	ys    []float64
	color color.Color
	dash  bool
}

type figure struct {
	title  string
	ylabel string
	series func(rec *experiment.Record) []series
}

// figures maps each plot kind to its content, in display units.
var figures = map[string]figure{
	"dewpoint": {"Dew point", "dew point (°C)", func(r *experiment.Record) []series {
		return []series{
			{"actual", DewPoints(r.Water), actualColor, false},
			{"target", DewPoints(r.Target), targetColor, true},
		}
	}},
	"boiler": {"Boiler", "steam (kg/h)", func(r *experiment.Record) []series {
		return []series{
			{"applied", scale(r.BoilerApplied, units.MolarToSteamMass), actualColor, false},
			{"command", scale(r.BoilerCommand, units.MolarToSteamMass), targetColor, true},
		}
	}},
	"flow": {"Total flow", "flow (Nm³/h)", func(r *experiment.Record) []series {
		return []series{{"total", scale(r.TotalFlow, units.MolarToNormalFlow), actualColor, false}}
	}},
	"mix": {"Source mixing", "source one share (%)", func(r *experiment.Record) []series {
		return []series{{"ratio", scale(r.MixRatio, units.FractionToPercent), actualColor, false}}
	}},
	"hydrogen": {"Hydrogen", "hydrogen (%)", func(r *experiment.Record) []series {
		return []series{{"hydrogen", scale(r.Hydrogen, units.FractionToPercent), actualColor, false}}
	}},
	"carbon_monoxide": {"Carbon monoxide", "carbon monoxide (ppm)", func(r *experiment.Record) []series {
		return []series{{"co", scale(r.CarbonMonoxide, units.FractionToPPM), actualColor, false}}
	}},
}

func PlotKinds() []string {
	kinds := make([]string, 0, len(figures))
	for k := range figures {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Figure is the display-unit content of one plot kind.
type Figure struct {
	Title   string
	YLabel  string
	Minutes []float64
	Labels  []string
	Values  [][]float64
}

// FigureData converts a record into the named figure.
func FigureData(rec *experiment.Record, kind string) (Figure, error) {
	fig, ok := figures[kind]
	if !ok {
		return Figure{}, fmt.Errorf("export: unknown plot %q (have %s)", kind, strings.Join(PlotKinds(), ", "))
	}
	if rec.Len() == 0 {
		return Figure{}, fmt.Errorf("export: empty record")
	}
	out := Figure{Title: fig.title, YLabel: fig.ylabel, Minutes: scale(rec.Time, units.SecondsToMinutes)}
	for _, s := range fig.series(rec) {
		out.Labels = append(out.Labels, s.label)
		out.Values = append(out.Values, s.ys)
	}
	return out, nil
}

// DewPoints converts water contents to dew points in °C.
func DewPoints(water []float64) []float64 {
	return scale(water, units.WaterContentToDewPoint)
}

func scale(vs []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = f(v)
	}
	return out
}

// NewPlot builds the named figure against time in minutes.
func NewPlot(rec *experiment.Record, kind string) (*plot.Plot, error) {
	fig, err := FigureData(rec, kind)
	if err != nil {
		return nil, err
	}
	styles := figures[kind].series(rec)

	p := plot.New()
	p.Title.Text = fig.Title
	p.X.Label.Text = "time (min)"
	p.Y.Label.Text = fig.YLabel
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	for _, s := range styles {
		pts := make(plotter.XYs, len(fig.Minutes))
		for i := range fig.Minutes {
			pts[i].X = fig.Minutes[i]
			pts[i].Y = s.ys[i]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = s.color
		if s.dash {
			line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	return p, nil
}

// WritePlot renders a figure in the given format ("png" or "svg").
func WritePlot(w io.Writer, rec *experiment.Record, kind, format string, widthIn, heightIn float64) error {
	p, err := NewPlot(rec, kind)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes a figure to path; the extension picks the format.
func SavePlot(path string, rec *experiment.Record, kind string, widthIn, heightIn float64) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format != "png" && format != "svg" {
		return fmt.Errorf("export: unsupported plot format %q", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	return toFile(path, func(w io.Writer) error {
		return WritePlot(w, rec, kind, format, widthIn, heightIn)
	})
}
