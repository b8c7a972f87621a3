package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/export"
)

var seriesColors = []asciigraph.AnsiColor{asciigraph.DodgerBlue, asciigraph.Red, asciigraph.Green}

// Plot draws one figure kind as an ASCII chart of the given size.
func Plot(rec *experiment.Record, kind string, width, height int) (string, error) {
	fig, err := export.FigureData(rec, kind)
	if err != nil {
		return "", err
	}

	colors := seriesColors
	if len(fig.Values) < len(colors) {
		colors = colors[:len(fig.Values)]
	}
	caption := fmt.Sprintf("%s, %s over %.0f min (%s)", fig.Title, fig.YLabel,
		fig.Minutes[len(fig.Minutes)-1], strings.Join(fig.Labels, " / "))

	return asciigraph.PlotMany(fig.Values,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption(caption),
	), nil
}
