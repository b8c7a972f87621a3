package viz

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ProgressBar renders done out of total as a bar followed by the count. The
// bar uses the theme's error color below 40%, warning below 80% and success
// above.
func ProgressBar(done, total, width int, theme Theme) string {
	frac := 1.0
	if total > 0 {
		frac = float64(done) / float64(total)
	}
	filled := max(0, min(width, int(frac*float64(width))))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	color := theme.Error
	switch {
	case frac > 0.8:
		color = theme.Success
	case frac > 0.4:
		color = theme.Warning
	}
	return lipgloss.NewStyle().Foreground(color).Render(bar) + fmt.Sprintf(" %d/%d", done, total)
}

// SparklineChart renders a mini sparkline from values
func SparklineChart(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	rng := max - min
	if rng == 0 {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var result strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - min) / rng
		idx := int(norm * float64(len(chars)-1))
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		result.WriteRune(chars[idx])
	}

	return result.String()
}
