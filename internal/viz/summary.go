package viz

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/export"
	"github.com/san-kum/fumes/internal/nlp"
	"github.com/san-kum/fumes/internal/storage"
)

// Summary renders the diagnostics of a solved run as a panel.
func Summary(name string, rec *experiment.Record, theme Theme) string {
	st := theme.styles()

	status := st.ok.Render(rec.Status)
	if !solved(rec.Status) && rec.Status != experiment.StatusSimulated {
		status = st.fail.Render(rec.Status)
	}

	var s strings.Builder
	s.WriteString(st.title.Render(strings.ToUpper(name)) + "\n")
	line := func(label, value string) {
		s.WriteString(st.label.Render(label) + value + "\n")
	}
	line("status", status)
	line("objective", st.value.Render(fmt.Sprintf("%.6g", rec.Objective)))
	line("iterations", st.value.Render(fmt.Sprintf("%d", rec.Iterations)))
	line("defect", st.value.Render(fmt.Sprintf("%.3g", rec.Defect)))
	line("nodes", st.value.Render(fmt.Sprintf("%d", rec.Len())))
	if rec.Elapsed > 0 {
		line("elapsed", st.value.Render(rec.Elapsed.Round(time.Millisecond).String()))
	}

	names := make([]string, 0, len(rec.Metrics))
	for k := range rec.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		line(k, st.value.Render(fmt.Sprintf("%.6g", rec.Metrics[k])))
	}
	if rec.Len() > 0 {
		line("dew point", SparklineChart(export.DewPoints(rec.Water), 40))
	}

	return st.panel.Render(strings.TrimRight(s.String(), "\n"))
}

// RunTable lists stored runs one per line.
func RunTable(runs []storage.RunMetadata, theme Theme) string {
	st := theme.styles()
	if len(runs) == 0 {
		return st.muted.Render("no runs")
	}

	var s strings.Builder
	s.WriteString(st.title.Render(fmt.Sprintf("%-36s  %-16s  %-20s  %-28s  %s", "ID", "NAME", "TIME", "STATUS", "OBJECTIVE")) + "\n")
	for _, r := range runs {
		status := st.ok.Render(fmt.Sprintf("%-28s", r.Status))
		if !solved(r.Status) {
			status = st.warn.Render(fmt.Sprintf("%-28s", r.Status))
		}
		fmt.Fprintf(&s, "%-36s  %-16s  %-20s  %s  %.6g\n",
			r.ID, r.Name, r.Timestamp.Format("2006-01-02 15:04:05"), status, r.Objective)
	}
	return strings.TrimRight(s.String(), "\n")
}

func solved(status string) bool {
	return status == nlp.StatusSucceeded || status == nlp.StatusAcceptable
}
