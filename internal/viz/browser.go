package viz

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/export"
	"github.com/san-kum/fumes/internal/units"
)

// Browser steps through a solved trajectory, showing one figure at a time
// with a cursor on the current node.
type Browser struct {
	name          string
	rec           *experiment.Record
	kinds         []string
	kind          int
	cursor        int
	theme         int
	width, height int
}

func NewBrowser(name string, rec *experiment.Record) *Browser {
	return &Browser{
		name:   name,
		rec:    rec,
		kinds:  export.PlotKinds(),
		width:  80,
		height: 24,
	}
}

// Browse runs the browser until the user quits.
func Browse(name string, rec *experiment.Record) error {
	_, err := tea.NewProgram(NewBrowser(name, rec), tea.WithAltScreen()).Run()
	return err
}

func (b *Browser) Init() tea.Cmd { return nil }

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return b, tea.Quit
		case "tab":
			b.kind = (b.kind + 1) % len(b.kinds)
		case "shift+tab":
			b.kind = (b.kind + len(b.kinds) - 1) % len(b.kinds)
		case "up", "k", "left", "h":
			b.move(-1)
		case "down", "j", "right", "l":
			b.move(1)
		case "pgup":
			b.move(-10)
		case "pgdown":
			b.move(10)
		case "home":
			b.cursor = 0
		case "end":
			b.cursor = b.rec.Len() - 1
		case "t":
			b.theme = (b.theme + 1) % len(Themes)
		}
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
	}
	return b, nil
}

func (b *Browser) move(d int) {
	b.cursor += d
	if b.cursor < 0 {
		b.cursor = 0
	}
	if n := b.rec.Len(); b.cursor >= n {
		b.cursor = n - 1
	}
}

func (b *Browser) Kind() string { return b.kinds[b.kind] }
func (b *Browser) Cursor() int  { return b.cursor }

func (b *Browser) View() string {
	st := Themes[b.theme].styles()
	if b.rec.Len() == 0 {
		return st.muted.Render("empty record") + "\n"
	}

	var s strings.Builder
	s.WriteString(st.title.Render(strings.ToUpper(b.name)) + "  " +
		st.muted.Render(fmt.Sprintf("[%s]  theme %s", b.Kind(), Themes[b.theme].Name)) + "\n\n")

	chart, err := Plot(b.rec, b.Kind(), max(b.width-12, 20), max(b.height-16, 5))
	if err != nil {
		s.WriteString(st.fail.Render(err.Error()) + "\n")
	} else {
		s.WriteString(chart + "\n")
	}

	// Marker under the chart for the cursor position.
	if n := b.rec.Len(); n > 1 {
		w := max(b.width-12, 20)
		pos := b.cursor * (w - 1) / (n - 1)
		s.WriteString(strings.Repeat(" ", pos+10) + st.cursor.Render("▲") + "\n")
	}

	i := b.cursor
	r := b.rec
	row := func(label, value string) {
		s.WriteString(st.label.Render(label) + st.value.Render(value) + "\n")
	}
	s.WriteString("\n")
	row("time", fmt.Sprintf("%.1f min", units.SecondsToMinutes(r.Time[i])))
	row("dew point", fmt.Sprintf("%.2f °C (target %.2f °C)",
		units.WaterContentToDewPoint(r.Water[i]), units.WaterContentToDewPoint(r.Target[i])))
	row("hydrogen", fmt.Sprintf("%.3f %%", units.FractionToPercent(r.Hydrogen[i])))
	row("carbon monoxide", fmt.Sprintf("%.1f ppm", units.FractionToPPM(r.CarbonMonoxide[i])))
	row("boiler", fmt.Sprintf("%.2f kg/h (command %.2f kg/h)",
		units.MolarToSteamMass(r.BoilerApplied[i]), units.MolarToSteamMass(r.BoilerCommand[i])))
	row("mixing", fmt.Sprintf("%.1f %% source one", units.FractionToPercent(r.MixRatio[i])))
	row("total flow", fmt.Sprintf("%.1f Nm³/h", units.MolarToNormalFlow(r.TotalFlow[i])))

	s.WriteString("\n" + st.muted.Render("tab figure · ↑/↓ node · pgup/pgdn ×10 · t theme · q quit") + "\n")
	return s.String()
}
