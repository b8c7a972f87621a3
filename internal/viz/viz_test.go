package viz

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/nlp"
	"github.com/san-kum/fumes/internal/storage"
)

func sampleRecord() *experiment.Record {
	n := 20
	rec := &experiment.Record{Final: dynamo.State{0.001, 0.05, 1e-4, 0}, Status: nlp.StatusSucceeded, Iterations: 4,
		Metrics: map[string]float64{"tracking_rmse": 1e-4}}
	for i := 0; i < n; i++ {
		rec.Time = append(rec.Time, float64(i)*15)
		rec.Water = append(rec.Water, 0.001+float64(i)*5e-5)
		rec.Hydrogen = append(rec.Hydrogen, 0.05)
		rec.CarbonMonoxide = append(rec.CarbonMonoxide, 1e-4)
		rec.BoilerApplied = append(rec.BoilerApplied, float64(i)*0.01)
		rec.BoilerCommand = append(rec.BoilerCommand, 0.2)
		rec.MixRatio = append(rec.MixRatio, 1)
		rec.TotalFlow = append(rec.TotalFlow, 3.5)
		rec.Target = append(rec.Target, 0.002)
	}
	return rec
}

func TestPlot(t *testing.T) {
	out, err := Plot(sampleRecord(), "dewpoint", 40, 8)
	if err != nil {
		t.Fatalf("plot: %v", err)
	}
	if !strings.Contains(out, "Dew point") {
		t.Errorf("caption missing from chart:\n%s", out)
	}
	if _, err := Plot(sampleRecord(), "nope", 40, 8); err == nil {
		t.Error("expected an error for an unknown figure")
	}
}

func TestSummary(t *testing.T) {
	rec := sampleRecord()
	rec.Elapsed = 1500 * time.Millisecond
	out := Summary("sample", rec, GetTheme("minimal"))
	for _, want := range []string{"SAMPLE", nlp.StatusSucceeded, "tracking_rmse", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRunTable(t *testing.T) {
	if out := RunTable(nil, ThemeFurnace); !strings.Contains(out, "no runs") {
		t.Errorf("expected placeholder, got %q", out)
	}
	out := RunTable([]storage.RunMetadata{{ID: "abc", Name: "sample", Status: nlp.StatusSucceeded}}, ThemeFurnace)
	if !strings.Contains(out, "abc") || !strings.Contains(out, "sample") {
		t.Errorf("run missing from table:\n%s", out)
	}
}

func TestGetTheme(t *testing.T) {
	if GetTheme("ocean").Name != "ocean" {
		t.Error("expected ocean theme")
	}
	if GetTheme("missing").Name != ThemeFurnace.Name {
		t.Error("unknown names should fall back to the default theme")
	}
	if len(ThemeNames()) != len(Themes) {
		t.Error("theme names out of sync")
	}
}

func TestSparkline(t *testing.T) {
	if got := SparklineChart([]float64{0, 1, 2, 3, 4, 5, 6, 7}, 8); got != "▁▂▃▄▅▆▇█" {
		t.Errorf("unexpected sparkline %q", got)
	}
	if got := SparklineChart(nil, 3); got != "───" {
		t.Errorf("unexpected empty sparkline %q", got)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		done, total, filled int
	}{
		{0, 4, 0},
		{1, 4, 5},
		{4, 4, 20},
		{0, 0, 20},
	}
	for _, tt := range tests {
		got := ProgressBar(tt.done, tt.total, 20, ThemeMinimal)
		if n := strings.Count(got, "█"); n != tt.filled {
			t.Errorf("%d/%d: expected %d filled cells, got %d", tt.done, tt.total, tt.filled, n)
		}
		if n := strings.Count(got, "░"); n != 20-tt.filled {
			t.Errorf("%d/%d: expected %d empty cells, got %d", tt.done, tt.total, 20-tt.filled, n)
		}
		if want := fmt.Sprintf(" %d/%d", tt.done, tt.total); !strings.HasSuffix(got, want) {
			t.Errorf("expected %q to end with %q", got, want)
		}
	}
}

func TestBrowserKeys(t *testing.T) {
	b := NewBrowser("sample", sampleRecord())

	send := func(keys ...tea.KeyMsg) {
		for _, k := range keys {
			b.Update(k)
		}
	}
	runes := func(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

	send(tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown})
	if b.Cursor() != 2 {
		t.Errorf("expected cursor 2, got %d", b.Cursor())
	}
	send(tea.KeyMsg{Type: tea.KeyPgDown}, tea.KeyMsg{Type: tea.KeyPgDown})
	if b.Cursor() != 19 {
		t.Errorf("cursor should clamp at the last node, got %d", b.Cursor())
	}
	send(tea.KeyMsg{Type: tea.KeyHome})
	if b.Cursor() != 0 {
		t.Errorf("home should reset the cursor, got %d", b.Cursor())
	}

	first := b.Kind()
	send(tea.KeyMsg{Type: tea.KeyTab})
	if b.Kind() == first {
		t.Error("tab should switch the figure")
	}
	send(tea.KeyMsg{Type: tea.KeyShiftTab})
	if b.Kind() != first {
		t.Error("shift+tab should go back")
	}

	send(runes("t"))
	if !strings.Contains(b.View(), ThemeMinimal.Name) {
		t.Error("theme should cycle")
	}

	_, cmd := b.Update(runes("q"))
	if cmd == nil {
		t.Error("q should quit")
	}
}

func TestBrowserView(t *testing.T) {
	b := NewBrowser("sample", sampleRecord())
	b.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	out := b.View()
	for _, want := range []string{"SAMPLE", "dew point", "total flow", "Nm³/h"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
