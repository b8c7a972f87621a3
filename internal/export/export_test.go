package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/units"
)

func sampleRecord() *experiment.Record {
	return &experiment.Record{
		Time:           []float64{0, 15, 30},
		Water:          []float64{0.001, 0.0011, 0.0012},
		Hydrogen:       []float64{0.05, 0.05, 0.05},
		CarbonMonoxide: []float64{1e-4, 9e-5, 8e-5},
		BoilerApplied:  []float64{0, 0.1, 0.2},
		BoilerCommand:  []float64{0.2, 0.2, 0.2},
		MixRatio:       []float64{1, 1, 1},
		TotalFlow:      []float64{3.5, 3.5, 3.5},
		Target:         []float64{0.002, 0.002, 0.002},
		Final:          dynamo.State{0.0013, 0.05, 7e-5, 0.25},
		Status:         "Solve_Succeeded",
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, "sample", sampleRecord()); err != nil {
		t.Fatalf("write: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Name != "sample" || data.Steps != 3 {
		t.Errorf("unexpected header: %s %d", data.Name, data.Steps)
	}
	if data.Record.Status != "Solve_Succeeded" || len(data.Record.Final) != 4 {
		t.Errorf("record not exported")
	}
	if len(data.DewPoint) != 3 || data.Target[0] != units.WaterContentToDewPoint(0.002) {
		t.Errorf("dew points not exported")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecord()); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header and 3 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(experiment.Columns(), ",") {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[2][1] != "0.0011" {
		t.Errorf("expected exact water value, got %s", rows[2][1])
	}
}

func TestExportFiles(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecord()

	if err := ExportJSON(filepath.Join(dir, "run.json"), "sample", rec); err != nil {
		t.Fatalf("json: %v", err)
	}
	if err := ExportCSV(filepath.Join(dir, "run.csv"), rec); err != nil {
		t.Fatalf("csv: %v", err)
	}
	for _, kind := range PlotKinds() {
		for _, ext := range []string{"png", "svg"} {
			path := filepath.Join(dir, "plots", kind+"."+ext)
			if err := SavePlot(path, rec, kind, 6, 4); err != nil {
				t.Fatalf("%s: %v", path, err)
			}
			info, err := os.Stat(path)
			if err != nil || info.Size() == 0 {
				t.Errorf("%s was not written", path)
			}
		}
	}
}

func TestPlotErrors(t *testing.T) {
	rec := sampleRecord()
	if _, err := NewPlot(rec, "pressure"); err == nil {
		t.Error("expected an error for an unknown plot")
	}
	if _, err := NewPlot(&experiment.Record{}, "dewpoint"); err == nil {
		t.Error("expected an error for an empty record")
	}
	if err := SavePlot(filepath.Join(t.TempDir(), "x.gif"), rec, "dewpoint", 6, 4); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}
