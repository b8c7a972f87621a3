// Package export writes solved runs as JSON, CSV and plots.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/san-kum/fumes/internal/experiment"
)

type ExportData struct {
	Name     string             `json:"name"`
	Steps    int                `json:"steps"`
	Columns  []string           `json:"columns"`
	Record   *experiment.Record `json:"record"`
	DewPoint []float64          `json:"dew_point"`
	Target   []float64          `json:"target_dew_point"`
}

func newExportData(name string, rec *experiment.Record) ExportData {
	return ExportData{
		Name:     name,
		Steps:    rec.Len(),
		Columns:  experiment.Columns(),
		Record:   rec,
		DewPoint: DewPoints(rec.Water),
		Target:   DewPoints(rec.Target),
	}
}

func WriteJSON(w io.Writer, name string, rec *experiment.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newExportData(name, rec))
}

func ExportJSON(path, name string, rec *experiment.Record) error {
	return toFile(path, func(w io.Writer) error { return WriteJSON(w, name, rec) })
}

// WriteCSV writes the record columns with full float precision.
func WriteCSV(w io.Writer, rec *experiment.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(experiment.Columns()); err != nil {
		return err
	}
	for i := 0; i < rec.Len(); i++ {
		vals := rec.Row(i)
		row := make([]string, len(vals))
		for j, v := range vals {
			row[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ExportCSV(path string, rec *experiment.Record) error {
	return toFile(path, func(w io.Writer) error { return WriteCSV(w, rec) })
}

func toFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
