// Package storage keeps solved runs on disk, one directory per run holding
// metadata.json, config.yaml and trajectory.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/fumes/internal/config"
	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/export"
)

const (
	metadataFile   = "metadata.json"
	configFile     = "config.yaml"
	trajectoryFile = "trajectory.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Timestamp  time.Time          `json:"timestamp"`
	Status     string             `json:"status"`
	Objective  float64            `json:"objective"`
	Iterations int                `json:"iterations"`
	Defect     float64            `json:"defect"`
	Steps      int                `json:"steps"`
	Final      []float64          `json:"final"`
	Elapsed    time.Duration      `json:"elapsed"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Save writes a run and returns its id. cfg may be nil.
func (s *Store) Save(name string, cfg *config.Config, rec *experiment.Record) (string, error) {
	runID := uuid.NewString()
	runDir := s.Dir(runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:         runID,
		Name:       name,
		Timestamp:  time.Now(),
		Status:     rec.Status,
		Objective:  rec.Objective,
		Iterations: rec.Iterations,
		Defect:     rec.Defect,
		Steps:      rec.Len(),
		Final:      rec.Final,
		Elapsed:    rec.Elapsed,
		Metrics:    rec.Metrics,
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	if cfg != nil {
		if err := config.Save(filepath.Join(runDir, configFile), cfg); err != nil {
			return "", err
		}
	}

	if err := writeCSV(filepath.Join(runDir, trajectoryFile), rec); err != nil {
		return "", err
	}
	return runID, nil
}

func writeCSV(path string, rec *experiment.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := export.WriteCSV(f, rec); err != nil {
		return err
	}
	return f.Close()
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadConfig returns the configuration saved with a run.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.Dir(runID), configFile))
}

// LoadRecord rebuilds the record of a run from its metadata and trajectory.
func (s *Store) LoadRecord(runID string) (*experiment.Record, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.Dir(runID), trajectoryFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("storage: %s has no header", trajectoryFile)
	}

	header := records[0]
	cols := make([][]float64, len(header))
	for i := 1; i < len(records); i++ {
		for j, field := range records[i] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: row %d column %s: %w", i, header[j], err)
			}
			cols[j] = append(cols[j], v)
		}
	}
	byName := make(map[string][]float64, len(header))
	for j, name := range header {
		byName[name] = cols[j]
	}

	return &experiment.Record{
		Time:           byName["time"],
		Water:          byName["water"],
		Hydrogen:       byName["hydrogen"],
		CarbonMonoxide: byName["carbon_monoxide"],
		BoilerApplied:  byName["boiler_applied"],
		BoilerCommand:  byName["boiler_command"],
		MixRatio:       byName["mix_ratio"],
		TotalFlow:      byName["total_flow"],
		Target:         byName["target"],
		Final:          meta.Final,
		Objective:      meta.Objective,
		Status:         meta.Status,
		Iterations:     meta.Iterations,
		Defect:         meta.Defect,
		Metrics:        meta.Metrics,
		Elapsed:        meta.Elapsed,
	}, nil
}
