// Package config holds the plant-facing description of an optimization run
// in the units operators use, and converts it to model parameters.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/furnace"
	"github.com/san-kum/fumes/internal/units"
)

const (
	DefaultTimeStep  = 15.0
	DefaultSharpness = 50
	DefaultSolver    = "auglag"
	DefaultGuess     = "simulate"
)

type Config struct {
	Chamber      ChamberConfig      `yaml:"chamber"`
	Boiler       BoilerConfig       `yaml:"boiler"`
	SourceOne    SourceConfig       `yaml:"source_one"`
	SourceTwo    SourceConfig       `yaml:"source_two"`
	Constraints  ConstraintConfig   `yaml:"constraints"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Coils        []CoilConfig       `yaml:"coils"`
	Flags        FlagConfig         `yaml:"flags"`
	Solver       SolverConfig       `yaml:"solver"`
}

// ChamberConfig is the furnace state at the start of the run.
type ChamberConfig struct {
	FreeVolume     float64 `yaml:"free_volume"`     // m³
	Temperature    float64 `yaml:"temperature"`     // °C
	Pressure       float64 `yaml:"pressure"`        // mbar gauge
	Hydrogen       float64 `yaml:"hydrogen"`        // %
	CarbonMonoxide float64 `yaml:"carbon_monoxide"` // ppm
	DewPoint       float64 `yaml:"dew_point"`       // °C
}

type BoilerConfig struct {
	InitialOutput float64 `yaml:"initial_output"` // kg/h
	HeatingTime   float64 `yaml:"heating_time"`   // s
	ResponseTime  float64 `yaml:"response_time"`  // s
	Capacity      float64 `yaml:"capacity"`       // kg/h
	Sharpness     int     `yaml:"sharpness"`
}

type SourceConfig struct {
	Hydrogen       float64 `yaml:"hydrogen"`        // %
	CarbonMonoxide float64 `yaml:"carbon_monoxide"` // ppm
	DewPoint       float64 `yaml:"dew_point"`       // °C
	FlowRate       float64 `yaml:"flow_rate"`       // Nm³/h
}

type ConstraintConfig struct {
	HydrogenMin       float64 `yaml:"hydrogen_min"`        // %
	HydrogenMax       float64 `yaml:"hydrogen_max"`        // %
	CarbonMonoxideMax float64 `yaml:"carbon_monoxide_max"` // ppm
	TotalFlowMin      float64 `yaml:"total_flow_min"`      // Nm³/h
	TotalFlowMax      float64 `yaml:"total_flow_max"`      // Nm³/h
}

type OptimizationConfig struct {
	TimeStep      float64 `yaml:"time_step"` // s
	SubSteps      int     `yaml:"sub_steps"`
	BoilerPenalty float64 `yaml:"boiler_penalty"`
	MixPenalty    float64 `yaml:"mix_penalty"`
	FlowPenalty   float64 `yaml:"flow_penalty"`
}

// CoilConfig is one production segment.
type CoilConfig struct {
	Duration        float64 `yaml:"duration"`         // min
	TargetDewPoint  float64 `yaml:"target_dew_point"` // °C
	Reduction       float64 `yaml:"reduction"`
	Oxidation       float64 `yaml:"oxidation"`
	Decarburization float64 `yaml:"decarburization"`
}

type FlagConfig struct {
	IntegrateOnly           bool `yaml:"integrate_only"`
	OptimizeFlow            bool `yaml:"optimize_flow"`
	CompensateFlow          bool `yaml:"compensate_flow"`
	ConstrainHydrogen       bool `yaml:"constrain_hydrogen"`
	ConstrainCarbonMonoxide bool `yaml:"constrain_carbon_monoxide"`
}

type SolverConfig struct {
	Name            string  `yaml:"name"`
	Guess           string  `yaml:"guess"`
	MaxIterations   int     `yaml:"max_iterations"`
	InnerIterations int     `yaml:"inner_iterations"`
	Tolerance       float64 `yaml:"tolerance"`
}

// DefaultConfig is the sample furnace with three coils.
func DefaultConfig() *Config {
	return GetPreset("sample")
}

// Load reads a YAML file, or an INI file when the extension is .ini.
// Missing keys keep their default values.
func Load(path string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return LoadINI(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) clone() *Config {
	out := *c
	out.Coils = append([]CoilConfig(nil), c.Coils...)
	return &out
}

// Validate rejects physically meaningless inputs before any conversion.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"chamber.free_volume", c.Chamber.FreeVolume > 0},
		{"chamber.temperature", c.Chamber.Temperature > -273.15},
		{"chamber.pressure", units.GaugeMillibarToPascal(c.Chamber.Pressure) > 0},
		{"chamber.hydrogen", percent(c.Chamber.Hydrogen)},
		{"chamber.carbon_monoxide", ppm(c.Chamber.CarbonMonoxide)},
		{"boiler.initial_output", c.Boiler.InitialOutput >= 0},
		{"boiler.heating_time", c.Boiler.HeatingTime >= 0},
		{"boiler.response_time", c.Boiler.ResponseTime > 0},
		{"boiler.capacity", c.Boiler.Capacity >= 0},
		{"boiler.sharpness", c.Boiler.Sharpness >= 1},
		{"source_one.hydrogen", percent(c.SourceOne.Hydrogen)},
		{"source_one.carbon_monoxide", ppm(c.SourceOne.CarbonMonoxide)},
		{"source_one.flow_rate", c.SourceOne.FlowRate >= 0},
		{"source_two.hydrogen", percent(c.SourceTwo.Hydrogen)},
		{"source_two.carbon_monoxide", ppm(c.SourceTwo.CarbonMonoxide)},
		{"source_two.flow_rate", c.SourceTwo.FlowRate >= 0},
		{"constraints.hydrogen_min", percent(c.Constraints.HydrogenMin)},
		{"constraints.hydrogen_max", percent(c.Constraints.HydrogenMax)},
		{"constraints.carbon_monoxide_max", ppm(c.Constraints.CarbonMonoxideMax)},
		{"constraints.total_flow_min", c.Constraints.TotalFlowMin >= 0},
		{"constraints.total_flow_max", !c.Flags.OptimizeFlow || c.Constraints.TotalFlowMax >= c.Constraints.TotalFlowMin},
		{"optimization.time_step", c.Optimization.TimeStep > 0},
		{"optimization.sub_steps", c.Optimization.SubSteps >= 0},
		{"optimization.boiler_penalty", c.Optimization.BoilerPenalty >= 0},
		{"optimization.mix_penalty", c.Optimization.MixPenalty >= 0},
		{"optimization.flow_penalty", c.Optimization.FlowPenalty >= 0},
		{"coils", len(c.Coils) > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: invalid %s", dynamo.ErrParameterBounds, chk.name)
		}
	}
	for i, coil := range c.Coils {
		if !(coil.Duration >= 0) {
			return &dynamo.InvalidScheduleError{Reason: fmt.Sprintf("coil %d has negative duration %g", i, coil.Duration)}
		}
		if coil.Reduction < 0 || coil.Oxidation < 0 || coil.Decarburization < 0 {
			return fmt.Errorf("%w: coil %d has negative reaction constants", dynamo.ErrParameterBounds, i)
		}
	}
	return nil
}

func percent(v float64) bool { return v >= 0 && v <= 100 }
func ppm(v float64) bool     { return v >= 0 && v <= 1e6 }

// Parameters validates the configuration and converts it to model units.
func (c *Config) Parameters() (furnace.Parameters, error) {
	if err := c.Validate(); err != nil {
		return furnace.Parameters{}, err
	}

	pressure := units.GaugeMillibarToPascal(c.Chamber.Pressure)
	temperature := units.CelsiusToKelvin(c.Chamber.Temperature)

	p := furnace.Parameters{
		Moles:              units.MolesInVolume(pressure, c.Chamber.FreeVolume, temperature),
		BoilerStartTime:    c.Boiler.HeatingTime,
		BoilerResponseTime: c.Boiler.ResponseTime,
		BoilerCapacity:     units.SteamMassToMolar(c.Boiler.Capacity),
		Sharpness:          c.Boiler.Sharpness,
		TimeStep:           c.Optimization.TimeStep,
		SubSteps:           c.Optimization.SubSteps,
		Initial: furnace.Composition{
			Water:          units.DewPointToWaterContent(c.Chamber.DewPoint),
			Hydrogen:       units.PercentToFraction(c.Chamber.Hydrogen),
			CarbonMonoxide: units.PPMToFraction(c.Chamber.CarbonMonoxide),
		},
		InitialBoiler: units.SteamMassToMolar(c.Boiler.InitialOutput),
		SourceOne:     c.SourceOne.composition(),
		SourceTwo:     c.SourceTwo.composition(),
		FlowOne:       units.NormalFlowToMolar(c.SourceOne.FlowRate),
		FlowTwo:       units.NormalFlowToMolar(c.SourceTwo.FlowRate),
		TotalFlowMin:  units.NormalFlowToMolar(c.Constraints.TotalFlowMin),
		TotalFlowMax:  units.NormalFlowToMolar(c.Constraints.TotalFlowMax),
		CompositionMin: furnace.Composition{
			Hydrogen: units.PercentToFraction(c.Constraints.HydrogenMin),
		},
		CompositionMax: furnace.Composition{
			Water:          units.DewPointToWaterContent(units.MaxDewPoint),
			Hydrogen:       units.PercentToFraction(c.Constraints.HydrogenMax),
			CarbonMonoxide: units.PPMToFraction(c.Constraints.CarbonMonoxideMax),
		},
		BoilerPenalty:           c.Optimization.BoilerPenalty,
		MixPenalty:              c.Optimization.MixPenalty,
		FlowPenalty:             c.Optimization.FlowPenalty,
		IntegrateOnly:           c.Flags.IntegrateOnly,
		CompensateFlow:          c.Flags.CompensateFlow,
		OptimizeFlow:            c.Flags.OptimizeFlow,
		ConstrainHydrogen:       c.Flags.ConstrainHydrogen,
		ConstrainCarbonMonoxide: c.Flags.ConstrainCarbonMonoxide,
	}
	for _, coil := range c.Coils {
		p.Segments = append(p.Segments, furnace.Segment{
			Duration:        units.MinutesToSeconds(coil.Duration),
			TargetWater:     units.DewPointToWaterContent(coil.TargetDewPoint),
			Reduction:       coil.Reduction,
			Oxidation:       coil.Oxidation,
			Decarburization: coil.Decarburization,
		})
	}

	if err := p.Validate(); err != nil {
		return furnace.Parameters{}, err
	}
	return p, nil
}

func (s SourceConfig) composition() furnace.Composition {
	return furnace.Composition{
		Water:          units.DewPointToWaterContent(s.DewPoint),
		Hydrogen:       units.PercentToFraction(s.Hydrogen),
		CarbonMonoxide: units.PPMToFraction(s.CarbonMonoxide),
	}
}

// Horizon is the total production time in seconds.
func (c *Config) Horizon() float64 {
	total := 0.0
	for _, coil := range c.Coils {
		total += units.MinutesToSeconds(coil.Duration)
	}
	return total
}

// Steps is the number of optimization intervals, including the extra one
// past the horizon.
func (c *Config) Steps() int {
	if c.Optimization.TimeStep <= 0 {
		return 0
	}
	return int(math.Ceil(c.Horizon()/c.Optimization.TimeStep-1e-9)) + 1
}
