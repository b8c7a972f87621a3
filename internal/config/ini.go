package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// LoadINI reads the legacy flat format: one section per component and one
// [coil.N] section per production segment, ordered by N. Missing keys keep
// their defaults.
func LoadINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	loadINI(file, cfg)
	return cfg, nil
}

func loadINI(file *ini.File, cfg *Config) {
	sec := file.Section("chamber")
	cfg.Chamber = ChamberConfig{
		FreeVolume:     sec.Key("free_volume").MustFloat64(cfg.Chamber.FreeVolume),
		Temperature:    sec.Key("temperature").MustFloat64(cfg.Chamber.Temperature),
		Pressure:       sec.Key("pressure").MustFloat64(cfg.Chamber.Pressure),
		Hydrogen:       sec.Key("hydrogen").MustFloat64(cfg.Chamber.Hydrogen),
		CarbonMonoxide: sec.Key("carbon_monoxide").MustFloat64(cfg.Chamber.CarbonMonoxide),
		DewPoint:       sec.Key("dew_point").MustFloat64(cfg.Chamber.DewPoint),
	}

	sec = file.Section("boiler")
	cfg.Boiler = BoilerConfig{
		InitialOutput: sec.Key("initial_output").MustFloat64(cfg.Boiler.InitialOutput),
		HeatingTime:   sec.Key("heating_time").MustFloat64(cfg.Boiler.HeatingTime),
		ResponseTime:  sec.Key("response_time").MustFloat64(cfg.Boiler.ResponseTime),
		Capacity:      sec.Key("capacity").MustFloat64(cfg.Boiler.Capacity),
		Sharpness:     sec.Key("sharpness").MustInt(cfg.Boiler.Sharpness),
	}

	cfg.SourceOne = loadSource(file.Section("source_one"), cfg.SourceOne)
	cfg.SourceTwo = loadSource(file.Section("source_two"), cfg.SourceTwo)

	sec = file.Section("constraints")
	cfg.Constraints = ConstraintConfig{
		HydrogenMin:       sec.Key("hydrogen_min").MustFloat64(cfg.Constraints.HydrogenMin),
		HydrogenMax:       sec.Key("hydrogen_max").MustFloat64(cfg.Constraints.HydrogenMax),
		CarbonMonoxideMax: sec.Key("carbon_monoxide_max").MustFloat64(cfg.Constraints.CarbonMonoxideMax),
		TotalFlowMin:      sec.Key("total_flow_min").MustFloat64(cfg.Constraints.TotalFlowMin),
		TotalFlowMax:      sec.Key("total_flow_max").MustFloat64(cfg.Constraints.TotalFlowMax),
	}

	sec = file.Section("optimization")
	cfg.Optimization = OptimizationConfig{
		TimeStep:      sec.Key("time_step").MustFloat64(cfg.Optimization.TimeStep),
		SubSteps:      sec.Key("sub_steps").MustInt(cfg.Optimization.SubSteps),
		BoilerPenalty: sec.Key("boiler_penalty").MustFloat64(cfg.Optimization.BoilerPenalty),
		MixPenalty:    sec.Key("mix_penalty").MustFloat64(cfg.Optimization.MixPenalty),
		FlowPenalty:   sec.Key("flow_penalty").MustFloat64(cfg.Optimization.FlowPenalty),
	}

	sec = file.Section("flags")
	cfg.Flags = FlagConfig{
		IntegrateOnly:           sec.Key("integrate_only").MustBool(cfg.Flags.IntegrateOnly),
		OptimizeFlow:            sec.Key("optimize_flow").MustBool(cfg.Flags.OptimizeFlow),
		CompensateFlow:          sec.Key("compensate_flow").MustBool(cfg.Flags.CompensateFlow),
		ConstrainHydrogen:       sec.Key("constrain_hydrogen").MustBool(cfg.Flags.ConstrainHydrogen),
		ConstrainCarbonMonoxide: sec.Key("constrain_carbon_monoxide").MustBool(cfg.Flags.ConstrainCarbonMonoxide),
	}

	sec = file.Section("solver")
	cfg.Solver = SolverConfig{
		Name:            sec.Key("name").MustString(cfg.Solver.Name),
		Guess:           sec.Key("guess").MustString(cfg.Solver.Guess),
		MaxIterations:   sec.Key("max_iterations").MustInt(cfg.Solver.MaxIterations),
		InnerIterations: sec.Key("inner_iterations").MustInt(cfg.Solver.InnerIterations),
		Tolerance:       sec.Key("tolerance").MustFloat64(cfg.Solver.Tolerance),
	}

	if coils := loadCoils(file); len(coils) > 0 {
		cfg.Coils = coils
	}
}

func loadSource(sec *ini.Section, def SourceConfig) SourceConfig {
	return SourceConfig{
		Hydrogen:       sec.Key("hydrogen").MustFloat64(def.Hydrogen),
		CarbonMonoxide: sec.Key("carbon_monoxide").MustFloat64(def.CarbonMonoxide),
		DewPoint:       sec.Key("dew_point").MustFloat64(def.DewPoint),
		FlowRate:       sec.Key("flow_rate").MustFloat64(def.FlowRate),
	}
}

func loadCoils(file *ini.File) []CoilConfig {
	type indexed struct {
		n    int
		coil CoilConfig
	}
	var found []indexed
	for _, sec := range file.Sections() {
		rest, ok := strings.CutPrefix(sec.Name(), "coil.")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		found = append(found, indexed{n: n, coil: CoilConfig{
			Duration:        sec.Key("duration").MustFloat64(0),
			TargetDewPoint:  sec.Key("target_dew_point").MustFloat64(0),
			Reduction:       sec.Key("reduction").MustFloat64(0),
			Oxidation:       sec.Key("oxidation").MustFloat64(0),
			Decarburization: sec.Key("decarburization").MustFloat64(0),
		}})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	coils := make([]CoilConfig, len(found))
	for i, f := range found {
		coils[i] = f.coil
	}
	return coils
}
