package config

import "sort"

var Presets = map[string]*Config{
	"sample": {
		Chamber: ChamberConfig{
			FreeVolume: 300, Temperature: 800, Pressure: 1,
			Hydrogen: 5, CarbonMonoxide: 100, DewPoint: -20,
		},
		Boiler: BoilerConfig{
			InitialOutput: 0, HeatingTime: 300, ResponseTime: 100,
			Capacity: 17, Sharpness: DefaultSharpness,
		},
		SourceOne: SourceConfig{Hydrogen: 5, DewPoint: -50, FlowRate: 300},
		SourceTwo: SourceConfig{Hydrogen: 0.5, DewPoint: -50, FlowRate: 0},
		Constraints: ConstraintConfig{
			HydrogenMin: 4.5, HydrogenMax: 6.5, CarbonMonoxideMax: 10000,
			TotalFlowMin: 100, TotalFlowMax: 500,
		},
		Optimization: OptimizationConfig{
			TimeStep: DefaultTimeStep, BoilerPenalty: 0.1, MixPenalty: 1e-5, FlowPenalty: 5e-4,
		},
		Coils: []CoilConfig{
			{Duration: 10, TargetDewPoint: -20, Reduction: 0.01, Oxidation: 0.01, Decarburization: 0.01},
			{Duration: 10, TargetDewPoint: 0, Reduction: 0.01, Oxidation: 5, Decarburization: 10},
			{Duration: 10, TargetDewPoint: -10, Reduction: 0.01, Oxidation: 5, Decarburization: 10},
		},
		Flags: FlagConfig{
			OptimizeFlow: true, CompensateFlow: true,
			ConstrainHydrogen: true, ConstrainCarbonMonoxide: true,
		},
		Solver: SolverConfig{Name: DefaultSolver, Guess: DefaultGuess},
	},
}

func init() {
	derive := func(name string, edit func(c *Config)) {
		c := Presets["sample"].clone()
		edit(c)
		Presets[name] = c
	}
	derive("integrate-only", func(c *Config) {
		c.Flags.IntegrateOnly = true
		c.Flags.OptimizeFlow = false
		c.Flags.CompensateFlow = false
	})
	derive("fixed-mix", func(c *Config) { c.Flags.CompensateFlow = false })
	derive("fixed-flow", func(c *Config) { c.Flags.OptimizeFlow = false })
	derive("single-coil", func(c *Config) { c.Coils = c.Coils[:1] })
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
