package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/fumes/internal/config"
	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/export"
	"github.com/san-kum/fumes/internal/nlp"
	"github.com/san-kum/fumes/internal/optim"
	"github.com/san-kum/fumes/internal/server"
	"github.com/san-kum/fumes/internal/sim"
	"github.com/san-kum/fumes/internal/storage"
	"github.com/san-kum/fumes/internal/viz"
)

var (
	dataDir   string
	logLevel  string
	logFormat string
	themeName string

	configFile string
	preset     string
	runName    string
	solverName string
	guessMode  string
	maxIter    int
	tolerance  float64
	timeStep   float64
	noSave     bool

	controller string
	replayID   string
	kp         float64
	ki         float64
	kd         float64

	plotKind   string
	plotOut    string
	plotWidth  float64
	plotHeight float64

	exportFormat string
	exportOut    string

	sweepParams []string
	sweepMetric string
	workers     int

	addr          string
	maxConcurrent int
	solveTimeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fumes",
		Short:         "furnace atmosphere optimal control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel, logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".fumes", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&themeName, "theme", "furnace", "terminal theme")

	configFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml or ini)")
		cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
		cmd.Flags().Float64Var(&timeStep, "dt", 0, "control interval in seconds")
		cmd.Flags().StringVar(&guessMode, "guess", "", "initial guess (simulate, hold)")
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "optimize the furnace controls",
		Args:  cobra.NoArgs,
		RunE:  runOptimization,
	}
	configFlags(runCmd)
	runCmd.Flags().StringVar(&runName, "name", "run", "run name")
	runCmd.Flags().StringVar(&solverName, "solver", "", "nlp solver")
	runCmd.Flags().IntVar(&maxIter, "max-iter", 0, "outer iteration limit")
	runCmd.Flags().Float64Var(&tolerance, "tol", 0, "constraint tolerance")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "integrate the model without optimizing",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	configFlags(simulateCmd)
	simulateCmd.Flags().StringVar(&runName, "name", "simulation", "run name")
	simulateCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	simulateCmd.Flags().StringVar(&controller, "controller", "hold", "hold, pid or replay")
	simulateCmd.Flags().StringVar(&replayID, "run", "", "stored run whose controls are replayed")
	simulateCmd.Flags().Float64Var(&kp, "kp", 0.05, "pid kp, mol/s per °C")
	simulateCmd.Flags().Float64Var(&ki, "ki", 5e-4, "pid ki")
	simulateCmd.Flags().Float64Var(&kd, "kd", 0, "pid kd")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "solve a grid of parameter values",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	configFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweepParams, "param", nil, "grid axis as name=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&sweepMetric, "metric", "objective", "metric to minimize")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent solves")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotKind, "kind", "dewpoint", "figure ("+strings.Join(export.PlotKinds(), ", ")+")")
	plotCmd.Flags().StringVar(&plotOut, "out", "", "write a png or svg file instead of a terminal chart")
	plotCmd.Flags().Float64Var(&plotWidth, "width", 8, "figure width in inches")
	plotCmd.Flags().Float64Var(&plotHeight, "height", 4, "figure height in inches")

	viewCmd := &cobra.Command{
		Use:   "view [run_id]",
		Short: "browse a run interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  viewRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run data",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "json or csv")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				cfg := config.GetPreset(p)
				fmt.Printf("  %-16s %d coils, %.0f min\n", p, len(cfg.Coils), cfg.Horizon()/60)
			}
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the optimization api",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	serveCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 2, "simultaneous solves")
	serveCmd.Flags().DurationVar(&solveTimeout, "timeout", 10*time.Minute, "per solve timeout")

	rootCmd.AddCommand(runCmd, simulateCmd, sweepCmd, listCmd, showCmd, plotCmd, viewCmd, exportCmd, presetsCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("fumes failed")
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig applies the preset, then the config file, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("dt") {
		cfg.Optimization.TimeStep = timeStep
	}
	if cmd.Flags().Changed("guess") {
		cfg.Solver.Guess = guessMode
	}
	if f := cmd.Flags().Lookup("solver"); f != nil && f.Changed {
		cfg.Solver.Name = solverName
	}
	if f := cmd.Flags().Lookup("max-iter"); f != nil && f.Changed {
		cfg.Solver.MaxIterations = maxIter
	}
	if f := cmd.Flags().Lookup("tol"); f != nil && f.Changed {
		cfg.Solver.Tolerance = tolerance
	}
	return cfg, nil
}

func openStore() (*storage.Store, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func logProgress(it nlp.Iteration) {
	log.WithFields(log.Fields{
		"outer":      it.Outer,
		"inner":      it.Inner,
		"objective":  it.Objective,
		"violation":  it.Violation,
		"optimality": it.Optimality,
		"penalty":    it.Penalty,
	}).Debug("solver iteration")
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exp, solver, err := experiment.Setup(cfg, experiment.NewRegistry(), logProgress)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("optimizing %d steps...\n", exp.Layout().Steps)
	rec, err := exp.Run(ctx, solver)
	if err != nil {
		return err
	}

	fmt.Println(viz.Summary(runName, rec, viz.GetTheme(themeName)))
	return saveRecord(cfg, rec)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := cfg.Parameters()
	if err != nil {
		return err
	}
	exp, err := experiment.New(params, experiment.Options{})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var ctrl sim.Controller
	switch controller {
	case "hold":
	case "pid":
		ctrl = exp.DewPointPID(kp, ki, kd)
	case "replay":
		if replayID == "" {
			return fmt.Errorf("replay needs --run")
		}
		_, stored, err := loadRun(replayID)
		if err != nil {
			return err
		}
		ctrl = exp.Replay(stored)
	default:
		return fmt.Errorf("unknown controller: %s", controller)
	}

	start := time.Now()
	res, err := exp.Simulate(ctx, ctrl)
	if err != nil {
		return err
	}
	rec, err := exp.SimulationRecord(res)
	if err != nil {
		return err
	}
	rec.Elapsed = time.Since(start)

	fmt.Println(viz.Summary(runName, rec, viz.GetTheme(themeName)))
	return saveRecord(cfg, rec)
}

func saveRecord(cfg *config.Config, rec *experiment.Record) error {
	if noSave {
		return nil
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	runID, err := st.Save(runName, cfg, rec)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

// parseAxis reads "name=v1,v2,...".
func parseAxis(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("invalid grid axis %q, want name=v1,v2", s)
	}
	var values []float64
	for _, field := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return "", nil, fmt.Errorf("grid axis %s: %w", name, err)
		}
		values = append(values, v)
	}
	return name, values, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	if len(sweepParams) == 0 {
		return fmt.Errorf("at least one --param is required (knobs: %s)", strings.Join(knobNames(), ", "))
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base, err := cfg.Parameters()
	if err != nil {
		return err
	}

	names := make([]string, len(sweepParams))
	ranges := make([][]float64, len(sweepParams))
	for i, s := range sweepParams {
		if names[i], ranges[i], err = parseAxis(s); err != nil {
			return err
		}
	}
	grid, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	grid.Workers = workers

	registry := experiment.NewRegistry()
	name := cfg.Solver.Name
	if name == "" {
		name = config.DefaultSolver
	}
	settings := experiment.SolverSettings{
		MaxIterations:   cfg.Solver.MaxIterations,
		InnerIterations: cfg.Solver.InnerIterations,
		Tolerance:       cfg.Solver.Tolerance,
	}
	if _, err := registry.GetSolver(name, settings); err != nil {
		return err
	}
	newSolver := func() nlp.Solver {
		s, _ := registry.GetSolver(name, settings)
		return s
	}

	ctx, cancel := signalContext()
	defer cancel()

	theme := viz.GetTheme(themeName)
	var mu sync.Mutex
	grid.OnPoint = func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(os.Stderr, "\rsolving grid %s", viz.ProgressBar(done, total, 30, theme))
	}

	points, best, err := grid.Search(ctx, base, newSolver, sweepMetric)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tSTATUS\t%s\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(sweepMetric))
	for i, pt := range points {
		vals := make([]string, len(names))
		for j, n := range names {
			vals[j] = strconv.FormatFloat(pt.Values[n], 'g', 6, 64)
		}
		status, score := "failed", "-"
		if pt.Err == nil {
			status = pt.Record.Status
			if sweepMetric == "objective" {
				score = fmt.Sprintf("%.6g", pt.Record.Objective)
			} else {
				score = fmt.Sprintf("%.6g", pt.Record.Metrics[sweepMetric])
			}
		}
		mark := ""
		if i == best {
			mark = "  *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\n", strings.Join(vals, "\t"), status, score, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if best < 0 {
		return fmt.Errorf("every grid point failed")
	}
	return nil
}

func knobNames() []string {
	names := make([]string, 0, len(optim.Knobs))
	for n := range optim.Knobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	fmt.Println(viz.RunTable(runs, viz.GetTheme(themeName)))
	return nil
}

func loadRun(runID string) (*storage.RunMetadata, *experiment.Record, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := st.LoadRecord(runID)
	if err != nil {
		return nil, nil, err
	}
	return meta, rec, nil
}

func showRun(cmd *cobra.Command, args []string) error {
	meta, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.Summary(meta.Name, rec, viz.GetTheme(themeName)))
	graph, err := viz.Plot(rec, "dewpoint", 80, 12)
	if err != nil {
		return err
	}
	fmt.Println(graph)
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	_, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}

	if plotOut != "" {
		if err := export.SavePlot(plotOut, rec, plotKind, plotWidth, plotHeight); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", filepath.Clean(plotOut))
		return nil
	}

	graph, err := viz.Plot(rec, plotKind, 80, 12)
	if err != nil {
		return err
	}
	fmt.Println(graph)
	return nil
}

func viewRun(cmd *cobra.Command, args []string) error {
	meta, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}
	return viz.Browse(meta.Name, rec)
}

func exportRun(cmd *cobra.Command, args []string) error {
	meta, rec, err := loadRun(args[0])
	if err != nil {
		return err
	}

	switch exportFormat {
	case "json":
		if exportOut != "" {
			return export.ExportJSON(exportOut, meta.Name, rec)
		}
		return export.WriteJSON(os.Stdout, meta.Name, rec)
	case "csv":
		if exportOut != "" {
			return export.ExportCSV(exportOut, rec)
		}
		return export.WriteCSV(os.Stdout, rec)
	}
	return fmt.Errorf("unknown export format: %s", exportFormat)
}

func serve(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := server.New(st, server.Options{
		MaxConcurrent: maxConcurrent,
		Timeout:       solveTimeout,
	})
	return srv.ListenAndServe(ctx, addr)
}
