// Package server exposes optimization runs over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/fumes/internal/config"
	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/experiment"
	"github.com/san-kum/fumes/internal/export"
	"github.com/san-kum/fumes/internal/nlp"
	"github.com/san-kum/fumes/internal/storage"
)

const maxBody = 1 << 20

type Options struct {
	// MaxConcurrent bounds the number of simultaneous solves.
	MaxConcurrent int
	// Timeout bounds a single solve; zero means no limit.
	Timeout time.Duration
	// Registry defaults to experiment.NewRegistry().
	Registry *experiment.Registry
}

type Server struct {
	store    *storage.Store
	registry *experiment.Registry
	metrics  *Metrics
	upgrader websocket.Upgrader
	slots    chan struct{}
	timeout  time.Duration
}

func New(store *storage.Store, opts Options) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.Registry == nil {
		opts.Registry = experiment.NewRegistry()
	}
	return &Server{
		store:    store,
		registry: opts.Registry,
		metrics:  NewMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		slots:   make(chan struct{}, opts.MaxConcurrent),
		timeout: opts.Timeout,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	route := func(path, name string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.metrics.WrapHandler(name, h)).Methods(methods...)
	}
	route("/healthz", "health", s.health, http.MethodGet)
	route("/api/v1/presets", "presets", s.presets, http.MethodGet)
	route("/api/v1/optimize", "optimize", s.optimize, http.MethodPost)
	route("/api/v1/runs", "runs", s.listRuns, http.MethodGet)
	route("/api/v1/runs/{id}", "run", s.getRun, http.MethodGet)
	route("/api/v1/runs/{id}/plot/{kind}", "plot", s.plotRun, http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWs)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// Handler wraps the router with panic recovery and an access log written
// to logrus at debug level.
func (s *Server) Handler() http.Handler {
	access := log.StandardLogger().WriterLevel(log.DebugLevel)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(log.StandardLogger()))
	return recovery(handlers.LoggingHandler(access, s.Router()))
}

type runResult struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Record *experiment.Record `json:"record"`
}

type errorBody struct {
	Error      string  `json:"error"`
	Status     string  `json:"status,omitempty"`
	Iterations int     `json:"iterations,omitempty"`
	Objective  float64 `json:"objective,omitempty"`
	Violation  float64 `json:"violation,omitempty"`
}

func errorResponse(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}
	var div *dynamo.SolverDivergedError
	switch {
	case errors.As(err, &div):
		body.Status, body.Iterations = div.Status, div.Iterations
		body.Objective, body.Violation = div.Objective, div.Violation
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, dynamo.ErrParameterBounds),
		errors.Is(err, dynamo.ErrInvalidSchedule),
		errors.Is(err, dynamo.ErrInvalidBounds),
		errors.Is(err, experiment.ErrUnknownSolver),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, body
	}
	return http.StatusInternalServerError, body
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.ListPresets())
}

// decodeConfig overlays a YAML or JSON document on a preset.
func decodeConfig(preset string, doc []byte) (*config.Config, error) {
	if preset == "" {
		preset = "sample"
	}
	cfg := config.GetPreset(preset)
	if cfg == nil {
		return nil, fmt.Errorf("%w: unknown preset %q", errBadRequest, preset)
	}
	if len(doc) > 0 {
		if err := yaml.Unmarshal(doc, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	return cfg, nil
}

func (s *Server) optimize(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	q := r.URL.Query()
	cfg, err := decodeConfig(q.Get("preset"), doc)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.solve(r.Context(), cfg, q.Get("name"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// solve runs one optimization, waiting for a free slot, and stores the
// result.
func (s *Server) solve(ctx context.Context, cfg *config.Config, name string, progress func(nlp.Iteration)) (*runResult, error) {
	if name == "" {
		name = "run"
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	exp, solver, err := experiment.Setup(cfg, s.registry, progress)
	if err != nil {
		return nil, err
	}

	s.metrics.SolveStarted()
	defer s.metrics.SolveFinished()
	start := time.Now()

	rec, err := exp.Run(ctx, solver)
	var div *dynamo.SolverDivergedError
	switch {
	case errors.As(err, &div):
		s.metrics.SolveDone(div.Status, div.Iterations, time.Since(start))
		return nil, err
	case err != nil:
		return nil, err
	}
	s.metrics.SolveDone(rec.Status, rec.Iterations, time.Since(start))

	id, err := s.store.Save(name, cfg, rec)
	if err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	log.WithFields(log.Fields{"id": id, "name": name, "objective": rec.Objective}).Info("run stored")
	return &runResult{ID: id, Name: name, Record: rec}, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.Load(id)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.store.LoadRecord(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResult{ID: meta.ID, Name: meta.Name, Record: rec})
}

func (s *Server) plotRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.store.LoadRecord(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	contentType := "image/svg+xml"
	switch format {
	case "", "svg":
		format = "svg"
	case "png":
		contentType = "image/png"
	default:
		writeError(w, fmt.Errorf("%w: unsupported format %q", errBadRequest, format))
		return
	}

	if _, err := export.FigureData(rec, vars["kind"]); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	if err := export.WritePlot(w, rec, vars["kind"], format, 8, 4); err != nil {
		log.WithError(err).Warn("render plot")
	}
}
