package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/deconvolve/internal/imgio"
	"github.com/cwbudde/deconvolve/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	dataDir    string
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server. The store may be nil to disable
// checkpointing; dataDir is where job artifacts and traces live.
func NewServer(addr string, st store.Store, dataDir string) *Server {
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		dataDir:    dataDir,
		addr:       addr,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Register UI routes
	mux.HandleFunc("/", s.handleIndex)

	// Register API routes
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)

	// Wrap with middleware
	handler := s.loggingMiddleware(s.corsMiddleware(mux))

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	// Parse job ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	// Route based on subpath
	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	case parts[1] == "best.png":
		s.handleGetBestImage(w, r, jobID)
	case parts[1] == "residual.png":
		s.handleGetResidualImage(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	// Validate config
	if config.DataPath == "" {
		http.Error(w, "dataPath is required", http.StatusBadRequest)
		return
	}
	if config.PSFPath == "" {
		http.Error(w, "psfPath is required", http.StatusBadRequest)
		return
	}
	if config.Mu < 0 {
		http.Error(w, "mu cannot be negative", http.StatusBadRequest)
		return
	}
	if config.Epsilon <= 0 {
		config.Epsilon = 0.01
	}
	if config.Grtol <= 0 {
		config.Grtol = 1e-6
	}
	if config.MaxIters <= 0 {
		config.MaxIters = 200
	}

	// Create job
	job := s.jobManager.CreateJob(config)

	// Start worker in background
	go runJob(context.Background(), s.jobManager, s.store, s.dataDir, job.ID, nil)

	// Return job
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"config":      job.Config,
		"bestCost":    job.BestCost,
		"initialCost": job.InitialCost,
		"gradNorm":    job.GradNorm,
		"iterations":  job.Iterations,
		"evaluations": job.Evaluations,
		"elapsed":     elapsed.Seconds(),
		"startTime":   job.StartTime,
		"endTime":     job.EndTime,
		"error":       job.Error,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetBestImage handles GET /api/v1/jobs/:id/best.png
func (s *Server) handleGetBestImage(w http.ResponseWriter, r *http.Request, jobID string) {
	region, dshape, ok := s.solutionRegion(w, jobID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := imgio.EncodeGray(w, region, dshape[0], dshape[1]); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// handleGetResidualImage handles GET /api/v1/jobs/:id/residual.png
func (s *Server) handleGetResidualImage(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	region, dshape, ok := s.solutionRegion(w, jobID)
	if !ok {
		return
	}

	data, h, wid, err := imgio.LoadGray(job.Config.DataPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load data: %v", err), http.StatusInternalServerError)
		return
	}
	if h != dshape[0] || wid != dshape[1] {
		http.Error(w, "Data shape changed since job start", http.StatusInternalServerError)
		return
	}
	res, err := residualImage(region, data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute residual: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := imgio.EncodeGray(w, res, dshape[0], dshape[1]); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// solutionRegion extracts the data-shaped window of a job's current
// best solution, writing the HTTP error itself when unavailable.
func (s *Server) solutionRegion(w http.ResponseWriter, jobID string) ([]float64, []int, bool) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, nil, false
	}
	sol, shape, ok := s.jobManager.Snapshot(jobID)
	if !ok {
		http.Error(w, "No results yet", http.StatusNotFound)
		return nil, nil, false
	}
	if len(shape) != 2 {
		http.Error(w, "Job solution is not an image", http.StatusInternalServerError)
		return nil, nil, false
	}
	dshape := []int{shape[0] - job.Config.Padding, shape[1] - job.Config.Padding}
	region, err := extractDataRegion(sol, shape, dshape)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to extract solution: %v", err), http.StatusInternalServerError)
		return nil, nil, false
	}
	return region, dshape, true
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
