package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/trafficlab/settle95/pkg/config"
	"github.com/trafficlab/settle95/pkg/events"
	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/httpx"
	"github.com/trafficlab/settle95/pkg/retention"
	"github.com/trafficlab/settle95/pkg/runner"
	"github.com/trafficlab/settle95/pkg/scheduler"
	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/task"
)

var startTime = time.Now()

// Server wires the task management API onto the engine components.
type Server struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	runner    *runner.Runner
	exporter  *export.Exporter
	sweeper   *retention.Sweeper
	hub       *events.Hub
}

// New creates the HTTP server facade.
func New(st store.Store, sched *scheduler.Scheduler, run *runner.Runner, exp *export.Exporter, sweeper *retention.Sweeper, hub *events.Hub) *Server {
	return &Server{
		store:     st,
		scheduler: sched,
		runner:    run,
		exporter:  exp,
		sweeper:   sweeper,
		hub:       hub,
	}
}

// SetupRoutes configures all HTTP routes for the server.
func (s *Server) SetupRoutes(router *mux.Router, port string) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Task management
	api.HandleFunc("/tasks", s.handleCreateTask).Methods("POST")
	api.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods("PUT")
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods("DELETE")
	api.HandleFunc("/tasks/{id}/run", s.handleTriggerTask).Methods("POST")

	// Runs
	api.HandleFunc("/runs", s.handleAdHocRun).Methods("POST")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleDeleteRun).Methods("DELETE")
	api.HandleFunc("/runs/{id}/cancel", s.handleCancelRun).Methods("POST")
	api.HandleFunc("/runs/{id}/artifacts/{filename}", s.handleDownloadArtifact).Methods("GET")

	// Health and live updates
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/ws", s.hub.HandleWebSocket()).Methods("GET")
}

// createTaskResponse carries the stored task plus, for one-off tasks, the
// run that was auto-triggered on creation.
type createTaskResponse struct {
	Task  *task.Task `json:"task"`
	RunID string     `json:"run_id,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := httpx.DecodeStrict(r, &t); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if err := t.Validate(); err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	if err := s.store.PutTask(r.Context(), &t); err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}

	resp := createTaskResponse{Task: &t}
	if t.Kind == task.KindOneOff {
		// One-off tasks fire immediately; the definition stays for re-runs.
		run, err := s.scheduler.TriggerTask(r.Context(), t.ID)
		if err != nil {
			httpx.RespondClassifiedError(w, err)
			return
		}
		resp.RunID = run.ID
	}
	httpx.RespondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	httpx.RespondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}

	var t task.Task
	if err := httpx.DecodeStrict(r, &t); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	t.ID = existing.ID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now()
	if err := t.Validate(); err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	if err := s.store.PutTask(r.Context(), &t); err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	// The schedule may have changed; recompute on the next tick.
	s.scheduler.Invalidate(id)
	httpx.RespondJSON(w, http.StatusOK, &t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	s.scheduler.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	run, err := s.scheduler.TriggerTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleAdHocRun(w http.ResponseWriter, r *http.Request) {
	var spec scheduler.AdHoc
	if err := httpx.DecodeStrict(r, &spec); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.scheduler.TriggerAdHoc(r.Context(), spec)
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := config.DefaultRunListCap
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("task_id"), limit)
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	if runs == nil {
		runs = []*task.Run{}
	}
	httpx.RespondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	if run.Terminal() {
		httpx.RespondError(w, http.StatusConflict, fmt.Errorf("run %s already finished with status %s", id, run.Status))
		return
	}
	if err := s.runner.Cancel(id); err != nil {
		if errors.Is(err, runner.ErrNotActive) {
			httpx.RespondError(w, http.StatusConflict, err)
			return
		}
		httpx.RespondClassifiedError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	if !run.Terminal() {
		httpx.RespondError(w, http.StatusConflict, fmt.Errorf("run %s is still %s", id, run.Status))
		return
	}
	if err := os.RemoveAll(s.exporter.RunDir(id)); err != nil {
		// Keep the record so the artifacts stay discoverable.
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadArtifact serves one artifact file. The filename must match a
// recorded artifact of the run exactly, so path tricks in the URL can never
// reach outside the run directory.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	run, err := s.store.GetRun(r.Context(), vars["id"])
	if err != nil {
		httpx.RespondClassifiedError(w, err)
		return
	}

	filename := vars["filename"]
	for _, a := range run.Artifacts {
		if a.Filename == filename {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
			http.ServeFile(w, r, a.Path)
			return
		}
	}
	httpx.RespondError(w, http.StatusNotFound, fmt.Errorf("run %s has no artifact %q: %w", run.ID, filename, store.ErrNotFound))
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Retention retention.Status `json:"retention"`
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	interval := s.sweeper.Interval()
	healthy := s.sweeper.Monitor().IsHealthy(interval)

	overallStatus := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status:    overallStatus,
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).String(),
		Retention: s.sweeper.Monitor().Status(interval),
	})
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Allow localhost origins for local development
			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
