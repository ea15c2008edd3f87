// Package server exposes the task orchestrator over HTTP: task lifecycle,
// credential submission, and a websocket event stream per task.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/runner"
)

// Options wires the server's collaborators.
type Options struct {
	Config   *config.Config
	Broker   *credentials.Store
	Registry *runner.Registry
	Gate     runner.Verifier
	Logger   *logging.Logger

	// Builder constructs per-task rosters; nil means the fixed fallback.
	Builder roster.Builder
	// NewSource produces the conversation for a task; nil means the
	// built-in demo script.
	NewSource func(task string) roster.Source
}

// Server is the HTTP transport. All state lives in the registry and broker;
// handlers are thin and safe for concurrent use.
type Server struct {
	cfg       *config.Config
	broker    *credentials.Store
	registry  *runner.Registry
	gate      runner.Verifier
	logger    *logging.Logger
	builder   roster.Builder
	newSource func(task string) roster.Source

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds the server and its route table.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}
	s := &Server{
		cfg:       opts.Config,
		broker:    opts.Broker,
		registry:  opts.Registry,
		gate:      opts.Gate,
		logger:    logger.WithComponent("server"),
		builder:   opts.Builder,
		newSource: opts.NewSource,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /start-task", s.handleStartTask)
	s.mux.HandleFunc("POST /credentials", s.handleSetCredential)
	s.mux.HandleFunc("GET /credentials/{owner}", s.handleListCredentials)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleTaskState)
	s.mux.HandleFunc("GET /tasks/{id}/events", s.handleTaskEvents)
	s.mux.HandleFunc("POST /tasks/{id}/stop", s.handleStopTask)
	s.mux.HandleFunc("GET /ws/{id}", s.handleTaskStream)
}

// ServeHTTP makes the server mountable and testable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Listen serves on the configured address until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
	}
	errc := make(chan error, 1)
	go func() { errc <- s.httpSrv.ListenAndServe() }()
	s.logger.Info("listening", map[string]interface{}{"addr": s.cfg.Server.Listen})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

type startTaskRequest struct {
	Task      string `json:"task"`
	UserID    string `json:"user_id"`
	AutoApply *bool  `json:"auto_apply,omitempty"`
	MaxAgents int    `json:"max_agents,omitempty"`
	// Credentials seeds the broker for this owner before the task starts.
	Credentials map[string]string `json:"credentials,omitempty"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req startTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	autoApply := true
	if req.AutoApply != nil {
		autoApply = *req.AutoApply
	}
	maxAgents := req.MaxAgents
	if maxAgents <= 0 {
		maxAgents = s.cfg.Runner.MaxAgents
	}
	for provider, value := range req.Credentials {
		if err := s.broker.Set(req.UserID, provider, value); err != nil {
			writeError(w, http.StatusInternalServerError, "could not store credential")
			return
		}
	}

	var source roster.Source
	if s.newSource != nil {
		source = s.newSource(req.Task)
	}
	run := runner.New(runner.Options{
		Task:           req.Task,
		Owner:          req.UserID,
		AutoApply:      autoApply,
		MaxAgents:      maxAgents,
		Gate:           s.gate,
		Broker:         s.broker,
		Logger:         s.logger,
		Builder:        s.builder,
		Source:         source,
		CredentialWait: time.Duration(s.cfg.Runner.CredentialWaitSeconds) * time.Second,
		EventBuffer:    s.cfg.Events.BufferSize,
	})
	if s.cfg.Events.NatsURL != "" {
		mirror, err := events.NewNatsMirror(s.cfg.Events.NatsURL, s.cfg.Events.NatsPrefix, run.ID, s.logger)
		if err != nil {
			s.logger.Warn("nats mirror unavailable", map[string]interface{}{"error": err})
		} else {
			run.Sink().AddMirror(mirror)
		}
	}
	// The task outlives the request; it gets its own context.
	s.registry.Start(context.Background(), run)
	s.logger.Info("task started", map[string]interface{}{"task_id": run.ID, "owner": req.UserID})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": run.ID,
		"state":   run.State(),
	})
}

type setCredentialRequest struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Value    string `json:"value"`
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req setCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Provider == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "user_id, provider and value are required")
		return
	}
	if err := s.broker.Set(req.UserID, req.Provider, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "could not store credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "stored",
		"provider": req.Provider,
		"value":    credentials.Masked(req.Value),
	})
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	providers := map[string]string{}
	for _, p := range s.broker.ListProviders(owner) {
		if v, ok := s.broker.Get(owner, p); ok {
			providers[p] = credentials.Masked(v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   owner,
		"providers": providers,
	})
}

func (s *Server) handleTaskState(w http.ResponseWriter, r *http.Request) {
	run, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": run.ID,
		"state":   run.State(),
		"roster":  run.Roster().Names(),
	})
}

// handleTaskEvents drains and returns the backlog. Polling consumers get
// each event at most once; live consumers should use the websocket.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	evs := run.Sink().Drain()
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": run.ID,
		"state":   run.State(),
		"events":  evs,
	})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Stop(id) {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": id,
		"status":  "stopping",
	})
}

// handleTaskStream upgrades to a websocket and replays the backlog before
// streaming live events until the task finishes or the client goes away.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	run, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err})
		return
	}
	defer conn.Close()

	ch, cancel := run.Sink().Subscribe()
	defer cancel()

	// Reader goroutine notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
