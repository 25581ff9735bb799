package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/speedbench/internal/config"
	"github.com/yourorg/speedbench/internal/report"
	"github.com/yourorg/speedbench/internal/session"
	"github.com/yourorg/speedbench/internal/store"
	"github.com/yourorg/speedbench/pkg/types"
)

// Server exposes one benchmarking session and the benchmark history.
type Server struct {
	cfg     *config.Config
	machine *session.Machine
	store   store.Store
	inbox   *Inbox
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New constructs a new Server with routes registered. st may be nil when
// history is disabled; inbox may be nil when notifications go elsewhere.
func New(cfg *config.Config, m *session.Machine, st store.Store, inbox *Inbox, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if m == nil {
		return nil, errors.New("session is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:     cfg,
		machine: m,
		store:   st,
		inbox:   inbox,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe starts the server on addr and stops when ctx is done,
// waiting for background calls to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := hs.Shutdown(shutdownCtx)
	s.machine.Wait()
	return err
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/", s.handleSessionRoutes)
	s.mux.HandleFunc("/api/notifications", s.handleNotifications)
	s.mux.HandleFunc("/api/benchmarks", s.handleBenchmarks)
	s.mux.HandleFunc("/api/benchmarks/", s.handleBenchmarkRoutes)
}

type sessionView struct {
	session.State
	Phase       types.Phase `json:"phase"`
	HasArtifact bool        `json:"has_artifact"`
}

func viewOf(st session.State) sessionView {
	return sessionView{State: st, Phase: st.Phase(), HasArtifact: st.HasArtifact()}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.AllowOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.machine.Snapshot()))
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.AllowOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	action, tail, ok := splitPath(r.URL.Path, "/api/session/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case action == "source" && tail == "":
		s.handleSource(w, r)
	case action == "optimize" && tail == "":
		s.handleOptimize(w, r)
	case action == "run" && (tail == string(types.ModeSingle) || tail == string(types.ModeCluster)):
		s.handleRun(w, r, types.Mode(tail))
	case action == "reset" && tail == "":
		s.handleReset(w, r)
	case action == "artifact" && tail == "":
		s.handleArtifact(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.machine.Edit(*req.Text)))
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.machine.OptimizeAsync(context.WithoutCancel(r.Context())); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(s.machine.Snapshot()))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, mode types.Mode) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.machine.RunAsync(context.WithoutCancel(r.Context()), mode); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(s.machine.Snapshot()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.machine.Reset()))
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.machine.Snapshot()
	if err := session.Check(st, session.ActionCopy, s.machine.Policy()); err != nil {
		s.writeActionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(st.Artifact))
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var pe *session.PreconditionError
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &pe):
		writeError(w, http.StatusUnprocessableEntity, pe.Message)
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.AllowOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := []types.Notification{}
	if s.inbox != nil {
		out = s.inbox.Drain()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.AllowOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []types.BenchmarkRecord{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.store.ListBenchmarks(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleBenchmarkRoutes(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.AllowOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/api/benchmarks/")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	switch tail {
	case "":
		s.handleBenchmarkDetail(w, r, id)
	case "report":
		s.handleBenchmarkReport(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBenchmarkDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.GetBenchmark(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := s.store.DeleteBenchmark(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBenchmarkReport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.store.GetBenchmark(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	data, contentType, err := report.Render(rec, r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "benchmark not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func setCORS(w http.ResponseWriter, origin string) {
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
