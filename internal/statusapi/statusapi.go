// Package statusapi implements the Status Service: three JSON endpoints
// exposing per-repository sync status and a trigger to enqueue a run.
// Uses Go 1.22's enhanced http.ServeMux routing, since this surface is
// JSON-only.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/zextras/reposync/internal/scheduler"
)

// StatusResponse is the bit-exact JSON schema of the status endpoints.
type StatusResponse struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	NextSync   int64  `json:"next_sync"`
	LastSync   int64  `json:"last_sync"`
	LastResult string `json:"last_result"`
	Size       int64  `json:"size"`
	Packages   int64  `json:"packages"`
}

// Server exposes the status surface over HTTP. Repos is keyed by
// repository name; it is read-only after construction, so no locking is
// needed around the map itself (each *scheduler.Repo guards its own
// status snapshot).
type Server struct {
	mux    *http.ServeMux
	repos  map[string]*scheduler.Repo
	logger *slog.Logger
}

// New builds a Server for the given repositories. logger defaults to
// slog.Default() if nil.
func New(repos map[string]*scheduler.Repo, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mux: http.NewServeMux(), repos: repos, logger: logger}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /repository/{repo}/", s.handleStatus)
	s.mux.HandleFunc("POST /repository/{repo}/sync", s.handleSync)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth is the one endpoint exempt from the JSON response
// convention: 200 with an empty body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("repo")
	repo, ok := s.repos[name]
	if !ok {
		http.Error(w, "repository not found", http.StatusNotFound)
		return
	}
	writeStatus(w, name, repo)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("repo")
	repo, ok := s.repos[name]
	if !ok {
		http.Error(w, "repository not found", http.StatusNotFound)
		return
	}
	repo.Trigger()
	writeStatus(w, name, repo)
}

func writeStatus(w http.ResponseWriter, name string, repo *scheduler.Repo) {
	st := repo.Status()
	resp := StatusResponse{
		Name:       name,
		Status:     string(st.Phase),
		NextSync:   epochMillis(st.NextSync),
		LastSync:   epochMillis(st.LastSync),
		LastResult: st.LastResult,
		Size:       st.Size,
		Packages:   st.Packages,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// epochMillis returns 0 for the zero time ("0 if never"), otherwise Unix
// epoch milliseconds.
func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
