// -----------------------------------------------------------------------
// Admin Handlers - status, task control, worker scaling and search
// -----------------------------------------------------------------------

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/sitesearch/internal/models"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.mgr.GetSystemStatus(r.Context()))
}

// tasksHandler lists tasks (GET) or starts a crawl (POST)
func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.mgr.Tasks())

	case http.MethodPost:
		var cfg models.TaskConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid task config: "+err.Error())
			return
		}
		taskID, err := s.mgr.StartCrawl(r.Context(), cfg)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// taskRoutes handles /api/tasks/{id} and /api/tasks/{id}/stop
func (s *Server) taskRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet {
		snapshot, ok := s.mgr.Task(parts[0])
		if !ok {
			s.writeError(w, http.StatusNotFound, "unknown task: "+parts[0])
			return
		}
		s.writeJSON(w, http.StatusOK, snapshot)
		return
	}

	if len(parts) == 2 && parts[1] == "stop" && r.Method == http.MethodPost {
		if err := s.mgr.StopTask(parts[0]); err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"task_id": parts[0], "status": "stopped"})
		return
	}

	s.writeError(w, http.StatusNotFound, "not found")
}

// adjustWorkersHandler rescales a shared stage pool
func (s *Server) adjustWorkersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Component string `json:"component"`
		Count     int    `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if err := s.mgr.AdjustWorkers(req.Component, req.Count); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"component": req.Component, "count": req.Count})
}

// searchHandler runs hybrid retrieval against one site's index
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("q")
	siteID := r.URL.Query().Get("site_id")
	if query == "" || siteID == "" {
		s.writeError(w, http.StatusBadRequest, "q and site_id are required")
		return
	}

	topK := s.cfg.Indexer.TopK
	if v := r.URL.Query().Get("top_k"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid top_k")
			return
		}
		topK = parsed
	}
	rerank := r.URL.Query().Get("rerank") != "false"

	idx, err := s.factory.ForSite(r.Context(), siteID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, err := idx.Query(r.Context(), query, topK, rerank)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"site_id": siteID,
		"results": hits,
	})
}

// documentSearchHandler is the keyword search over stored documents
func (s *Server) documentSearchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	docs, err := s.store.SearchDocuments(r.Context(), query, r.URL.Query().Get("site_id"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": docs})
}
