package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// cachedJSON serves the cached body for key when present, otherwise computes
// it, caches it, and serves it. Admin aggregates tolerate 60s staleness.
func (s *Server) cachedJSON(w http.ResponseWriter, r *http.Request, key string, compute func() (interface{}, error)) {
	if s.Cache != nil {
		if b, err := s.Cache.Get(r.Context(), key); err == nil && b != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(b)
			return
		}
	}
	v, err := compute()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode error")
		return
	}
	if s.Cache != nil {
		_ = s.Cache.Set(r.Context(), key, b)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	s.cachedJSON(w, r, "admin:stats", func() (interface{}, error) {
		return s.DB.AdminGetStats(r.Context())
	})
}

func (s *Server) adminListWorkspaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	plan := q.Get("plan")
	status := q.Get("status")
	key := "admin:workspaces:" + strconv.Itoa(limit) + ":" + strconv.Itoa(offset) + ":" + plan + ":" + status
	s.cachedJSON(w, r, key, func() (interface{}, error) {
		list, total, err := s.DB.AdminListWorkspaces(r.Context(), limit, offset, plan, status)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"workspaces": list, "total": total}, nil
	})
}

func (s *Server) adminGetWorkspace(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	d, err := s.DB.AdminGetWorkspace(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
