package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"listinglab/backend/internal/cache"
	"listinglab/backend/internal/middleware"
	"listinglab/backend/internal/provider"
	"listinglab/backend/internal/store"
	"listinglab/backend/internal/stream"
)

type Server struct {
	DB        *store.DB
	Asynq     *asynq.Client
	Stream    *stream.Subscriber
	Cache     *cache.Redis
	Providers *provider.Registry

	redisURL  string
	jwtSecret string
	jwks      *keyfunc.JWKS
}

// NewServer builds the API server.
func NewServer(db *store.DB, asynqClient *asynq.Client, streamSub *stream.Subscriber, cacheRedis *cache.Redis, providers *provider.Registry, redisURL, jwtSecret string, jwks *keyfunc.JWKS) *Server {
	return &Server{
		DB: db, Asynq: asynqClient, Stream: streamSub, Cache: cacheRedis, Providers: providers,
		redisURL: redisURL, jwtSecret: jwtSecret, jwks: jwks,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.health)
	r.Get("/health/ready", s.healthReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(s.jwtSecret, s.jwks, s.DB))
		r.Use(middleware.RateLimit(300))
		r.Get("/me", s.me)
		r.Get("/providers", s.listProviders)
		r.Route("/generations", func(r chi.Router) {
			r.Post("/", s.createGeneration)
			r.Get("/", s.listGenerations)
			r.Get("/{id}", s.getGeneration)
			r.Post("/{id}/retry", s.retryGeneration)
			r.Get("/{id}/stream", s.generationStreamSSE)
		})
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Get("/{id}", s.getProject)
		})
		// Admin views (requires is_admin = true)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.DB))
			r.Get("/stats", s.adminStats)
			r.Get("/workspaces", s.adminListWorkspaces)
			r.Get("/workspaces/{id}", s.adminGetWorkspace)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (s *Server) healthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		log.Printf("health/ready: db ping: %v", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	if s.redisURL != "" {
		u := s.redisURL
		if !strings.HasPrefix(u, "redis://") && !strings.HasPrefix(u, "rediss://") {
			u = "redis://" + u
		}
		opt, err := redis.ParseURL(u)
		if err != nil {
			log.Printf("health/ready: redis parse: %v", err)
			writeError(w, http.StatusServiceUnavailable, "redis config invalid")
			return
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("health/ready: redis ping: %v", err)
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	user, err := s.DB.UserByID(r.Context(), userID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	ws, err := s.DB.WorkspaceForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "workspace": ws})
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": s.Providers.Capabilities()})
}

// workspaceFor resolves the caller's workspace or writes the error response.
func (s *Server) workspaceFor(w http.ResponseWriter, r *http.Request) *store.Workspace {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	ws, err := s.DB.WorkspaceForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return nil
	}
	if ws == nil {
		writeError(w, http.StatusForbidden, "no workspace")
		return nil
	}
	return ws
}
