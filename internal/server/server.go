// Package server exposes the extraction pipeline and the output-file library
// over HTTP for the local web frontend.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/jobs"
	"github.com/fpang/exacqman/internal/outputs"
	"github.com/fpang/exacqman/internal/pipeline"
)

// Runner executes one extract run. Swapped for a stub in handler tests.
type Runner func(ctx context.Context, cfg *config.Config, req pipeline.RunRequest, progress pipeline.ProgressFunc) (*pipeline.RunResult, error)

// Server holds the handler dependencies.
type Server struct {
	configDir string
	outputs   *outputs.Dir
	jobs      *jobs.Store
	runner    Runner
	upgrader  websocket.Upgrader
}

// New creates a server reading configuration files from configDir and
// serving finished videos from out.
func New(configDir string, out *outputs.Dir, store *jobs.Store) *Server {
	return &Server{
		configDir: configDir,
		outputs:   out,
		jobs:      store,
		runner:    pipeline.Run,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return isLocalOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

// SetRunner overrides the pipeline runner, for tests.
func (s *Server) SetRunner(r Runner) { s.runner = r }

// Router builds the API route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(withLogging)
	r.Use(withCORS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)
		r.Get("/status/{jobID}", s.handleStatus)
		r.Get("/ws/status/{jobID}", s.handleStatusWS)

		r.Get("/files", s.handleListFiles)
		r.Get("/files/archive", s.handleArchive)
		r.Delete("/files/{filename}", s.handleDeleteFile)
		r.Get("/download/{filename}", s.handleDownload)
		r.Get("/thumbnail/{filename}", s.handleThumbnail)

		r.Get("/configs", s.handleListConfigs)
		r.Get("/config/{file}", s.handleConfigDetail)
		r.Get("/cameras/{file}", s.handleCameras)
	})

	return r
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins; the frontend is served locally.
		origin := r.Header.Get("Origin")
		if isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost:") ||
		strings.HasPrefix(origin, "http://127.0.0.1:")
}
