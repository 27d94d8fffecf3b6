// Package api exposes a small HTTP status surface for health checks and
// operational visibility.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"instabridge/internal/store"
)

// StatsProvider is the slice of the identity store the status surface reads.
type StatsProvider interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// ForwardedFunc reports the number of messages forwarded since start.
type ForwardedFunc func() int64

// Server serves /health and /api/stats.
type Server struct {
	store     StatsProvider
	forwarded ForwardedFunc
	startedAt time.Time
	http      *http.Server
}

// NewServer builds the status server bound to addr.
func NewServer(addr string, st StatsProvider, forwarded ForwardedFunc) *Server {
	s := &Server{
		store:     st,
		forwarded: forwarded,
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	chain := alice.New(s.logRequest)
	r.Handle("/health", chain.Then(s.Health())).Methods("GET")
	r.Handle("/api/stats", chain.Then(s.BridgeStats())).Methods("GET")

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("Status server started")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// Health reports liveness.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"uptime": time.Since(s.startedAt).String(),
		})
	}
}

// BridgeStats reports store counters and the in-process forward count.
func (s *Server) BridgeStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.store.Stats(r.Context())
		if err != nil {
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":             "running",
			"seen_messages":      stats.SeenMessages,
			"mappings":           stats.Mappings,
			"forwarded_this_run": s.forwarded(),
			"uptime":             time.Since(s.startedAt).String(),
		})
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	responseJson, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJson)
}
