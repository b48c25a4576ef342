// Package server exposes the tool surface over HTTP for callers that
// prefer a local endpoint to the stdio protocol.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/3cpo-dev/pvemcp/internal/tools"
)

type Server struct {
	Version   string
	Bridge    *tools.Bridge
	Connected func() bool
	srv       *http.Server
}

// Routes for the server
func (s *Server) routes(mux *http.ServeMux) {
	registry := s.Bridge.Registry()

	mux.HandleFunc("/v0/health", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		connected := s.Connected != nil && s.Connected()
		h := HealthResponse{
			Status:       "ok",
			Service:      "pvemcp",
			Version:      s.Version,
			SSHConnected: connected,
			Time:         time.Now(),
		}
		_ = json.NewEncoder(w).Encode(h)
	})

	mux.HandleFunc("/v0/metrics", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		requests, errCount, total := s.Bridge.Metrics().Snapshot()
		_ = json.NewEncoder(w).Encode(MetricsResponse{
			Requests:        requests,
			Errors:          errCount,
			TotalDurationMS: total.Milliseconds(),
		})
	})

	mux.HandleFunc("/v0/tools/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		name := strings.TrimPrefix(r.URL.Path, "/v0/tools/")
		h, ok := registry[name]
		if !ok {
			http.Error(w, "unknown tool: "+name, http.StatusNotFound)
			return
		}

		var req ToolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := h(r.Context(), req.Args)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ToolResponse{Result: result})
	})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.routes(mux)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
