package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/zde37/ringkv/internal/api"
	"github.com/zde37/ringkv/pkg"
)

// Server exposes the poller's state as JSON, as a WebSocket stream of
// updates and, optionally, a static dashboard.
type Server struct {
	poller       *Poller
	wsHub        *api.WebSocketHub
	dashboardDir string
	listenAddr   string

	httpServer *http.Server
	listener   net.Listener
	logger     *pkg.Logger
}

// NewServer creates the dashboard server. Every poll result is pushed to
// WebSocket clients.
func NewServer(poller *Poller, listenAddr, dashboardDir string, logger *pkg.Logger) (*Server, error) {
	if poller == nil {
		return nil, fmt.Errorf("poller cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Server{
		poller:       poller,
		wsHub:        api.NewWebSocketHub(logger),
		dashboardDir: dashboardDir,
		listenAddr:   listenAddr,
		logger:       logger.WithFields(pkg.Fields{"component": "monitor"}),
	}

	poller.OnUpdate(func(state *State) {
		if err := s.wsHub.Broadcast(state); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to push state")
		}
	})
	return s, nil
}

// Handler builds the dashboard handler.
func (s *Server) Handler() (http.Handler, error) {
	gw := runtime.NewServeMux()
	if err := gw.HandlePath(http.MethodGet, "/api/state", s.handleState); err != nil {
		return nil, err
	}
	if err := gw.HandlePath(http.MethodGet, "/api/ws", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		s.wsHub.HandleWebSocket(w, r)
	}); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", gw)
	if s.dashboardDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.dashboardDir)))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, map[string]string{"service": "ringkv monitor", "state": "/api/state"})
		})
	}
	return mux, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *api.WebSocketHub {
	return s.wsHub
}

// Start binds the listener and serves in the background. The poller is
// started separately.
func (s *Server) Start() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.listener = listener

	s.wsHub.Start()

	s.httpServer = &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info().Str("listen_addr", listener.Addr().String()).Msg("Starting monitor")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.wsHub.Stop()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown monitor: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, s.poller.State())
}
