package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/zde37/ringkv/internal/node"
	"github.com/zde37/ringkv/internal/transport"
	"github.com/zde37/ringkv/pkg"
)

// Server is a node's public endpoint: the JSON HTTP API, the WebSocket event
// stream and the gRPC health service, all on one port.
type Server struct {
	node       *node.Node
	grpc       *transport.GRPCServer
	wsHub      *WebSocketHub
	dataDir    string
	listenAddr string

	registration   func() string
	registrationMu sync.RWMutex

	httpServer *http.Server
	listener   net.Listener
	logger     *pkg.Logger
}

// Config holds the HTTP server configuration.
type Config struct {
	ListenAddr string // host:port, port 0 picks a free one
	DataDir    string // Directory for /files; empty disables it
}

// NewServer creates the API server for n and subscribes its WebSocket hub
// to n's membership events.
func NewServer(n *node.Node, cfg *Config, logger *pkg.Logger) (*Server, error) {
	if n == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	grpcServer, err := transport.NewGRPCServer(logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		node:       n,
		grpc:       grpcServer,
		wsHub:      NewWebSocketHub(logger),
		dataDir:    cfg.DataDir,
		listenAddr: cfg.ListenAddr,
		logger:     logger.WithFields(pkg.Fields{"component": "http_api"}),
	}
	n.SetBroadcaster(s.wsHub)
	return s, nil
}

// SetRegistration sets the provider of the bootstrap state shown on /status.
func (s *Server) SetRegistration(fn func() string) {
	s.registrationMu.Lock()
	defer s.registrationMu.Unlock()
	s.registration = fn
}

func (s *Server) registrationState() string {
	s.registrationMu.RLock()
	defer s.registrationMu.RUnlock()
	if s.registration == nil {
		return "disabled"
	}
	return s.registration()
}

// Handler builds the full request handler. It is exposed for tests that run
// the server under httptest.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux(
		runtime.WithUnescapingMode(runtime.UnescapingModeAllExceptReserved),
	)

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/register", s.handleRegister},
		{http.MethodGet, "/peers", s.handlePeers},
		{http.MethodPost, "/kv", s.handlePut},
		{http.MethodGet, "/kv/{key}", s.handleGet},
		{http.MethodGet, "/owner/{key}", s.handleOwner},
		{http.MethodGet, "/status", s.handleStatus},
		{http.MethodGet, "/health", s.handleHealth},
		{http.MethodGet, "/metrics", s.handleMetrics},
		{http.MethodPost, "/message", s.handleMessage},
		{http.MethodPut, "/files/{name}", s.handleFileUpload},
		{http.MethodGet, "/files/{name}", s.handleFileDownload},
		{http.MethodGet, "/api/ws", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			s.wsHub.HandleWebSocket(w, r)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	return s.grpc.Handler(corsMiddleware(escapedPathMiddleware(mux))), nil
}

// Start binds the listener and serves in the background.
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
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().
		Str("listen_addr", listener.Addr().String()).
		Str("node_addr", s.node.Address()).
		Msg("Starting HTTP API server")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddr
	}
	return s.listener.Addr().String()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	s.grpc.SetServing(false)
	s.wsHub.Stop()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	s.grpc.Stop()

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+transport.ForwardedHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// escapedPathMiddleware pins RawPath to the escaped request path. The mux
// then splits on literal slashes only and decodes each segment once, even
// when the client used Go's default encoding and RawPath was left empty.
func escapedPathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawPath != "" {
			next.ServeHTTP(w, r)
			return
		}
		r2 := new(http.Request)
		*r2 = *r
		r2.URL = new(url.URL)
		*r2.URL = *r.URL
		r2.URL.RawPath = r.URL.EscapedPath()
		next.ServeHTTP(w, r2)
	})
}
