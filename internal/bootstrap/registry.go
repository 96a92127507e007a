package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/zde37/ringkv/internal/config"
	"github.com/zde37/ringkv/internal/transport"
	"github.com/zde37/ringkv/pkg"
)

// Registry is the cluster-wide rendezvous catalog of peer identity to
// address. It is used for discovery only and never takes part in routing.
type Registry struct {
	id      string
	started time.Time

	peers map[string]string
	mu    sync.RWMutex

	listenAddr string
	httpServer *http.Server
	listener   net.Listener
	logger     *pkg.Logger
}

// NewRegistry creates an empty registry with a fresh identity.
func NewRegistry(cfg *config.RegistryConfig, logger *pkg.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := uuid.NewString()
	return &Registry{
		id:         id,
		started:    time.Now(),
		peers:      make(map[string]string),
		listenAddr: cfg.ListenAddr(),
		logger:     logger.WithFields(pkg.Fields{"component": "registry", "registry_id": id[:8]}),
	}, nil
}

// ID returns the registry's identity.
func (r *Registry) ID() string {
	return r.id
}

// Register inserts or overwrites a peer and returns the catalog size.
func (r *Registry) Register(id, address string) int {
	r.mu.Lock()
	prev, known := r.peers[id]
	r.peers[id] = address
	count := len(r.peers)
	r.mu.Unlock()

	switch {
	case !known:
		r.logger.Info().Str("peer_id", id).Str("peer_addr", address).Int("peer_count", count).Msg("Registered peer")
	case prev != address:
		r.logger.Info().Str("peer_id", id).Str("old_addr", prev).Str("peer_addr", address).Msg("Updated peer address")
	}
	return count
}

// Peers returns a snapshot of the catalog.
func (r *Registry) Peers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.peers))
	for id, addr := range r.peers {
		out[id] = addr
	}
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Handler builds the registry's HTTP handler.
func (r *Registry) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/", r.handleIndex},
		{http.MethodGet, "/status", r.handleStatus},
		{http.MethodPost, "/register", r.handleRegister},
		{http.MethodGet, "/peers", r.handlePeers},
		{http.MethodGet, "/health", r.handleHealth},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

// Start binds the listener and serves in the background.
func (r *Registry) Start() error {
	handler, err := r.Handler()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", r.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.listenAddr, err)
	}
	r.listener = listener

	r.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	r.logger.Info().Str("listen_addr", listener.Addr().String()).Msg("Starting bootstrap registry")

	go func() {
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (r *Registry) Addr() string {
	if r.listener == nil {
		return r.listenAddr
	}
	return r.listener.Addr().String()
}

// Stop gracefully stops the registry.
func (r *Registry) Stop() error {
	if r.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown registry: %w", err)
	}
	r.logger.Info().Msg("Bootstrap registry stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (r *Registry) handleIndex(w http.ResponseWriter, req *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "ringkv bootstrap registry",
		"id":      r.id,
	})
}

func (r *Registry) handleStatus(w http.ResponseWriter, req *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        r.id,
		"peerCount": r.Len(),
		"uptime":    time.Since(r.started).Round(time.Second).String(),
	})
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request, _ map[string]string) {
	var body transport.RegisterRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<20)).Decode(&body); err != nil || body.ID == "" || body.Address == "" {
		writeJSON(w, http.StatusBadRequest, transport.ErrorResponse{Error: "invalid peer data: id and address are required"})
		return
	}

	count := r.Register(body.ID, body.Address)
	writeJSON(w, http.StatusOK, transport.RegisterResponse{Status: "success", PeerCount: count})
}

func (r *Registry) handlePeers(w http.ResponseWriter, req *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, transport.PeersResponse{Peers: r.Peers()})
}

func (r *Registry) handleHealth(w http.ResponseWriter, req *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"peerCount": r.Len(),
	})
}
