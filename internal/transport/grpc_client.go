package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zde37/ringkv/pkg"
)

// GRPCClient issues gRPC health checks against peers, reusing one connection
// per peer.
type GRPCClient struct {
	logger *pkg.Logger

	// Connection pool
	connections map[string]*grpc.ClientConn
	connMu      sync.RWMutex
}

// NewGRPCClient creates a new gRPC client.
func NewGRPCClient(logger *pkg.Logger) *GRPCClient {
	if logger == nil {
		logger = pkg.NewNop()
	}

	return &GRPCClient{
		logger:      logger.WithFields(pkg.Fields{"component": "grpc_client"}),
		connections: make(map[string]*grpc.ClientConn),
	}
}

// dialTarget turns a node address (http://host:port or host:port) into a
// gRPC target.
func dialTarget(address string) (string, error) {
	if u, err := url.Parse(address); err == nil && u.Host != "" {
		return u.Host, nil
	}
	if address == "" {
		return "", fmt.Errorf("empty address")
	}
	return address, nil
}

// getConnection returns a connection to the given address, creating one if needed.
func (c *GRPCClient) getConnection(address string) (*grpc.ClientConn, error) {
	c.connMu.RLock()
	conn, exists := c.connections[address]
	c.connMu.RUnlock()

	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Double-check after acquiring write lock
	conn, exists = c.connections[address]
	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	target, err := dialTarget(address)
	if err != nil {
		return nil, err
	}

	newConn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", address, err)
	}

	c.connections[address] = newConn
	c.logger.Debug().Str("address", address).Msg("Created new gRPC connection")

	return newConn, nil
}

// Check calls grpc.health.v1.Health/Check on the peer and reports whether it
// is SERVING. The caller bounds the call through ctx.
func (c *GRPCClient) Check(ctx context.Context, address string) (bool, error) {
	conn, err := c.getConnection(address)
	if err != nil {
		return false, err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check %s: %w", address, err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes all pooled connections.
func (c *GRPCClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	for addr, conn := range c.connections {
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Str("address", addr).Msg("Failed to close connection")
		}
		delete(c.connections, addr)
	}
	return nil
}
