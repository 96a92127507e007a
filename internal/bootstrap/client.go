package bootstrap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zde37/ringkv/internal/config"
	"github.com/zde37/ringkv/internal/node"
	"github.com/zde37/ringkv/internal/transport"
	"github.com/zde37/ringkv/pkg"
)

// State is the registration state of a node.
type State int32

const (
	Unregistered State = iota
	Registering
	Registered
	Failed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Registrar is the registry side of the protocol. Nodes speak the same
// register/list API, so it is also used to announce this node to peers.
type Registrar interface {
	Register(ctx context.Context, baseURL, id, address string) (*transport.RegisterResponse, error)
	ListPeers(ctx context.Context, baseURL string) (map[string]string, error)
}

// Compile-time check to ensure HTTPClient implements Registrar
var _ Registrar = (*transport.HTTPClient)(nil)

// Client registers a node with the bootstrap registry and keeps its
// membership table fed from the registry's peer list.
type Client struct {
	node      *node.Node
	registrar Registrar

	url        string
	attempts   int
	retryDelay time.Duration
	timeout    time.Duration
	interval   time.Duration

	state  atomic.Int32
	logger *pkg.Logger
}

// NewClient creates a client using the bootstrap settings of cfg.
func NewClient(n *node.Node, registrar Registrar, cfg *config.Config, logger *pkg.Logger) (*Client, error) {
	if n == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if registrar == nil {
		return nil, fmt.Errorf("registrar cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = pkg.NewNop()
	}

	attempts := cfg.RegisterAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		node:       n,
		registrar:  registrar,
		url:        cfg.BootstrapURL,
		attempts:   attempts,
		retryDelay: cfg.RegisterRetryDelay,
		timeout:    cfg.RegisterTimeout,
		interval:   cfg.SyncInterval,
		logger:     logger.WithFields(pkg.Fields{"component": "bootstrap_client"}),
	}, nil
}

// State returns the current registration state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Run registers, imports the peer list once and then re-imports it every
// sync interval until ctx is done. Without a bootstrap URL it returns
// immediately. A registration failure is returned wrapped in
// pkg.ErrRegistrationFailed; the node keeps serving with what it knows.
func (c *Client) Run(ctx context.Context) error {
	if c.url == "" {
		c.logger.Info().Msg("No bootstrap registry configured, running standalone")
		return nil
	}

	if err := c.register(ctx); err != nil {
		c.logger.Error().Err(err).Str("bootstrap_url", c.url).Msg("Continuing without registry membership")
		return err
	}

	if _, err := c.Sync(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Initial peer import failed")
	}

	if c.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Sync(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("Periodic peer import failed")
			}
		}
	}
}

// register tries up to attempts times with a fixed delay between attempts.
func (c *Client) register(ctx context.Context) error {
	c.setState(Registering)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.registrar.Register(attemptCtx, c.url, c.node.ID(), c.node.Address())
		cancel()

		if err == nil {
			c.setState(Registered)
			c.logger.Info().
				Str("bootstrap_url", c.url).
				Int("attempt", attempt).
				Int("registry_peers", resp.PeerCount).
				Msg("Registered with bootstrap registry")
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.attempts).
			Msg("Registration attempt failed")

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			c.setState(Failed)
			return fmt.Errorf("%w: %w", pkg.ErrRegistrationFailed, ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}

	c.setState(Failed)
	return fmt.Errorf("%w after %d attempts: %w", pkg.ErrRegistrationFailed, c.attempts, lastErr)
}

// Sync imports the registry's peer list and announces this node to every
// peer it did not know before. It returns the number of new peers.
func (c *Client) Sync(ctx context.Context) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, c.timeout)
	peers, err := c.registrar.ListPeers(listCtx, c.url)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list peers: %w", err)
	}

	added := c.node.ImportPeers(peers)
	for _, id := range added {
		c.announce(ctx, id, peers[id])
	}

	if len(added) > 0 {
		c.logger.Info().
			Int("new_peers", len(added)).
			Int("peer_count", c.node.PeerCount()).
			Msg("Imported peers from registry")
	}
	return len(added), nil
}

// announce registers this node with a newly learned peer. Failures are only
// logged; the peer will learn about us from the registry on its next sync.
func (c *Client) announce(ctx context.Context, id, address string) {
	announceCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.registrar.Register(announceCtx, address, c.node.ID(), c.node.Address()); err != nil {
		c.logger.Debug().Err(err).Str("peer_id", id).Msg("Failed to announce to peer")
	}
}
