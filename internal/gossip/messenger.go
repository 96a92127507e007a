package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zde37/ringkv/internal/node"
	"github.com/zde37/ringkv/pkg"
)

// ErrUnreachable is returned by Tick when the chosen peer fails the probe.
var ErrUnreachable = errors.New("peer unreachable")

// Sender delivers a free-form message to a peer.
type Sender interface {
	SendMessage(ctx context.Context, address, from, body string) error
}

// Prober reports whether a peer answers health checks.
type Prober interface {
	IsReachable(ctx context.Context, address string) bool
}

// Messenger periodically sends a message to one random peer. It is a
// demonstration of the membership view and has no effect on routing.
type Messenger struct {
	node     *node.Node
	sender   Sender
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	pick func(n int) int
	seq  atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *pkg.Logger
}

// NewMessenger creates a messenger. timeout bounds each send.
func NewMessenger(n *node.Node, sender Sender, prober Prober, interval, timeout time.Duration, logger *pkg.Logger) (*Messenger, error) {
	if n == nil || sender == nil || prober == nil {
		return nil, fmt.Errorf("node, sender and prober are required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if logger == nil {
		logger = pkg.NewNop()
	}

	return &Messenger{
		node:     n,
		sender:   sender,
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		pick:     rand.IntN,
		logger:   logger.WithFields(pkg.Fields{"component": "messenger"}),
	}, nil
}

// Start runs the send loop until Stop or ctx is done.
func (m *Messenger) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Tick(ctx); err != nil {
					m.logger.Debug().Err(err).Msg("Message round failed")
				}
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (m *Messenger) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Tick performs one round: pick a random peer, probe it, send to it. It
// returns the chosen address, or "" when there are no peers.
func (m *Messenger) Tick(ctx context.Context) (string, error) {
	peers := m.node.Peers()
	if len(peers) == 0 {
		return "", nil
	}

	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	id := ids[m.pick(len(ids))]
	addr := peers[id]

	if !m.prober.IsReachable(ctx, addr) {
		return addr, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	body := fmt.Sprintf("hello from %s #%d", m.node.ID(), m.seq.Add(1))
	if err := m.sender.SendMessage(sendCtx, addr, m.node.ID(), body); err != nil {
		return addr, fmt.Errorf("send to %s: %w", addr, err)
	}

	m.node.Metrics().IncSent()
	m.logger.Debug().Str("peer_id", id).Str("peer_addr", addr).Msg("Sent message")
	return addr, nil
}
