package transport

import (
	"context"
	"time"

	"github.com/zde37/ringkv/pkg"
)

// Probe checks whether a peer is reachable before it is used for
// best-effort messaging. The router never consults it.
type Probe struct {
	client   *GRPCClient
	attempts int
	interval time.Duration
	timeout  time.Duration
	logger   *pkg.Logger
}

// NewProbe creates a probe doing up to attempts health checks, each bounded
// by timeout, with a fixed interval sleep between them.
func NewProbe(client *GRPCClient, attempts int, interval, timeout time.Duration, logger *pkg.Logger) *Probe {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = pkg.NewNop()
	}
	return &Probe{
		client:   client,
		attempts: attempts,
		interval: interval,
		timeout:  timeout,
		logger:   logger.WithFields(pkg.Fields{"component": "probe"}),
	}
}

// IsReachable returns true as soon as one health check reports SERVING and
// false once all attempts fail or ctx is done.
func (p *Probe) IsReachable(ctx context.Context, address string) bool {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if p.check(ctx, address) {
			return true
		}

		p.logger.Debug().
			Str("address", address).
			Int("attempt", attempt).
			Int("max_attempts", p.attempts).
			Msg("Peer not reachable")

		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.interval):
		}
	}
	return false
}

func (p *Probe) check(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ok, err := p.client.Check(ctx, address)
	if err != nil {
		return false
	}
	return ok
}
