package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zde37/ringkv/internal/metrics"
	"github.com/zde37/ringkv/internal/ring"
	"github.com/zde37/ringkv/pkg"
	"github.com/zde37/ringkv/pkg/hash"
)

// Lister fetches the registry's peer list.
type Lister interface {
	ListPeers(ctx context.Context, baseURL string) (map[string]string, error)
}

// Scraper fetches one node's metrics exposition.
type Scraper interface {
	Scrape(ctx context.Context, address string) (map[string]float64, error)
}

// NodeState is one scraped node as shown on the dashboard.
type NodeState struct {
	Addr      string  `json:"addr"`
	Sent      float64 `json:"sent"`
	Recv      float64 `json:"recv"`
	PeerCount float64 `json:"peerCount"`
	Hash      string  `json:"hash"`
}

// Link is a ring-successor edge between two node addresses.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// State is the dashboard model built by one poll.
type State struct {
	Nodes     map[string]NodeState `json:"nodes"`
	Links     []Link               `json:"links"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Poller observes the cluster from outside: it lists peers from the registry
// and scrapes each one. A failing peer is left out of that round without
// affecting the others.
type Poller struct {
	lister       Lister
	scraper      Scraper
	bootstrapURL string

	interval      time.Duration
	listTimeout   time.Duration
	scrapeTimeout time.Duration

	state   *State
	stateMu sync.RWMutex

	onUpdate func(*State)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *pkg.Logger
}

// PollerConfig holds the poller's endpoints and cadence.
type PollerConfig struct {
	BootstrapURL  string
	Interval      time.Duration
	ListTimeout   time.Duration
	ScrapeTimeout time.Duration
}

// NewPoller creates a poller with an empty state.
func NewPoller(lister Lister, scraper Scraper, cfg PollerConfig, logger *pkg.Logger) (*Poller, error) {
	if lister == nil || scraper == nil {
		return nil, fmt.Errorf("lister and scraper are required")
	}
	if cfg.BootstrapURL == "" {
		return nil, fmt.Errorf("bootstrap URL cannot be empty")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logger == nil {
		logger = pkg.NewNop()
	}

	return &Poller{
		lister:        lister,
		scraper:       scraper,
		bootstrapURL:  cfg.BootstrapURL,
		interval:      cfg.Interval,
		listTimeout:   cfg.ListTimeout,
		scrapeTimeout: cfg.ScrapeTimeout,
		state:         &State{Nodes: map[string]NodeState{}, Links: []Link{}},
		logger:        logger.WithFields(pkg.Fields{"component": "poller"}),
	}, nil
}

// OnUpdate registers a callback invoked after every successful poll. Must be
// called before Start.
func (p *Poller) OnUpdate(fn func(*State)) {
	p.onUpdate = fn
}

// State returns the latest state. It must not be modified.
func (p *Poller) State() *State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Start polls immediately and then every interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			p.pollAndPublish(ctx)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) pollAndPublish(ctx context.Context) {
	state, err := p.Poll(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Poll failed, keeping previous state")
		return
	}
	if p.onUpdate != nil {
		p.onUpdate(state)
	}
}

// Poll runs one round and stores its result. When the registry cannot be
// listed the previous state is kept and the error returned.
func (p *Poller) Poll(ctx context.Context) (*State, error) {
	listCtx, cancel := context.WithTimeout(ctx, p.listTimeout)
	peers, err := p.lister.ListPeers(listCtx, p.bootstrapURL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		nodes = make(map[string]NodeState, len(peers))
	)
	for id, addr := range peers {
		wg.Add(1)
		go func(id, addr string) {
			defer wg.Done()

			scrapeCtx, cancel := context.WithTimeout(ctx, p.scrapeTimeout)
			defer cancel()

			values, err := p.scraper.Scrape(scrapeCtx, addr)
			if err != nil {
				p.logger.Debug().Err(err).Str("peer_id", id).Msg("Scrape failed")
				return
			}

			mu.Lock()
			nodes[id] = NodeState{
				Addr:      addr,
				Sent:      values[metrics.NameSent],
				Recv:      values[metrics.NameReceived],
				PeerCount: values[metrics.NamePeerCount],
				Hash:      hash.Text(hash.DigestString(addr)),
			}
			mu.Unlock()
		}(id, addr)
	}
	wg.Wait()

	state := &State{
		Nodes:     nodes,
		Links:     successorLinks(nodes),
		UpdatedAt: time.Now(),
	}

	p.stateMu.Lock()
	p.state = state
	p.stateMu.Unlock()

	return state, nil
}

// successorLinks orders nodes the way the routing ring does and links each
// one to its clockwise successor.
func successorLinks(nodes map[string]NodeState) []Link {
	records := make([]*ring.NodeRecord, 0, len(nodes))
	for id, n := range nodes {
		records = append(records, ring.NewNodeRecord(id, n.Addr))
	}
	r := ring.New(records...)

	links := make([]Link, 0, r.Len())
	for _, rec := range r.Records() {
		next, ok := r.Successor(rec.ID)
		if !ok {
			continue
		}
		links = append(links, Link{Source: rec.Address, Target: next.Address})
	}
	return links
}
