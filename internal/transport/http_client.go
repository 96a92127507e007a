package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zde37/ringkv/internal/metrics"
	"github.com/zde37/ringkv/internal/node"
	"github.com/zde37/ringkv/pkg"
)

// Compile-time check to ensure HTTPClient implements node.RemoteClient
var _ node.RemoteClient = (*HTTPClient)(nil)

// maxBodySize caps how much of a peer response is buffered for relaying.
const maxBodySize = 32 << 20

// HTTPClient talks to peer nodes and to the bootstrap registry over their
// JSON HTTP API.
type HTTPClient struct {
	client *http.Client
	selfID string
	logger *pkg.Logger
}

// NewHTTPClient creates a client. selfID is sent in ForwardedHeader on
// forwarded key operations. timeout bounds every request in addition to any
// context deadline.
func NewHTTPClient(selfID string, timeout time.Duration, logger *pkg.Logger) *HTTPClient {
	if logger == nil {
		logger = pkg.NewNop()
	}

	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		selfID: selfID,
		logger: logger.WithFields(pkg.Fields{"component": "http_client"}),
	}
}

// endpoint joins a base address and a path.
func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// ForwardPut relays a put to the owner at address.
func (c *HTTPClient) ForwardPut(ctx context.Context, address, key string, value []byte) (*node.Relay, error) {
	body, err := json.Marshal(PutRequest{Key: key, Value: string(value)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode put: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(address, "/kv"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ForwardedHeader, c.selfID)

	return c.relay(req)
}

// ForwardGet relays a get to the owner at address.
func (c *HTTPClient) ForwardGet(ctx context.Context, address, key string) (*node.Relay, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(address, "/kv/"+url.PathEscape(key)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(ForwardedHeader, c.selfID)

	return c.relay(req)
}

// relay performs req and captures the response unchanged. Any status code is
// a successful relay; only transport errors are reported.
func (c *HTTPClient) relay(req *http.Request) (*node.Relay, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL.Host, err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Msg("Relayed response")

	return &node.Relay{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Register announces id/address to the registry or node at baseURL.
func (c *HTTPClient) Register(ctx context.Context, baseURL, id, address string) (*RegisterResponse, error) {
	var out RegisterResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint(baseURL, "/register"), RegisterRequest{ID: id, Address: address}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPeers fetches the peer list of the registry or node at baseURL.
func (c *HTTPClient) ListPeers(ctx context.Context, baseURL string) (map[string]string, error) {
	var out PeersResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint(baseURL, "/peers"), nil, &out); err != nil {
		return nil, err
	}
	if out.Peers == nil {
		out.Peers = make(map[string]string)
	}
	return out.Peers, nil
}

// SendMessage posts a free-form message to the node at address.
func (c *HTTPClient) SendMessage(ctx context.Context, address, from, body string) error {
	return c.doJSON(ctx, http.MethodPost, endpoint(address, "/message"), MessageRequest{From: from, Body: body}, nil)
}

// Scrape reads the metrics exposition of the node at address.
func (c *HTTPClient) Scrape(ctx context.Context, address string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(address, "/metrics"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: unexpected status %d", address, resp.StatusCode)
	}
	return metrics.Parse(io.LimitReader(resp.Body, maxBodySize))
}

func (c *HTTPClient) doJSON(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, target, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}
