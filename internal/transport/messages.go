package transport

// ForwardedHeader marks a key operation relayed by a non-owner. Its value is
// the relaying node's identity. A node receiving it serves the operation
// locally and never forwards again.
const ForwardedHeader = "X-Ringkv-Forwarded-By"

// RegisterRequest announces a peer to a node or to the registry.
type RegisterRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	Status    string `json:"status"`
	PeerCount int    `json:"peerCount"`
}

// PeersResponse lists known peers, identity to address.
type PeersResponse struct {
	Peers map[string]string `json:"peers"`
}

// PutRequest is the body of POST /kv.
type PutRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PutResponse is returned by the owner after a local store.
type PutResponse struct {
	Status      string `json:"status"`
	NodeID      string `json:"nodeId"`
	NodeAddress string `json:"nodeAddress"`
}

// GetResponse is returned by the owner on a local hit.
type GetResponse struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	NodeID string `json:"nodeId"`
}

// MessageRequest is the body of POST /message.
type MessageRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
