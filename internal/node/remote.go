package node

import "context"

// Relay is the owner's response to a forwarded operation. It is passed back
// to the original caller unchanged.
type Relay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// RemoteClient defines the interface for forwarding key operations to the
// owning node. This keeps the Node independent of the transport layer.
type RemoteClient interface {
	// ForwardPut sends a put for key to the node at address.
	ForwardPut(ctx context.Context, address, key string, value []byte) (*Relay, error)

	// ForwardGet sends a get for key to the node at address.
	ForwardGet(ctx context.Context, address, key string) (*Relay, error)
}
