package node

// Ring update event types
const (
	EventNodeJoin = "node_join"
)

// RingUpdateBroadcaster is an interface for broadcasting ring updates.
// This allows the Node to notify external systems (like WebSocket clients)
// when membership changes without creating circular dependencies.
type RingUpdateBroadcaster interface {
	// BroadcastRingUpdate sends a ring update notification.
	// The update parameter can be any data structure that will be serialized and sent.
	BroadcastRingUpdate(update any) error
}

// RingUpdateEvent represents a membership change seen by one node.
type RingUpdateEvent struct {
	Type      string `json:"type"`       // "node_join"
	NodeID    string `json:"node_id"`    // Identity of the node that joined
	Address   string `json:"address"`    // Its address
	PeerCount int    `json:"peer_count"` // Peers known after the change
	Timestamp int64  `json:"timestamp"`  // Unix timestamp
	Message   string `json:"message"`    // Human-readable message
}
