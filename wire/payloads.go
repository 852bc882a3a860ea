package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NodeInfo describes a peer as announced at handshake time, and again
// whenever ListNodesResponse reports on it.
type NodeInfo struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	ListenAddr string            `json:"listen_addr"`
	Capabilities []string        `json:"capabilities"`
	Metadata   map[string]string `json:"metadata"`
	NetworkID  string            `json:"network_id"`
}

// HandshakeResponsePayload is the payload of a HandshakeResponse.
type HandshakeResponsePayload struct {
	NodeInfo     NodeInfo `json:"node_info"`
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	PublicAddr   string   `json:"public_addr,omitempty"`
}

// PeerInfo is one entry in a DiscoveryResponse's peer list.
type PeerInfo struct {
	ID           uuid.UUID `json:"id"`
	Addr         string    `json:"addr"`
	LastSeen     int64     `json:"last_seen"`
	Capabilities []string  `json:"capabilities"`
}

// DiscoveryResponsePayload carries the membership list excluding the
// receiving peer.
type DiscoveryResponsePayload struct {
	Peers []PeerInfo `json:"peers"`
}

// ListNodesResponsePayload carries NodeInfo for every known peer.
type ListNodesResponsePayload struct {
	Nodes []NodeInfo `json:"nodes"`
}

// P2PConnectPayload requests, or answers, a rendezvous.
type P2PConnectPayload struct {
	PeerID   uuid.UUID `json:"peer_id"`
	PeerAddr string    `json:"peer_addr,omitempty"`
}

// DisconnectPayload carries a human-readable reason.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload carries a machine-checkable error string (see the
// literal substrings required by the handshake validation paths).
type ErrorPayload struct {
	Error string `json:"error"`
}

// RelayRequestPayload, RelayResponsePayload and RelayDataPayload are
// defined on the wire but have no handler in the dispatcher (Open
// Question Q2 in SPEC_FULL.md).
type RelayRequestPayload struct {
	TargetPeerID uuid.UUID `json:"target_peer_id"`
	Data         []byte    `json:"data"`
}

type RelayResponsePayload struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type RelayDataPayload struct {
	FromPeerID uuid.UUID `json:"from_peer_id"`
	Data       []byte    `json:"data"`
}

// RoutedMessagePayload is the envelope a Data message carries when it
// is being forwarded through the overlay rather than interpreted
// locally. See router.ForwardMessage.
type RoutedMessagePayload struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	SourceNode      uuid.UUID       `json:"source_node"`
	DestinationNode uuid.UUID       `json:"destination_node"`
	HopCount        int             `json:"hop_count"`
	MaxHops         int             `json:"max_hops"`
	RouteID         uuid.UUID       `json:"route_id"`
}

// RouteSnapshotEntry is one row of the {"routes": [...]} reply to the
// "get_routes" local Data command.
type RouteSnapshotEntry struct {
	Destination uuid.UUID `json:"destination"`
	NextHop     uuid.UUID `json:"next_hop"`
	Distance    int       `json:"distance"`
}
