package wire

import "github.com/google/uuid"

// The constructors below mirror the one-per-tag free functions in the
// original protocol module; each builds a Message whose Payload is
// already the correctly-shaped JSON for its tag.

func NewHandshakeRequest(info NodeInfo) (*Message, error) {
	return newMessage(HandshakeRequest, info)
}

func NewHandshakeResponse(p HandshakeResponsePayload) (*Message, error) {
	return newMessage(HandshakeResponse, p)
}

func NewPing() (*Message, error) {
	return newMessage(Ping, struct{}{})
}

func NewPong() (*Message, error) {
	return newMessage(Pong, struct{}{})
}

func NewDiscoveryRequest() (*Message, error) {
	return newMessage(DiscoveryRequest, struct{}{})
}

func NewDiscoveryResponse(peers []PeerInfo) (*Message, error) {
	return newMessage(DiscoveryResponse, DiscoveryResponsePayload{Peers: peers})
}

func NewListNodesRequest() (*Message, error) {
	return newMessage(ListNodesRequest, struct{}{})
}

func NewListNodesResponse(nodes []NodeInfo) (*Message, error) {
	return newMessage(ListNodesResponse, ListNodesResponsePayload{Nodes: nodes})
}

func NewData(payload any) (*Message, error) {
	return newMessage(Data, payload)
}

func NewError(reason string) (*Message, error) {
	return newMessage(ErrorMsg, ErrorPayload{Error: reason})
}

func NewDisconnect(reason string) (*Message, error) {
	return newMessage(Disconnect, DisconnectPayload{Reason: reason})
}

func NewAck(ackFor uuid.UUID) (*Message, error) {
	m, err := newMessage(Ack, struct{}{})
	if err != nil {
		return nil, err
	}
	m.AckFor = &ackFor
	return m, nil
}

func NewP2PConnect(peerID uuid.UUID, peerAddr string) (*Message, error) {
	return newMessage(P2PConnect, P2PConnectPayload{PeerID: peerID, PeerAddr: peerAddr})
}

func NewRelayRequest(p RelayRequestPayload) (*Message, error) {
	return newMessage(RelayRequest, p)
}

func NewRelayResponse(p RelayResponsePayload) (*Message, error) {
	return newMessage(RelayResponse, p)
}

func NewRelayData(p RelayDataPayload) (*Message, error) {
	return newMessage(RelayData, p)
}

func NewRoutedData(p RoutedMessagePayload) (*Message, error) {
	return newMessage(Data, p)
}
