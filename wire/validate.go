package wire

import "github.com/pkg/errors"

// ValidateHandshakeRequest mirrors HandshakeProtocol::validate_handshake_request:
// name and version must be non-empty, and a network id must be present.
func ValidateHandshakeRequest(info NodeInfo) error {
	if info.Name == "" {
		return errors.New("handshake request missing name")
	}
	if info.Version == "" {
		return errors.New("handshake request missing version")
	}
	if info.NetworkID == "" {
		return errors.New("握手请求缺少 network_id")
	}
	return nil
}

// ValidateHandshakeResponse mirrors validate_handshake_response: the
// echoed network id must match what the local node configured.
func ValidateHandshakeResponse(p HandshakeResponsePayload, expectedNetworkID string) error {
	if !p.Success {
		if p.ErrorMessage != "" {
			return errors.New(p.ErrorMessage)
		}
		return errors.New("handshake failed")
	}
	if p.NodeInfo.NetworkID != expectedNetworkID {
		return errors.Errorf("网络ID不匹配: 期望 %s，收到 %s", expectedNetworkID, p.NodeInfo.NetworkID)
	}
	return nil
}
