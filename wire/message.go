// Package wire implements the textual, tagged datagram protocol shared
// by the rendezvous server and its peers. It has no knowledge of
// sockets, peers or timers: it only knows how to turn a Message into
// bytes and back.
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MessageType tags the payload carried by a Message.
type MessageType string

const (
	HandshakeRequest  MessageType = "HandshakeRequest"
	HandshakeResponse MessageType = "HandshakeResponse"
	Ping              MessageType = "Ping"
	Pong              MessageType = "Pong"
	DiscoveryRequest  MessageType = "DiscoveryRequest"
	DiscoveryResponse MessageType = "DiscoveryResponse"
	ListNodesRequest  MessageType = "ListNodesRequest"
	ListNodesResponse MessageType = "ListNodesResponse"
	Data              MessageType = "Data"
	ErrorMsg          MessageType = "Error"
	Disconnect        MessageType = "Disconnect"
	Ack               MessageType = "Ack"
	Retransmit        MessageType = "Retransmit"
	P2PConnect        MessageType = "P2PConnect"
	RelayRequest      MessageType = "RelayRequest"
	RelayResponse     MessageType = "RelayResponse"
	RelayData         MessageType = "RelayData"
)

// Message is the single envelope carried by every datagram.
type Message struct {
	ID              uuid.UUID       `json:"id"`
	MessageType     MessageType     `json:"message_type"`
	Timestamp       int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	SenderAddr      string          `json:"sender_addr,omitempty"`
	SequenceNumber  *uint64         `json:"sequence_number,omitempty"`
	RequiresAck     bool            `json:"requires_ack,omitempty"`
	AckFor          *uuid.UUID      `json:"ack_for,omitempty"`
}

// newMessage builds an envelope around an already-marshaled payload,
// stamping a fresh id and the current time.
func newMessage(t MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", t)
	}
	return &Message{
		ID:          uuid.New(),
		MessageType: t,
		Timestamp:   time.Now().Unix(),
		Payload:     raw,
	}, nil
}

// Encode serializes a Message to its on-wire textual form.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	return b, nil
}

// Decode parses a datagram into a Message. A malformed datagram is a
// decode error; callers must discard the datagram and log, per the
// dispatcher's error taxonomy.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}
	return &m, nil
}

// DecodePayload unmarshals the message's payload into dst. It returns a
// validation-class error, never a decode-class one: the envelope was
// already well-formed if Decode succeeded.
func (m *Message) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	return nil
}
