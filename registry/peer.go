// Package registry holds the dual-indexed peer table and the
// handshake/liveness state machine that promotes a bare UDP address
// into an authenticated overlay member.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// StatusKind is the peer lifecycle state (spec §3 Status).
type StatusKind int

const (
	StatusConnecting StatusKind = iota
	StatusConnected
	StatusHandshaking
	StatusAuthenticated
	StatusDisconnected
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusHandshaking:
		return "Handshaking"
	case StatusAuthenticated:
		return "Authenticated"
	case StatusDisconnected:
		return "Disconnected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Transport is the minimal send capability a Peer needs. server.Dispatcher
// implements it over the shared net.UDPConn.
type Transport interface {
	SendTo(addr *net.UDPAddr, msg *wire.Message) error
}

// Peer is one entry in the registry. Its NodeID is the pending
// (randomly generated) id until a successful handshake rekeys it to
// the claimed id.
type Peer struct {
	mu sync.RWMutex

	id        uuid.UUID
	addr      *net.UDPAddr
	nodeInfo  *wire.NodeInfo
	status    StatusKind
	statusErr string
	lastPing  time.Time
	lastSeen  time.Time
	createdAt time.Time

	transport Transport
}

func newPeer(addr *net.UDPAddr, transport Transport) *Peer {
	now := time.Now()
	return &Peer{
		id:        uuid.New(),
		addr:      addr,
		status:    StatusConnecting,
		createdAt: now,
		lastSeen:  now,
		transport: transport,
	}
}

func (p *Peer) ID() uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *Peer) Addr() *net.UDPAddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.addr
}

func (p *Peer) NodeInfo() *wire.NodeInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nodeInfo
}

func (p *Peer) Status() (StatusKind, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, p.statusErr
}

func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// LastPing returns the last time this peer exchanged Ping/Pong
// traffic specifically, as distinct from Touch's broader "any
// datagram" notion of liveness.
func (p *Peer) LastPing() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPing
}

func (p *Peer) updateStatus(status StatusKind, errMsg string) {
	p.mu.Lock()
	p.status = status
	p.statusErr = errMsg
	p.mu.Unlock()
}

func (p *Peer) updatePing() {
	now := time.Now()
	p.mu.Lock()
	p.lastPing = now
	p.lastSeen = now
	p.mu.Unlock()
}

// Touch refreshes lastSeen on any inbound datagram, not only Ping/Pong,
// so ConnectionTimeout reflects real traffic rather than heartbeat
// traffic alone.
func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// IsAuthenticated reports whether the peer has completed handshake.
func (p *Peer) IsAuthenticated() bool {
	s, _ := p.Status()
	return s == StatusAuthenticated
}

// IsConnected mirrors Peer::is_connected: Connected or Authenticated.
func (p *Peer) IsConnected() bool {
	s, _ := p.Status()
	return s == StatusConnected || s == StatusAuthenticated
}

// Send delivers msg to this peer's address.
func (p *Peer) Send(msg *wire.Message) error {
	return p.transport.SendTo(p.Addr(), msg)
}

// MarkError transitions the peer to Error status, e.g. on a send
// failure or a liveness timeout. The next cleanup sweep removes it.
func (p *Peer) MarkError(reason string) {
	p.updateStatus(StatusError, reason)
}

// Stats mirrors PeerStats.
type Stats struct {
	Total         int
	Authenticated int
	Connecting    int
}
