package registry

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// Registry is the dual-indexed peer table (invariants I1-I5 in
// SPEC_FULL.md §3).
type Registry struct {
	mu sync.RWMutex

	byID   map[uuid.UUID]*Peer
	byAddr map[string]*Peer

	localInfo      wire.NodeInfo
	maxConnections int

	log *logrus.Entry
}

// New builds a Registry. localInfo is echoed back (with the client's
// own network_id) in every successful HandshakeResponse.
func New(localInfo wire.NodeInfo, maxConnections int, log *logrus.Entry) *Registry {
	return &Registry{
		byID:           make(map[uuid.UUID]*Peer),
		byAddr:         make(map[string]*Peer),
		localInfo:      localInfo,
		maxConnections: maxConnections,
		log:            log.WithField("component", "registry"),
	}
}

// AddPeer creates a Connecting-state record for addr. Fails once the
// registry is at capacity (I4).
func (r *Registry) AddPeer(addr *net.UDPAddr, transport Transport) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.maxConnections {
		return nil, errors.Errorf("已达到最大连接数限制: %d", r.maxConnections)
	}

	p := newPeer(addr, transport)
	r.byID[p.id] = p
	r.byAddr[addr.String()] = p

	r.log.WithFields(logrus.Fields{"peer_id": p.id, "addr": addr}).Info("添加新的对等节点")
	return p, nil
}

// RemovePeer removes a peer from both indexes (I3). Idempotent.
func (r *Registry) RemovePeer(id uuid.UUID) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byAddr, p.Addr().String())
	r.log.WithFields(logrus.Fields{"peer_id": id, "addr": p.Addr()}).Info("移除对等节点")
	return p
}

func (r *Registry) GetPeer(id uuid.UUID) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *Registry) GetPeerByAddr(addr *net.UDPAddr) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[addr.String()]
}

// GetOrCreateByAddr returns the existing peer at addr, or creates one.
func (r *Registry) GetOrCreateByAddr(addr *net.UDPAddr, transport Transport) (*Peer, error) {
	if p := r.GetPeerByAddr(addr); p != nil {
		return p, nil
	}
	return r.AddPeer(addr, transport)
}

func (r *Registry) GetAllPeers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

func (r *Registry) GetAuthenticatedPeers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		if p.IsAuthenticated() {
			out = append(out, p)
		}
	}
	return out
}

// rekey moves a peer from its pending id to its claimed id in byID.
// Caller must hold r.mu.
func (r *Registry) rekey(p *Peer, oldID, newID uuid.UUID) {
	delete(r.byID, oldID)
	r.byID[newID] = p
}

// HandleHandshakeRequest validates and, on success, authenticates peer
// and rekeys the registry's NodeId index. Grounded on
// PeerManager::handle_handshake_request.
func (r *Registry) HandleHandshakeRequest(p *Peer, msg *wire.Message) error {
	var info wire.NodeInfo
	if err := msg.DecodePayload(&info); err != nil {
		err = errors.Wrap(err, "握手请求验证失败")
		r.sendError(p, err.Error())
		return err
	}
	if err := wire.ValidateHandshakeRequest(info); err != nil {
		r.sendError(p, err.Error())
		p.updateStatus(StatusError, err.Error())
		return err
	}

	r.log.WithFields(logrus.Fields{
		"addr": p.Addr(), "name": info.Name, "node_id": info.ID, "network_id": info.NetworkID,
	}).Info("收到握手请求")

	if info.NetworkID != r.localInfo.NetworkID {
		errMsg := errors.Errorf("网络ID不匹配: 期望 %s，收到 %s", r.localInfo.NetworkID, info.NetworkID).Error()
		r.log.Warn(errMsg)
		r.sendError(p, errMsg)
		return errors.New(errMsg)
	}

	r.mu.Lock()
	_, exists := r.byID[info.ID]
	r.mu.Unlock()
	if exists && info.ID != p.ID() {
		errMsg := errors.Errorf("节点ID %s 已存在", info.ID).Error()
		r.sendError(p, errMsg)
		return errors.New(errMsg)
	}

	oldID := p.ID()
	p.mu.Lock()
	p.id = info.ID
	infoCopy := info
	p.nodeInfo = &infoCopy
	p.mu.Unlock()
	p.updateStatus(StatusAuthenticated, "")

	r.mu.Lock()
	r.rekey(p, oldID, info.ID)
	r.byAddr[p.Addr().String()] = p
	r.mu.Unlock()

	localInfo := r.localInfo
	localInfo.NetworkID = info.NetworkID
	resp, err := wire.NewHandshakeResponse(wire.HandshakeResponsePayload{
		NodeInfo: localInfo,
		Success:  true,
	})
	if err != nil {
		return errors.Wrap(err, "build handshake response")
	}
	return p.Send(resp)
}

// HandleHandshakeResponse is the symmetric active-connect path.
func (r *Registry) HandleHandshakeResponse(p *Peer, msg *wire.Message) error {
	var resp wire.HandshakeResponsePayload
	if err := msg.DecodePayload(&resp); err != nil {
		return errors.Wrap(err, "握手响应验证失败")
	}

	if !resp.Success {
		errMsg := resp.ErrorMessage
		if errMsg == "" {
			errMsg = "握手失败"
		}
		p.updateStatus(StatusError, errMsg)
		return errors.Errorf("握手失败: %s", errMsg)
	}

	if r.localInfo.NetworkID != "" && resp.NodeInfo.NetworkID != r.localInfo.NetworkID {
		errMsg := "网络ID不匹配"
		p.updateStatus(StatusError, errMsg)
		return errors.New(errMsg)
	}

	oldID := p.ID()
	p.mu.Lock()
	p.id = resp.NodeInfo.ID
	infoCopy := resp.NodeInfo
	p.nodeInfo = &infoCopy
	p.mu.Unlock()
	p.updateStatus(StatusAuthenticated, "")

	r.mu.Lock()
	r.rekey(p, oldID, resp.NodeInfo.ID)
	r.byAddr[p.Addr().String()] = p
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"name": resp.NodeInfo.Name, "node_id": resp.NodeInfo.ID}).Info("握手响应成功")
	return nil
}

func (r *Registry) HandlePing(p *Peer, _ *wire.Message) error {
	p.updatePing()
	pong, err := wire.NewPong()
	if err != nil {
		return err
	}
	return p.Send(pong)
}

func (r *Registry) HandlePong(p *Peer, _ *wire.Message) error {
	p.updatePing()
	return nil
}

func (r *Registry) sendError(p *Peer, reason string) {
	msg, err := wire.NewError(reason)
	if err != nil {
		return
	}
	_ = p.Send(msg)
}

// GetPeerInfoListExcluding returns PeerInfo for every Authenticated
// peer except the one whose id equals exclude (if non-nil).
func (r *Registry) GetPeerInfoListExcluding(exclude *uuid.UUID) []wire.PeerInfo {
	peers := r.GetAuthenticatedPeers()
	out := make([]wire.PeerInfo, 0, len(peers))
	for _, p := range peers {
		if exclude != nil && p.ID() == *exclude {
			continue
		}
		info := p.NodeInfo()
		if info == nil {
			continue
		}
		out = append(out, wire.PeerInfo{
			ID:           p.ID(),
			Addr:         p.Addr().String(),
			LastSeen:     p.LastSeen().Unix(),
			Capabilities: info.Capabilities,
		})
	}
	return out
}

// CleanupDisconnected removes every peer not Connected or Authenticated.
func (r *Registry) CleanupDisconnected() {
	r.mu.Lock()
	var toRemove []uuid.UUID
	for id, p := range r.byID {
		if !p.IsConnected() {
			toRemove = append(toRemove, id)
		}
	}
	r.mu.Unlock()

	for _, id := range toRemove {
		r.RemovePeer(id)
	}
}

func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	s.Total = len(r.byID)
	for _, p := range r.byID {
		switch st, _ := p.Status(); st {
		case StatusAuthenticated:
			s.Authenticated++
		case StatusConnecting, StatusHandshaking:
			s.Connecting++
		}
	}
	return s
}
