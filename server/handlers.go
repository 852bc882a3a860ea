package server

import (
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// handleDatagram decodes one datagram and dispatches it (SPEC_FULL.md §4.6).
func (d *Dispatcher) handleDatagram(data []byte, from *net.UDPAddr) error {
	msg, err := wire.Decode(data)
	if err != nil {
		d.log.WithError(err).Warn("解码消息失败，丢弃数据包")
		return nil
	}
	msg.SenderAddr = from.String()

	peer, err := d.registry.GetOrCreateByAddr(from, d)
	if err != nil {
		d.log.WithError(err).Warn("无法创建对等节点记录")
		if msg.MessageType != wire.ErrorMsg && msg.MessageType != wire.Ack {
			if errMsg, buildErr := wire.NewError(err.Error()); buildErr == nil {
				if sendErr := d.SendTo(from, errMsg); sendErr != nil {
					d.log.WithError(sendErr).Warn("发送错误消息失败")
				}
			}
		}
		return nil
	}
	peer.Touch()

	if msg.RequiresAck {
		ack, err := wire.NewAck(msg.ID)
		if err == nil {
			if sendErr := d.SendTo(from, ack); sendErr != nil {
				d.log.WithError(sendErr).Warn("发送ACK失败")
			}
		}
	}

	return d.handleMessage(peer, msg)
}

func (d *Dispatcher) handleMessage(peer *registry.Peer, msg *wire.Message) error {
	d.log.WithFields(logrus.Fields{"message_type": msg.MessageType, "addr": peer.Addr()}).Debug("处理消息")

	switch msg.MessageType {
	case wire.HandshakeRequest:
		return d.handleHandshakeRequest(peer, msg)
	case wire.HandshakeResponse:
		return d.handleHandshakeResponse(peer, msg)
	case wire.Ping:
		return d.registry.HandlePing(peer, msg)
	case wire.Pong:
		return d.registry.HandlePong(peer, msg)
	case wire.DiscoveryRequest:
		return d.handleDiscoveryRequest(peer)
	case wire.DiscoveryResponse:
		return d.handleDiscoveryResponse(peer, msg)
	case wire.P2PConnect:
		return d.handleP2PConnect(peer, msg)
	case wire.Data:
		return d.handleData(peer, msg)
	case wire.Disconnect:
		return d.handleDisconnect(peer)
	case wire.Ack:
		d.log.WithField("ack_for", msg.AckFor).Info("收到ACK消息")
		return nil
	case wire.ListNodesRequest:
		return d.handleListNodesRequest(peer)
	case wire.ErrorMsg:
		d.log.WithField("addr", peer.Addr()).Warn("收到错误消息")
		return nil
	default:
		d.log.WithField("message_type", msg.MessageType).Info("未知或未处理的消息类型")
		return nil
	}
}

func (d *Dispatcher) handleHandshakeRequest(peer *registry.Peer, msg *wire.Message) error {
	if err := d.registry.HandleHandshakeRequest(peer, msg); err != nil {
		return err
	}
	id := peer.ID()
	d.router.UpdateRoutingTable(id, id, 1)
	d.scheduler.Schedule(&id)
	return nil
}

func (d *Dispatcher) handleHandshakeResponse(peer *registry.Peer, msg *wire.Message) error {
	if err := d.registry.HandleHandshakeResponse(peer, msg); err != nil {
		return err
	}
	id := peer.ID()
	d.router.UpdateRoutingTable(id, id, 1)
	return nil
}

func (d *Dispatcher) handleDiscoveryRequest(peer *registry.Peer) error {
	id := peer.ID()
	infos := d.registry.GetPeerInfoListExcluding(&id)
	resp, err := wire.NewDiscoveryResponse(infos)
	if err != nil {
		return err
	}
	return peer.Send(resp)
}

func (d *Dispatcher) handleDiscoveryResponse(peer *registry.Peer, msg *wire.Message) error {
	var payload wire.DiscoveryResponsePayload
	if err := msg.DecodePayload(&payload); err != nil {
		d.log.Warn("解析节点发现响应失败")
		return nil
	}
	nextHop := peer.ID()
	for _, info := range payload.Peers {
		if info.ID == d.localID || info.ID == nextHop {
			continue
		}
		d.router.UpdateRoutingTable(info.ID, nextHop, 2)
	}
	return nil
}

func (d *Dispatcher) handleP2PConnect(peer *registry.Peer, msg *wire.Message) error {
	var payload wire.P2PConnectPayload
	if err := msg.DecodePayload(&payload); err != nil || payload.PeerID == uuid.Nil {
		errMsg, buildErr := wire.NewError("缺少或无效的 peer_id")
		if buildErr != nil {
			return buildErr
		}
		return peer.Send(errMsg)
	}
	return d.broker.Connect(peer, payload.PeerID)
}

func (d *Dispatcher) handleDisconnect(peer *registry.Peer) error {
	id := peer.ID()
	d.log.WithField("peer_id", id).Info("节点请求断开连接")
	d.router.RemoveNodeRoutes(id)
	d.registry.RemovePeer(id)
	d.scheduler.Schedule(nil)
	return nil
}

func (d *Dispatcher) handleListNodesRequest(peer *registry.Peer) error {
	var nodes []wire.NodeInfo
	for _, p := range d.registry.GetAllPeers() {
		info := p.NodeInfo()
		if info == nil {
			continue
		}
		infoCopy := *info
		infoCopy.ListenAddr = p.Addr().String()
		nodes = append(nodes, infoCopy)
	}
	resp, err := wire.NewListNodesResponse(nodes)
	if err != nil {
		return err
	}
	return peer.Send(resp)
}

// handleData implements the Open Question Q1 decision: a Data message
// is routed only when its payload actually carries a routed envelope
// (has both route_id and destination_node); otherwise it is handled
// as a local application command.
func (d *Dispatcher) handleData(peer *registry.Peer, msg *wire.Message) error {
	if env, ok := decodeRoutedEnvelope(msg.Payload); ok {
		return d.router.ForwardMessage(env)
	}
	return d.handleLocalData(peer, msg)
}

func decodeRoutedEnvelope(raw json.RawMessage) (wire.RoutedMessagePayload, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return wire.RoutedMessagePayload{}, false
	}
	if _, hasRoute := probe["route_id"]; !hasRoute {
		return wire.RoutedMessagePayload{}, false
	}
	if _, hasDest := probe["destination_node"]; !hasDest {
		return wire.RoutedMessagePayload{}, false
	}
	var env wire.RoutedMessagePayload
	if err := json.Unmarshal(raw, &env); err != nil {
		return wire.RoutedMessagePayload{}, false
	}
	return env, true
}

func (d *Dispatcher) handleLocalData(peer *registry.Peer, msg *wire.Message) error {
	var obj map[string]any
	if err := msg.DecodePayload(&obj); err == nil {
		if cmd, _ := obj["cmd"].(string); cmd == "get_routes" {
			snapshot := d.router.GetRoutingTableSnapshot()
			routes := make([]wire.RouteSnapshotEntry, 0, len(snapshot))
			for _, r := range snapshot {
				routes = append(routes, wire.RouteSnapshotEntry{
					Destination: r.Destination, NextHop: r.NextHop, Distance: r.Distance,
				})
			}
			resp, err := wire.NewData(map[string]any{"routes": routes})
			if err != nil {
				return err
			}
			return peer.Send(resp)
		}
	}

	echo, err := wire.NewData(map[string]any{
		"echo":      json.RawMessage(msg.Payload),
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return peer.Send(echo)
}
