package router

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// PeerSource is the slice of registry.Registry the router needs: peer
// lookup by id, and the set of current Authenticated peers.
type PeerSource interface {
	GetPeer(id uuid.UUID) *registry.Peer
	GetAuthenticatedPeers() []*registry.Peer
}

// Counters is satisfied by metrics.Registry; a nil Counters is valid and
// every call becomes a no-op.
type Counters interface {
	ObserveForward()
	ObserveDroppedDuplicate()
	ObserveDroppedMaxHops()
	ObserveBroadcastFanout(n int)
}

// Router owns the next-hop table and the dedup cache, and implements
// the forward/broadcast/drop decision (SPEC_FULL.md §4.3).
type Router struct {
	table    *Table
	localID  uuid.UUID
	peers    PeerSource
	cache    *dedupCache
	log      *logrus.Entry
	counters Counters
}

func New(localID uuid.UUID, peers PeerSource, log *logrus.Entry, counters Counters) *Router {
	return &Router{
		table:    NewTable(log),
		localID:  localID,
		peers:    peers,
		cache:    newDedupCache(),
		log:      log.WithField("component", "router"),
		counters: counters,
	}
}

func (r *Router) UpdateRoutingTable(destination, nextHop uuid.UUID, distance int) {
	r.table.AddRoute(destination, nextHop, distance)
}

func (r *Router) RemoveNodeRoutes(nodeID uuid.UUID) {
	r.table.RemoveRoute(nodeID)
	r.table.RemoveRoutesVia(nodeID)
}

func (r *Router) GetRoutingTableSnapshot() []Route {
	return r.table.Snapshot()
}

// RouteMessage wraps inner in a fresh RoutedMessage envelope and
// forwards it, unless destination is the local node, in which case it
// is delivered locally and never put on the wire.
func (r *Router) RouteMessage(inner *wire.Message, destination uuid.UUID, maxHops int) error {
	if destination == r.localID {
		return r.handleLocal(inner)
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return errors.Wrap(err, "marshal routed payload")
	}

	env := wire.RoutedMessagePayload{
		OriginalMessage: raw,
		SourceNode:      r.localID,
		DestinationNode: destination,
		HopCount:        0,
		MaxHops:         maxHops,
		RouteID:         uuid.New(),
	}
	return r.ForwardMessage(env)
}

// ForwardMessage applies dedup, the hop-count bound, then either
// delivers locally, sends to the known next hop, or broadcasts.
func (r *Router) ForwardMessage(env wire.RoutedMessagePayload) error {
	if r.cache.checkAndInsert(env.RouteID) {
		r.log.WithField("route_id", env.RouteID).Debug("消息已经处理过，跳过")
		if r.counters != nil {
			r.counters.ObserveDroppedDuplicate()
		}
		return nil
	}

	env.HopCount++
	if env.HopCount > env.MaxHops {
		r.log.WithField("route_id", env.RouteID).Warn("消息达到最大跳数限制")
		if r.counters != nil {
			r.counters.ObserveDroppedMaxHops()
		}
		return errors.New("达到最大跳数限制")
	}

	if env.DestinationNode == r.localID {
		var inner wire.Message
		if err := json.Unmarshal(env.OriginalMessage, &inner); err != nil {
			return errors.Wrap(err, "decode original message")
		}
		return r.handleLocal(&inner)
	}

	if nextHop, ok := r.table.GetNextHop(env.DestinationNode); ok {
		if peer := r.peers.GetPeer(nextHop); peer != nil && peer.IsAuthenticated() {
			msg, err := wire.NewRoutedData(env)
			if err != nil {
				return err
			}
			if r.counters != nil {
				r.counters.ObserveForward()
			}
			r.log.WithFields(logrus.Fields{
				"route_id": env.RouteID, "next_hop": nextHop, "dest": env.DestinationNode,
			}).Debug("转发消息到下一跳")
			return peer.Send(msg)
		}
		r.log.WithField("next_hop", nextHop).Warn("下一跳节点不可达，移除相关路由")
		r.table.RemoveRoutesVia(nextHop)
	} else {
		r.log.WithField("dest", env.DestinationNode).Debug("没有找到路由，广播消息")
	}

	return r.broadcast(env)
}

func (r *Router) broadcast(env wire.RoutedMessagePayload) error {
	msg, err := wire.NewRoutedData(env)
	if err != nil {
		return err
	}

	peers := r.peers.GetAuthenticatedPeers()
	successCount, errorCount := 0, 0
	for _, peer := range peers {
		if peer.ID() == env.SourceNode {
			continue
		}
		if err := peer.Send(msg); err != nil {
			errorCount++
			r.log.WithFields(logrus.Fields{"peer_id": peer.ID(), "error": err}).Warn("广播消息失败")
			continue
		}
		successCount++
	}
	if r.counters != nil {
		r.counters.ObserveBroadcastFanout(successCount)
	}
	r.log.WithFields(logrus.Fields{
		"route_id": env.RouteID, "success": successCount, "error": errorCount,
	}).Info("广播消息完成")
	return nil
}

// handleLocal is a no-op for Data (the overlay itself has no
// application semantics above the payload): it only logs the message
// type, and the delivered message is not passed on to anything else.
func (r *Router) handleLocal(inner *wire.Message) error {
	r.log.WithField("message_type", inner.MessageType).Debug("处理本地消息")
	return nil
}

// StartCacheCleanup runs until stop is closed, evicting dedup entries
// older than the 5-minute window every 5 minutes.
func (r *Router) StartCacheCleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(dedupWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cache.sweep()
			r.log.WithField("cache_size", r.cache.len()).Debug("清理消息缓存")
		case <-stop:
			return
		}
	}
}
