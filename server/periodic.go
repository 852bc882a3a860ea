package server

import (
	"time"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// cleanupInterval is constant per SPEC_FULL.md §4.7, independent of
// ConnectionTimeout.
const cleanupInterval = 60 * time.Second

// statsInterval is constant per SPEC_FULL.md §4.7.
const statsInterval = 300 * time.Second

func (d *Dispatcher) heartbeatLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.HeartbeatIntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.sendHeartbeats()
		case <-d.stop:
			return
		}
	}
}

// sendHeartbeats implements Open Question Q3: a peer silent longer
// than ConnectionTimeout is demoted to Error status here, not only on
// a send failure, so ConnectionTimeout is load-bearing.
func (d *Dispatcher) sendHeartbeats() {
	peers := d.registry.GetAuthenticatedPeers()
	timeout := d.cfg.ConnectionTimeoutDuration()
	now := time.Now()

	ping, err := wire.NewPing()
	if err != nil {
		return
	}

	for _, p := range peers {
		if timeout > 0 && !p.LastSeen().IsZero() && now.Sub(p.LastSeen()) > timeout {
			markError(p, "连接超时")
			continue
		}
		if !p.LastPing().IsZero() {
			d.log.WithFields(map[string]interface{}{
				"peer_id": p.ID(), "since_last_pong": now.Sub(p.LastPing()),
			}).Debug("发送心跳前检查上次心跳应答时间")
		}
		if err := p.Send(ping); err != nil {
			d.log.WithError(err).Warn("发送心跳失败")
			markError(p, err.Error())
		}
	}
	d.log.WithField("count", len(peers)).Debug("发送心跳")
}

// markError demotes p to Error status through the exported
// Peer.MarkError; the next cleanup sweep then removes it.
func markError(p *registry.Peer, reason string) {
	p.MarkError(reason)
}

func (d *Dispatcher) cleanupLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.registry.CleanupDisconnected()
			d.log.Debug("执行对等节点清理任务")
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) statsLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := d.registry.GetStats()
			if d.metrics != nil {
				d.metrics.SetPeerStats(stats.Total, stats.Authenticated, stats.Connecting)
				d.metrics.SetRoutesTotal(len(d.router.GetRoutingTableSnapshot()))
			}
			d.log.WithFields(map[string]interface{}{
				"total": stats.Total, "authenticated": stats.Authenticated, "connecting": stats.Connecting,
			}).Info("节点统计")
		case <-d.stop:
			return
		}
	}
}
