// Package broadcast implements the debounced membership fan-out: a
// burst of join/leave triggers collapses into a single
// DiscoveryResponse push per debounce window.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// Scheduler debounces Schedule calls behind a single-shot timer,
// mirroring P2PServer::schedule_peerlist_broadcast.
type Scheduler struct {
	mu        sync.Mutex
	timer     *time.Timer
	excludeID *uuid.UUID

	registry *registry.Registry
	debounce time.Duration
	enabled  bool
	log      *logrus.Entry
}

// New builds a Scheduler. When enabled is false, Schedule still tracks
// triggers but the fired window never sends anything (spec §4.5).
func New(reg *registry.Registry, debounce time.Duration, enabled bool, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		registry: reg,
		debounce: debounce,
		enabled:  enabled,
		log:      log.WithField("component", "broadcast"),
	}
}

// Schedule records excludeID (nil on a leave trigger) and (re)starts
// the debounce timer, cancelling any pending one.
func (s *Scheduler) Schedule(excludeID *uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.excludeID = excludeID

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	exclude := s.excludeID
	s.excludeID = nil
	s.mu.Unlock()

	if !s.enabled {
		return
	}

	peers := s.registry.GetAuthenticatedPeers()
	for _, p := range peers {
		pid := p.ID()
		if exclude != nil && *exclude == pid {
			continue
		}
		infos := s.registry.GetPeerInfoListExcluding(&pid)
		msg, err := wire.NewDiscoveryResponse(infos)
		if err != nil {
			continue
		}
		if err := p.Send(msg); err != nil {
			s.log.WithFields(logrus.Fields{"addr": p.Addr(), "error": err}).Warn("去抖广播节点列表失败")
		}
	}
}

// Stop cancels any pending fire. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}
