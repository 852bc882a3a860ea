// Package rendezvous brokers the hole-punch handshake: it tells two
// authenticated peers each other's observed address and lets them
// probe each other directly. It holds no state of its own between
// requests.
package rendezvous

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// Counters is satisfied by metrics.Registry; nil is valid.
type Counters interface {
	ObserveSuccess()
	ObserveError()
}

type Broker struct {
	registry *registry.Registry
	log      *logrus.Entry
	counters Counters
}

func New(reg *registry.Registry, log *logrus.Entry, counters Counters) *Broker {
	return &Broker{registry: reg, log: log.WithField("component", "rendezvous"), counters: counters}
}

// Connect handles a P2PConnect request from requester naming target.
func (b *Broker) Connect(requester *registry.Peer, target uuid.UUID) error {
	if target == requester.ID() {
		b.observeError()
		return b.reply(requester, "cannot connect to self")
	}

	targetPeer := b.registry.GetPeer(target)
	if targetPeer == nil || !targetPeer.IsAuthenticated() {
		b.observeError()
		return b.reply(requester, "peer not reachable: "+target.String())
	}

	toRequester, err := wire.NewP2PConnect(target, targetPeer.Addr().String())
	if err != nil {
		return err
	}
	toTarget, err := wire.NewP2PConnect(requester.ID(), requester.Addr().String())
	if err != nil {
		return err
	}

	if err := requester.Send(toRequester); err != nil {
		b.observeError()
		return err
	}
	if err := targetPeer.Send(toTarget); err != nil {
		b.observeError()
		return err
	}

	if b.counters != nil {
		b.counters.ObserveSuccess()
	}
	b.log.WithFields(logrus.Fields{"requester": requester.ID(), "target": target}).Info("rendezvous 完成")
	return nil
}

func (b *Broker) reply(p *registry.Peer, reason string) error {
	msg, err := wire.NewError(reason)
	if err != nil {
		return err
	}
	return p.Send(msg)
}

func (b *Broker) observeError() {
	if b.counters != nil {
		b.counters.ObserveError()
	}
}
