// Package server implements the single UDP receive loop, the
// per-message dispatch switch, and the periodic heartbeat/sweep/stats
// tasks that drive the registry, router, broker and scheduler.
package server

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/broadcast"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/config"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/metrics"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/rendezvous"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/router"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

const maxDatagramSize = 65536

// Dispatcher owns the UDP socket and wires together every other
// component. It is the root of the SPEC_FULL.md §2 data-flow diagram.
type Dispatcher struct {
	conn      *net.UDPConn
	cfg       config.Config
	localInfo wire.NodeInfo
	localID   uuid.UUID

	registry  *registry.Registry
	router    *router.Router
	broker    *rendezvous.Broker
	scheduler *broadcast.Scheduler
	metrics   *metrics.Registry

	log  *logrus.Entry
	stop chan struct{}
	wg   sync.WaitGroup
}

// New binds the UDP socket and constructs the component graph. It does
// not start the receive loop or periodic tasks; call Run for that.
func New(cfg config.Config, log *logrus.Entry, metricsReg *metrics.Registry) (*Dispatcher, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve listen address %s", cfg.ListenAddress)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind udp socket %s", cfg.ListenAddress)
	}

	localID := uuid.New()
	localInfo := wire.NodeInfo{
		ID:         localID,
		Name:       "p2p-rendezvous-server",
		Version:    "1.0.0",
		ListenAddr: cfg.ListenAddress,
		NetworkID:  cfg.NetworkID,
		Metadata:   map[string]string{},
	}

	d := &Dispatcher{
		conn:      conn,
		cfg:       cfg,
		localInfo: localInfo,
		localID:   localID,
		log:       log.WithFields(logrus.Fields{"component": "dispatcher", "node_id": localID}),
		stop:      make(chan struct{}),
		metrics:   metricsReg,
	}

	// metricsReg may be a literal nil *metrics.Registry (no metrics
	// wired, e.g. in tests); assigning a nil pointer straight into an
	// interface parameter would produce a non-nil interface wrapping a
	// nil value, defeating the `!= nil` guards in router/rendezvous. So
	// only populate the interface when there is a real registry behind it.
	var routerCounters router.Counters
	var brokerCounters rendezvous.Counters
	if metricsReg != nil {
		routerCounters = metricsReg
		brokerCounters = metricsReg
	}

	d.registry = registry.New(localInfo, cfg.MaxConnections, d.log)
	d.router = router.New(localID, d.registry, d.log, routerCounters)
	d.broker = rendezvous.New(d.registry, d.log, brokerCounters)
	d.scheduler = broadcast.New(d.registry, cfg.PeerlistBroadcastDebounce(), cfg.EnableDiscovery, d.log)

	return d, nil
}

// SendTo implements registry.Transport over the shared socket. Go's
// net.UDPConn is safe for concurrent WriteTo callers, so every
// component can hold this same Dispatcher as their Transport.
func (d *Dispatcher) SendTo(addr *net.UDPAddr, msg *wire.Message) error {
	b, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	_, err = d.conn.WriteToUDP(b, addr)
	return err
}

// LocalID returns the server's own node id.
func (d *Dispatcher) LocalID() uuid.UUID { return d.localID }

// LocalAddr returns the bound socket address, including the actual
// ephemeral port when ListenAddress asked for port 0.
func (d *Dispatcher) LocalAddr() *net.UDPAddr { return d.conn.LocalAddr().(*net.UDPAddr) }

// Registry exposes the peer table for callers that need a snapshot
// (e.g. an HTTP status endpoint) without owning dispatch.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Run starts the periodic tasks and blocks in the receive loop until
// Shutdown is called from another goroutine.
func (d *Dispatcher) Run() error {
	d.wg.Add(3)
	go d.heartbeatLoop()
	go d.cleanupLoop()
	go d.statsLoop()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.router.StartCacheCleanup(d.stop)
	}()

	d.log.Info("P2P服务器开始运行...")
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.stop:
				d.wg.Wait()
				d.log.Info("P2P服务器已停止")
				return nil
			default:
				d.log.WithError(err).Error("接收UDP数据包失败")
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if err := d.handleDatagram(data, from); err != nil {
			d.log.WithError(err).Error("处理UDP数据包失败")
		}
	}
}

// Shutdown best-effort broadcasts Disconnect to every known peer, then
// stops the receive loop and every periodic task.
func (d *Dispatcher) Shutdown() {
	d.log.Info("收到关闭信号，正在停止服务器...")
	msg, err := wire.NewDisconnect("服务器关闭")
	if err == nil {
		for _, p := range d.registry.GetAllPeers() {
			if sendErr := p.Send(msg); sendErr != nil {
				d.log.WithError(sendErr).Warn("发送断开消息失败")
			}
		}
	}
	d.scheduler.Stop()
	close(d.stop)
	d.conn.Close()
}
