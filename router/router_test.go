package router

import (
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/registry"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

type fakeTransport struct {
	mu  sync.Mutex
	out map[string][]*wire.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{out: make(map[string][]*wire.Message)}
}

func (f *fakeTransport) SendTo(addr *net.UDPAddr, msg *wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out[addr.String()] = append(f.out[addr.String()], msg)
	return nil
}

func (f *fakeTransport) countFor(addr *net.UDPAddr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out[addr.String()])
}

func (f *fakeTransport) lastFor(addr *net.UDPAddr) *wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.out[addr.String()]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return a
}

func authenticatedPeer(t *testing.T, reg *registry.Registry, tr *fakeTransport, addr *net.UDPAddr) *registry.Peer {
	t.Helper()
	p, err := reg.GetOrCreateByAddr(addr, tr)
	require.NoError(t, err)
	msg, err := wire.NewHandshakeRequest(wire.NodeInfo{ID: uuid.New(), Name: "p", Version: "1", NetworkID: "test"})
	require.NoError(t, err)
	require.NoError(t, reg.HandleHandshakeRequest(p, msg))
	return p
}

func TestTableAddRouteStrictImprovement(t *testing.T) {
	table := NewTable(testLog())
	dest := uuid.New()
	nextHop := uuid.New()

	table.AddRoute(dest, nextHop, 1)
	got, ok := table.GetNextHop(dest)
	require.True(t, ok)
	assert.Equal(t, nextHop, got)

	other := uuid.New()
	table.AddRoute(dest, other, 1) // not strictly smaller, ignored
	got, _ = table.GetNextHop(dest)
	assert.Equal(t, nextHop, got)

	better := uuid.New()
	table.AddRoute(dest, better, 0)
	got, _ = table.GetNextHop(dest)
	assert.Equal(t, better, got)

	table.RemoveRoute(dest)
	_, ok = table.GetNextHop(dest)
	assert.False(t, ok)
}

func TestForwardViaKnownNextHop(t *testing.T) {
	reg := registry.New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	localID := uuid.New()

	nextHopAddr := udpAddr(t, "127.0.0.1:2")
	nextHopPeer := authenticatedPeer(t, reg, tr, nextHopAddr)

	r := New(localID, reg, testLog(), nil)
	dest := uuid.New()
	r.UpdateRoutingTable(dest, nextHopPeer.ID(), 1)

	err := r.RouteMessage(mustData(t), dest, 10)
	require.NoError(t, err)

	msg := tr.lastFor(nextHopAddr)
	require.NotNil(t, msg)
	var env wire.RoutedMessagePayload
	require.NoError(t, msg.DecodePayload(&env))
	assert.Equal(t, dest, env.DestinationNode)
	assert.Equal(t, localID, env.SourceNode)
	assert.Equal(t, 1, env.HopCount)
}

func TestBroadcastWhenNoRoute(t *testing.T) {
	reg := registry.New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	localID := uuid.New()

	addr1 := udpAddr(t, "127.0.0.1:2")
	addr2 := udpAddr(t, "127.0.0.1:3")
	authenticatedPeer(t, reg, tr, addr1)
	authenticatedPeer(t, reg, tr, addr2)

	r := New(localID, reg, testLog(), nil)
	dest := uuid.New()

	err := r.RouteMessage(mustData(t), dest, 10)
	require.NoError(t, err)

	for _, addr := range []*net.UDPAddr{addr1, addr2} {
		msg := tr.lastFor(addr)
		require.NotNil(t, msg)
		var env wire.RoutedMessagePayload
		require.NoError(t, msg.DecodePayload(&env))
		assert.Equal(t, dest, env.DestinationNode)
	}
}

func TestUnreachableNextHopRemovesRouteAndBroadcasts(t *testing.T) {
	reg := registry.New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	localID := uuid.New()

	addr := udpAddr(t, "127.0.0.1:2")
	authenticatedPeer(t, reg, tr, addr)

	r := New(localID, reg, testLog(), nil)
	dest := uuid.New()
	unreachable := uuid.New() // never added to the registry
	r.UpdateRoutingTable(dest, unreachable, 1)

	err := r.RouteMessage(mustData(t), dest, 5)
	require.NoError(t, err)

	msg := tr.lastFor(addr)
	require.NotNil(t, msg)
	var env wire.RoutedMessagePayload
	require.NoError(t, msg.DecodePayload(&env))
	assert.Equal(t, dest, env.DestinationNode)

	snapshot := r.GetRoutingTableSnapshot()
	for _, route := range snapshot {
		assert.NotEqual(t, dest, route.Destination)
	}
}

func TestForwardMessageDedupsRouteID(t *testing.T) {
	reg := registry.New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	localID := uuid.New()

	addr := udpAddr(t, "127.0.0.1:2")
	nextHop := authenticatedPeer(t, reg, tr, addr)

	r := New(localID, reg, testLog(), nil)
	dest := uuid.New()
	r.UpdateRoutingTable(dest, nextHop.ID(), 1)

	env := wire.RoutedMessagePayload{
		SourceNode: uuid.New(), DestinationNode: dest, HopCount: 0, MaxHops: 10, RouteID: uuid.New(),
	}
	before := tr.countFor(addr) // the HandshakeResponse
	require.NoError(t, r.ForwardMessage(env))
	require.NoError(t, r.ForwardMessage(env)) // same RouteID again

	assert.Equal(t, before+1, tr.countFor(addr))
}

func TestForwardMessageMaxHopsExceeded(t *testing.T) {
	reg := registry.New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	r := New(uuid.New(), reg, testLog(), nil)

	env := wire.RoutedMessagePayload{
		SourceNode: uuid.New(), DestinationNode: uuid.New(), HopCount: 5, MaxHops: 5, RouteID: uuid.New(),
	}
	assert.Error(t, r.ForwardMessage(env))
}

func mustData(t *testing.T) *wire.Message {
	t.Helper()
	m, err := wire.NewData(map[string]any{"k": "v"})
	require.NoError(t, err)
	return m
}
