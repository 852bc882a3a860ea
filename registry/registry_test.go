package registry

import (
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/wire"
)

// fakeTransport records every message sent to each address.
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

func (f *fakeTransport) last(addr *net.UDPAddr) *wire.Message {
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

func handshakeMsg(t *testing.T, info wire.NodeInfo) *wire.Message {
	t.Helper()
	m, err := wire.NewHandshakeRequest(info)
	require.NoError(t, err)
	return m
}

func TestAddPeerRespectsCapacity(t *testing.T) {
	r := New(wire.NodeInfo{NetworkID: "test"}, 1, testLog())
	tr := newFakeTransport()

	_, err := r.AddPeer(udpAddr(t, "127.0.0.1:1"), tr)
	require.NoError(t, err)

	_, err = r.AddPeer(udpAddr(t, "127.0.0.1:2"), tr)
	assert.Error(t, err)
}

func TestHandshakeRequestAuthenticatesAndRekeys(t *testing.T) {
	r := New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	addr := udpAddr(t, "127.0.0.1:1")

	p, err := r.GetOrCreateByAddr(addr, tr)
	require.NoError(t, err)
	pendingID := p.ID()

	claimedID := uuid.New()
	msg := handshakeMsg(t, wire.NodeInfo{ID: claimedID, Name: "client1", Version: "1.0", NetworkID: "test"})

	require.NoError(t, r.HandleHandshakeRequest(p, msg))

	assert.True(t, p.IsAuthenticated())
	assert.Equal(t, claimedID, p.ID())
	assert.Nil(t, r.GetPeer(pendingID))
	assert.Same(t, p, r.GetPeer(claimedID))

	resp := tr.last(addr)
	require.NotNil(t, resp)
	assert.Equal(t, wire.HandshakeResponse, resp.MessageType)
}

func TestHandshakeRejectsDuplicateNodeID(t *testing.T) {
	r := New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	id := uuid.New()

	p1, _ := r.GetOrCreateByAddr(udpAddr(t, "127.0.0.1:1"), tr)
	require.NoError(t, r.HandleHandshakeRequest(p1, handshakeMsg(t, wire.NodeInfo{ID: id, Name: "a", Version: "1", NetworkID: "test"})))

	p2, _ := r.GetOrCreateByAddr(udpAddr(t, "127.0.0.1:2"), tr)
	err := r.HandleHandshakeRequest(p2, handshakeMsg(t, wire.NodeInfo{ID: id, Name: "b", Version: "1", NetworkID: "test"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "已存在")

	lastMsg := tr.last(udpAddr(t, "127.0.0.1:2"))
	require.NotNil(t, lastMsg)
	var payload wire.ErrorPayload
	require.NoError(t, lastMsg.DecodePayload(&payload))
	assert.Contains(t, payload.Error, "已存在")
}

func TestHandshakeRejectsNetworkIDMismatch(t *testing.T) {
	r := New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	p, _ := r.GetOrCreateByAddr(udpAddr(t, "127.0.0.1:1"), tr)

	err := r.HandleHandshakeRequest(p, handshakeMsg(t, wire.NodeInfo{ID: uuid.New(), Name: "a", Version: "1", NetworkID: "other"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "网络ID不匹配")
}

func TestPeerInfoListExcludesGivenPeer(t *testing.T) {
	r := New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()

	a, _ := r.GetOrCreateByAddr(udpAddr(t, "127.0.0.1:1"), tr)
	require.NoError(t, r.HandleHandshakeRequest(a, handshakeMsg(t, wire.NodeInfo{ID: uuid.New(), Name: "a", Version: "1", NetworkID: "test"})))

	b, _ := r.GetOrCreateByAddr(udpAddr(t, "127.0.0.1:2"), tr)
	require.NoError(t, r.HandleHandshakeRequest(b, handshakeMsg(t, wire.NodeInfo{ID: uuid.New(), Name: "b", Version: "1", NetworkID: "test"})))

	listForA := r.GetPeerInfoListExcluding(ptr(a.ID()))
	require.Len(t, listForA, 1)
	assert.Equal(t, b.ID(), listForA[0].ID)
}

func TestCleanupDisconnectedRemovesNonConnected(t *testing.T) {
	r := New(wire.NodeInfo{NetworkID: "test"}, 10, testLog())
	tr := newFakeTransport()
	p, _ := r.GetOrCreateByAddr(udpAddr(t, "127.0.0.1:1"), tr)

	r.CleanupDisconnected()
	assert.Nil(t, r.GetPeer(p.ID()), "a Connecting-status peer is removed by cleanup")
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }
