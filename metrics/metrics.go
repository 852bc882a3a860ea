// Package metrics exposes the process-wide prometheus gauges and
// counters fed by the registry, router, broker and the periodic stats
// tick. This has no analogue in the original implementation, which
// only logs its stats every 300 seconds; it is new domain-stack wiring
// for the ecosystem's standard scrape-based observability pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every gauge/counter the server exports.
type Registry struct {
	PeersTotal         prometheus.Gauge
	PeersAuthenticated prometheus.Gauge
	PeersConnecting    prometheus.Gauge

	RoutesTotal                  prometheus.Gauge
	ForwardTotal                 prometheus.Counter
	ForwardDroppedDuplicateTotal prometheus.Counter
	ForwardDroppedMaxHopsTotal   prometheus.Counter
	BroadcastFanoutTotal         prometheus.Counter

	RendezvousTotal       prometheus.Counter
	RendezvousErrorsTotal prometheus.Counter
}

// New registers every metric against a fresh prometheus.Registerer so
// tests can build independent instances without colliding on the
// default global registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		PeersTotal:         factory.NewGauge(prometheus.GaugeOpts{Name: "p2p_peers_total", Help: "Total peer records in the registry."}),
		PeersAuthenticated: factory.NewGauge(prometheus.GaugeOpts{Name: "p2p_peers_authenticated", Help: "Authenticated peer count."}),
		PeersConnecting:    factory.NewGauge(prometheus.GaugeOpts{Name: "p2p_peers_connecting", Help: "Peers mid-handshake."}),

		RoutesTotal:                  factory.NewGauge(prometheus.GaugeOpts{Name: "p2p_routes_total", Help: "Entries in the routing table."}),
		ForwardTotal:                 factory.NewCounter(prometheus.CounterOpts{Name: "p2p_forward_total", Help: "Routed messages forwarded to a known next hop."}),
		ForwardDroppedDuplicateTotal: factory.NewCounter(prometheus.CounterOpts{Name: "p2p_forward_dropped_duplicate_total", Help: "Routed messages dropped as duplicates."}),
		ForwardDroppedMaxHopsTotal:   factory.NewCounter(prometheus.CounterOpts{Name: "p2p_forward_dropped_max_hops_total", Help: "Routed messages dropped for exceeding max hops."}),
		BroadcastFanoutTotal:         factory.NewCounter(prometheus.CounterOpts{Name: "p2p_broadcast_fanout_total", Help: "Individual sends performed by router broadcast fallback."}),

		RendezvousTotal:       factory.NewCounter(prometheus.CounterOpts{Name: "p2p_rendezvous_total", Help: "Successful P2PConnect brokerings."}),
		RendezvousErrorsTotal: factory.NewCounter(prometheus.CounterOpts{Name: "p2p_rendezvous_errors_total", Help: "Failed P2PConnect requests."}),
	}
}

// SetPeerStats updates the three peer gauges in one call, matching the
// 300-second stats tick.
func (r *Registry) SetPeerStats(total, authenticated, connecting int) {
	r.PeersTotal.Set(float64(total))
	r.PeersAuthenticated.Set(float64(authenticated))
	r.PeersConnecting.Set(float64(connecting))
}

func (r *Registry) SetRoutesTotal(n int) { r.RoutesTotal.Set(float64(n)) }

// ObserveForward implements router.Counters.
func (r *Registry) ObserveForward() { r.ForwardTotal.Inc() }
func (r *Registry) ObserveDroppedDuplicate() { r.ForwardDroppedDuplicateTotal.Inc() }
func (r *Registry) ObserveDroppedMaxHops()   { r.ForwardDroppedMaxHopsTotal.Inc() }
func (r *Registry) ObserveBroadcastFanout(n int) {
	r.BroadcastFanoutTotal.Add(float64(n))
}

// ObserveSuccess/ObserveError implement rendezvous.Counters.
func (r *Registry) ObserveSuccess() { r.RendezvousTotal.Inc() }
func (r *Registry) ObserveError()   { r.RendezvousErrorsTotal.Inc() }
