// Package router implements the distance-vector next-hop table and
// the forward/broadcast/drop decision for routed Data messages.
package router

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Route is one row of a routing table snapshot.
type Route struct {
	Destination uuid.UUID
	NextHop     uuid.UUID
	Distance    int
}

// Table is a next-hop table keyed by destination. AddRoute only
// replaces an existing entry when the new distance is strictly
// smaller (invariant R1 in SPEC_FULL.md §3).
type Table struct {
	mu        sync.RWMutex
	nextHop   map[uuid.UUID]uuid.UUID
	distance  map[uuid.UUID]int
	log       *logrus.Entry
}

func NewTable(log *logrus.Entry) *Table {
	return &Table{
		nextHop:  make(map[uuid.UUID]uuid.UUID),
		distance: make(map[uuid.UUID]int),
		log:      log.WithField("component", "router.table"),
	}
}

func (t *Table) AddRoute(destination, nextHop uuid.UUID, distance int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.distance[destination]; ok && distance >= existing {
		return
	}
	t.nextHop[destination] = nextHop
	t.distance[destination] = distance
	t.log.WithFields(logrus.Fields{"dest": destination, "next_hop": nextHop, "distance": distance}).Debug("添加路由")
}

func (t *Table) GetNextHop(destination uuid.UUID) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.nextHop[destination]
	return h, ok
}

func (t *Table) GetDistance(destination uuid.UUID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.distance[destination]
	return d, ok
}

// RemoveRoute drops the entry for destination (R2: independent of
// RemoveRoutesVia).
func (t *Table) RemoveRoute(destination uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nextHop, destination)
	delete(t.distance, destination)
	t.log.WithField("dest", destination).Debug("移除路由")
}

// RemoveRoutesVia drops every entry whose next hop equals nextHop.
func (t *Table) RemoveRoutesVia(nextHop uuid.UUID) {
	t.mu.Lock()
	var toRemove []uuid.UUID
	for dest, hop := range t.nextHop {
		if hop == nextHop {
			toRemove = append(toRemove, dest)
		}
	}
	for _, dest := range toRemove {
		delete(t.nextHop, dest)
		delete(t.distance, dest)
	}
	t.mu.Unlock()
}

// Snapshot returns every route, in unspecified order.
func (t *Table) Snapshot() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.nextHop))
	for dest, hop := range t.nextHop {
		out = append(out, Route{Destination: dest, NextHop: hop, Distance: t.distance[dest]})
	}
	return out
}
