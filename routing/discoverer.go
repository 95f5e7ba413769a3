// SPDX-License-Identifier: GPL-3.0-or-later

// Package routing implements flood-based topology discovery and the
// per-endpoint route cache.
//
// An endpoint initiates a discovery round by probing all its live
// neighbors. Each drone that sees a probe for the first time appends
// itself to the path trace and rebroadcasts the probe to every
// neighbor except the one it arrived from; a drone that has already
// seen the probe identifier drops it silently. The round terminates
// at fixed point, once no live probes remain, which is bounded by the
// edge count because of the per-drone dedup check.
package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/topology"
)

// ErrNoRouteFound means a discovery round reached fixed point
// without any probe arriving at the destination.
var ErrNoRouteFound = errors.New("routing: no route found")

// endpoints identifies a cached route by its endpoints.
type endpoints struct {
	src packet.NodeID
	dst packet.NodeID
}

// seenKey dedups probes by (probe id, visiting node).
type seenKey struct {
	floodID uint64
	node    packet.NodeID
}

// probe is a [packet.FloodRequest] in flight toward a given node.
type probe struct {
	// req is the flood request carried by the probe.
	req packet.FloodRequest

	// at is the node the probe is arriving at.
	at packet.NodeID

	// from is the node the probe is arriving from.
	from packet.NodeID
}

// Discoverer runs discovery rounds and caches the selected routes.
//
// The zero value is not ready to use; construct using [NewDiscoverer].
// A [*Discoverer] is safe for concurrent use by multiple goroutines.
type Discoverer struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not emit structured logs.
	Logger *slog.Logger

	// cache maps endpoints to the selected route.
	cache map[endpoints]Route

	// mu protects cache and nextFloodID.
	mu sync.Mutex

	// nextFloodID assigns probe identifiers.
	nextFloodID uint64

	// store is the shared topology store.
	store *topology.Store
}

// NewDiscoverer creates a [*Discoverer] reading the given store and
// registers it as a topology observer so that structural mutations
// invalidate the cached routes traversing the changed element.
func NewDiscoverer(store *topology.Store) *Discoverer {
	d := &Discoverer{
		cache: map[endpoints]Route{},
		mu:    sync.Mutex{},
		store: store,
	}
	store.Observe(d.onTopologyChanged)
	return d
}

// onTopologyChanged drops cached routes traversing the changed element.
func (d *Discoverer) onTopologyChanged(ev topology.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, route := range d.cache {
		stale := false
		switch ev.Kind {
		case topology.EventEdgeRemoved:
			stale = route.UsesEdge(ev.Node, ev.Peer)
		case topology.EventNodeRemoved, topology.EventDroneCrashed:
			stale = route.Contains(ev.Node)
		}
		if stale {
			delete(d.cache, key)
		}
	}
}

// CachedRoute returns the cached route between the endpoints, if any.
func (d *Discoverer) CachedRoute(src, dst packet.NodeID) (Route, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	route, ok := d.cache[endpoints{src, dst}]
	return route, ok
}

// Invalidate discards the cached route between the endpoints. An
// endpoint calls it when a Nack proves the cached route stale.
func (d *Discoverer) Invalidate(src, dst packet.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, endpoints{src, dst})
}

// Discover returns a route from src to dst, preferring the cached one
// and otherwise running a discovery round. Fails with [ErrNoRouteFound]
// when the destination is unreachable.
func (d *Discoverer) Discover(src, dst packet.NodeID) (Route, error) {
	if route, ok := d.CachedRoute(src, dst); ok {
		return route, nil
	}
	routes, err := d.Flood(src, dst)
	if err != nil {
		return Route{}, err
	}
	route, ok := SelectRoute(routes)
	if !ok {
		return Route{}, fmt.Errorf("%w: %d -> %d", ErrNoRouteFound, src, dst)
	}
	d.mu.Lock()
	d.cache[endpoints{src, dst}] = route
	d.mu.Unlock()
	if d.Logger != nil {
		d.Logger.Info(
			"routeDiscovered",
			slog.Int("src", int(src)),
			slog.Int("dst", int(dst)),
			slog.String("route", route.String()),
		)
	}
	return route, nil
}

// Flood runs a single discovery round and returns all distinct paths
// that reached the destination. Probes visit neighbors in ascending
// identifier order, so on a fixed topology repeated rounds collect
// the same paths in the same order.
//
// Fails with [ErrNoRouteFound] when src or dst does not exist or no
// probe arrives at dst.
func (d *Discoverer) Flood(src, dst packet.NodeID) ([]Route, error) {
	if !d.store.IsAlive(src) || !d.store.IsAlive(dst) {
		return nil, fmt.Errorf("%w: %d -> %d", ErrNoRouteFound, src, dst)
	}

	d.mu.Lock()
	d.nextFloodID++
	floodID := d.nextFloodID
	d.mu.Unlock()

	srcKind, _ := d.store.Kind(src)
	initial := packet.FloodRequest{
		FloodID:   floodID,
		Initiator: src,
		PathTrace: []packet.PathEntry{{ID: src, Kind: srcKind}},
	}

	// Seed the frontier with the initiator's live neighbors. The
	// initiator itself counts as seen so probes cannot loop back.
	seen := map[seenKey]bool{{floodID, src}: true}
	var frontier []probe
	for _, neigh := range d.store.Neighbors(src) {
		frontier = append(frontier, probe{req: initial, at: neigh, from: src})
	}

	var routes []Route
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		// The edge may have vanished while the probe was in flight.
		if !d.store.HasEdge(cur.from, cur.at) || !d.store.IsAlive(cur.at) {
			continue
		}

		kind, ok := d.store.Kind(cur.at)
		if !ok {
			continue
		}

		// Probes terminate at the destination endpoint, which
		// collects the full path.
		if cur.at == dst {
			hops := make([]packet.NodeID, 0, len(cur.req.PathTrace)+1)
			for _, entry := range cur.req.PathTrace {
				hops = append(hops, entry.ID)
			}
			hops = append(hops, dst)
			routes = append(routes, Route{Hops: hops})
			continue
		}

		// Probes terminate silently at endpoints that are not the
		// destination: only drones rebroadcast.
		if kind != packet.NodeKindDrone {
			continue
		}

		// Dedup: a drone that has already seen this probe id
		// drops the probe silently.
		if seen[seenKey{floodID, cur.at}] {
			continue
		}
		seen[seenKey{floodID, cur.at}] = true

		next := packet.FloodRequest{
			FloodID:   floodID,
			Initiator: cur.req.Initiator,
			PathTrace: append(
				append([]packet.PathEntry{}, cur.req.PathTrace...),
				packet.PathEntry{ID: cur.at, Kind: kind},
			),
		}
		for _, neigh := range d.store.Neighbors(cur.at) {
			if neigh == cur.from {
				continue
			}
			frontier = append(frontier, probe{req: next, at: neigh, from: cur.at})
		}
	}

	if len(routes) <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrNoRouteFound, src, dst)
	}
	return routes, nil
}
