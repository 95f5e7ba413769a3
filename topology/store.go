// SPDX-License-Identifier: GPL-3.0-or-later

// Package topology implements the authoritative graph of mesh nodes
// and undirected communication edges.
//
// The [*Store] supports atomic mutation with validation: a mutation
// either fully applies or leaves the store unchanged and returns an
// error. Every structural mutation notifies the registered [Observer]
// functions so that, for example, cached routes can be invalidated.
package topology

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dronemesh-project/dronemesh/packet"
)

// node is the store-internal node record.
type node struct {
	// id is the node identifier.
	id packet.NodeID

	// kind is the node kind.
	kind packet.NodeKind

	// pdr is the packet-drop rate; meaningful for drones only.
	pdr float64

	// crashed tracks whether a drone has crashed. A crashed drone
	// keeps its identifier in the graph but loses all edges and
	// any forwarding capability.
	crashed bool

	// neighbors is the set of adjacent node identifiers.
	neighbors map[packet.NodeID]bool
}

// Store is the authoritative topology graph.
//
// The zero value is not ready to use; construct using [New]. A [*Store]
// is safe for concurrent use by multiple goroutines: mutations and hop
// lookups are mutually exclusive, so a lookup never observes a
// half-applied mutation.
type Store struct {
	// mu protects nodes and nextID.
	mu sync.RWMutex

	// nextID tracks the next identifier for [*Store.AddNode].
	// Identifiers are never reused across removal and spawn.
	nextID packet.NodeID

	// nodes maps node identifiers to node records.
	nodes map[packet.NodeID]*node

	// observers receive topology-changed events.
	observers []Observer
}

// New creates a new empty [*Store].
func New() *Store {
	return &Store{
		mu:     sync.RWMutex{},
		nextID: 1,
		nodes:  map[packet.NodeID]*node{},
	}
}

// Observe registers an [Observer] for topology-changed events.
//
// Registration is not goroutine safe and should happen before the
// store starts mutating.
func (s *Store) Observe(obs Observer) {
	s.observers = append(s.observers, obs)
}

// notify invokes observers outside the store lock so that an observer
// may read the store without deadlocking.
func (s *Store) notify(events ...Event) {
	for _, ev := range events {
		for _, obs := range s.observers {
			obs(ev)
		}
	}
}

// validPDR returns whether the value is a valid packet-drop rate.
func validPDR(value float64) bool {
	return value >= 0 && value <= 1
}

// AddNode adds a node of the given kind and returns its identifier.
//
// The pdr argument is the initial packet-drop rate for drones and is
// ignored for clients and servers. Fails with [ErrInvalidValue] when
// adding a drone with a PDR outside [0, 1].
func (s *Store) AddNode(kind packet.NodeKind, pdr float64) (packet.NodeID, error) {
	s.mu.Lock()
	if kind == packet.NodeKindDrone && !validPDR(pdr) {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: pdr %v", ErrInvalidValue, pdr)
	}
	for s.nodes[s.nextID] != nil {
		s.nextID++
	}
	id := s.nextID
	s.nextID++
	s.nodes[id] = &node{
		id:        id,
		kind:      kind,
		pdr:       pdr,
		crashed:   false,
		neighbors: map[packet.NodeID]bool{},
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventNodeAdded, Node: id})
	return id, nil
}

// InsertNode adds a node with a caller-chosen identifier.
//
// Scenario loading uses this entry point to honor the identifiers in
// the configuration file. Fails with [ErrAlreadyExists] when the
// identifier is taken and [ErrInvalidValue] for a bad drone PDR.
func (s *Store) InsertNode(id packet.NodeID, kind packet.NodeKind, pdr float64) error {
	s.mu.Lock()
	if s.nodes[id] != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrAlreadyExists, id)
	}
	if kind == packet.NodeKindDrone && !validPDR(pdr) {
		s.mu.Unlock()
		return fmt.Errorf("%w: pdr %v", ErrInvalidValue, pdr)
	}
	s.nodes[id] = &node{
		id:        id,
		kind:      kind,
		pdr:       pdr,
		crashed:   false,
		neighbors: map[packet.NodeID]bool{},
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventNodeAdded, Node: id})
	return nil
}

// RemoveNode removes a node and detaches all its edges.
//
// Fails with [ErrNotFound] when the node does not exist.
func (s *Store) RemoveNode(id packet.NodeID) error {
	s.mu.Lock()
	rec := s.nodes[id]
	if rec == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	events := s.detachLocked(rec)
	delete(s.nodes, id)
	s.mu.Unlock()

	events = append(events, Event{Kind: EventNodeRemoved, Node: id})
	s.notify(events...)
	return nil
}

// detachLocked removes all edges of the given node and returns the
// corresponding [EventEdgeRemoved] events in ascending peer order.
//
// The caller must hold the mu lock.
func (s *Store) detachLocked(rec *node) []Event {
	peers := make([]packet.NodeID, 0, len(rec.neighbors))
	for peer := range rec.neighbors {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	var events []Event
	for _, peer := range peers {
		delete(s.nodes[peer].neighbors, rec.id)
		delete(rec.neighbors, peer)
		events = append(events, Event{Kind: EventEdgeRemoved, Node: rec.id, Peer: peer})
	}
	return events
}

// AddEdge adds an undirected edge between two distinct nodes.
//
// Fails with [ErrSelfLoop] when a == b, [ErrNotFound] when either
// endpoint does not exist, [ErrAlreadyExists] when the edge exists,
// and [ErrCrashed] when either endpoint is a crashed drone.
func (s *Store) AddEdge(a, b packet.NodeID) error {
	s.mu.Lock()
	if a == b {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrSelfLoop, a)
	}
	na, nb := s.nodes[a], s.nodes[b]
	if na == nil || nb == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: edge %d<->%d", ErrNotFound, a, b)
	}
	if na.crashed || nb.crashed {
		s.mu.Unlock()
		return fmt.Errorf("%w: edge %d<->%d", ErrCrashed, a, b)
	}
	if na.neighbors[b] {
		s.mu.Unlock()
		return fmt.Errorf("%w: edge %d<->%d", ErrAlreadyExists, a, b)
	}
	na.neighbors[b] = true
	nb.neighbors[a] = true
	s.mu.Unlock()

	s.notify(Event{Kind: EventEdgeAdded, Node: a, Peer: b})
	return nil
}

// RemoveEdge removes the edge between two nodes.
//
// Fails with [ErrNotFound] when there is no such edge.
func (s *Store) RemoveEdge(a, b packet.NodeID) error {
	s.mu.Lock()
	na, nb := s.nodes[a], s.nodes[b]
	if na == nil || nb == nil || !na.neighbors[b] {
		s.mu.Unlock()
		return fmt.Errorf("%w: edge %d<->%d", ErrNotFound, a, b)
	}
	delete(na.neighbors, b)
	delete(nb.neighbors, a)
	s.mu.Unlock()

	s.notify(Event{Kind: EventEdgeRemoved, Node: a, Peer: b})
	return nil
}

// SetPDR updates a drone's packet-drop rate.
//
// The change is globally visible the instant it commits and affects
// all in-flight and future forwarding decisions. Fails with
// [ErrNotFound] for unknown nodes, [ErrNotADrone] for nodes that are
// not drones, and [ErrInvalidValue] for values outside [0, 1], in
// which case the prior value is left unchanged.
func (s *Store) SetPDR(id packet.NodeID, value float64) error {
	s.mu.Lock()
	rec := s.nodes[id]
	if rec == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	if rec.kind != packet.NodeKindDrone {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNotADrone, id)
	}
	if !validPDR(value) {
		s.mu.Unlock()
		return fmt.Errorf("%w: pdr %v", ErrInvalidValue, value)
	}
	rec.pdr = value
	s.mu.Unlock()

	s.notify(Event{Kind: EventPDRChanged, Node: id, PDR: value})
	return nil
}

// Crash marks a drone as crashed and detaches all its edges.
//
// The node identifier stays in the graph until [*Store.RemoveNode].
// Crashing always succeeds topologically but severs connectivity,
// matching physical disconnection. Fails with [ErrNotFound] for
// unknown nodes and [ErrNotADrone] for nodes that are not drones.
func (s *Store) Crash(id packet.NodeID) error {
	s.mu.Lock()
	rec := s.nodes[id]
	if rec == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	if rec.kind != packet.NodeKindDrone {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNotADrone, id)
	}
	events := s.detachLocked(rec)
	rec.crashed = true
	s.mu.Unlock()

	events = append(events, Event{Kind: EventDroneCrashed, Node: id})
	s.notify(events...)
	return nil
}

// Kind returns the kind of the given node.
func (s *Store) Kind(id packet.NodeID) (packet.NodeKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.nodes[id]
	if rec == nil {
		return 0, false
	}
	return rec.kind, true
}

// PDR returns the packet-drop rate of the given drone.
func (s *Store) PDR(id packet.NodeID) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.nodes[id]
	if rec == nil || rec.kind != packet.NodeKindDrone {
		return 0, false
	}
	return rec.pdr, true
}

// IsAlive returns whether the node exists and has not crashed.
//
// Clients and servers never crash in this simulation, so for them
// IsAlive is equivalent to existence.
func (s *Store) IsAlive(id packet.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.nodes[id]
	return rec != nil && !rec.crashed
}

// HasEdge returns whether the edge between a and b exists.
func (s *Store) HasEdge(a, b packet.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.nodes[a]
	return rec != nil && rec.neighbors[b]
}

// Neighbors returns the neighbors of the given node in ascending
// identifier order, or nil when the node does not exist.
func (s *Store) Neighbors(id packet.NodeID) []packet.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.nodes[id]
	if rec == nil {
		return nil
	}
	peers := make([]packet.NodeID, 0, len(rec.neighbors))
	for peer := range rec.neighbors {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Nodes returns all node identifiers in ascending order.
func (s *Store) Nodes() []packet.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]packet.NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NodesOfKind returns all identifiers of the given kind in ascending order.
func (s *Store) NodesOfKind(kind packet.NodeKind) []packet.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []packet.NodeID
	for id, rec := range s.nodes {
		if rec.kind == kind {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
