// SPDX-License-Identifier: GPL-3.0-or-later

// Package controller validates and applies structural commands on the
// shared topology store.
//
// The [*Controller] layers the mesh-design rules on top of the
// permissive physical store: clients and servers only link to drones,
// clients hold one or two links, servers at least two, and no command
// may partition the mesh or cut a client off from a server. It also
// aggregates topology, forwarding, and protocol events into a bounded
// [*EventLog] for the UI layer, and pools session handles for
// shutdown.
package controller

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dronemesh-project/dronemesh/forward"
	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/session"
	"github.com/dronemesh-project/dronemesh/topology"
	"github.com/rbmk-project/common/runtimex"
)

// DefaultPDRPool is the default pool of packet-drop rates assigned to
// spawned drones, cycled in order.
var DefaultPDRPool = []float64{0, 0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.45}

// Controller applies validated commands to the topology store.
//
// The zero value is not ready to use; construct using [New]. A
// [*Controller] is safe for concurrent use by multiple goroutines.
type Controller struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not emit structured logs.
	Logger *slog.Logger

	// events is the bounded event log.
	events *EventLog

	// mu protects nextPDR.
	mu sync.Mutex

	// nextPDR indexes the next pool entry for [*Controller.SpawnDrone].
	nextPDR int

	// pdrPool is the pool of packet-drop rates for spawned drones.
	pdrPool []float64

	// sessions pools session handles for [*Controller.Shutdown].
	sessions Pool

	// store is the shared topology store.
	store *topology.Store
}

// New creates a [*Controller] over the given store and registers it as
// a topology observer so that graph mutations land in the event log.
//
// The pdrPool argument is the pool of packet-drop rates for spawned
// drones; pass nil for [DefaultPDRPool].
func New(store *topology.Store, pdrPool []float64) *Controller {
	if pdrPool == nil {
		pdrPool = DefaultPDRPool
	}
	runtimex.Assert(len(pdrPool) > 0, "empty PDR pool")
	for _, pdr := range pdrPool {
		runtimex.Assert(pdr >= 0 && pdr <= 1, "PDR outside [0, 1]")
	}
	c := &Controller{
		events:  NewEventLog(DefaultEventLogCapacity),
		pdrPool: pdrPool,
		store:   store,
	}
	store.Observe(func(ev topology.Event) {
		c.events.Append(SourceTopology, ev.String())
	})
	return c
}

// Events returns the retained event records in order.
func (c *Controller) Events() []Record {
	return c.events.Records()
}

// ForwardObserver returns an observer that mirrors forwarding events
// into the event log. Assign it to [forward.Engine.Observer].
func (c *Controller) ForwardObserver() forward.Observer {
	return func(ev forward.Event) {
		c.events.Append(SourceForwarding, fmt.Sprintf(
			"%s node=%d packet=%s", ev.Kind, ev.Node, ev.Packet))
	}
}

// SessionObserver returns an observer that mirrors protocol events
// into the event log. Assign it to [session.Session.Observer].
func (c *Controller) SessionObserver() session.Observer {
	return func(ev session.Event) {
		c.events.Append(SourceSession, ev.String())
	}
}

// Track adds a session handle to the shutdown pool.
func (c *Controller) Track(sess *session.Session) {
	c.sessions.Add(sess)
}

// Shutdown closes every tracked session.
func (c *Controller) Shutdown() error {
	return c.sessions.Close()
}

// log emits a structured log event, if a logger is configured.
func (c *Controller) log(event string, attrs ...any) {
	if c.Logger != nil {
		c.Logger.Info(event, attrs...)
	}
}

// linkCount returns the number of links held by the given node.
func (c *Controller) linkCount(id packet.NodeID) int {
	return len(c.store.Neighbors(id))
}

// validateNewLink enforces the structural rules for adding the edge
// a<->b, checking each endpoint against the other.
func (c *Controller) validateNewLink(a, b packet.NodeID) error {
	for _, pair := range [][2]packet.NodeID{{a, b}, {b, a}} {
		this, other := pair[0], pair[1]
		kind, ok := c.store.Kind(this)
		if !ok {
			return fmt.Errorf("%w: node %d", topology.ErrNotFound, this)
		}
		otherKind, ok := c.store.Kind(other)
		if !ok {
			return fmt.Errorf("%w: node %d", topology.ErrNotFound, other)
		}
		if kind == packet.NodeKindDrone {
			continue
		}
		// Clients and servers attach to the mesh through drones only.
		if otherKind != packet.NodeKindDrone {
			return fmt.Errorf(
				"%w: %s %d cannot link %s %d",
				ErrInvalidLink, kind, this, otherKind, other,
			)
		}
		if kind.IsClient() && c.linkCount(this) >= 2 {
			return fmt.Errorf(
				"%w: client %d already holds two links",
				ErrLinkLimit, this,
			)
		}
	}
	return nil
}

// AddSender adds a communication link between two nodes.
//
// Fails with [ErrInvalidLink] when a client or server would link to
// anything but a drone, [ErrLinkLimit] when a client would exceed two
// links, and with the store's own errors for unknown nodes, crashed
// drones, self loops, and duplicate edges.
func (c *Controller) AddSender(a, b packet.NodeID) error {
	if err := c.validateNewLink(a, b); err != nil {
		return err
	}
	if err := c.store.AddEdge(a, b); err != nil {
		return err
	}
	c.log("edgeAdded", slog.Int("a", int(a)), slog.Int("b", int(b)))
	return nil
}

// RemoveEdge removes the communication link between two nodes.
//
// Fails with [ErrLinkLimit] when a client would fall below one link or
// a server below two, and with [ErrWouldDisconnect] when the removal
// would partition the mesh or cut a client off from a server.
func (c *Controller) RemoveEdge(a, b packet.NodeID) error {
	if !c.store.HasEdge(a, b) {
		return fmt.Errorf("%w: edge %d<->%d", topology.ErrNotFound, a, b)
	}
	for _, id := range []packet.NodeID{a, b} {
		kind, _ := c.store.Kind(id)
		if kind.IsClient() && c.linkCount(id) <= 1 {
			return fmt.Errorf("%w: client %d would lose its last link", ErrLinkLimit, id)
		}
		if kind.IsServer() && c.linkCount(id) <= 2 {
			return fmt.Errorf("%w: server %d needs two links", ErrLinkLimit, id)
		}
	}
	excl := exclusion{edgeA: a, edgeB: b, hasEdge: true}
	if err := checkEndpointsConnected(c.store, excl); err != nil {
		return err
	}
	if err := c.store.RemoveEdge(a, b); err != nil {
		return err
	}
	c.log("edgeRemoved", slog.Int("a", int(a)), slog.Int("b", int(b)))
	return nil
}

// SetPDR updates a drone's packet-drop rate through the store.
func (c *Controller) SetPDR(id packet.NodeID, value float64) error {
	if err := c.store.SetPDR(id, value); err != nil {
		return err
	}
	c.log("pdrChanged", slog.Int("drone", int(id)), slog.Float64("pdr", value))
	return nil
}

// Crash crashes a drone, severing all its links.
//
// Fails with [ErrWouldDisconnect] when the crash would partition the
// mesh or cut a client off from a server, and with the store's errors
// for unknown or non-drone targets.
func (c *Controller) Crash(id packet.NodeID) error {
	if kind, ok := c.store.Kind(id); !ok {
		return fmt.Errorf("%w: node %d", topology.ErrNotFound, id)
	} else if kind != packet.NodeKindDrone {
		return fmt.Errorf("%w: node %d", topology.ErrNotADrone, id)
	}
	excl := exclusion{node: id, hasNode: true}
	if err := checkEndpointsConnected(c.store, excl); err != nil {
		return err
	}
	if err := c.store.Crash(id); err != nil {
		return err
	}
	c.log("droneCrashed", slog.Int("drone", int(id)))
	return nil
}

// SpawnDrone adds a new isolated drone and returns its identifier.
//
// The drone's packet-drop rate comes from the configured pool, cycled
// in order. The drone holds no links until [*Controller.AddSender]
// attaches it.
func (c *Controller) SpawnDrone() (packet.NodeID, error) {
	c.mu.Lock()
	pdr := c.pdrPool[c.nextPDR%len(c.pdrPool)]
	c.nextPDR++
	c.mu.Unlock()

	id, err := c.store.AddNode(packet.NodeKindDrone, pdr)
	if err != nil {
		return 0, err
	}
	c.log("droneSpawned", slog.Int("drone", int(id)), slog.Float64("pdr", pdr))
	return id, nil
}
