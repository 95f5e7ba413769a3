// SPDX-License-Identifier: GPL-3.0-or-later

package topology

import (
	"fmt"

	"github.com/dronemesh-project/dronemesh/packet"
)

// EventKind is the kind of a topology-changed [Event].
type EventKind uint8

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventNodeAdded:
		return "node-added"

	case EventNodeRemoved:
		return "node-removed"

	case EventEdgeAdded:
		return "edge-added"

	case EventEdgeRemoved:
		return "edge-removed"

	case EventDroneCrashed:
		return "drone-crashed"

	case EventPDRChanged:
		return "pdr-changed"

	default:
		return "unknown"
	}
}

const (
	// EventNodeAdded means a node joined the graph.
	EventNodeAdded = EventKind(iota + 1)

	// EventNodeRemoved means a node left the graph.
	EventNodeRemoved

	// EventEdgeAdded means an edge was added.
	EventEdgeAdded

	// EventEdgeRemoved means an edge was removed.
	EventEdgeRemoved

	// EventDroneCrashed means a drone crashed.
	EventDroneCrashed

	// EventPDRChanged means a drone's PDR changed.
	EventPDRChanged
)

// Event describes a structural mutation of the graph.
type Event struct {
	// Kind is the event kind.
	Kind EventKind

	// Node is the mutated node (or the first edge endpoint).
	Node packet.NodeID

	// Peer is the second edge endpoint for edge events.
	Peer packet.NodeID

	// PDR is the new PDR value for [EventPDRChanged].
	PDR float64
}

// String returns the string representation of the event.
func (ev Event) String() string {
	switch ev.Kind {
	case EventEdgeAdded, EventEdgeRemoved:
		return fmt.Sprintf("%s %d<->%d", ev.Kind, ev.Node, ev.Peer)

	case EventPDRChanged:
		return fmt.Sprintf("%s node=%d pdr=%v", ev.Kind, ev.Node, ev.PDR)

	default:
		return fmt.Sprintf("%s node=%d", ev.Kind, ev.Node)
	}
}

// Observer observes topology-changed events.
//
// Observers run synchronously, in registration order, right after the
// mutation that produced the event has committed. An observer may read
// the store but must not mutate it.
type Observer func(ev Event)
