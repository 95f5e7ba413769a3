// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"fmt"
	"strings"

	"github.com/dronemesh-project/dronemesh/packet"
)

// Route is an ordered hop sequence from a source endpoint to a
// destination endpoint where every consecutive pair is a live edge
// and every intermediate node is a live drone.
//
// A route is a point-in-time snapshot: the [*Discoverer] discards it
// from its cache as soon as any element along it changes.
type Route struct {
	// Hops is the ordered node sequence, endpoints included.
	Hops []packet.NodeID
}

// HopCount returns the number of hops (edges) along the route.
func (r Route) HopCount() int {
	if len(r.Hops) <= 0 {
		return 0
	}
	return len(r.Hops) - 1
}

// Contains returns whether the route traverses the given node.
func (r Route) Contains(id packet.NodeID) bool {
	for _, hop := range r.Hops {
		if hop == id {
			return true
		}
	}
	return false
}

// UsesEdge returns whether the route traverses the given edge,
// in either direction.
func (r Route) UsesEdge(a, b packet.NodeID) bool {
	for idx := 0; idx+1 < len(r.Hops); idx++ {
		if (r.Hops[idx] == a && r.Hops[idx+1] == b) ||
			(r.Hops[idx] == b && r.Hops[idx+1] == a) {
			return true
		}
	}
	return false
}

// Header returns a [packet.SourceRoutingHeader] positioned at the
// route source.
func (r Route) Header() packet.SourceRoutingHeader {
	return packet.NewSourceRoutingHeader(append([]packet.NodeID{}, r.Hops...)...)
}

// String returns the string representation of the route.
func (r Route) String() string {
	var builder strings.Builder
	for idx, hop := range r.Hops {
		if idx > 0 {
			builder.WriteString("->")
		}
		builder.WriteString(fmt.Sprintf("%d", hop))
	}
	return builder.String()
}

// less compares two routes by the selection policy: fewer hops first,
// ties broken by the lowest hop-id sequence.
func less(left, right Route) bool {
	if len(left.Hops) != len(right.Hops) {
		return len(left.Hops) < len(right.Hops)
	}
	for idx := range left.Hops {
		if left.Hops[idx] != right.Hops[idx] {
			return left.Hops[idx] < right.Hops[idx]
		}
	}
	return false
}

// SelectRoute picks the best route among candidates: the shortest by
// hop count, ties broken by the lowest concatenation of node
// identifiers along the path. The choice is deterministic.
func SelectRoute(routes []Route) (Route, bool) {
	if len(routes) <= 0 {
		return Route{}, false
	}
	best := routes[0]
	for _, cand := range routes[1:] {
		if less(cand, best) {
			best = cand
		}
	}
	return best, true
}
