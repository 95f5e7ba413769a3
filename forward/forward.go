// SPDX-License-Identifier: GPL-3.0-or-later

// Package forward simulates hop-by-hop fragment transit along a
// source route.
//
// At each intermediate drone the [*Engine] draws against that drone's
// current PDR, independently per hop and per fragment: the fragment
// is dropped with probability PDR and forwarded otherwise. A fragment
// that traverses every hop yields an Ack; a lost fragment yields a
// Nack carrying the hop index and the loss reason. [*Engine.Transmit]
// adds the bounded rediscovery-and-resend recovery on top.
package forward

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/routing"
	"github.com/dronemesh-project/dronemesh/topology"
)

// ErrUnreachable means transmission exhausted its rediscovery
// attempts without an acknowledged delivery.
var ErrUnreachable = errors.New("forward: unreachable")

// DefaultMaxRouteRetries is the number of rediscovery-and-resend
// cycles [*Engine.Transmit] attempts after the first failed send.
const DefaultMaxRouteRetries = 3

// EventKind is the kind of a forwarding [Event].
type EventKind uint8

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventPacketSent:
		return "packet-sent"

	case EventPacketDropped:
		return "packet-dropped"

	case EventPacketDelivered:
		return "packet-delivered"

	default:
		return "unknown"
	}
}

const (
	// EventPacketSent means a node forwarded the packet.
	EventPacketSent = EventKind(iota + 1)

	// EventPacketDropped means a drone dropped the packet.
	EventPacketDropped

	// EventPacketDelivered means the packet reached its destination.
	EventPacketDelivered
)

// Event is a single observable forwarding step.
type Event struct {
	// Kind is the event kind.
	Kind EventKind

	// Node is the node at which the event occurred.
	Node packet.NodeID

	// Packet is the packet being forwarded.
	Packet *packet.Packet
}

// Observer observes forwarding events.
type Observer func(ev Event)

// RouteProvider discovers and invalidates routes between endpoints.
//
// [*routing.Discoverer] implements this interface.
type RouteProvider interface {
	// Discover returns a route between the endpoints.
	Discover(src, dst packet.NodeID) (routing.Route, error)

	// Invalidate discards the cached route between the endpoints.
	Invalidate(src, dst packet.NodeID)
}

// Engine simulates fragment transit over the shared topology store.
//
// The zero value is not ready to use; construct using [NewEngine],
// then optionally set the exported fields before first use.
type Engine struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not emit structured logs.
	Logger *slog.Logger

	// MaxRouteRetries is the optional bound on rediscovery cycles
	// per fragment. If this field is <= 0, we use
	// [DefaultMaxRouteRetries].
	MaxRouteRetries int

	// Observer is the optional observer for forwarding events.
	Observer Observer

	// RandFloat is the optional source of uniform values in [0, 1)
	// for PDR draws. If this field is nil, we use [rand.Float64].
	RandFloat func() float64

	// store is the shared topology store.
	store *topology.Store
}

// NewEngine creates a new [*Engine] reading the given store.
func NewEngine(store *topology.Store) *Engine {
	return &Engine{store: store}
}

// randFloat draws a uniform value in [0, 1).
func (e *Engine) randFloat() float64 {
	if e.RandFloat != nil {
		return e.RandFloat()
	}
	return rand.Float64()
}

// emit invokes the observer, if any.
func (e *Engine) emit(kind EventKind, node packet.NodeID, pkt *packet.Packet) {
	if e.Observer != nil {
		e.Observer(Event{Kind: kind, Node: node, Packet: pkt})
	}
}

// Send simulates one transit of a fragment along the route.
//
// It returns an Ack when the fragment traverses every hop, and
// otherwise a Nack carrying the hop index and reason: ErrorInRouting
// when the next hop is unreachable or crashed, Dropped for
// probabilistic loss. The topology is consulted live at every hop, so
// a drone crashing mid-transit loses the fragment at the next hop
// lookup rather than silently succeeding.
func (e *Engine) Send(route routing.Route, sessionID uint64, frag packet.Fragment) (*packet.Ack, *packet.Nack) {
	pkt := &packet.Packet{
		Type:      packet.TypeFragment,
		SessionID: sessionID,
		Header:    route.Header(),
		Fragment:  &frag,
	}

	for {
		cur, ok := pkt.Header.Current()
		if !ok {
			// Cannot happen for routes produced by discovery.
			return nil, &packet.Nack{
				FragmentIndex: frag.Index,
				Kind:          packet.NackUnexpectedRecipient,
				HopIndex:      pkt.Header.HopIndex,
			}
		}

		next, ok := pkt.Header.Next()
		if !ok {
			// Destination reached.
			if kind, _ := e.store.Kind(cur); kind == packet.NodeKindDrone {
				return nil, &packet.Nack{
					FragmentIndex: frag.Index,
					Kind:          packet.NackDestinationIsDrone,
					HopIndex:      pkt.Header.HopIndex,
					Offender:      cur,
				}
			}
			e.emit(EventPacketDelivered, cur, pkt)
			e.log("packetDelivered", cur, pkt)
			return &packet.Ack{FragmentIndex: frag.Index}, nil
		}

		// Next hop lookup against the live topology.
		if !e.store.HasEdge(cur, next) || !e.store.IsAlive(next) {
			e.emit(EventPacketDropped, cur, pkt)
			e.log("packetLost", cur, pkt)
			return nil, &packet.Nack{
				FragmentIndex: frag.Index,
				Kind:          packet.NackErrorInRouting,
				HopIndex:      pkt.Header.HopIndex,
				Offender:      next,
			}
		}

		e.emit(EventPacketSent, cur, pkt)
		pkt.Header.Advance()

		// The fragment is now at `next`. Intermediate drones draw
		// against their current PDR, sampled independently per hop.
		if _, hasNext := pkt.Header.Next(); !hasNext {
			continue
		}
		pdr, ok := e.store.PDR(next)
		if !ok {
			// Intermediate hop is not a drone: the route is bogus.
			return nil, &packet.Nack{
				FragmentIndex: frag.Index,
				Kind:          packet.NackErrorInRouting,
				HopIndex:      pkt.Header.HopIndex,
				Offender:      next,
			}
		}
		if e.randFloat() < pdr {
			e.emit(EventPacketDropped, next, pkt)
			e.log("packetDropped", next, pkt)
			return nil, &packet.Nack{
				FragmentIndex: frag.Index,
				Kind:          packet.NackDropped,
				HopIndex:      pkt.Header.HopIndex,
				Offender:      next,
			}
		}
	}
}

// log emits a structured log event, if a logger is configured.
func (e *Engine) log(event string, node packet.NodeID, pkt *packet.Packet) {
	if e.Logger != nil {
		e.Logger.Info(
			event,
			slog.Int("node", int(node)),
			slog.String("packet", pkt.String()),
		)
	}
}

// Transmit sends a fragment from src to dst, recovering from Nacks by
// invalidating the route, rediscovering, and resending the same
// fragment, up to MaxRouteRetries rediscovery cycles. Fragment
// identity is deterministic, so retransmission is safe.
//
// On success it returns the route that carried the fragment. It fails
// with [ErrUnreachable], wrapping the underlying cause, when no route
// exists or the retry budget is exhausted.
func (e *Engine) Transmit(rp RouteProvider, src, dst packet.NodeID, sessionID uint64, frag packet.Fragment) (routing.Route, error) {
	retries := e.MaxRouteRetries
	if retries <= 0 {
		retries = DefaultMaxRouteRetries
	}

	var lastNack *packet.Nack
	for attempt := 0; attempt <= retries; attempt++ {
		route, err := rp.Discover(src, dst)
		if err != nil {
			return routing.Route{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		ack, nack := e.Send(route, sessionID, frag)
		if ack != nil {
			return route, nil
		}
		lastNack = nack
		rp.Invalidate(src, dst)
	}
	return routing.Route{}, fmt.Errorf("%w: retries exhausted: %s", ErrUnreachable, lastNack)
}
