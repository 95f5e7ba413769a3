// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains the drone-mesh protocol vocabulary: the
// [Packet] type, the [SourceRoutingHeader], and the payloads carried
// by each packet kind (fragments, acks, nacks, and flood probes).
package packet

import (
	"fmt"
	"strings"
)

// NodeID uniquely identifies a node in the mesh.
type NodeID uint8

// NodeKind is the kind of a node in the mesh.
type NodeKind uint8

// String returns the string representation of the node kind.
func (k NodeKind) String() string {
	switch k {
	case NodeKindDrone:
		return "drone"

	case NodeKindWebClient:
		return "web-client"

	case NodeKindChatClient:
		return "chat-client"

	case NodeKindTextServer:
		return "text-server"

	case NodeKindChatServer:
		return "chat-server"

	default:
		return "unknown"
	}
}

// IsClient returns true for client node kinds.
func (k NodeKind) IsClient() bool {
	return k == NodeKindWebClient || k == NodeKindChatClient
}

// IsServer returns true for server node kinds.
func (k NodeKind) IsServer() bool {
	return k == NodeKindTextServer || k == NodeKindChatServer
}

const (
	// NodeKindDrone is a relay drone.
	NodeKindDrone = NodeKind(iota + 1)

	// NodeKindWebClient is a client speaking the text protocol.
	NodeKindWebClient

	// NodeKindChatClient is a client speaking the chat protocol.
	NodeKindChatClient

	// NodeKindTextServer is a server holding retrievable files.
	NodeKindTextServer

	// NodeKindChatServer is a server relaying chat messages.
	NodeKindChatServer
)

// Type is the type of a [*Packet].
type Type uint8

// String returns the string representation of the packet type.
func (t Type) String() string {
	switch t {
	case TypeFragment:
		return "fragment"

	case TypeAck:
		return "ack"

	case TypeNack:
		return "nack"

	case TypeFloodRequest:
		return "flood-request"

	case TypeFloodResponse:
		return "flood-response"

	default:
		return "unknown"
	}
}

const (
	// TypeFragment is a message fragment in transit.
	TypeFragment = Type(iota + 1)

	// TypeAck acknowledges a fragment that completed its route.
	TypeAck

	// TypeNack reports a fragment lost along its route.
	TypeNack

	// TypeFloodRequest is a topology-discovery probe.
	TypeFloodRequest

	// TypeFloodResponse carries a discovered path back to the initiator.
	TypeFloodResponse
)

// MaxFragmentData is the maximum payload size of a [Fragment].
const MaxFragmentData = 128

// SourceRoutingHeader is the hop-by-hop route a packet follows.
//
// Hops lists every node from the source endpoint to the destination
// endpoint, included. HopIndex is the index in Hops of the node that
// currently holds the packet.
type SourceRoutingHeader struct {
	// HopIndex is the index of the current hop.
	HopIndex int

	// Hops is the ordered list of nodes to traverse.
	Hops []NodeID
}

// NewSourceRoutingHeader creates a header positioned at the source.
func NewSourceRoutingHeader(hops ...NodeID) SourceRoutingHeader {
	return SourceRoutingHeader{HopIndex: 0, Hops: hops}
}

// Source returns the first hop, if any.
func (h *SourceRoutingHeader) Source() (NodeID, bool) {
	if len(h.Hops) <= 0 {
		return 0, false
	}
	return h.Hops[0], true
}

// Destination returns the last hop, if any.
func (h *SourceRoutingHeader) Destination() (NodeID, bool) {
	if len(h.Hops) <= 0 {
		return 0, false
	}
	return h.Hops[len(h.Hops)-1], true
}

// Current returns the hop currently holding the packet, if any.
func (h *SourceRoutingHeader) Current() (NodeID, bool) {
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// Next returns the hop after the current one, if any.
func (h *SourceRoutingHeader) Next() (NodeID, bool) {
	if h.HopIndex+1 >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex+1], true
}

// Advance moves the header to the next hop.
func (h *SourceRoutingHeader) Advance() {
	h.HopIndex++
}

// Reversed returns a copy of the header with the hops reversed and
// the hop index repositioned at the new source. Endpoints use it to
// send a response back along the route a request arrived from.
func (h *SourceRoutingHeader) Reversed() SourceRoutingHeader {
	hops := make([]NodeID, 0, len(h.Hops))
	for idx := len(h.Hops) - 1; idx >= 0; idx-- {
		hops = append(hops, h.Hops[idx])
	}
	return SourceRoutingHeader{HopIndex: 0, Hops: hops}
}

// String returns the string representation of the header.
func (h *SourceRoutingHeader) String() string {
	var builder strings.Builder
	for idx, hop := range h.Hops {
		if idx > 0 {
			builder.WriteString("->")
		}
		if idx == h.HopIndex {
			builder.WriteString(fmt.Sprintf("[%d]", hop))
			continue
		}
		builder.WriteString(fmt.Sprintf("%d", hop))
	}
	return builder.String()
}

// Fragment is a bounded-size slice of an application message.
type Fragment struct {
	// Index is the zero-based fragment index.
	Index uint64

	// Total is the total number of fragments in the message.
	Total uint64

	// Data is the fragment payload, at most [MaxFragmentData] bytes.
	Data []byte
}

// String returns the string representation of the fragment.
func (f *Fragment) String() string {
	return fmt.Sprintf("fragment %d/%d length=%d", f.Index+1, f.Total, len(f.Data))
}

// Ack acknowledges a fragment that traversed its whole route.
type Ack struct {
	// FragmentIndex is the index of the acknowledged fragment.
	FragmentIndex uint64
}

// NackKind is the reason attached to a [Nack].
type NackKind uint8

// String returns the string representation of the nack kind.
func (k NackKind) String() string {
	switch k {
	case NackErrorInRouting:
		return "error-in-routing"

	case NackDropped:
		return "dropped"

	case NackDestinationIsDrone:
		return "destination-is-drone"

	case NackUnexpectedRecipient:
		return "unexpected-recipient"

	default:
		return "unknown"
	}
}

const (
	// NackErrorInRouting means the next hop was unreachable or crashed.
	NackErrorInRouting = NackKind(iota + 1)

	// NackDropped means a drone dropped the fragment probabilistically.
	NackDropped

	// NackDestinationIsDrone means the route terminates at a drone.
	NackDestinationIsDrone

	// NackUnexpectedRecipient means a hop received a packet not
	// addressed to it.
	NackUnexpectedRecipient
)

// Nack reports a fragment lost along its route.
type Nack struct {
	// FragmentIndex is the index of the lost fragment.
	FragmentIndex uint64

	// Kind is the reason the fragment was lost.
	Kind NackKind

	// HopIndex is the route index at which the fragment was lost.
	HopIndex int

	// Offender is the node at which the fragment was lost.
	Offender NodeID
}

// String returns the string representation of the nack.
func (n *Nack) String() string {
	return fmt.Sprintf("nack fragment=%d kind=%s hop=%d node=%d",
		n.FragmentIndex, n.Kind, n.HopIndex, n.Offender)
}

// PathEntry is a single entry in a flood-probe path trace.
type PathEntry struct {
	// ID is the node identifier.
	ID NodeID

	// Kind is the node kind.
	Kind NodeKind
}

// FloodRequest is a topology-discovery probe.
type FloodRequest struct {
	// FloodID identifies the discovery round.
	FloodID uint64

	// Initiator is the endpoint that started the flood.
	Initiator NodeID

	// PathTrace records the nodes the probe traversed so far.
	PathTrace []PathEntry
}

// FloodResponse carries a discovered path back to the initiator.
type FloodResponse struct {
	// FloodID identifies the discovery round.
	FloodID uint64

	// PathTrace is the full path the matching probe traversed.
	PathTrace []PathEntry
}

// Packet is a protocol packet in transit through the mesh.
type Packet struct {
	// Type is the packet type.
	Type Type

	// SessionID correlates request/response exchanges.
	SessionID uint64

	// Header is the source routing header. Flood requests ignore it
	// since they propagate by neighbor broadcast instead.
	Header SourceRoutingHeader

	// Fragment is set when Type is [TypeFragment].
	Fragment *Fragment

	// Ack is set when Type is [TypeAck].
	Ack *Ack

	// Nack is set when Type is [TypeNack].
	Nack *Nack

	// FloodRequest is set when Type is [TypeFloodRequest].
	FloodRequest *FloodRequest

	// FloodResponse is set when Type is [TypeFloodResponse].
	FloodResponse *FloodResponse
}

// String returns the string representation of the packet.
func (p *Packet) String() string {
	switch p.Type {
	case TypeFragment:
		return fmt.Sprintf("%s session=%d route=%s", p.Fragment, p.SessionID, &p.Header)

	case TypeAck:
		return fmt.Sprintf("ack fragment=%d session=%d route=%s",
			p.Ack.FragmentIndex, p.SessionID, &p.Header)

	case TypeNack:
		return fmt.Sprintf("%s session=%d", p.Nack, p.SessionID)

	case TypeFloodRequest:
		return fmt.Sprintf("flood-request id=%d initiator=%d trace=%d",
			p.FloodRequest.FloodID, p.FloodRequest.Initiator, len(p.FloodRequest.PathTrace))

	case TypeFloodResponse:
		return fmt.Sprintf("flood-response id=%d trace=%d",
			p.FloodResponse.FloodID, len(p.FloodResponse.PathTrace))

	default:
		return "unknown"
	}
}
