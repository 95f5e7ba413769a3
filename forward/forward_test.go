// SPDX-License-Identifier: GPL-3.0-or-later

package forward_test

import (
	"testing"

	"github.com/dronemesh-project/dronemesh/forward"
	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/routing"
	"github.com/dronemesh-project/dronemesh/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newChain builds the topology {1:client}-{2:drone}-{3:drone}-{4:server}
// with both drones at PDR 0.
func newChain(t *testing.T) *topology.Store {
	store := topology.New()
	require.NoError(t, store.InsertNode(1, packet.NodeKindWebClient, 0))
	require.NoError(t, store.InsertNode(2, packet.NodeKindDrone, 0))
	require.NoError(t, store.InsertNode(3, packet.NodeKindDrone, 0))
	require.NoError(t, store.InsertNode(4, packet.NodeKindTextServer, 0))
	require.NoError(t, store.AddEdge(1, 2))
	require.NoError(t, store.AddEdge(2, 3))
	require.NoError(t, store.AddEdge(3, 4))
	return store
}

var chainRoute = routing.Route{Hops: []packet.NodeID{1, 2, 3, 4}}

func TestSend(t *testing.T) {
	frag := packet.Fragment{Index: 0, Total: 1, Data: []byte("hi")}

	t.Run("zero PDR always acks", func(t *testing.T) {
		store := newChain(t)
		engine := forward.NewEngine(store)
		for trial := 0; trial < 50; trial++ {
			ack, nack := engine.Send(chainRoute, 1, frag)
			require.Nil(t, nack)
			require.NotNil(t, ack)
			assert.Equal(t, frag.Index, ack.FragmentIndex)
		}
	})

	t.Run("PDR one drops at that hop", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.SetPDR(3, 1))
		engine := forward.NewEngine(store)
		for trial := 0; trial < 50; trial++ {
			ack, nack := engine.Send(chainRoute, 1, frag)
			require.Nil(t, ack)
			require.NotNil(t, nack)
			assert.Equal(t, packet.NackDropped, nack.Kind)
			assert.Equal(t, 2, nack.HopIndex)
			assert.Equal(t, packet.NodeID(3), nack.Offender)
		}
	})

	t.Run("crashed drone on stale route is an error in routing", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.Crash(3))
		engine := forward.NewEngine(store)
		ack, nack := engine.Send(chainRoute, 1, frag)
		require.Nil(t, ack)
		require.NotNil(t, nack)
		assert.Equal(t, packet.NackErrorInRouting, nack.Kind)
		assert.Equal(t, 1, nack.HopIndex)
		assert.Equal(t, packet.NodeID(3), nack.Offender)
	})

	t.Run("removed edge is an error in routing", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.RemoveEdge(3, 4))
		engine := forward.NewEngine(store)
		_, nack := engine.Send(chainRoute, 1, frag)
		require.NotNil(t, nack)
		assert.Equal(t, packet.NackErrorInRouting, nack.Kind)
		assert.Equal(t, 2, nack.HopIndex)
		assert.Equal(t, packet.NodeID(4), nack.Offender)
	})

	t.Run("route ending at a drone is rejected", func(t *testing.T) {
		store := newChain(t)
		engine := forward.NewEngine(store)
		_, nack := engine.Send(routing.Route{Hops: []packet.NodeID{1, 2, 3}}, 1, frag)
		require.NotNil(t, nack)
		assert.Equal(t, packet.NackDestinationIsDrone, nack.Kind)
	})

	t.Run("per-hop draws are independent", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.SetPDR(2, 0.5))
		require.NoError(t, store.SetPDR(3, 0.5))
		engine := forward.NewEngine(store)

		// Scripted draws: survive hop 2, drop at hop 3.
		draws := []float64{0.9, 0.1}
		engine.RandFloat = func() float64 {
			value := draws[0]
			draws = draws[1:]
			return value
		}
		_, nack := engine.Send(chainRoute, 1, frag)
		require.NotNil(t, nack)
		assert.Equal(t, packet.NackDropped, nack.Kind)
		assert.Equal(t, packet.NodeID(3), nack.Offender)
	})

	t.Run("emits forwarding events", func(t *testing.T) {
		store := newChain(t)
		engine := forward.NewEngine(store)
		var kinds []forward.EventKind
		var nodes []packet.NodeID
		engine.Observer = func(ev forward.Event) {
			kinds = append(kinds, ev.Kind)
			nodes = append(nodes, ev.Node)
		}
		_, nack := engine.Send(chainRoute, 1, frag)
		require.Nil(t, nack)
		assert.Equal(t, []forward.EventKind{
			forward.EventPacketSent,
			forward.EventPacketSent,
			forward.EventPacketSent,
			forward.EventPacketDelivered,
		}, kinds)
		assert.Equal(t, []packet.NodeID{1, 2, 3, 4}, nodes)
	})
}

func TestTransmit(t *testing.T) {
	frag := packet.Fragment{Index: 0, Total: 1, Data: []byte("hi")}

	t.Run("delivers on the first attempt", func(t *testing.T) {
		store := newChain(t)
		disc := routing.NewDiscoverer(store)
		engine := forward.NewEngine(store)
		route, err := engine.Transmit(disc, 1, 4, 1, frag)
		require.NoError(t, err)
		assert.Equal(t, chainRoute.Hops, route.Hops)
	})

	t.Run("recovers by rediscovery and resend", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.SetPDR(2, 0.5))
		disc := routing.NewDiscoverer(store)
		engine := forward.NewEngine(store)

		// Scripted draws: drop at drone 2 on the first attempt,
		// survive both drones on the second.
		draws := []float64{0.1, 0.9, 0.9}
		engine.RandFloat = func() float64 {
			value := draws[0]
			draws = draws[1:]
			return value
		}

		route, err := engine.Transmit(disc, 1, 4, 1, frag)
		require.NoError(t, err)
		assert.Equal(t, chainRoute.Hops, route.Hops)
		assert.Empty(t, draws)
	})

	t.Run("crash reroutes through the surviving path", func(t *testing.T) {
		store := newChain(t)
		// Alternative path 1-5-6-4 next to the primary chain.
		require.NoError(t, store.InsertNode(5, packet.NodeKindDrone, 0))
		require.NoError(t, store.InsertNode(6, packet.NodeKindDrone, 0))
		require.NoError(t, store.AddEdge(1, 5))
		require.NoError(t, store.AddEdge(5, 6))
		require.NoError(t, store.AddEdge(6, 4))

		disc := routing.NewDiscoverer(store)
		engine := forward.NewEngine(store)

		_, err := disc.Discover(1, 4)
		require.NoError(t, err)
		require.NoError(t, store.Crash(3))

		route, err := engine.Transmit(disc, 1, 4, 1, frag)
		require.NoError(t, err)
		assert.Equal(t, []packet.NodeID{1, 5, 6, 4}, route.Hops)
	})

	t.Run("exhaustion surfaces unreachable", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.SetPDR(2, 1))
		disc := routing.NewDiscoverer(store)
		engine := forward.NewEngine(store)
		_, err := engine.Transmit(disc, 1, 4, 1, frag)
		assert.ErrorIs(t, err, forward.ErrUnreachable)
	})

	t.Run("no route surfaces unreachable wrapping the cause", func(t *testing.T) {
		store := newChain(t)
		require.NoError(t, store.Crash(2))
		disc := routing.NewDiscoverer(store)
		engine := forward.NewEngine(store)
		_, err := engine.Transmit(disc, 1, 4, 1, frag)
		assert.ErrorIs(t, err, forward.ErrUnreachable)
		assert.ErrorIs(t, err, routing.ErrNoRouteFound)
	})
}
