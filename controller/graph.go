// SPDX-License-Identifier: GPL-3.0-or-later

//
// Connectivity validation for structural commands.
//

package controller

import (
	"fmt"

	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/topology"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// exclusion describes the hypothetical mutation a connectivity check
// evaluates: a node about to crash or an edge about to be removed.
type exclusion struct {
	// node is the excluded node, when hasNode is true.
	node    packet.NodeID
	hasNode bool

	// edgeA and edgeB are the excluded edge endpoints, when hasEdge
	// is true.
	edgeA   packet.NodeID
	edgeB   packet.NodeID
	hasEdge bool
}

// meshGraph builds the undirected graph of alive nodes and surviving
// edges, minus the exclusion.
func meshGraph(store *topology.Store, excl exclusion) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for _, id := range store.Nodes() {
		if !store.IsAlive(id) {
			continue
		}
		if excl.hasNode && id == excl.node {
			continue
		}
		g.AddNode(simple.Node(int64(id)))
	}
	for _, id := range store.Nodes() {
		for _, peer := range store.Neighbors(id) {
			if id >= peer {
				continue
			}
			if excl.hasEdge &&
				((id == excl.edgeA && peer == excl.edgeB) ||
					(id == excl.edgeB && peer == excl.edgeA)) {
				continue
			}
			a, b := g.Node(int64(id)), g.Node(int64(peer))
			if a == nil || b == nil {
				continue
			}
			g.SetEdge(g.NewEdge(a, b))
		}
	}
	return g
}

// checkEndpointsConnected verifies that, in the hypothetical graph,
// all clients and servers share one connected component and that every
// client reaches every server without routing through another client.
// Isolated drones are tolerated since spawned drones start with no
// edges.
func checkEndpointsConnected(store *topology.Store, excl exclusion) error {
	g := meshGraph(store, excl)

	endpoints := map[packet.NodeID]bool{}
	var clients, servers []packet.NodeID
	for _, id := range store.Nodes() {
		kind, ok := store.Kind(id)
		if !ok {
			continue
		}
		if kind.IsClient() {
			clients = append(clients, id)
			endpoints[id] = true
		}
		if kind.IsServer() {
			servers = append(servers, id)
			endpoints[id] = true
		}
	}

	component := map[packet.NodeID]int{}
	for idx, nodes := range topo.ConnectedComponents(g) {
		for _, n := range nodes {
			component[packet.NodeID(n.ID())] = idx
		}
	}
	first, assigned := 0, false
	for id := range endpoints {
		comp, ok := component[id]
		if !ok {
			return fmt.Errorf("%w: node %d would be isolated", ErrWouldDisconnect, id)
		}
		if assigned && comp != first {
			return fmt.Errorf("%w: node %d would be partitioned", ErrWouldDisconnect, id)
		}
		first, assigned = comp, true
	}

	// Per-client sweep: client traffic never transits other clients,
	// so reachability must hold on the graph where they do not relay.
	for _, client := range clients {
		start := g.Node(int64(client))
		if start == nil {
			return fmt.Errorf("%w: client %d would be isolated", ErrWouldDisconnect, client)
		}
		reached := map[packet.NodeID]bool{}
		bfs := traverse.BreadthFirst{
			Visit: func(n graph.Node) {
				reached[packet.NodeID(n.ID())] = true
			},
			Traverse: func(e graph.Edge) bool {
				from := packet.NodeID(e.From().ID())
				kind, _ := store.Kind(from)
				return !kind.IsClient() || from == client
			},
		}
		bfs.Walk(g, start, nil)
		for _, server := range servers {
			if !reached[server] {
				return fmt.Errorf(
					"%w: client %d would lose server %d",
					ErrWouldDisconnect, client, server,
				)
			}
		}
	}
	return nil
}
