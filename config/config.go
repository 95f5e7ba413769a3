// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads mesh scenarios from YAML files.
//
// A scenario lists the drones, clients, and servers with their
// identifiers, packet-drop rates, and neighbor links. [Scenario.Build]
// turns a validated scenario into a populated topology store.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/topology"
	"github.com/rbmk-project/common/runtimex"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig means the scenario violates the structural rules.
var ErrInvalidConfig = errors.New("config: invalid scenario")

// Drone describes a relay drone in a scenario file.
type Drone struct {
	// ID is the drone identifier.
	ID uint8 `yaml:"id"`

	// PDR is the packet-drop rate in [0, 1].
	PDR float64 `yaml:"pdr"`

	// Links lists the neighbor identifiers.
	Links []uint8 `yaml:"connected_node_ids"`
}

// Client describes a client endpoint in a scenario file.
type Client struct {
	// ID is the client identifier.
	ID uint8 `yaml:"id"`

	// Kind selects the protocol: "web" or "chat".
	Kind string `yaml:"kind"`

	// Links lists the neighbor drone identifiers.
	Links []uint8 `yaml:"connected_drone_ids"`
}

// Server describes a server endpoint in a scenario file.
type Server struct {
	// ID is the server identifier.
	ID uint8 `yaml:"id"`

	// Kind selects the protocol: "text" or "chat".
	Kind string `yaml:"kind"`

	// Links lists the neighbor drone identifiers.
	Links []uint8 `yaml:"connected_drone_ids"`
}

// Scenario is a whole mesh description.
type Scenario struct {
	// Drones lists the relay drones.
	Drones []Drone `yaml:"drones"`

	// Clients lists the client endpoints.
	Clients []Client `yaml:"clients"`

	// Servers lists the server endpoints.
	Servers []Server `yaml:"servers"`

	// PDRPool optionally overrides the packet-drop rates assigned to
	// spawned drones.
	PDRPool []float64 `yaml:"pdr_pool,omitempty"`
}

// Parse parses a scenario from YAML bytes and validates it.
func Parse(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// MustLoad is like [Load] but panics on failure. Test scaffolding
// uses it with known-good scenario files.
func MustLoad(path string) *Scenario {
	return runtimex.Try1(Load(path))
}

// kinds returns the node kind of every declared identifier, failing
// on duplicates and unknown kind names.
func (s *Scenario) kinds() (map[uint8]packet.NodeKind, error) {
	kinds := map[uint8]packet.NodeKind{}
	declare := func(id uint8, kind packet.NodeKind) error {
		if _, dup := kinds[id]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidConfig, id)
		}
		kinds[id] = kind
		return nil
	}
	for _, drone := range s.Drones {
		if err := declare(drone.ID, packet.NodeKindDrone); err != nil {
			return nil, err
		}
	}
	for _, client := range s.Clients {
		kind, ok := map[string]packet.NodeKind{
			"web":  packet.NodeKindWebClient,
			"chat": packet.NodeKindChatClient,
		}[client.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: client %d kind %q", ErrInvalidConfig, client.ID, client.Kind)
		}
		if err := declare(client.ID, kind); err != nil {
			return nil, err
		}
	}
	for _, server := range s.Servers {
		kind, ok := map[string]packet.NodeKind{
			"text": packet.NodeKindTextServer,
			"chat": packet.NodeKindChatServer,
		}[server.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: server %d kind %q", ErrInvalidConfig, server.ID, server.Kind)
		}
		if err := declare(server.ID, kind); err != nil {
			return nil, err
		}
	}
	return kinds, nil
}

// Validate checks the scenario against the structural rules: PDR in
// range, links referencing known identifiers, no self links, clients
// holding one or two drone links, servers at least two.
func (s *Scenario) Validate() error {
	kinds, err := s.kinds()
	if err != nil {
		return err
	}

	checkLinks := func(id uint8, links []uint8, dronesOnly bool) error {
		for _, peer := range links {
			if peer == id {
				return fmt.Errorf("%w: node %d links itself", ErrInvalidConfig, id)
			}
			kind, ok := kinds[peer]
			if !ok {
				return fmt.Errorf("%w: node %d links unknown node %d", ErrInvalidConfig, id, peer)
			}
			if dronesOnly && kind != packet.NodeKindDrone {
				return fmt.Errorf("%w: node %d links non-drone %d", ErrInvalidConfig, id, peer)
			}
		}
		return nil
	}

	for _, drone := range s.Drones {
		if drone.PDR < 0 || drone.PDR > 1 {
			return fmt.Errorf("%w: drone %d pdr %v", ErrInvalidConfig, drone.ID, drone.PDR)
		}
		if err := checkLinks(drone.ID, drone.Links, false); err != nil {
			return err
		}
	}
	for _, client := range s.Clients {
		if len(client.Links) < 1 || len(client.Links) > 2 {
			return fmt.Errorf(
				"%w: client %d holds %d links, want 1 or 2",
				ErrInvalidConfig, client.ID, len(client.Links),
			)
		}
		if err := checkLinks(client.ID, client.Links, true); err != nil {
			return err
		}
	}
	for _, server := range s.Servers {
		if len(server.Links) < 2 {
			return fmt.Errorf(
				"%w: server %d holds %d links, want at least 2",
				ErrInvalidConfig, server.ID, len(server.Links),
			)
		}
		if err := checkLinks(server.ID, server.Links, true); err != nil {
			return err
		}
	}
	for _, pdr := range s.PDRPool {
		if pdr < 0 || pdr > 1 {
			return fmt.Errorf("%w: pool pdr %v", ErrInvalidConfig, pdr)
		}
	}
	return nil
}

// Build creates a topology store populated with the scenario's nodes
// and edges. Links appearing on both endpoints produce one edge.
func (s *Scenario) Build() (*topology.Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	store := topology.New()
	for _, drone := range s.Drones {
		if err := store.InsertNode(packet.NodeID(drone.ID), packet.NodeKindDrone, drone.PDR); err != nil {
			return nil, err
		}
	}
	kinds := runtimex.Try1(s.kinds())
	for _, client := range s.Clients {
		if err := store.InsertNode(packet.NodeID(client.ID), kinds[client.ID], 0); err != nil {
			return nil, err
		}
	}
	for _, server := range s.Servers {
		if err := store.InsertNode(packet.NodeID(server.ID), kinds[server.ID], 0); err != nil {
			return nil, err
		}
	}

	addEdge := func(a, b uint8) error {
		if store.HasEdge(packet.NodeID(a), packet.NodeID(b)) {
			return nil
		}
		return store.AddEdge(packet.NodeID(a), packet.NodeID(b))
	}
	for _, drone := range s.Drones {
		for _, peer := range drone.Links {
			if err := addEdge(drone.ID, peer); err != nil {
				return nil, err
			}
		}
	}
	for _, client := range s.Clients {
		for _, peer := range client.Links {
			if err := addEdge(client.ID, peer); err != nil {
				return nil, err
			}
		}
	}
	for _, server := range s.Servers {
		for _, peer := range server.Links {
			if err := addEdge(server.ID, peer); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}
