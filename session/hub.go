// SPDX-License-Identifier: GPL-3.0-or-later

// Package session implements the per-endpoint protocol state
// machines on top of discovery, fragmentation, and forwarding.
//
// A [*Hub] owns the shared transport: it registers [Server] behaviors
// for server nodes, creates client [*Session] values, and moves
// fragmented messages between endpoints through the forwarding
// engine. Sessions are logically concurrent: an operation that awaits
// a response only blocks its own caller, and all sessions observe the
// same live topology state.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dronemesh-project/dronemesh/forward"
	"github.com/dronemesh-project/dronemesh/fragment"
	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/routing"
	"github.com/dronemesh-project/dronemesh/topology"
)

// pairKey identifies a session by its endpoints.
type pairKey struct {
	client packet.NodeID
	server packet.NodeID
}

// Hub wires client sessions, server behaviors, and the transport.
//
// The zero value is not ready to use; construct using [NewHub].
type Hub struct {
	// Logger is the optional structured logger. If this field is
	// nil, we will not emit structured logs.
	Logger *slog.Logger

	// asm reassembles messages arriving at endpoints.
	asm *fragment.Assembler

	// disc discovers routes.
	disc *routing.Discoverer

	// engine forwards fragments.
	engine *forward.Engine

	// mu protects servers, sessions, and the id counters.
	mu sync.Mutex

	// nextMessageID assigns message identifiers.
	nextMessageID uint64

	// nextSessionID assigns session identifiers.
	nextSessionID uint64

	// servers maps server nodes to their behaviors.
	servers map[packet.NodeID]Server

	// sessions maps endpoint pairs to open sessions.
	sessions map[pairKey]*Session

	// store is the shared topology store.
	store *topology.Store
}

// NewHub creates a new [*Hub] on top of the given components.
func NewHub(store *topology.Store, disc *routing.Discoverer, engine *forward.Engine) *Hub {
	return &Hub{
		asm:      &fragment.Assembler{},
		disc:     disc,
		engine:   engine,
		mu:       sync.Mutex{},
		servers:  map[packet.NodeID]Server{},
		sessions: map[pairKey]*Session{},
		store:    store,
	}
}

// RegisterServer attaches a [Server] behavior to a server node.
//
// Fails with [ErrInvalidTarget] when the node does not exist or its
// kind does not match the behavior's kind.
func (h *Hub) RegisterServer(id packet.NodeID, srv Server) error {
	kind, ok := h.store.Kind(id)
	if !ok || kind != srv.Kind() {
		return fmt.Errorf("%w: node %d is not a %s", ErrInvalidTarget, id, srv.Kind())
	}
	h.mu.Lock()
	h.servers[id] = srv
	h.mu.Unlock()
	return nil
}

// NewSession opens a session between a client and a server node.
//
// Fails with [ErrInvalidTarget] when the client node is not a client.
// The server side is validated lazily, before the first packet of
// each operation, so that a session can outlive server removal and
// surface the error at operation time.
func (h *Hub) NewSession(client, server packet.NodeID) (*Session, error) {
	kind, ok := h.store.Kind(client)
	if !ok || !kind.IsClient() {
		return nil, fmt.Errorf("%w: node %d is not a client", ErrInvalidTarget, client)
	}

	proto := ProtocolWeb
	if kind == packet.NodeKindChatClient {
		proto = ProtocolChat
	}

	h.mu.Lock()
	h.nextSessionID++
	sess := &Session{
		client: client,
		hub:    h,
		id:     h.nextSessionID,
		peer:   server,
		proto:  proto,
		reg:    RegUnregistered,
		state:  StateIdle,
	}
	h.sessions[pairKey{client, server}] = sess
	h.mu.Unlock()
	return sess, nil
}

// closeSession drops the session and abandons its in-flight messages.
func (h *Hub) closeSession(sess *Session) {
	h.mu.Lock()
	key := pairKey{sess.client, sess.peer}
	if h.sessions[key] == sess {
		delete(h.sessions, key)
	}
	h.mu.Unlock()
	h.asm.Abandon(sess.id)
}

// newMessageID returns a fresh message identifier.
func (h *Hub) newMessageID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextMessageID++
	return h.nextMessageID
}

// transfer moves a whole message from src to dst: it fragments the
// payload, transmits each fragment with Nack recovery, and reassembles
// the message at the destination. It returns the reassembled message.
func (h *Hub) transfer(src, dst packet.NodeID, sessionID uint64, payload []byte) ([]byte, error) {
	key := fragment.Key{SessionID: sessionID, MessageID: h.newMessageID()}
	var message []byte
	for _, frag := range fragment.Split(payload, packet.MaxFragmentData) {
		if _, err := h.engine.Transmit(h.disc, src, dst, sessionID, frag); err != nil {
			h.asm.Abandon(sessionID)
			return nil, err
		}
		msg, complete, err := h.asm.Accept(key, frag)
		if err != nil {
			return nil, err
		}
		if complete {
			message = msg
		}
	}
	return message, nil
}

// request performs one request/response exchange for a session: the
// request travels client to server, the server behavior runs, any
// deliveries for third-party clients are pushed, and the reply
// travels server to client.
func (h *Hub) request(sess *Session, payload []byte) ([]byte, error) {
	h.mu.Lock()
	srv := h.servers[sess.peer]
	h.mu.Unlock()
	if srv == nil {
		return nil, fmt.Errorf("%w: node %d has no server behavior", ErrInvalidTarget, sess.peer)
	}

	request, err := h.transfer(sess.client, sess.peer, sess.id, payload)
	if err != nil {
		return nil, err
	}

	reply, deliveries := srv.Handle(sess.client, request)
	for _, delivery := range deliveries {
		h.deliver(sess.peer, delivery)
	}

	return h.transfer(sess.peer, sess.client, sess.id, reply)
}

// deliver pushes a server-originated message to a client and hands it
// to the session between that client and the server. Delivery failure
// is logged and otherwise ignored: the mesh gives no delivery
// guarantee for third-party pushes beyond forwarding-level retries.
func (h *Hub) deliver(server packet.NodeID, delivery Delivery) {
	h.mu.Lock()
	sess := h.sessions[pairKey{delivery.To, server}]
	h.mu.Unlock()
	if sess == nil {
		return
	}

	message, err := h.transfer(server, delivery.To, sess.id, delivery.Payload)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn(
				"deliveryFailed",
				slog.Int("server", int(server)),
				slog.Int("client", int(delivery.To)),
				slog.Any("err", err),
			)
		}
		return
	}
	sess.receivePush(message)
}
