// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dronemesh-project/dronemesh/forward"
	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/routing"
	"github.com/dronemesh-project/dronemesh/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMesh bundles the transport stack under a hub.
type testMesh struct {
	store  *topology.Store
	disc   *routing.Discoverer
	engine *forward.Engine
	hub    *Hub
}

// insert adds a node with a fixed identifier, failing the test on error.
func insert(t *testing.T, store *topology.Store, id packet.NodeID, kind packet.NodeKind) {
	t.Helper()
	require.NoError(t, store.InsertNode(id, kind, 0))
}

// connect adds edges, failing the test on error.
func connect(t *testing.T, store *topology.Store, edges ...[2]packet.NodeID) {
	t.Helper()
	for _, edge := range edges {
		require.NoError(t, store.AddEdge(edge[0], edge[1]))
	}
}

// newWebMesh builds a chain: web client 1, drones 2 and 3 with zero
// PDR, text server 4.
func newWebMesh(t *testing.T) *testMesh {
	t.Helper()
	store := topology.New()
	insert(t, store, 1, packet.NodeKindWebClient)
	insert(t, store, 2, packet.NodeKindDrone)
	insert(t, store, 3, packet.NodeKindDrone)
	insert(t, store, 4, packet.NodeKindTextServer)
	connect(t, store, [2]packet.NodeID{1, 2}, [2]packet.NodeID{2, 3}, [2]packet.NodeID{3, 4})

	disc := routing.NewDiscoverer(store)
	engine := forward.NewEngine(store)
	return &testMesh{
		store:  store,
		disc:   disc,
		engine: engine,
		hub:    NewHub(store, disc, engine),
	}
}

// newChatMesh builds chat clients 1 and 2, drones 3 and 4 with zero
// PDR, and chat server 5, with disjoint client paths.
func newChatMesh(t *testing.T) *testMesh {
	t.Helper()
	store := topology.New()
	insert(t, store, 1, packet.NodeKindChatClient)
	insert(t, store, 2, packet.NodeKindChatClient)
	insert(t, store, 3, packet.NodeKindDrone)
	insert(t, store, 4, packet.NodeKindDrone)
	insert(t, store, 5, packet.NodeKindChatServer)
	connect(t, store,
		[2]packet.NodeID{1, 3}, [2]packet.NodeID{3, 5},
		[2]packet.NodeID{2, 4}, [2]packet.NodeID{4, 5},
	)

	disc := routing.NewDiscoverer(store)
	engine := forward.NewEngine(store)
	return &testMesh{
		store:  store,
		disc:   disc,
		engine: engine,
		hub:    NewHub(store, disc, engine),
	}
}

func TestHubRegisterServer(t *testing.T) {
	t.Run("kind mismatch", func(t *testing.T) {
		mesh := newWebMesh(t)
		err := mesh.hub.RegisterServer(4, NewChatServer())
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("unknown node", func(t *testing.T) {
		mesh := newWebMesh(t)
		err := mesh.hub.RegisterServer(44, NewTextServer())
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("matching kind", func(t *testing.T) {
		mesh := newWebMesh(t)
		assert.NoError(t, mesh.hub.RegisterServer(4, NewTextServer()))
	})
}

func TestHubNewSession(t *testing.T) {
	t.Run("rejects non-client", func(t *testing.T) {
		mesh := newWebMesh(t)
		sess, err := mesh.hub.NewSession(2, 4)
		assert.Nil(t, sess)
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("starts idle and unregistered", func(t *testing.T) {
		mesh := newWebMesh(t)
		sess, err := mesh.hub.NewSession(1, 4)
		require.NoError(t, err)
		assert.Equal(t, StateIdle, sess.State())
		assert.Equal(t, RegUnregistered, sess.Registration())
		assert.Equal(t, packet.NodeID(1), sess.Client())
		assert.Equal(t, packet.NodeID(4), sess.Peer())
	})
}

func TestSessionHandshake(t *testing.T) {
	mesh := newWebMesh(t)
	require.NoError(t, mesh.hub.RegisterServer(4, NewTextServer()))
	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)

	var events []Event
	sess.Observer = func(ev Event) { events = append(events, ev) }

	serverType, err := sess.RequestServerType()
	require.NoError(t, err)
	assert.Equal(t, ServerTypeText, serverType)
	assert.Equal(t, ServerTypeText, sess.ServerType())
	assert.Equal(t, StateReady, sess.State())

	// The handshake populates the route cache for both directions.
	route, ok := mesh.disc.CachedRoute(1, 4)
	require.True(t, ok)
	assert.Equal(t, []packet.NodeID{1, 2, 3, 4}, route.Hops)
	_, ok = mesh.disc.CachedRoute(4, 1)
	assert.True(t, ok)

	require.Len(t, events, 1)
	assert.Equal(t, EventServerTypeReceived, events[0].Kind)
	assert.Equal(t, ServerTypeText, events[0].ServerType)
	assert.Equal(t, sess.ID(), events[0].SessionID)
}

func TestSessionHandshakeInvalidTarget(t *testing.T) {
	mesh := newWebMesh(t)
	sess, err := mesh.hub.NewSession(1, 2)
	require.NoError(t, err)

	var sent int
	mesh.engine.Observer = func(ev forward.Event) { sent++ }

	_, err = sess.RequestServerType()
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Equal(t, StateIdle, sess.State())
	assert.Equal(t, 0, sent, "validation must precede any packet")
}

func TestSessionHandshakeUnreachable(t *testing.T) {
	mesh := newWebMesh(t)
	require.NoError(t, mesh.hub.RegisterServer(4, NewTextServer()))
	require.NoError(t, mesh.store.Crash(2))

	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)

	var events []Event
	sess.Observer = func(ev Event) { events = append(events, ev) }

	_, err = sess.RequestServerType()
	assert.ErrorIs(t, err, forward.ErrUnreachable)
	assert.ErrorIs(t, err, routing.ErrNoRouteFound)
	assert.True(t, Unreachable(err))
	assert.Equal(t, StateIdle, sess.State())

	require.Len(t, events, 1)
	assert.Equal(t, EventOperationFailed, events[0].Kind)
	assert.NotEmpty(t, events[0].Reason)
}

func TestSessionOperationsRequireReady(t *testing.T) {
	mesh := newWebMesh(t)
	require.NoError(t, mesh.hub.RegisterServer(4, NewTextServer()))
	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)

	_, err = sess.FileList()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = sess.FetchFile("a")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSessionFileOperations(t *testing.T) {
	mesh := newWebMesh(t)
	srv := NewTextServer()
	srv.AddFile("alpha", []byte("alpha body"))
	srv.AddFile("beta", bytes.Repeat([]byte("x"), 1000))
	require.NoError(t, mesh.hub.RegisterServer(4, srv))

	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)
	_, err = sess.RequestServerType()
	require.NoError(t, err)

	t.Run("file list is sorted", func(t *testing.T) {
		files, err := sess.FileList()
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta"}, files)
		assert.Equal(t, StateReady, sess.State())
	})

	t.Run("fetch round-trips across fragmentation", func(t *testing.T) {
		data, err := sess.FetchFile("beta")
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte("x"), 1000), data)
	})

	t.Run("unknown file keeps the session ready", func(t *testing.T) {
		_, err := sess.FetchFile("nonesuch")
		assert.ErrorIs(t, err, ErrFileNotFound)
		assert.Equal(t, StateReady, sess.State())
	})
}

func TestSessionCrashMidSession(t *testing.T) {
	mesh := newWebMesh(t)
	srv := NewTextServer()
	srv.AddFile("alpha", []byte("alpha body"))
	require.NoError(t, mesh.hub.RegisterServer(4, srv))

	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)
	_, err = sess.RequestServerType()
	require.NoError(t, err)

	require.NoError(t, mesh.store.Crash(3))

	var events []Event
	sess.Observer = func(ev Event) { events = append(events, ev) }

	_, err = sess.FileList()
	assert.ErrorIs(t, err, forward.ErrUnreachable)
	assert.Equal(t, StateIdle, sess.State())
	require.Len(t, events, 1)
	assert.Equal(t, EventOperationFailed, events[0].Kind)

	// Other sessions on intact paths are not disturbed.
	require.NoError(t, mesh.store.InsertNode(5, packet.NodeKindDrone, 0))
	connect(t, mesh.store, [2]packet.NodeID{1, 5}, [2]packet.NodeID{5, 4})
	_, err = sess.RequestServerType()
	require.NoError(t, err)
	files, err := sess.FileList()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, files)
}

func TestSessionWrongProtocol(t *testing.T) {
	t.Run("web session refuses chat operations", func(t *testing.T) {
		mesh := newWebMesh(t)
		require.NoError(t, mesh.hub.RegisterServer(4, NewTextServer()))
		sess, err := mesh.hub.NewSession(1, 4)
		require.NoError(t, err)

		assert.ErrorIs(t, sess.Register(), ErrWrongProtocol)
		_, err = sess.Peers()
		assert.ErrorIs(t, err, ErrWrongProtocol)
		assert.ErrorIs(t, sess.SendChat(2, "hi"), ErrWrongProtocol)
	})

	t.Run("chat session refuses file operations", func(t *testing.T) {
		mesh := newChatMesh(t)
		require.NoError(t, mesh.hub.RegisterServer(5, NewChatServer()))
		sess, err := mesh.hub.NewSession(1, 5)
		require.NoError(t, err)

		_, err = sess.FileList()
		assert.ErrorIs(t, err, ErrWrongProtocol)
		_, err = sess.FetchFile("a")
		assert.ErrorIs(t, err, ErrWrongProtocol)
	})
}

func TestSessionChatFlow(t *testing.T) {
	mesh := newChatMesh(t)
	srv := NewChatServer()
	require.NoError(t, mesh.hub.RegisterServer(5, srv))

	alice, err := mesh.hub.NewSession(1, 5)
	require.NoError(t, err)
	bob, err := mesh.hub.NewSession(2, 5)
	require.NoError(t, err)

	var bobEvents []Event
	bob.Observer = func(ev Event) { bobEvents = append(bobEvents, ev) }

	serverType, err := alice.RequestServerType()
	require.NoError(t, err)
	assert.Equal(t, ServerTypeChat, serverType)
	_, err = bob.RequestServerType()
	require.NoError(t, err)

	t.Run("send before register is refused locally", func(t *testing.T) {
		var sent int
		mesh.engine.Observer = func(ev forward.Event) { sent++ }
		defer func() { mesh.engine.Observer = nil }()

		err := alice.SendChat(2, "too early")
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.Equal(t, 0, sent)
	})

	require.NoError(t, alice.Register())
	assert.Equal(t, RegRegistered, alice.Registration())
	assert.True(t, srv.Registered(1))

	t.Run("send to unregistered peer", func(t *testing.T) {
		err := alice.SendChat(2, "anyone there?")
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.Equal(t, StateReady, alice.State())
	})

	require.NoError(t, bob.Register())

	t.Run("peer list is sorted", func(t *testing.T) {
		peers, err := alice.Peers()
		require.NoError(t, err)
		assert.Equal(t, []packet.NodeID{1, 2}, peers)
	})

	t.Run("message is relayed to the recipient session", func(t *testing.T) {
		bobEvents = nil
		require.NoError(t, alice.SendChat(2, "hello bob"))

		require.Len(t, bobEvents, 1)
		assert.Equal(t, EventChatMessageReceived, bobEvents[0].Kind)
		assert.Equal(t, packet.NodeID(1), bobEvents[0].From)
		assert.Equal(t, "hello bob", bobEvents[0].Text)
	})

	t.Run("long message survives fragmentation", func(t *testing.T) {
		text := string(bytes.Repeat([]byte("lorem "), 100))
		bobEvents = nil
		require.NoError(t, alice.SendChat(2, text))

		require.Len(t, bobEvents, 1)
		assert.Equal(t, text, bobEvents[0].Text)
	})
}

func TestSessionClose(t *testing.T) {
	mesh := newWebMesh(t)
	require.NoError(t, mesh.hub.RegisterServer(4, NewTextServer()))
	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)
	_, err = sess.RequestServerType()
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	assert.Equal(t, StateClosed, sess.State())
	require.NoError(t, sess.Close(), "closing is idempotent")

	_, err = sess.RequestServerType()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = sess.FileList()
	assert.ErrorIs(t, err, ErrClosed)

	// Closing frees the endpoint pair for a fresh session.
	again, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)
	_, err = again.RequestServerType()
	assert.NoError(t, err)
}

func TestSessionMissingServerBehavior(t *testing.T) {
	mesh := newWebMesh(t)
	sess, err := mesh.hub.NewSession(1, 4)
	require.NoError(t, err)

	_, err = sess.RequestServerType()
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Equal(t, StateIdle, sess.State())
}

func TestUnreachablePredicate(t *testing.T) {
	assert.False(t, Unreachable(nil))
	assert.False(t, Unreachable(errors.New("other")))
	assert.True(t, Unreachable(forward.ErrUnreachable))
}

// The assembler key space is shared across sessions, so interleaved
// exchanges on distinct sessions must not corrupt each other.
func TestHubInterleavedSessions(t *testing.T) {
	mesh := newChatMesh(t)
	require.NoError(t, mesh.hub.RegisterServer(5, NewChatServer()))

	alice, err := mesh.hub.NewSession(1, 5)
	require.NoError(t, err)
	bob, err := mesh.hub.NewSession(2, 5)
	require.NoError(t, err)

	_, err = alice.RequestServerType()
	require.NoError(t, err)
	_, err = bob.RequestServerType()
	require.NoError(t, err)
	require.NoError(t, alice.Register())
	require.NoError(t, bob.Register())

	peers, err := bob.Peers()
	require.NoError(t, err)
	assert.Equal(t, []packet.NodeID{1, 2}, peers)
	assert.NotEqual(t, alice.ID(), bob.ID())
}
