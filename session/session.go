// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dronemesh-project/dronemesh/forward"
	"github.com/dronemesh-project/dronemesh/packet"
)

// State is the transport state of a [*Session].
type State uint8

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"

	case StateDiscoveringRoute:
		return "discovering-route"

	case StateAwaitingServerType:
		return "awaiting-server-type"

	case StateReady:
		return "ready"

	case StateAwaitingOperation:
		return "awaiting-operation"

	case StateClosed:
		return "closed"

	default:
		return "unknown"
	}
}

const (
	// StateIdle means no handshake has completed yet.
	StateIdle = State(iota + 1)

	// StateDiscoveringRoute means a discovery round is running.
	StateDiscoveringRoute

	// StateAwaitingServerType means the handshake is in flight.
	StateAwaitingServerType

	// StateReady means the session can issue operations.
	StateReady

	// StateAwaitingOperation means an operation is in flight.
	StateAwaitingOperation

	// StateClosed is the terminal state.
	StateClosed
)

// RegState is the chat registration sub-state of a [*Session].
type RegState uint8

// String returns the string representation of the registration state.
func (s RegState) String() string {
	switch s {
	case RegUnregistered:
		return "unregistered"

	case RegRegistering:
		return "registering"

	case RegRegistered:
		return "registered"

	default:
		return "unknown"
	}
}

const (
	// RegUnregistered means the client has not registered.
	RegUnregistered = RegState(iota + 1)

	// RegRegistering means a registration is in flight.
	RegRegistering

	// RegRegistered means the client is registered.
	RegRegistered
)

// ProtocolKind selects the application protocol a session speaks.
type ProtocolKind uint8

const (
	// ProtocolWeb is the text-server protocol.
	ProtocolWeb = ProtocolKind(iota + 1)

	// ProtocolChat is the chat-server protocol.
	ProtocolChat
)

// Session is a client-side conversation with one server.
//
// Construct using [*Hub.NewSession], then optionally set Observer
// before issuing operations. Operations are synchronous: they return
// once the exchange completed or failed, without blocking other
// sessions.
type Session struct {
	// Observer is the optional observer for protocol events.
	Observer Observer

	// client is the client endpoint.
	client packet.NodeID

	// hub is the owning hub.
	hub *Hub

	// id is the session identifier.
	id uint64

	// mu protects state, reg, and serverType.
	mu sync.Mutex

	// peer is the server endpoint.
	peer packet.NodeID

	// proto is the protocol kind, fixed at session creation.
	proto ProtocolKind

	// reg is the chat registration sub-state.
	reg RegState

	// serverType is the type announced by the peer at handshake.
	serverType string

	// state is the transport state.
	state State
}

// ID returns the session identifier.
func (s *Session) ID() uint64 { return s.id }

// Client returns the client endpoint.
func (s *Session) Client() packet.NodeID { return s.client }

// Peer returns the server endpoint.
func (s *Session) Peer() packet.NodeID { return s.peer }

// State returns the current transport state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registration returns the chat registration sub-state.
func (s *Session) Registration() RegState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

// setState transitions the transport state.
func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// emit invokes the observer, if any, filling the session fields.
func (s *Session) emit(ev Event) {
	if s.Observer != nil {
		ev.SessionID = s.id
		ev.Client = s.client
		ev.Peer = s.peer
		s.Observer(ev)
	}
}

// fail moves the session back to idle and surfaces the error.
func (s *Session) fail(err error) error {
	s.setState(StateIdle)
	s.emit(Event{Kind: EventOperationFailed, Reason: err.Error()})
	return err
}

// Close closes the session, abandoning its in-flight messages and
// any outstanding discovery result. Closing is idempotent and does
// not disturb other sessions.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.hub.closeSession(s)
	return nil
}

// RequestServerType performs the handshake: it discovers a route to
// the peer if none is cached, asks the peer for its server type, and
// moves the session to [StateReady].
//
// Fails with [ErrInvalidTarget], before any packet is sent, when the
// peer is not a server node; with [forward.ErrUnreachable] when the
// exchange exhausted its retries; and with [ErrClosed] on a closed
// session. On failure the session returns to [StateIdle].
func (s *Session) RequestServerType() (string, error) {
	if s.State() == StateClosed {
		return "", ErrClosed
	}
	if kind, ok := s.hub.store.Kind(s.peer); !ok || !kind.IsServer() {
		return "", fmt.Errorf("%w: node %d is not a server", ErrInvalidTarget, s.peer)
	}

	if _, cached := s.hub.disc.CachedRoute(s.client, s.peer); !cached {
		s.setState(StateDiscoveringRoute)
	}
	s.setState(StateAwaitingServerType)

	reply, err := s.hub.request(s, []byte(verbServerType))
	if err != nil {
		return "", s.fail(err)
	}
	verb, body := splitVerb(reply)
	if verb != verbServerTypeOK {
		return "", s.fail(fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply))
	}

	s.mu.Lock()
	s.serverType = string(body)
	s.state = StateReady
	s.mu.Unlock()
	s.emit(Event{Kind: EventServerTypeReceived, ServerType: string(body)})
	return string(body), nil
}

// ServerType returns the type announced by the peer at handshake.
func (s *Session) ServerType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverType
}

// operate runs one operation exchange from [StateReady].
//
// The expected peer kind is validated before any packet is sent.
// Transport failure moves the session back to [StateIdle]; a reply,
// including a protocol-level error reply, returns it to [StateReady].
func (s *Session) operate(expect packet.NodeKind, payload []byte) ([]byte, error) {
	switch s.State() {
	case StateClosed:
		return nil, ErrClosed
	case StateReady:
	default:
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, s.State())
	}
	if kind, ok := s.hub.store.Kind(s.peer); !ok || kind != expect {
		return nil, fmt.Errorf("%w: node %d is not a %s", ErrInvalidTarget, s.peer, expect)
	}

	s.setState(StateAwaitingOperation)
	reply, err := s.hub.request(s, payload)
	if err != nil {
		return nil, s.fail(err)
	}
	s.setState(StateReady)
	return reply, nil
}

// FileList asks the text server for its file identifiers.
func (s *Session) FileList() ([]string, error) {
	if s.proto != ProtocolWeb {
		return nil, fmt.Errorf("%w: file operations need a web client", ErrWrongProtocol)
	}
	reply, err := s.operate(packet.NodeKindTextServer, []byte(verbFileList))
	if err != nil {
		return nil, err
	}
	verb, body := splitVerb(reply)
	if verb != verbFileListOK {
		return nil, s.fail(fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply))
	}
	files := decodeFileList(string(body))
	s.emit(Event{Kind: EventFileListReceived, Files: files})
	return files, nil
}

// FetchFile retrieves a file from the text server by identifier.
//
// Fails with [ErrFileNotFound] when the identifier is unknown to the
// server; the session stays ready since the exchange itself worked.
func (s *Session) FetchFile(fileID string) ([]byte, error) {
	if s.proto != ProtocolWeb {
		return nil, fmt.Errorf("%w: file operations need a web client", ErrWrongProtocol)
	}
	reply, err := s.operate(packet.NodeKindTextServer, encodeFileRequest(fileID))
	if err != nil {
		return nil, err
	}
	verb, body := splitVerb(reply)
	switch verb {
	case verbNoFile:
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, string(body))

	case verbFileOK:
		gotID, data, err := decodeFileResponse(body)
		if err != nil {
			return nil, s.fail(err)
		}
		s.emit(Event{Kind: EventFileReceived, FileID: gotID, Data: data})
		return data, nil

	default:
		return nil, s.fail(fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply))
	}
}

// Register registers the chat client with the chat server, gating
// [*Session.SendChat].
func (s *Session) Register() error {
	if s.proto != ProtocolChat {
		return fmt.Errorf("%w: chat operations need a chat client", ErrWrongProtocol)
	}
	s.mu.Lock()
	s.reg = RegRegistering
	s.mu.Unlock()

	reply, err := s.operate(packet.NodeKindChatServer, []byte(verbRegister))
	if err != nil {
		s.mu.Lock()
		s.reg = RegUnregistered
		s.mu.Unlock()
		return err
	}
	if verb, _ := splitVerb(reply); verb != verbRegisterOK {
		s.mu.Lock()
		s.reg = RegUnregistered
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply))
	}

	s.mu.Lock()
	s.reg = RegRegistered
	s.mu.Unlock()
	s.emit(Event{Kind: EventChatRegistered})
	return nil
}

// Peers asks the chat server for its registered clients.
func (s *Session) Peers() ([]packet.NodeID, error) {
	if s.proto != ProtocolChat {
		return nil, fmt.Errorf("%w: chat operations need a chat client", ErrWrongProtocol)
	}
	reply, err := s.operate(packet.NodeKindChatServer, []byte(verbClientList))
	if err != nil {
		return nil, err
	}
	verb, body := splitVerb(reply)
	if verb != verbClientListOK {
		return nil, s.fail(fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply))
	}
	return decodeClientList(string(body))
}

// SendChat sends a chat message to another registered client through
// the chat server.
//
// Fails with [ErrNotRegistered], before any packet is sent, when this
// session has not registered; and with [ErrNotRegistered] wrapping
// the recipient when the server does not know it.
func (s *Session) SendChat(to packet.NodeID, text string) error {
	if s.proto != ProtocolChat {
		return fmt.Errorf("%w: chat operations need a chat client", ErrWrongProtocol)
	}
	if s.Registration() != RegRegistered {
		return fmt.Errorf("%w: client %d", ErrNotRegistered, s.client)
	}
	reply, err := s.operate(packet.NodeKindChatServer, encodeChatMessage(to, text))
	if err != nil {
		return err
	}
	verb, body := splitVerb(reply)
	switch verb {
	case verbMessageSent:
		return nil

	case verbWrongClientID:
		return fmt.Errorf("%w: client %s", ErrNotRegistered, string(body))

	default:
		return s.fail(fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply))
	}
}

// receivePush handles a server-originated push delivered to this
// session's client, currently chat message forwarding only.
func (s *Session) receivePush(payload []byte) {
	verb, body := splitVerb(payload)
	if verb != verbMessageFrom {
		return
	}
	from, text, err := decodeChatAddress(string(body))
	if err != nil {
		return
	}
	s.emit(Event{Kind: EventChatMessageReceived, From: from, Text: text})
}

// Unreachable reports whether the error is a transport-level
// unreachability, as opposed to a protocol-level failure.
func Unreachable(err error) bool {
	return errors.Is(err, forward.ErrUnreachable)
}
