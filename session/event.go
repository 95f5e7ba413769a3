// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"

	"github.com/dronemesh-project/dronemesh/packet"
)

// EventKind is the kind of a protocol [Event].
type EventKind uint8

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventServerTypeReceived:
		return "server-type-received"

	case EventFileListReceived:
		return "file-list-received"

	case EventFileReceived:
		return "file-received"

	case EventChatRegistered:
		return "chat-registered"

	case EventChatMessageReceived:
		return "chat-message-received"

	case EventOperationFailed:
		return "operation-failed"

	default:
		return "unknown"
	}
}

const (
	// EventServerTypeReceived means the handshake completed.
	EventServerTypeReceived = EventKind(iota + 1)

	// EventFileListReceived means a file list arrived.
	EventFileListReceived

	// EventFileReceived means a file arrived.
	EventFileReceived

	// EventChatRegistered means the chat registration completed.
	EventChatRegistered

	// EventChatMessageReceived means a chat message arrived.
	EventChatMessageReceived

	// EventOperationFailed means an operation failed with a
	// human-readable reason.
	EventOperationFailed
)

// Event is a protocol event exposed to the UI layer.
type Event struct {
	// Kind is the event kind.
	Kind EventKind

	// SessionID is the session that produced the event.
	SessionID uint64

	// Client is the session's client endpoint.
	Client packet.NodeID

	// Peer is the session's server endpoint.
	Peer packet.NodeID

	// ServerType is set for [EventServerTypeReceived].
	ServerType string

	// Files is set for [EventFileListReceived].
	Files []string

	// FileID and Data are set for [EventFileReceived].
	FileID string
	Data   []byte

	// From and Text are set for [EventChatMessageReceived].
	From packet.NodeID
	Text string

	// Reason is set for [EventOperationFailed].
	Reason string
}

// String returns the string representation of the event.
func (ev Event) String() string {
	switch ev.Kind {
	case EventOperationFailed:
		return fmt.Sprintf("%s session=%d reason=%q", ev.Kind, ev.SessionID, ev.Reason)

	case EventChatMessageReceived:
		return fmt.Sprintf("%s session=%d from=%d", ev.Kind, ev.SessionID, ev.From)

	default:
		return fmt.Sprintf("%s session=%d peer=%d", ev.Kind, ev.SessionID, ev.Peer)
	}
}

// Observer observes protocol events.
type Observer func(ev Event)
