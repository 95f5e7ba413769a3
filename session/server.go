// SPDX-License-Identifier: GPL-3.0-or-later

//
// Server endpoint behaviors: text server and chat server.
//

package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dronemesh-project/dronemesh/packet"
)

// Delivery is a server-originated message for a client other than the
// one whose request is being handled, e.g. a forwarded chat message.
type Delivery struct {
	// To is the recipient client.
	To packet.NodeID

	// Payload is the message payload.
	Payload []byte
}

// Server is the application behavior of a server endpoint. The [*Hub]
// invokes it once a client request has been fully reassembled.
type Server interface {
	// Kind returns the node kind this server implements.
	Kind() packet.NodeKind

	// Handle processes one assembled request and returns the reply
	// for the requesting client plus any deliveries to others.
	Handle(from packet.NodeID, request []byte) (reply []byte, deliveries []Delivery)
}

// TextServer is a [Server] holding retrievable files.
//
// The zero value is not ready to use; construct using [NewTextServer].
type TextServer struct {
	// mu protects files.
	mu sync.RWMutex

	// files maps file identifiers to contents.
	files map[string][]byte
}

// NewTextServer creates a [*TextServer] with no files.
func NewTextServer() *TextServer {
	return &TextServer{files: map[string][]byte{}}
}

// AddFile adds or replaces a file.
func (ts *TextServer) AddFile(id string, data []byte) {
	ts.mu.Lock()
	ts.files[id] = append([]byte{}, data...)
	ts.mu.Unlock()
}

// Kind implements [Server].
func (ts *TextServer) Kind() packet.NodeKind {
	return packet.NodeKindTextServer
}

// Handle implements [Server].
func (ts *TextServer) Handle(from packet.NodeID, request []byte) ([]byte, []Delivery) {
	verb, body := splitVerb(request)
	switch verb {
	case verbServerType:
		return []byte(verbServerTypeOK + ServerTypeText), nil

	case verbFileList:
		ts.mu.RLock()
		ids := make([]string, 0, len(ts.files))
		for id := range ts.files {
			ids = append(ids, id)
		}
		ts.mu.RUnlock()
		sort.Strings(ids)
		return encodeFileList(ids), nil

	case verbFile:
		fileID := string(body)
		ts.mu.RLock()
		data, ok := ts.files[fileID]
		ts.mu.RUnlock()
		if !ok {
			return []byte(verbNoFile + fileID), nil
		}
		return encodeFileResponse(fileID, data), nil

	default:
		return []byte(verbUnsupported), nil
	}
}

// ChatServer is a [Server] relaying messages between registered
// chat clients.
//
// The zero value is not ready to use; construct using [NewChatServer].
type ChatServer struct {
	// mu protects registered.
	mu sync.RWMutex

	// registered is the set of registered chat clients.
	registered map[packet.NodeID]bool
}

// NewChatServer creates a [*ChatServer] with no registered clients.
func NewChatServer() *ChatServer {
	return &ChatServer{registered: map[packet.NodeID]bool{}}
}

// Kind implements [Server].
func (cs *ChatServer) Kind() packet.NodeKind {
	return packet.NodeKindChatServer
}

// Registered returns whether the given client is registered.
func (cs *ChatServer) Registered(id packet.NodeID) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.registered[id]
}

// Handle implements [Server].
func (cs *ChatServer) Handle(from packet.NodeID, request []byte) ([]byte, []Delivery) {
	verb, body := splitVerb(request)
	switch verb {
	case verbServerType:
		return []byte(verbServerTypeOK + ServerTypeChat), nil

	case verbRegister:
		cs.mu.Lock()
		cs.registered[from] = true
		cs.mu.Unlock()
		return []byte(verbRegisterOK), nil

	case verbClientList:
		cs.mu.RLock()
		ids := make([]packet.NodeID, 0, len(cs.registered))
		for id := range cs.registered {
			ids = append(ids, id)
		}
		cs.mu.RUnlock()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return encodeClientList(ids), nil

	case verbMessageFor:
		to, text, err := decodeChatAddress(string(body))
		if err != nil {
			return []byte(verbUnsupported), nil
		}
		cs.mu.RLock()
		senderOK, recipientOK := cs.registered[from], cs.registered[to]
		cs.mu.RUnlock()
		if !senderOK {
			return []byte(fmt.Sprintf("%s%d", verbWrongClientID, from)), nil
		}
		if !recipientOK {
			return []byte(fmt.Sprintf("%s%d", verbWrongClientID, to)), nil
		}
		return []byte(verbMessageSent), []Delivery{
			{To: to, Payload: encodeChatDelivery(from, text)},
		}

	default:
		return []byte(verbUnsupported), nil
	}
}
