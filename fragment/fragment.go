// SPDX-License-Identifier: GPL-3.0-or-later

// Package fragment splits application messages into bounded-size
// fragments and reassembles received fragments into messages.
//
// Splitting is deterministic: the same message and size always yield
// the same fragments, which makes retransmission idempotent. The
// [*Assembler] is index addressed, so fragments may arrive in any
// order and duplicates are accepted without effect.
package fragment

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dronemesh-project/dronemesh/packet"
)

var (
	// ErrIndexOutOfRange means a fragment index is >= its total.
	ErrIndexOutOfRange = errors.New("fragment: index out of range")

	// ErrTotalMismatch means a fragment disagrees with the total
	// announced by previous fragments of the same message.
	ErrTotalMismatch = errors.New("fragment: total mismatch")
)

// Split splits a message into ordered fragments of at most maxSize
// bytes each. When maxSize is <= 0 we use [packet.MaxFragmentData].
//
// An empty message still yields a single empty fragment so that every
// exchange carries at least one acknowledgeable unit.
func Split(message []byte, maxSize int) []packet.Fragment {
	if maxSize <= 0 {
		maxSize = packet.MaxFragmentData
	}
	total := uint64(1)
	if len(message) > 0 {
		total = uint64((len(message) + maxSize - 1) / maxSize)
	}
	frags := make([]packet.Fragment, 0, total)
	for idx := uint64(0); idx < total; idx++ {
		start := int(idx) * maxSize
		end := min(start+maxSize, len(message))
		frags = append(frags, packet.Fragment{
			Index: idx,
			Total: total,
			Data:  append([]byte{}, message[start:end]...),
		})
	}
	return frags
}

// Key identifies an in-flight message inside an [*Assembler].
type Key struct {
	// SessionID is the session the message belongs to.
	SessionID uint64

	// MessageID distinguishes messages within a session.
	MessageID uint64
}

// String returns the string representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("session=%d message=%d", k.SessionID, k.MessageID)
}

// inflight tracks the partial state of one in-flight message.
type inflight struct {
	// total is the announced number of fragments.
	total uint64

	// received counts the distinct fragment indices received.
	received uint64

	// parts holds the payloads, addressed by fragment index.
	parts [][]byte
}

// Assembler reassembles inbound fragments into complete messages.
//
// The zero value is ready to use. An [*Assembler] is safe for
// concurrent use by multiple goroutines.
type Assembler struct {
	// mu protects inflight.
	mu sync.Mutex

	// inflight maps keys to partial message state.
	inflight map[Key]*inflight
}

// Accept consumes a fragment.
//
// When the fragment completes its message, Accept returns the
// reassembled message and true, and the in-flight state is destroyed.
// Otherwise it returns (nil, false). Duplicate fragments are accepted
// idempotently: they neither error nor overwrite a filled slot.
func (a *Assembler) Accept(key Key, frag packet.Fragment) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if frag.Total <= 0 || frag.Index >= frag.Total {
		return nil, false, fmt.Errorf("%w: %d/%d", ErrIndexOutOfRange, frag.Index, frag.Total)
	}

	if a.inflight == nil {
		a.inflight = map[Key]*inflight{}
	}
	state := a.inflight[key]
	if state == nil {
		state = &inflight{
			total: frag.Total,
			parts: make([][]byte, frag.Total),
		}
		a.inflight[key] = state
	}
	if state.total != frag.Total {
		return nil, false, fmt.Errorf("%w: got %d, want %d", ErrTotalMismatch, frag.Total, state.total)
	}

	// Duplicate retransmission: the slot is already filled.
	if state.parts[frag.Index] != nil {
		return nil, false, nil
	}
	state.parts[frag.Index] = append([]byte{}, frag.Data...)
	state.received++
	if state.received < state.total {
		return nil, false, nil
	}

	var message []byte
	for _, part := range state.parts {
		message = append(message, part...)
	}
	if message == nil {
		message = []byte{}
	}
	delete(a.inflight, key)
	return message, true, nil
}

// Abandon destroys all in-flight state for the given session. Closing
// a session uses it to drop partial messages without affecting other
// sessions.
func (a *Assembler) Abandon(sessionID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.inflight {
		if key.SessionID == sessionID {
			delete(a.inflight, key)
		}
	}
}

// Pending returns the number of in-flight messages.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}
