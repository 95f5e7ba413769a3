// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "errors"

var (
	// ErrInvalidTarget means the request references a node that is
	// not a server of the expected kind. The session layer detects
	// this before any packet is sent.
	ErrInvalidTarget = errors.New("session: invalid target")

	// ErrNotRegistered means a chat operation requires registration
	// with the chat server first.
	ErrNotRegistered = errors.New("session: not registered")

	// ErrFileNotFound means the text server does not know the
	// requested file identifier.
	ErrFileNotFound = errors.New("session: file not found")

	// ErrNotReady means the session has not completed the
	// server-type handshake.
	ErrNotReady = errors.New("session: not ready")

	// ErrClosed means the session has been closed.
	ErrClosed = errors.New("session: closed")

	// ErrWrongProtocol means the operation does not belong to the
	// session's protocol kind.
	ErrWrongProtocol = errors.New("session: wrong protocol")

	// ErrUnexpectedResponse means the peer replied with a payload
	// the protocol does not allow at this point.
	ErrUnexpectedResponse = errors.New("session: unexpected response")
)
