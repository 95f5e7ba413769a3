// SPDX-License-Identifier: GPL-3.0-or-later

package controller

import "errors"

var (
	// ErrInvalidLink means the requested edge violates the structural
	// rules: clients and servers connect to drones only.
	ErrInvalidLink = errors.New("controller: invalid link")

	// ErrLinkLimit means the command would push an endpoint outside
	// its allowed link range: clients hold between one and two drone
	// links, servers hold at least two.
	ErrLinkLimit = errors.New("controller: link limit")

	// ErrWouldDisconnect means the command would partition the mesh
	// or leave a client unable to reach some server.
	ErrWouldDisconnect = errors.New("controller: would disconnect")
)
