// SPDX-License-Identifier: GPL-3.0-or-later

package topology

import "errors"

var (
	// ErrNotFound means the node or edge does not exist.
	ErrNotFound = errors.New("topology: not found")

	// ErrAlreadyExists means the node or edge already exists.
	ErrAlreadyExists = errors.New("topology: already exists")

	// ErrInvalidValue means a PDR value is outside [0, 1].
	ErrInvalidValue = errors.New("topology: invalid value")

	// ErrNotADrone means the target of a drone command is not a drone.
	ErrNotADrone = errors.New("topology: not a drone")

	// ErrSelfLoop means both edge endpoints are the same node.
	ErrSelfLoop = errors.New("topology: self loop")

	// ErrCrashed means an edge endpoint is a crashed drone.
	ErrCrashed = errors.New("topology: node crashed")
)
