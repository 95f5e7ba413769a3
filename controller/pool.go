// SPDX-License-Identifier: GPL-3.0-or-later

package controller

import (
	"errors"
	"io"
	"slices"
	"sync"
)

// Pool collects the [io.Closer] handles opened during a simulation
// run, typically sessions, and closes them in a single operation.
//
// The zero value is ready to use.
type Pool struct {
	// handles contains the [io.Closer] to close.
	handles []io.Closer

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add adds a given [io.Closer] to the pool.
func (p *Pool) Add(handle io.Closer) {
	p.mu.Lock()
	p.handles = append(p.handles, handle)
	p.mu.Unlock()
}

// Close closes all the [io.Closer] inside the pool iterating in
// backward order, so handles layered on top of earlier ones are
// closed first. The returned error is the join of all the errors
// that occurred when closing handles.
func (p *Pool) Close() error {
	// Lock and copy the [io.Closer] to close.
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	// Close all the [io.Closer].
	var errv []error
	for _, handle := range slices.Backward(handles) {
		if err := handle.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}
