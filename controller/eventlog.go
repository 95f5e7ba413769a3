// SPDX-License-Identifier: GPL-3.0-or-later

package controller

import (
	"fmt"
	"sync"
)

// DefaultEventLogCapacity is the number of records an [*EventLog]
// retains before discarding the oldest ones.
const DefaultEventLogCapacity = 100

// Source identifies the layer that produced a [Record].
type Source uint8

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceTopology:
		return "topology"

	case SourceForwarding:
		return "forwarding"

	case SourceSession:
		return "session"

	default:
		return "unknown"
	}
}

const (
	// SourceTopology marks records produced by graph mutations.
	SourceTopology = Source(iota + 1)

	// SourceForwarding marks records produced by packet transit.
	SourceForwarding

	// SourceSession marks records produced by the protocol layer.
	SourceSession
)

// Record is a single entry in the [*EventLog].
type Record struct {
	// Seq is the record sequence number, strictly increasing across
	// the whole log including discarded records.
	Seq uint64

	// Source is the layer that produced the record.
	Source Source

	// Text is the rendered event.
	Text string
}

// String returns the string representation of the record.
func (r Record) String() string {
	return fmt.Sprintf("%d %s: %s", r.Seq, r.Source, r.Text)
}

// EventLog is a bounded, ordered log of simulation events.
//
// When full, appending discards the oldest record, so the log always
// holds the most recent window of activity for the UI layer. The zero
// value is not ready to use; construct using [NewEventLog]. An
// [*EventLog] is safe for concurrent use by multiple goroutines.
type EventLog struct {
	// capacity is the maximum number of retained records.
	capacity int

	// mu protects records and seq.
	mu sync.Mutex

	// records holds the retained records in append order.
	records []Record

	// seq is the last assigned sequence number.
	seq uint64
}

// NewEventLog creates an [*EventLog] with the given capacity. A
// capacity <= 0 means [DefaultEventLogCapacity].
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{capacity: capacity}
}

// Append adds a record to the log, discarding the oldest one when
// the log is at capacity.
func (l *EventLog) Append(source Source, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.records = append(l.records, Record{Seq: l.seq, Source: source, Text: text})
	if len(l.records) > l.capacity {
		l.records = l.records[1:]
	}
}

// Records returns a copy of the retained records in append order.
func (l *EventLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record{}, l.records...)
}

// Len returns the number of retained records.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
