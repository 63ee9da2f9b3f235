// Package storage implements the persistent storage layer of the
// electrs indexing server: a typed, policy-aware wrapper around an
// ordered byte-key/byte-value engine (cockroachdb/pebble) shared by
// the bulk-indexing and serving phases.
//
// A writable handle owns its data directory exclusively, enforced by
// the engine's file lock. Read-only handles never create the directory
// and silently discard every mutation, so import-phase and
// serving-phase code can share call sites without branching on mode.
//
// Open failures and schema incompatibility surface as errors from Open
// and Reopen for the process entry point to abort on. The layer
// defines no graceful degradation for engine failures after a
// successful open; those panic with an operation-tagged message.
package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrIncompatible reports that the on-disk database was written by an
// incompatible binary. There is no migration path; the operator must
// delete the database directory and reindex.
var ErrIncompatible = errors.New("storage: incompatible database found, please reindex")

// Row is a single key/value pair stored in the index. Keys are ordered
// lexicographically by the engine, which guarantees ascending
// iteration order.
type Row struct {
	Key   []byte
	Value []byte
}

// FlushPolicy selects the durability of a batched write. It is a
// per-call choice, not a handle-wide setting.
type FlushPolicy int

const (
	// FlushFast commits a batch without waiting for the log to reach
	// stable storage; the commit returns once the batch is applied in
	// memory. A crash may lose the batch. The bulk-load phase accepts
	// that and restarts the import from scratch, so throughput wins.
	FlushFast FlushPolicy = iota

	// FlushDurable blocks the commit until the batch is logged and
	// fsynced. The serving phase uses it for incremental updates,
	// where each small batch must survive a crash.
	FlushDurable
)

// String returns the policy name used in log output.
func (f FlushPolicy) String() string {
	if f == FlushDurable {
		return "durable"
	}
	return "fast"
}

// writeOptions maps the policy onto the engine's commit options.
func (f FlushPolicy) writeOptions() *pebble.WriteOptions {
	if f == FlushDurable {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Store is the interface shared by the writable and read-only storage
// handles. A Store may be used concurrently from multiple goroutines;
// cursors returned by the Iter methods may not.
type Store interface {
	// Get returns the value stored under key. An absent key yields
	// (nil, false), never an error.
	Get(key []byte) ([]byte, bool)
	// Has reports whether key exists.
	Has(key []byte) bool

	// Put stores key/value with asynchronous durability. PutSync
	// forces a durable commit before returning and is reserved for
	// critical markers. Both are no-ops on a read-only handle, as are
	// all other mutating operations below.
	Put(key, value []byte)
	PutSync(key, value []byte)

	// Write sorts rows ascending by key and commits them as one
	// atomic batch under the chosen flush policy.
	Write(rows []Row, flush FlushPolicy)
	// Flush persists buffered in-memory writes to the engine's
	// backing files.
	Flush()

	// FullCompaction synchronously collapses the entire key range
	// across all levels. EnableAutoCompaction re-enables background
	// compaction; both are intended for the end of a bulk-load phase
	// that ran with background compaction disabled.
	FullCompaction()
	EnableAutoCompaction()

	// IterScan returns a forward cursor over keys starting with
	// prefix. IterScanFrom starts the scan at startAt instead of the
	// prefix itself. IterScanReverse walks backward from the greatest
	// key <= prefixMax.
	IterScan(prefix []byte) *ScanCursor
	IterScanFrom(prefix, startAt []byte) *ScanCursor
	IterScanReverse(prefix, prefixMax []byte) *ReverseScanCursor

	// Reopen closes and reopens the same path with the same tuning,
	// discarding cached state and re-verifying compatibility.
	Reopen() error
	// Close releases the engine and its file lock.
	Close() error
	// Path returns the data directory this handle owns.
	Path() string
}
