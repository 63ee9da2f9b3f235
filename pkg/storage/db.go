package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/cequals/electrs/pkg/config"
	"github.com/cequals/electrs/pkg/log"
)

// dbVersion is the schema version recorded in the compatibility
// marker. Bumping it invalidates every existing data directory.
const dbVersion uint32 = 1

// compatKey is the reserved sentinel key holding the compatibility
// marker.
var compatKey = []byte("V")

// lightModeMarker is the byte appended to the marker when light mode
// was active at first write.
const lightModeMarker byte = 1

// compactionUpperBound bounds a whole-range compaction; the engine has
// no open-ended range form, so a key beyond any the index writes is
// used instead.
var compactionUpperBound = bytes.Repeat([]byte{0xff}, 32)

// DB is the writable storage handle. It wraps exactly one open engine
// instance over one directory and is safe for concurrent use: the
// engine linearizes concurrent commits, and the handle's own lock only
// guards the engine pointer swap performed by Reopen.
type DB struct {
	mu   sync.RWMutex
	pdb  *pebble.DB
	path string
	opts *pebble.Options
	cfg  config.Config
	log  *log.Logger
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*ReadOnlyDB)(nil)
)

// Open opens the data directory at path, creating it only when cfg
// permits writes, and verifies the on-disk compatibility marker
// against cfg. In read-only mode a missing directory is an error, not
// a creation. Any failure is fatal to the caller: nothing can proceed
// without storage, so no retry is attempted.
func Open(path string, cfg config.Config) (Store, error) {
	lg := log.Default().Module("storage")
	lg.Debug("opening database", "path", path, "read_only", cfg.ReadOnly)

	opts := buildEngineOptions(cfg, lg)
	pdb, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	d := &DB{pdb: pdb, path: path, opts: opts, cfg: cfg, log: lg}
	if err := d.verifyCompatibility(); err != nil {
		d.pdb.Close()
		return nil, err
	}
	if cfg.ReadOnly {
		return &ReadOnlyDB{DB: d}, nil
	}
	return d, nil
}

// Reopen closes and reopens the same path with the same tuning,
// discarding any state cached by the previous engine instance. It is
// used when switching from the bulk-load phase to the serving phase,
// to guarantee the serving view reflects everything just imported.
// The compatibility marker is re-verified after reopening. All
// cursors must be released before calling Reopen.
func (d *DB) Reopen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reopenLocked()
}

func (d *DB) reopenLocked() error {
	d.log.Debug("reopening database", "path", d.path)
	if err := d.pdb.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", d.path, err)
	}
	pdb, err := pebble.Open(d.path, d.opts)
	if err != nil {
		return fmt.Errorf("storage: reopen %s: %w", d.path, err)
	}
	d.pdb = pdb
	return d.verifyCompatibility()
}

// Close releases the engine and its file lock. The handle must not be
// used afterwards.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pdb.Close()
}

// Path returns the data directory this handle owns.
func (d *DB) Path() string { return d.path }

// Get returns the value stored under key. An absent key yields
// (nil, false), never an error.
func (d *DB) Get(key []byte) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.get(key)
}

func (d *DB) get(key []byte) ([]byte, bool) {
	val, closer, err := d.pdb.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false
	}
	if err != nil {
		fatal("get", err)
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	if err := closer.Close(); err != nil {
		fatal("get", err)
	}
	return cp, true
}

// Has reports whether key exists.
func (d *DB) Has(key []byte) bool {
	_, ok := d.Get(key)
	return ok
}

// Put stores key/value with asynchronous durability.
func (d *DB) Put(key, value []byte) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.put(key, value, pebble.NoSync)
}

// PutSync stores key/value and forces a durable commit before
// returning. Reserved for critical markers (the compatibility marker,
// checkpoint markers) whose loss would invalidate recovery.
func (d *DB) PutSync(key, value []byte) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.put(key, value, pebble.Sync)
}

func (d *DB) put(key, value []byte, wo *pebble.WriteOptions) {
	if err := d.pdb.Set(key, value, wo); err != nil {
		fatal("put", err)
	}
}

// Write sorts rows ascending by key and commits them as one atomic
// batch: all rows become visible together or not at all, across a
// process crash for the durable policy. flush selects whether the
// commit waits for stable storage.
func (d *DB) Write(rows []Row, flush FlushPolicy) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.log.Debug("writing rows", "path", d.path, "count", len(rows), "flush", flush.String())
	sort.Slice(rows, func(i, j int) bool {
		return bytes.Compare(rows[i].Key, rows[j].Key) < 0
	})
	batch := d.pdb.NewBatch()
	defer batch.Close()
	for _, row := range rows {
		if err := batch.Set(row.Key, row.Value, nil); err != nil {
			fatal("write", err)
		}
	}
	if err := batch.Commit(flush.writeOptions()); err != nil {
		fatal("write", err)
	}
}

// Flush persists buffered in-memory writes to the engine's backing
// files.
func (d *DB) Flush() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.pdb.Flush(); err != nil {
		fatal("flush", err)
	}
}

// FullCompaction synchronously collapses the entire key range across
// all storage levels. Intended to be invoked once, at the end of a
// bulk-load phase that ran with background compaction disabled.
func (d *DB) FullCompaction() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.log.Debug("starting full compaction", "path", d.path)
	if err := d.pdb.Compact(nil, compactionUpperBound, true); err != nil {
		fatal("compact", err)
	}
	d.log.Debug("finished full compaction", "path", d.path)
}

// EnableAutoCompaction re-enables background compaction after a
// bulk-load phase. The engine offers no synchronized way to change
// options on a running instance, so the handle cycles through the
// reopen path with the toggle cleared.
func (d *DB) EnableAutoCompaction() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.DisableAutomaticCompactions = false
	if err := d.reopenLocked(); err != nil {
		fatal("enable auto compaction", err)
	}
}

// compatibilityMarker returns the marker bytes expected by this
// binary: the fixed-width little-endian version, plus one trailing
// byte when light mode is active. The byte is appended rather than
// encoded as a second fixed field so that databases written without
// light mode keep the marker they had before light mode existed.
func compatibilityMarker(lightMode bool) []byte {
	marker := make([]byte, 4, 5)
	binary.LittleEndian.PutUint32(marker, dbVersion)
	if lightMode {
		marker = append(marker, lightModeMarker)
	}
	return marker
}

// verifyCompatibility checks the stored compatibility marker against
// the expected one. A fresh directory gets the expected marker written
// durably (writable mode only); a mismatch means the directory was
// built by an incompatible binary and must be abandoned and reindexed.
func (d *DB) verifyCompatibility() error {
	expected := compatibilityMarker(d.cfg.LightMode)
	stored, ok := d.get(compatKey)
	switch {
	case !ok:
		if !d.cfg.ReadOnly {
			d.put(compatKey, expected, pebble.Sync)
		}
	case !bytes.Equal(stored, expected):
		return fmt.Errorf("%w (path %s)", ErrIncompatible, d.path)
	}
	return nil
}

// fatal reports an unexpected engine failure on a data-path operation.
// The layer defines no graceful degradation for mid-operation storage
// failures; the process is expected to abort.
func fatal(op string, err error) {
	log.Error("unrecoverable storage failure", "op", op, "err", err)
	panic(fmt.Sprintf("storage: %s: %v", op, err))
}

// ReadOnlyDB is the read-only storage handle. Reads and cursors are
// promoted from the wrapped DB; every mutating operation is redefined
// as a no-op rather than a failure. A read-only handle never creates
// the directory and never emits a write or compaction side effect.
type ReadOnlyDB struct {
	*DB
}

// Put is a no-op: read-only handles discard writes.
func (r *ReadOnlyDB) Put(key, value []byte) {}

// PutSync is a no-op.
func (r *ReadOnlyDB) PutSync(key, value []byte) {}

// Write is a no-op.
func (r *ReadOnlyDB) Write(rows []Row, flush FlushPolicy) {}

// Flush is a no-op.
func (r *ReadOnlyDB) Flush() {}

// FullCompaction is a no-op.
func (r *ReadOnlyDB) FullCompaction() {}

// EnableAutoCompaction is a no-op.
func (r *ReadOnlyDB) EnableAutoCompaction() {}
