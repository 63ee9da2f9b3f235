package storage

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// cursorState tracks a cursor's two-state machine. Exhaustion latches:
// once done, every subsequent Next reports false.
type cursorState int

const (
	cursorActive cursorState = iota
	cursorDone
)

// ScanCursor streams rows whose keys start with a fixed prefix, in
// ascending key order. It is a lazy, one-shot cursor: it borrows the
// storage handle for its lifetime, must not be shared across
// goroutines, and cannot be restarted after exhaustion. Callers must
// Release it when finished.
type ScanCursor struct {
	prefix  []byte
	iter    *pebble.Iterator
	state   cursorState
	started bool
	key     []byte
	value   []byte
}

// IterScan returns a forward cursor positioned at the first key >=
// prefix.
func (d *DB) IterScan(prefix []byte) *ScanCursor {
	return d.IterScanFrom(prefix, prefix)
}

// IterScanFrom returns a forward cursor positioned at the first key >=
// startAt, still bounded by prefix. It resumes a scan past a
// previously seen key without re-reading the earlier rows.
func (d *DB) IterScanFrom(prefix, startAt []byte) *ScanCursor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	iter, err := d.pdb.NewIter(&pebble.IterOptions{
		LowerBound: append([]byte(nil), startAt...),
	})
	if err != nil {
		fatal("scan", err)
	}
	return &ScanCursor{
		prefix: append([]byte(nil), prefix...),
		iter:   iter,
	}
}

// Next advances the cursor to the next row. It returns false once the
// underlying store is exhausted or the next key no longer starts with
// the prefix; after that every call returns false.
func (c *ScanCursor) Next() bool {
	if c.state == cursorDone {
		return false
	}
	var valid bool
	if !c.started {
		c.started = true
		valid = c.iter.First()
	} else {
		valid = c.iter.Next()
	}
	if !valid || !bytes.HasPrefix(c.iter.Key(), c.prefix) {
		c.exhaust()
		return false
	}
	c.key = append([]byte(nil), c.iter.Key()...)
	c.value = append([]byte(nil), c.iter.Value()...)
	return true
}

// Done reports whether the cursor is exhausted.
func (c *ScanCursor) Done() bool { return c.state == cursorDone }

// Key returns the key of the current row, or nil when the cursor is
// not positioned on one.
func (c *ScanCursor) Key() []byte { return c.key }

// Value returns the value of the current row, or nil when the cursor
// is not positioned on one.
func (c *ScanCursor) Value() []byte { return c.value }

// Row returns the current row.
func (c *ScanCursor) Row() Row { return Row{Key: c.key, Value: c.value} }

// Release closes the underlying engine iterator. It must be called
// exactly once, and is safe to call before exhaustion.
func (c *ScanCursor) Release() {
	c.state = cursorDone
	c.key, c.value = nil, nil
	if err := c.iter.Close(); err != nil {
		fatal("scan", err)
	}
}

func (c *ScanCursor) exhaust() {
	if err := c.iter.Error(); err != nil {
		fatal("scan", err)
	}
	c.state = cursorDone
	c.key, c.value = nil, nil
}

// ReverseScanCursor streams rows in descending key order, starting at
// the greatest key <= an explicit upper bound (the bound itself is
// included when it exists) and stopping at the first key that no
// longer starts with the prefix. It answers "most recent record with
// this prefix" without a full prefix scan. Like ScanCursor it is
// one-shot, single-goroutine, and must be Released.
type ReverseScanCursor struct {
	prefix []byte
	iter   *pebble.Iterator
	state  cursorState
	key    []byte
	value  []byte
}

// IterScanReverse returns a reverse cursor positioned at the greatest
// key <= prefixMax, bounded by prefix.
func (d *DB) IterScanReverse(prefix, prefixMax []byte) *ReverseScanCursor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	iter, err := d.pdb.NewIter(nil)
	if err != nil {
		fatal("reverse scan", err)
	}
	seekForPrev(iter, prefixMax)
	return &ReverseScanCursor{
		prefix: append([]byte(nil), prefix...),
		iter:   iter,
	}
}

// seekForPrev positions iter at the greatest key <= bound. The engine
// only exposes an exclusive SeekLT, so an exact hit on bound is probed
// first.
func seekForPrev(iter *pebble.Iterator, bound []byte) {
	if iter.SeekGE(bound) {
		if bytes.Equal(iter.Key(), bound) {
			return
		}
		iter.Prev()
		return
	}
	iter.Last()
}

// Next advances the cursor to the next row in descending order. It
// returns false once the position is invalid or the key no longer
// starts with the prefix; after that every call returns false.
func (c *ReverseScanCursor) Next() bool {
	if c.state == cursorDone {
		return false
	}
	if !c.iter.Valid() || !bytes.HasPrefix(c.iter.Key(), c.prefix) {
		c.exhaust()
		return false
	}
	c.key = append([]byte(nil), c.iter.Key()...)
	c.value = append([]byte(nil), c.iter.Value()...)
	c.iter.Prev()
	return true
}

// Done reports whether the cursor is exhausted.
func (c *ReverseScanCursor) Done() bool { return c.state == cursorDone }

// Key returns the key of the current row, or nil when the cursor is
// not positioned on one.
func (c *ReverseScanCursor) Key() []byte { return c.key }

// Value returns the value of the current row, or nil when the cursor
// is not positioned on one.
func (c *ReverseScanCursor) Value() []byte { return c.value }

// Row returns the current row.
func (c *ReverseScanCursor) Row() Row { return Row{Key: c.key, Value: c.value} }

// Release closes the underlying engine iterator. It must be called
// exactly once, and is safe to call before exhaustion.
func (c *ReverseScanCursor) Release() {
	c.state = cursorDone
	c.key, c.value = nil, nil
	if err := c.iter.Close(); err != nil {
		fatal("reverse scan", err)
	}
}

func (c *ReverseScanCursor) exhaust() {
	if err := c.iter.Error(); err != nil {
		fatal("reverse scan", err)
	}
	c.state = cursorDone
	c.key, c.value = nil, nil
}
