package cache

import (
	"fmt"

	"github.com/pagekv/pagekv/internal/store"
)

// Tx is one transaction's copy-on-write dirty set (the "tranCache" of
// spec §5), implementing skiplist.Pager. A Tx is not safe for concurrent
// use — each worker goroutine owns exactly one at a time (spec §6's
// single-threaded-per-worker model).
type Tx struct {
	cache *Cache

	dirty   map[store.Addr][]byte
	created map[store.Addr]struct{}
	deleted map[store.Addr]struct{}

	donotCommit bool
	donotFlush  bool
}

// PageSize returns the cache's fixed page size.
func (tx *Tx) PageSize() int { return tx.cache.PageSize() }

// FindPage returns a page's current bytes: the transaction's own pending
// write if it has one, otherwise a read-through to the cache/store. The
// returned slice must not be mutated directly — call CopyOnWrite first.
func (tx *Tx) FindPage(addr store.Addr) ([]byte, error) {
	if _, isDeleted := tx.deleted[addr]; isDeleted {
		return nil, fmt.Errorf("cache: page %d was deleted in this transaction", addr)
	}
	if buf, ok := tx.dirty[addr]; ok {
		return buf, nil
	}
	return tx.cache.readThrough(addr)
}

// CopyOnWrite returns a mutable buffer for addr, staging a private clone
// in this transaction's dirty set the first time it is called for that
// address. Every subsequent call in the same transaction returns the same
// buffer, so repeated mutations accumulate rather than clobber each other.
func (tx *Tx) CopyOnWrite(addr store.Addr) ([]byte, error) {
	if buf, ok := tx.dirty[addr]; ok {
		return buf, nil
	}
	orig, err := tx.cache.readThrough(addr)
	if err != nil {
		return nil, err
	}
	clone := make([]byte, len(orig))
	copy(clone, orig)
	tx.dirty[addr] = clone
	return clone, nil
}

// CreatePage allocates a new page of the given type and stages it as
// dirty, returning its address and zeroed-then-headered buffer.
func (tx *Tx) CreatePage(pt store.PageType) (store.Addr, []byte, error) {
	addr, buf := tx.cache.store.AllocPage()
	h := &store.PageHead{Type: pt, Addr: addr, PrevPage: store.InvalidAddr, NextPage: store.InvalidAddr}
	store.MarshalHead(h, buf)
	tx.dirty[addr] = buf
	tx.created[addr] = struct{}{}
	return addr, buf, nil
}

// DelPage marks a page as deleted by this transaction. A page created and
// deleted within the same transaction is simply dropped on Rollback/Commit
// without ever touching the store.
func (tx *Tx) DelPage(addr store.Addr) error {
	delete(tx.dirty, addr)
	delete(tx.created, addr)
	tx.deleted[addr] = struct{}{}
	return nil
}

// SetDonotCommit marks this transaction so Commit silently rolls it back
// instead, the handler-declined-write path described in spec §6 (a
// handler returning 0 commits nothing).
func (tx *Tx) SetDonotCommit() { tx.donotCommit = true }

// SetDonotFlush marks this transaction's commit as durable-deferred: its
// writes move into tranFlush as usual, but the caller is signaling it
// should not trigger an out-of-band Flush for this commit specifically.
func (tx *Tx) SetDonotFlush() { tx.donotFlush = true }

// DonotCommit reports whether this transaction is currently marked to roll
// back instead of commit.
func (tx *Tx) DonotCommit() bool { return tx.donotCommit }

// DonotFlush reports whether this transaction's commit should be excluded
// from the worker's flush-threshold bookkeeping.
func (tx *Tx) DonotFlush() bool { return tx.donotFlush }

// ForceCommit commits this transaction's dirty set and immediately flushes
// it to the block store, then rebinds tx to a freshly begun transaction
// against the same cache so the caller can keep issuing writes through the
// same *Tx value (spec §4.3's forceCommit(), used by a handler that wants
// its work so far durable before continuing, e.g. ahead of a slow step or a
// reply it's about to publish).
func (tx *Tx) ForceCommit() error {
	c := tx.cache
	if err := tx.Commit(); err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}
	*tx = *c.Begin()
	return nil
}

// Commit moves this transaction's dirty set into the cache's tranFlush
// stage. It does not write to the block store — that happens only on a
// subsequent Cache.Flush. Pages created and then deleted within the same
// transaction never reach tranFlush at all.
func (tx *Tx) Commit() error {
	if tx.donotCommit {
		return tx.Rollback()
	}
	for addr := range tx.created {
		if _, isDeleted := tx.deleted[addr]; isDeleted {
			delete(tx.dirty, addr)
		}
	}
	for addr := range tx.deleted {
		if _, wasCreated := tx.created[addr]; wasCreated {
			// never left this transaction; free it back immediately
			// rather than staging a delete nothing else ever saw.
			tx.cache.store.FreePage(addr)
			delete(tx.deleted, addr)
		}
	}
	tx.cache.commit(tx.dirty, tx.deleted)
	return nil
}

// Rollback discards this transaction's dirty set. Any page it created is
// returned to the free list immediately, since nothing else can have
// observed it.
func (tx *Tx) Rollback() error {
	for addr := range tx.created {
		tx.cache.store.FreePage(addr)
	}
	tx.dirty = map[store.Addr][]byte{}
	tx.created = map[store.Addr]struct{}{}
	tx.deleted = map[store.Addr]struct{}{}
	return nil
}
