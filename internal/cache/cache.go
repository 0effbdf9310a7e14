// Package cache implements the copy-on-write transaction layer sitting
// between the skiplist index and the block store: find_page,
// copy_on_write, create_page, del_page, commit, rollback, and flush
// (spec §5). A transaction's writes land in an in-memory dirty set first;
// Commit moves that set into a second in-memory stage (tranFlush) without
// touching the block store; Flush is the only operation that actually
// writes to disk. A crash between commit and flush loses only the
// not-yet-flushed transaction — it can never corrupt a transaction that
// already made it through Flush.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/pagekv/pagekv/internal/metrics"
	"github.com/pagekv/pagekv/internal/store"
	"github.com/pagekv/pagekv/internal/util/log"
)

// Cache owns one open BlockStore plus the second-stage (tranFlush) set
// shared by every transaction committed against it.
type Cache struct {
	store *store.BlockStore

	mu        sync.Mutex
	tranFlush map[store.Addr][]byte
	freedFlush map[store.Addr]struct{}
}

// Open wraps a BlockStore with a transaction cache.
func Open(bs *store.BlockStore) *Cache {
	return &Cache{
		store:      bs,
		tranFlush:  map[store.Addr][]byte{},
		freedFlush: map[store.Addr]struct{}{},
	}
}

// PageSize returns the underlying store's fixed page size.
func (c *Cache) PageSize() int { return c.store.PageSize() }

// Store returns the underlying block store, for callers (the manager)
// that need the table directory or raw allocation outside a transaction.
func (c *Cache) Store() *store.BlockStore { return c.store }

// Begin starts a new transaction. Its dirty set (tranCache) is private
// until Commit; nothing here is visible to any other transaction until
// then, and nothing is durable until a subsequent Flush.
func (c *Cache) Begin() *Tx {
	return &Tx{
		cache:   c,
		dirty:   map[store.Addr][]byte{},
		created: map[store.Addr]struct{}{},
		deleted: map[store.Addr]struct{}{},
	}
}

// Flush drains the committed-but-not-yet-durable set to the block store
// and clears it. It does not touch any transaction's in-flight dirty set,
// including ones committed concurrently with this call — those land in
// tranFlush only once their own Commit runs.
func (c *Cache) Flush() error {
	c.mu.Lock()
	pages := c.tranFlush
	freed := c.freedFlush
	c.tranFlush = map[store.Addr][]byte{}
	c.freedFlush = map[store.Addr]struct{}{}
	c.mu.Unlock()

	if len(pages) == 0 && len(freed) == 0 {
		return nil
	}

	start := time.Now()
	if err := c.store.WritePages(pages); err != nil {
		return fmt.Errorf("cache: flush: %w", err)
	}
	for addr := range freed {
		c.store.FreePage(addr)
	}
	metrics.CacheFlushes.Inc()
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	log.Debug("cache flush", "pages", len(pages), "freed", len(freed))
	return nil
}

// commit is called by Tx.Commit; it moves the transaction's dirty set into
// the cache's second stage.
func (c *Cache) commit(dirty map[store.Addr][]byte, deleted map[store.Addr]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, buf := range dirty {
		if _, isDeleted := deleted[addr]; isDeleted {
			continue
		}
		c.tranFlush[addr] = buf
	}
	for addr := range deleted {
		delete(c.tranFlush, addr)
		c.freedFlush[addr] = struct{}{}
	}
}

// readThrough reads a page that is not staged in any transaction's dirty
// set: straight from the block store, or from the already-committed
// tranFlush stage if it is waiting there for the next Flush.
func (c *Cache) readThrough(addr store.Addr) ([]byte, error) {
	c.mu.Lock()
	if buf, ok := c.tranFlush[addr]; ok {
		c.mu.Unlock()
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
	c.mu.Unlock()
	return c.store.ReadPage(addr)
}
