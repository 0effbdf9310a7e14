package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/pagekv/pagekv/internal/util/log"
)

// BlockStore is the raw page-addressable file: it knows how to read and
// write whole pages by Addr, and how to grow the file to satisfy a fresh
// allocation. It has no notion of transactions, dirty pages, or staged
// writes — that is the cache package's job (spec §5). Per spec §6's
// concurrency model ("one file-writer thread per file"), every write to a
// given BlockStore is serialized through a single mutex; callers from
// multiple worker goroutines are expected and safe.
type BlockStore struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int

	// InstanceID identifies this open of the file (a new one is generated
	// on every Open), for tying a run's log lines together without echoing
	// the (possibly shared or temporary) file path.
	InstanceID uuid.UUID

	head FileHead
	free *FreeManager
	dir  *TableDirectory
}

// Open opens (or creates, if create is true) a page store at path.
func Open(path string, pageSize int, create bool) (*BlockStore, error) {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, fmt.Errorf("store: page size %d out of range [%d,%d]", pageSize, MinPageSize, MaxPageSize)
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	bs := &BlockStore{
		f:          f,
		path:       path,
		pageSize:   pageSize,
		InstanceID: uuid.New(),
		free:       NewFreeManager(),
		dir:        NewTableDirectory(),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if !create {
			f.Close()
			return nil, fmt.Errorf("store: %s is empty and create=false", path)
		}
		bs.head = NewFileHead(pageSize)
		buf := NewPage(pageSize, PageTypeHead, 0)
		MarshalFileHead(&bs.head, buf)
		SetPageCRC(buf)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, err
		}
		log.Info("store: created", "path", path, "instance", bs.InstanceID, "pageSize", pageSize)
		return bs, nil
	}

	buf := make([]byte, pageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: read file head: %w", err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		f.Close()
		return nil, err
	}
	head, err := UnmarshalFileHead(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	bs.head = head

	if err := bs.free.LoadFromDisk(head.FreeListRoot, bs.readPageLocked); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: load free list: %w", err)
	}
	if err := bs.dir.LoadFromDisk(head.DirRoot, bs.readPageLocked); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: load table directory: %w", err)
	}

	log.Info("store: opened", "path", path, "instance", bs.InstanceID, "tables", bs.dir.Len())
	return bs, nil
}

// PageSize returns the fixed page size of this store.
func (bs *BlockStore) PageSize() int { return bs.pageSize }

// Directory exposes the in-memory table directory for Manager to consult
// and mutate. Changes made through it are written out by the next Flush.
func (bs *BlockStore) Directory() *TableDirectory { return bs.dir }

func (bs *BlockStore) readPageLocked(addr Addr) ([]byte, error) {
	buf := make([]byte, bs.pageSize)
	off := int64(addr) * int64(bs.pageSize)
	if _, err := bs.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("store: read page %d: %w", addr, err)
	}
	return buf, nil
}

// ReadPage reads one page by address and verifies its checksum.
func (bs *BlockStore) ReadPage(addr Addr) ([]byte, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	buf, err := bs.readPageLocked(addr)
	if err != nil {
		return nil, err
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WritePage writes one page by address, recomputing its checksum first.
func (bs *BlockStore) WritePage(addr Addr, buf []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.writePageLocked(addr, buf)
}

func (bs *BlockStore) writePageLocked(addr Addr, buf []byte) error {
	SetPageCRC(buf)
	off := int64(addr) * int64(bs.pageSize)
	if _, err := bs.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("store: write page %d: %w", addr, err)
	}
	return nil
}

// WritePages writes several pages as one batch under a single lock, the
// common case after a commit or a flush of a using/free/directory chain.
func (bs *BlockStore) WritePages(pages map[Addr][]byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for addr, buf := range pages {
		if err := bs.writePageLocked(addr, buf); err != nil {
			return err
		}
	}
	return nil
}

// AllocPage returns a fresh page: reused from the free list if one is
// available, otherwise grown at the end of the file. The returned buffer is
// zeroed and carries no header; callers must initialize it.
func (bs *BlockStore) AllocPage() (Addr, []byte) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.allocPageLocked()
}

func (bs *BlockStore) allocPageLocked() (Addr, []byte) {
	if a := bs.free.Alloc(); a != InvalidAddr {
		return a, make([]byte, bs.pageSize)
	}
	a := bs.head.NextAddr
	bs.head.NextAddr++
	// extend the file so the new address reads back as an empty page
	if err := bs.writePageLocked(a, make([]byte, bs.pageSize)); err != nil {
		log.Error("store: extend file", err, "addr", a)
	}
	return a, make([]byte, bs.pageSize)
}

// FreePage returns a page to the allocator's free list. It does not zero or
// unlink the page on disk; callers are responsible for having already
// removed it from whatever intrusive list it belonged to.
func (bs *BlockStore) FreePage(addr Addr) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.free.Free(addr)
}

// Sync commits the file head (free-list root, directory root, allocation
// high-water mark) and fsyncs the underlying file. Callers flush the free
// list and directory chains first and pass in the resulting roots.
func (bs *BlockStore) Sync(freeRoot, dirRoot Addr, tableCount uint32) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	bs.head.FreeListRoot = freeRoot
	bs.head.DirRoot = dirRoot
	bs.head.TableCount = tableCount

	buf := NewPage(bs.pageSize, PageTypeHead, 0)
	MarshalFileHead(&bs.head, buf)
	if err := bs.writePageLocked(0, buf); err != nil {
		return err
	}
	return bs.f.Sync()
}

// Flush persists the free list and table directory, then the file head, in
// the order needed for crash consistency: chain pages before the root that
// points at them.
func (bs *BlockStore) Flush() error {
	bs.mu.Lock()
	// free-list pages come from the end of the file, never from the free
	// set they record
	grow := func() (Addr, []byte) {
		a := bs.head.NextAddr
		bs.head.NextAddr++
		return a, make([]byte, bs.pageSize)
	}
	freeRoot, freePages := bs.free.FlushToDisk(bs.pageSize, grow)
	dirRoot, dirPages := bs.dir.FlushToDisk(bs.pageSize, bs.allocPageLocked)
	tableCount := uint32(bs.dir.Len())
	bs.mu.Unlock()

	for _, buf := range freePages {
		addr := AddrOf(buf)
		if err := bs.WritePage(addr, buf); err != nil {
			return err
		}
	}
	for _, buf := range dirPages {
		addr := AddrOf(buf)
		if err := bs.WritePage(addr, buf); err != nil {
			return err
		}
	}
	return bs.Sync(freeRoot, dirRoot, tableCount)
}

// Close flushes and closes the underlying file.
func (bs *BlockStore) Close() error {
	if err := bs.Flush(); err != nil {
		return err
	}
	log.Info("store: closed", "path", bs.path, "instance", bs.InstanceID)
	return bs.f.Close()
}
