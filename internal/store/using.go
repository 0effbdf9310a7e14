package store

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// Free-space summaries ("using" pages)
// ───────────────────────────────────────────────────────────────────────────
//
// Spec §3.4: every TABLE and VALUE page gets one slot in a parallel chain of
// TABLE_USING / VALUE_USING pages recording how much contiguous free space
// remains on it. Insert consults this chain to find a page with enough room
// before asking the allocator for a brand new one; it is a free-space index,
// not a free-*page* index — that is FreeManager's job.
//
// Nothing in this module calls UsingIndex.FlushToDisk, so the chain is not
// written: a table's TableUsingPage/ValueUsingPage stay InvalidAddr, and the
// Manager keeps each index in memory only, starting empty on every open.
//
// Layout of one using page:
//   [0:32]              Common PageHead (Type=TableUsing or ValueUsing)
//   [32:36]             EntryCount (uint32 LE)
//   [36:36+8*EntryCount] Slot entries: {PageAddr uint32 LE, SpaceLength uint32 LE}
//
// Invariant (spec §3.4): for every live TABLE/VALUE page P, the slot
// recording P's free space must equal P's actual trailing free length.
// UsingIndex.Update is the only place that invariant is allowed to change.

const (
	usingCountOff  = PageHeaderSize // 32
	usingDataOff   = usingCountOff + 4
	usingEntryLen  = 8
)

// UsingSlot is one page's free-space summary.
type UsingSlot struct {
	PageAddr    Addr
	SpaceLength uint32
}

// UsingCapacity returns how many slots fit on one using page.
func UsingCapacity(pageSize int) int {
	return (pageSize - usingDataOff) / usingEntryLen
}

type usingPage struct{ buf []byte }

func wrapUsingPage(buf []byte) *usingPage { return &usingPage{buf: buf} }

func initUsingPage(buf []byte, pt PageType, addr Addr) *usingPage {
	h := &PageHead{Type: pt, Addr: addr, PrevPage: InvalidAddr, NextPage: InvalidAddr}
	MarshalHead(h, buf)
	binary.LittleEndian.PutUint32(buf[usingCountOff:], 0)
	return &usingPage{buf: buf}
}

func (up *usingPage) count() int {
	return int(binary.LittleEndian.Uint32(up.buf[usingCountOff:]))
}

func (up *usingPage) setCount(n int) {
	binary.LittleEndian.PutUint32(up.buf[usingCountOff:], uint32(n))
}

func (up *usingPage) get(i int) UsingSlot {
	off := usingDataOff + i*usingEntryLen
	return UsingSlot{
		PageAddr:    Addr(binary.LittleEndian.Uint32(up.buf[off:])),
		SpaceLength: binary.LittleEndian.Uint32(up.buf[off+4:]),
	}
}

func (up *usingPage) set(i int, s UsingSlot) {
	off := usingDataOff + i*usingEntryLen
	binary.LittleEndian.PutUint32(up.buf[off:], uint32(s.PageAddr))
	binary.LittleEndian.PutUint32(up.buf[off+4:], s.SpaceLength)
}

func (up *usingPage) add(s UsingSlot) bool {
	n := up.count()
	if n >= UsingCapacity(len(up.buf)) {
		return false
	}
	up.set(n, s)
	up.setCount(n + 1)
	return true
}

// removeAt compacts the slot array, shifting the tail down by one.
func (up *usingPage) removeAt(i int) {
	n := up.count()
	for j := i; j < n-1; j++ {
		up.set(j, up.get(j+1))
	}
	up.setCount(n - 1)
}

func (up *usingPage) all() []UsingSlot {
	n := up.count()
	out := make([]UsingSlot, n)
	for i := 0; i < n; i++ {
		out[i] = up.get(i)
	}
	return out
}

// UsingIndex is the in-memory mirror of one file's using-page chain (either
// the TABLE_USING chain or the VALUE_USING chain — callers keep one of
// each). It trades page-exact fidelity for a plain map, which FindFit scans
// in full; FlushToDisk rebuilds the on-disk chain from the current
// in-memory state.
type UsingIndex struct {
	pageType PageType
	bySlot   map[Addr]uint32
}

// NewUsingIndex creates an empty index for the given page type (TableUsing
// or ValueUsing).
func NewUsingIndex(pt PageType) *UsingIndex {
	return &UsingIndex{pageType: pt, bySlot: map[Addr]uint32{}}
}

// LoadFromDisk walks the using-page chain starting at head and populates the
// in-memory map.
func (ui *UsingIndex) LoadFromDisk(head Addr, readPage func(Addr) ([]byte, error)) error {
	addr := head
	for addr != InvalidAddr {
		buf, err := readPage(addr)
		if err != nil {
			return err
		}
		up := wrapUsingPage(buf)
		for _, s := range up.all() {
			ui.bySlot[s.PageAddr] = s.SpaceLength
		}
		addr = NextOf(buf)
	}
	return nil
}

// Update records a page's current free-space length, spec §3.4's one true
// invariant point: call this every time a TABLE/VALUE page's trailing free
// length changes, including when the page is first created (length = full
// usable body) and when it is deleted (remove instead).
func (ui *UsingIndex) Update(page Addr, spaceLength uint32) {
	ui.bySlot[page] = spaceLength
}

// Remove drops a page's slot entirely, e.g. when the page itself is freed.
func (ui *UsingIndex) Remove(page Addr) { delete(ui.bySlot, page) }

// FindFit returns the page with the smallest SpaceLength that is still >=
// need (best-fit), or false if no known page has enough room. Insert falls
// back to allocating a brand new page on a miss.
func (ui *UsingIndex) FindFit(need uint32) (Addr, bool) {
	best := InvalidAddr
	bestLen := ^uint32(0)
	for addr, length := range ui.bySlot {
		if length >= need && length < bestLen {
			best, bestLen = addr, length
		}
	}
	return best, best != InvalidAddr
}

// SpaceOf returns the last known free-space length for a page.
func (ui *UsingIndex) SpaceOf(page Addr) (uint32, bool) {
	l, ok := ui.bySlot[page]
	return l, ok
}

// FlushToDisk writes the in-memory slot map into a chain of using pages and
// returns the new chain head and the page buffers to persist.
func (ui *UsingIndex) FlushToDisk(pageSize int, allocPage func() (Addr, []byte)) (Addr, [][]byte) {
	if len(ui.bySlot) == 0 {
		return InvalidAddr, nil
	}

	slots := make([]UsingSlot, 0, len(ui.bySlot))
	for addr, length := range ui.bySlot {
		slots = append(slots, UsingSlot{PageAddr: addr, SpaceLength: length})
	}

	cap := UsingCapacity(pageSize)
	var pages [][]byte
	var head Addr
	var prevBuf []byte

	for i := 0; i < len(slots); i += cap {
		end := i + cap
		if end > len(slots) {
			end = len(slots)
		}
		chunk := slots[i:end]

		addr, buf := allocPage()
		up := initUsingPage(buf, ui.pageType, addr)
		for _, s := range chunk {
			up.add(s)
		}
		SetPageCRC(buf)
		pages = append(pages, buf)

		if prevBuf != nil {
			SetPrevNext(prevBuf, InvalidAddr, addr)
			SetPageCRC(prevBuf)
		} else {
			head = addr
		}
		prevBuf = buf
	}

	return head, pages
}
