package store

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// File head (page 0) and the table directory
// ───────────────────────────────────────────────────────────────────────────
//
// Every file opens with a fixed FileHead at address 0 (spec §3.1's "HEAD"
// page type), recording the file's page size, its allocation high-water
// mark, the root of its free-page chain, and the root of its table
// directory — the name -> TableInFile mapping a Manager consults to find a
// table's skiplist entry points (spec §3.2, §6).

// FileMagic identifies a page-kv data file.
var FileMagic = [8]byte{'P', 'A', 'G', 'E', 'K', 'V', 'H', '1'}

const FileFormatVersion = 1

const (
	fileHeadMagicOff   = PageHeaderSize      // 32
	fileHeadVersionOff = fileHeadMagicOff + 8 // 40
	fileHeadPageSzOff  = fileHeadVersionOff + 4
	fileHeadNextOff    = fileHeadPageSzOff + 4
	fileHeadFreeOff    = fileHeadNextOff + 4
	fileHeadDirOff     = fileHeadFreeOff + 4
	fileHeadTableCnOff = fileHeadDirOff + 4
)

// FileHead is the decoded form of page 0.
type FileHead struct {
	Magic        [8]byte
	Version      uint32
	PageSize     uint32
	NextAddr     Addr // allocation high-water mark: first never-used address
	FreeListRoot Addr
	DirRoot      Addr // head of the table-directory page chain
	TableCount   uint32
}

// NewFileHead returns the header for a freshly created, empty file.
func NewFileHead(pageSize int) FileHead {
	return FileHead{
		Magic:        FileMagic,
		Version:      FileFormatVersion,
		PageSize:     uint32(pageSize),
		NextAddr:     1, // addr 0 is this page
		FreeListRoot: InvalidAddr,
		DirRoot:      InvalidAddr,
		TableCount:   0,
	}
}

// MarshalFileHead writes fh into a full page-0 buffer, including the common
// PageHead.
func MarshalFileHead(fh *FileHead, buf []byte) {
	h := &PageHead{Type: PageTypeHead, Addr: 0, PrevPage: InvalidAddr, NextPage: InvalidAddr}
	MarshalHead(h, buf)
	copy(buf[fileHeadMagicOff:fileHeadMagicOff+8], fh.Magic[:])
	binary.LittleEndian.PutUint32(buf[fileHeadVersionOff:], fh.Version)
	binary.LittleEndian.PutUint32(buf[fileHeadPageSzOff:], fh.PageSize)
	binary.LittleEndian.PutUint32(buf[fileHeadNextOff:], uint32(fh.NextAddr))
	binary.LittleEndian.PutUint32(buf[fileHeadFreeOff:], uint32(fh.FreeListRoot))
	binary.LittleEndian.PutUint32(buf[fileHeadDirOff:], uint32(fh.DirRoot))
	binary.LittleEndian.PutUint32(buf[fileHeadTableCnOff:], fh.TableCount)
}

// UnmarshalFileHead reads a FileHead from a page-0 buffer and validates the
// magic and version.
func UnmarshalFileHead(buf []byte) (FileHead, error) {
	var fh FileHead
	copy(fh.Magic[:], buf[fileHeadMagicOff:fileHeadMagicOff+8])
	if fh.Magic != FileMagic {
		return fh, fmt.Errorf("store: bad file magic %q", fh.Magic[:])
	}
	fh.Version = binary.LittleEndian.Uint32(buf[fileHeadVersionOff:])
	if fh.Version != FileFormatVersion {
		return fh, fmt.Errorf("store: unsupported file format version %d", fh.Version)
	}
	fh.PageSize = binary.LittleEndian.Uint32(buf[fileHeadPageSzOff:])
	fh.NextAddr = Addr(binary.LittleEndian.Uint32(buf[fileHeadNextOff:]))
	fh.FreeListRoot = Addr(binary.LittleEndian.Uint32(buf[fileHeadFreeOff:]))
	fh.DirRoot = Addr(binary.LittleEndian.Uint32(buf[fileHeadDirOff:]))
	fh.TableCount = binary.LittleEndian.Uint32(buf[fileHeadTableCnOff:])
	return fh, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Table directory
// ───────────────────────────────────────────────────────────────────────────

const dirEntrySize = 1 + MaxTableNameLen + TableInFileSize

const (
	dirCountOff = PageHeaderSize
	dirDataOff  = dirCountOff + 4
)

// DirCapacity returns how many directory entries fit on one directory page.
func DirCapacity(pageSize int) int {
	return (pageSize - dirDataOff) / dirEntrySize
}

type dirPage struct{ buf []byte }

func wrapDirPage(buf []byte) *dirPage { return &dirPage{buf: buf} }

func initDirPage(buf []byte, addr Addr) *dirPage {
	h := &PageHead{Type: PageTypeHead, Addr: addr, PrevPage: InvalidAddr, NextPage: InvalidAddr}
	MarshalHead(h, buf)
	binary.LittleEndian.PutUint32(buf[dirCountOff:], 0)
	return &dirPage{buf: buf}
}

func (dp *dirPage) count() int { return int(binary.LittleEndian.Uint32(dp.buf[dirCountOff:])) }

func (dp *dirPage) setCount(n int) { binary.LittleEndian.PutUint32(dp.buf[dirCountOff:], uint32(n)) }

func (dp *dirPage) entryOff(i int) int { return dirDataOff + i*dirEntrySize }

func (dp *dirPage) nameAt(i int) string {
	off := dp.entryOff(i)
	n := int(dp.buf[off])
	return string(dp.buf[off+1 : off+1+n])
}

func (dp *dirPage) tableAt(i int) TableInFile {
	off := dp.entryOff(i) + 1 + MaxTableNameLen
	return UnmarshalTableInFile(dp.buf[off : off+TableInFileSize])
}

func (dp *dirPage) set(i int, name string, t TableInFile) {
	off := dp.entryOff(i)
	dp.buf[off] = byte(len(name))
	copy(dp.buf[off+1:off+1+MaxTableNameLen], name)
	t.Marshal(dp.buf[off+1+MaxTableNameLen : off+1+MaxTableNameLen+TableInFileSize])
}

func (dp *dirPage) add(name string, t TableInFile) bool {
	n := dp.count()
	if n >= DirCapacity(len(dp.buf)) {
		return false
	}
	dp.set(n, name, t)
	dp.setCount(n + 1)
	return true
}

func (dp *dirPage) all() map[string]TableInFile {
	n := dp.count()
	out := make(map[string]TableInFile, n)
	for i := 0; i < n; i++ {
		out[dp.nameAt(i)] = dp.tableAt(i)
	}
	return out
}

// TableDirectory is the in-memory mirror of a file's name -> TableInFile
// directory. Lookups and mutations happen here; FlushToDisk rebuilds the
// on-disk directory-page chain from current state, the same "flush
// recomputes the chain" approach as FreeManager and UsingIndex.
type TableDirectory struct {
	tables map[string]TableInFile
	order  []string // insertion order, kept stable across flushes
}

// NewTableDirectory returns an empty directory.
func NewTableDirectory() *TableDirectory {
	return &TableDirectory{tables: map[string]TableInFile{}}
}

// LoadFromDisk walks the directory-page chain rooted at head.
func (td *TableDirectory) LoadFromDisk(head Addr, readPage func(Addr) ([]byte, error)) error {
	addr := head
	for addr != InvalidAddr {
		buf, err := readPage(addr)
		if err != nil {
			return err
		}
		dp := wrapDirPage(buf)
		for name, t := range dp.all() {
			td.put(name, t)
		}
		addr = NextOf(buf)
	}
	return nil
}

func (td *TableDirectory) put(name string, t TableInFile) {
	if _, exists := td.tables[name]; !exists {
		td.order = append(td.order, name)
	}
	td.tables[name] = t
}

// Lookup returns a table's descriptor and whether it exists.
func (td *TableDirectory) Lookup(name string) (TableInFile, bool) {
	t, ok := td.tables[name]
	return t, ok
}

// Put creates or replaces a table's descriptor.
func (td *TableDirectory) Put(name string, t TableInFile) error {
	if len(name) > MaxTableNameLen {
		return fmt.Errorf("store: table name %q exceeds %d bytes", name, MaxTableNameLen)
	}
	td.put(name, t)
	return nil
}

// Remove deletes a table's directory entry.
func (td *TableDirectory) Remove(name string) {
	if _, ok := td.tables[name]; !ok {
		return
	}
	delete(td.tables, name)
	for i, n := range td.order {
		if n == name {
			td.order = append(td.order[:i], td.order[i+1:]...)
			break
		}
	}
}

// Names returns all table names in stable insertion order.
func (td *TableDirectory) Names() []string {
	out := make([]string, len(td.order))
	copy(out, td.order)
	return out
}

// Len returns the number of tables in the directory.
func (td *TableDirectory) Len() int { return len(td.tables) }

// FlushToDisk writes the directory into a chain of directory pages and
// returns the new chain head and the page buffers to persist.
func (td *TableDirectory) FlushToDisk(pageSize int, allocPage func() (Addr, []byte)) (Addr, [][]byte) {
	if len(td.order) == 0 {
		return InvalidAddr, nil
	}

	cap := DirCapacity(pageSize)
	var pages [][]byte
	var head Addr
	var prevBuf []byte

	for i := 0; i < len(td.order); i += cap {
		end := i + cap
		if end > len(td.order) {
			end = len(td.order)
		}

		addr, buf := allocPage()
		dp := initDirPage(buf, addr)
		for _, name := range td.order[i:end] {
			dp.add(name, td.tables[name])
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
