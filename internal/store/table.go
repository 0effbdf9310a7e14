package store

import "encoding/binary"

// SkiplistMaxLevel is the maximum number of levels in a table's skiplist,
// spec §6: SKIPLIST_MAX_LEVEL ≈ 8.
const SkiplistMaxLevel = 8

// MaxTableNameLen bounds a table name as stored inline in a file's table
// directory (spec §6 numeric limits do not name this one explicitly; it is
// sized to keep TableDirEntry a small fixed record like everything else on
// a page).
const MaxTableNameLen = 63

// TableKind affects only how a table's values are rendered for JSON
// import/export (an external collaborator, out of scope here) — it is
// otherwise interchangeable at the binary layer, per spec §3.2.
type TableKind uint8

const (
	TableKindByte TableKind = iota
	TableKindDouble
	TableKindString
	TableKindSet
)

// PageRef is an opaque, page-cache-relative pointer: an address plus a
// byte offset within that page. It is never a native pointer — per the
// rewrite notes in spec §9, all intra-page linkage survives a commit or a
// relocating compaction only because it is resolved through the cache on
// every dereference.
type PageRef struct {
	Addr   Addr
	Offset uint16
}

// NilRef is the zero value of PageRef: "points nowhere."
var NilRef = PageRef{Addr: InvalidAddr, Offset: 0}

func (r PageRef) IsNil() bool { return r.Addr == InvalidAddr }

const pageRefSize = 6 // Addr(4) + Offset(2)

func putPageRef(buf []byte, r PageRef) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Addr))
	binary.LittleEndian.PutUint16(buf[4:6], r.Offset)
}

func getPageRef(buf []byte) PageRef {
	return PageRef{
		Addr:   Addr(binary.LittleEndian.Uint32(buf[0:4])),
		Offset: binary.LittleEndian.Uint16(buf[4:6]),
	}
}

// TableInFileSize is the fixed, on-disk byte size of a TableInFile record,
// spec §3.2. It is small enough to be embedded inline as the value of a
// SETHEAD key (nested set, spec §3.3) as well as in a file's top-level
// table directory.
const TableInFileSize = 2 + SkiplistMaxLevel*pageRefSize + 4*4

// TableInFile is the fixed-size on-disk descriptor for one table: a
// skiplist plus its big-value overflow area, per spec §3.2.
type TableInFile struct {
	Kind      TableKind
	IsSetHead bool

	// TableHead[i] is the level-i entry point into the table's skiplist,
	// or NilRef if no element currently reaches that level.
	TableHead [SkiplistMaxLevel]PageRef

	// TablePageHead/TableUsingPage are the heads of the TABLE page list
	// and its TABLE_USING free-space-summary list.
	TablePageHead  Addr
	TableUsingPage Addr

	// ValuePageHead/ValueUsingPage are the equivalent heads for the
	// big-value VALUE page list.
	ValuePageHead  Addr
	ValueUsingPage Addr
}

// Marshal writes the fixed-size record into buf[:TableInFileSize].
func (t *TableInFile) Marshal(buf []byte) {
	buf[0] = byte(t.Kind)
	if t.IsSetHead {
		buf[1] = 1
	} else {
		buf[1] = 0
	}
	off := 2
	for i := 0; i < SkiplistMaxLevel; i++ {
		putPageRef(buf[off:], t.TableHead[i])
		off += pageRefSize
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(t.TablePageHead))
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(t.TableUsingPage))
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(t.ValuePageHead))
	binary.LittleEndian.PutUint32(buf[off+12:], uint32(t.ValueUsingPage))
}

// UnmarshalTableInFile reads a TableInFile record from buf.
func UnmarshalTableInFile(buf []byte) TableInFile {
	var t TableInFile
	t.Kind = TableKind(buf[0])
	t.IsSetHead = buf[1] != 0
	off := 2
	for i := 0; i < SkiplistMaxLevel; i++ {
		t.TableHead[i] = getPageRef(buf[off:])
		off += pageRefSize
	}
	t.TablePageHead = Addr(binary.LittleEndian.Uint32(buf[off:]))
	t.TableUsingPage = Addr(binary.LittleEndian.Uint32(buf[off+4:]))
	t.ValuePageHead = Addr(binary.LittleEndian.Uint32(buf[off+8:]))
	t.ValueUsingPage = Addr(binary.LittleEndian.Uint32(buf[off+12:]))
	return t
}

// NewTableInFile returns an empty table descriptor of the given kind.
func NewTableInFile(kind TableKind, isSetHead bool) TableInFile {
	t := TableInFile{Kind: kind, IsSetHead: isSetHead}
	for i := range t.TableHead {
		t.TableHead[i] = NilRef
	}
	t.TablePageHead = InvalidAddr
	t.TableUsingPage = InvalidAddr
	t.ValuePageHead = InvalidAddr
	t.ValueUsingPage = InvalidAddr
	return t
}
