// Package store implements the page-addressable block store: the on-disk
// layout of fixed-size pages, page-type headers, and the per-file free
// page allocator. It has no notion of transactions or dirty tracking —
// that lives one layer up, in the cache package.
package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants
// ───────────────────────────────────────────────────────────────────────────

const (
	// DefaultPageSize is the default page size in bytes (8 KiB).
	DefaultPageSize = 8192

	// MinPageSize is the minimum allowed page size (4 KiB).
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size (64 KiB).
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common page header in bytes.
	// Layout:
	//   [0]     PageType    (1 byte)
	//   [1]     Flags       (1 byte, reserved)
	//   [2:4]   Reserved    (2 bytes)
	//   [4:8]   Addr        (4 bytes, uint32 LE) — logical page number
	//   [8:12]  PrevPage    (4 bytes, uint32 LE)
	//   [12:16] NextPage    (4 bytes, uint32 LE)
	//   [16:20] CRC32       (4 bytes, uint32 LE)
	//   [20:32] Reserved    (12 bytes)
	PageHeaderSize = 32

	// InvalidAddr represents a null/invalid page pointer.
	InvalidAddr Addr = 0
)

// ───────────────────────────────────────────────────────────────────────────
// Page types
// ───────────────────────────────────────────────────────────────────────────

// PageType identifies the kind of data stored in a page, per spec §3.1.
type PageType uint8

const (
	PageTypeHead        PageType = 0x01 // file header (addr 0) and table-directory pages
	PageTypeTable       PageType = 0x02 // skiplist table page
	PageTypeTableUsing  PageType = 0x03 // free-space summary for TABLE pages
	PageTypeValue       PageType = 0x04 // big-value segment chain page
	PageTypeValueUsing  PageType = 0x05 // free-space summary for VALUE pages
	PageTypeFreeList    PageType = 0x06 // allocator's free-page chain
)

// String returns a human-readable label for the page type.
func (pt PageType) String() string {
	switch pt {
	case PageTypeHead:
		return "HEAD"
	case PageTypeTable:
		return "TABLE"
	case PageTypeTableUsing:
		return "TABLE_USING"
	case PageTypeValue:
		return "VALUE"
	case PageTypeValueUsing:
		return "VALUE_USING"
	case PageTypeFreeList:
		return "FREELIST"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Core types
// ───────────────────────────────────────────────────────────────────────────

// Addr is a logical page number, stable for the page's lifetime (spec §3.1:
// "a page's addr never changes"). Addr 0 is always the file head page.
type Addr uint32

// PageHead is the header present at the start of every page: the page's
// own address, its type, and the prev/next pointers of the intrusive
// doubly-linked list it belongs to (one list per PageType per file).
type PageHead struct {
	Type     PageType
	Flags    uint8
	Reserved uint16
	Addr     Addr
	PrevPage Addr
	NextPage Addr
	CRC      uint32
	Pad      [12]byte
}

// MarshalHead writes a PageHead into the first PageHeaderSize bytes of buf.
func MarshalHead(h *PageHead, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("buffer too small for PageHead")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Addr))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.PrevPage))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.NextPage))
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
	copy(buf[20:32], h.Pad[:])
}

// UnmarshalHead reads a PageHead from the first PageHeaderSize bytes of buf.
func UnmarshalHead(buf []byte) PageHead {
	var h PageHead
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.Addr = Addr(binary.LittleEndian.Uint32(buf[4:8]))
	h.PrevPage = Addr(binary.LittleEndian.Uint32(buf[8:12]))
	h.NextPage = Addr(binary.LittleEndian.Uint32(buf[12:16]))
	h.CRC = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.Pad[:], buf[20:32])
	return h
}

// PageTypeOf reads just the type byte without parsing the whole header.
func PageTypeOf(buf []byte) PageType { return PageType(buf[0]) }

// AddrOf reads just the addr field without parsing the whole header.
func AddrOf(buf []byte) Addr { return Addr(binary.LittleEndian.Uint32(buf[4:8])) }

// SetPrevNext patches the intrusive list pointers in place.
func SetPrevNext(buf []byte, prev, next Addr) {
	binary.LittleEndian.PutUint32(buf[8:12], uint32(prev))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(next))
}

func PrevOf(buf []byte) Addr { return Addr(binary.LittleEndian.Uint32(buf[8:12])) }
func NextOf(buf []byte) Addr { return Addr(binary.LittleEndian.Uint32(buf[12:16])) }

// ───────────────────────────────────────────────────────────────────────────
// CRC helpers
// ───────────────────────────────────────────────────────────────────────────

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC
// field (bytes 16..20) as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:16])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[20:])
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte) {
	c := ComputePageCRC(page)
	binary.LittleEndian.PutUint32(page[16:20], c)
}

// VerifyPageCRC checks the CRC32 checksum of a page.
func VerifyPageCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[16:20])
	computed := ComputePageCRC(page)
	if stored != computed {
		addr := AddrOf(page)
		return fmt.Errorf("CRC mismatch on page %d: stored=%08x computed=%08x", addr, stored, computed)
	}
	return nil
}

// NewPage allocates a zeroed page buffer and writes its header.
func NewPage(pageSize int, pt PageType, addr Addr) []byte {
	buf := make([]byte, pageSize)
	h := &PageHead{Type: pt, Addr: addr, PrevPage: InvalidAddr, NextPage: InvalidAddr}
	MarshalHead(h, buf)
	return buf
}
