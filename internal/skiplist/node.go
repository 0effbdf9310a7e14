// Package skiplist implements the on-page skiplist index used by every
// table: a forward-pointer tower per key, stored in a TABLE page's slot
// array, with the key/value payload stored backward-growing in the same
// page (or chained VALUE pages, for big values), the same slotted-page
// discipline tinySQL's B+Tree pages used, adapted from a balanced-tree
// node to a skiplist tower.
package skiplist

import (
	"encoding/binary"
	"math/rand"

	"github.com/pagekv/pagekv/internal/store"
)

// ValueType tags what a Key record's payload actually is.
type ValueType uint8

const (
	ValueNormal   ValueType = iota // inline value, fits on this page
	ValueBig                       // payload lives in a chained VALUE segment
	ValueSetHead                   // payload is an inline nested TableInFile
)

const (
	elementCountOff = store.PageHeaderSize // 32
	tailOffOff      = elementCountOff + 4  // 36: backward key-area start
	elementDataOff  = tailOffOff + 4        // 40
)

// InitTablePage initializes a freshly allocated page as an empty TABLE
// page: zero elements, and a key area starting at the end of the page.
func InitTablePage(buf []byte, addr store.Addr) {
	h := &store.PageHead{Type: store.PageTypeTable, Addr: addr, PrevPage: store.InvalidAddr, NextPage: store.InvalidAddr}
	store.MarshalHead(h, buf)
	setElementCount(buf, 0)
	setTailOff(buf, len(buf))
}

func tailOff(buf []byte) int { return int(binary.LittleEndian.Uint32(buf[tailOffOff:])) }

func setTailOff(buf []byte, off int) { binary.LittleEndian.PutUint32(buf[tailOffOff:], uint32(off)) }

// FreeSpace returns the number of bytes still available between the
// forward-growing element array and the backward-growing key area. The
// cache layer reports this to the table's TABLE_USING index after any
// mutation.
func FreeSpace(buf []byte) int {
	used := elementOff(elementCount(buf))
	return tailOff(buf) - used
}

// elementSize is the fixed size of one Element slot: level + forward
// pointers for every level + a backward pointer + a reference to its Key
// record.
const elementSize = 1 /*level*/ + store.SkiplistMaxLevel*6 /*forward PageRefs*/ + 6 /*backward*/ + 6 /*keyRef*/

// Element is one key's skiplist tower, as stored in a TABLE page's slot
// array.
type Element struct {
	Level    uint8
	Forward  [store.SkiplistMaxLevel]store.PageRef
	Backward store.PageRef
	KeyRef    store.PageRef
}

func elementCapacity(pageSize int) int {
	return (pageSize - elementDataOff) / elementSize
}

func elementCount(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[elementCountOff:]))
}

func setElementCount(buf []byte, n int) {
	binary.LittleEndian.PutUint32(buf[elementCountOff:], uint32(n))
}

func elementOff(i int) int { return elementDataOff + i*elementSize }

func readElement(buf []byte, i int) Element { return readElementAtOff(buf, elementOff(i)) }

// readElementAtOff decodes an Element at an arbitrary byte offset, used by
// callers holding a PageRef (which stores a byte offset, not a slot index).
func readElementAtOff(buf []byte, off int) Element {
	var e Element
	e.Level = buf[off]
	p := off + 1
	for l := 0; l < store.SkiplistMaxLevel; l++ {
		e.Forward[l] = store.PageRef{
			Addr:   store.Addr(binary.LittleEndian.Uint32(buf[p:])),
			Offset: binary.LittleEndian.Uint16(buf[p+4:]),
		}
		p += 6
	}
	e.Backward = store.PageRef{
		Addr:   store.Addr(binary.LittleEndian.Uint32(buf[p:])),
		Offset: binary.LittleEndian.Uint16(buf[p+4:]),
	}
	p += 6
	e.KeyRef = store.PageRef{
		Addr:   store.Addr(binary.LittleEndian.Uint32(buf[p:])),
		Offset: binary.LittleEndian.Uint16(buf[p+4:]),
	}
	return e
}

func writeElement(buf []byte, i int, e Element) { writeElementAtOff(buf, elementOff(i), e) }

// writeElementAtOff encodes an Element at an arbitrary byte offset.
func writeElementAtOff(buf []byte, off int, e Element) {
	buf[off] = e.Level
	p := off + 1
	for l := 0; l < store.SkiplistMaxLevel; l++ {
		binary.LittleEndian.PutUint32(buf[p:], uint32(e.Forward[l].Addr))
		binary.LittleEndian.PutUint16(buf[p+4:], e.Forward[l].Offset)
		p += 6
	}
	binary.LittleEndian.PutUint32(buf[p:], uint32(e.Backward.Addr))
	binary.LittleEndian.PutUint16(buf[p+4:], e.Backward.Offset)
	p += 6
	binary.LittleEndian.PutUint32(buf[p:], uint32(e.KeyRef.Addr))
	binary.LittleEndian.PutUint16(buf[p+4:], e.KeyRef.Offset)
}

// appendElement appends a new element slot to a TABLE page, growing the
// slot array forward. It returns the slot's offset and false if the page
// has no room left before colliding with the backward-growing key area.
func appendElement(buf []byte, e Element) (uint16, bool) {
	n := elementCount(buf)
	off := elementOff(n)
	if off+elementSize > tailOff(buf) {
		return 0, false
	}
	writeElement(buf, n, e)
	setElementCount(buf, n+1)
	return uint16(off), true
}

// appendKeyRecord writes kr into the backward-growing key area, returning
// its new offset and false if there is no room.
func appendKeyRecord(buf []byte, kr *KeyRecord) (uint16, bool) {
	end := tailOff(buf)
	need := kr.EncodedLen()
	used := elementOff(elementCount(buf))
	if end-need < used {
		return 0, false
	}
	start := writeKeyRecord(buf, end, kr)
	setTailOff(buf, start)
	return uint16(start), true
}

// RandomLevel picks a tower height the way a classic skiplist does: each
// additional level has a 1-in-4 chance, capped at SkiplistMaxLevel.
func RandomLevel() uint8 {
	lvl := uint8(1)
	for lvl < store.SkiplistMaxLevel && rand.Intn(4) == 0 {
		lvl++
	}
	return lvl
}

// ───────────────────────────────────────────────────────────────────────────
// Key records (grow backward from the end of a TABLE page)
// ───────────────────────────────────────────────────────────────────────────

// keyRecordHeader is the fixed portion preceding a key record's variable
// key/value bytes: valueType(1) + keyLen(2) + valueLen(4) = 7 bytes, plus
// for ValueBig the 6-byte PageRef of the first VALUE segment and the 2-byte
// CRC16 in place of inline value bytes, and for ValueSetHead a store.TableInFileSize inline
// blob in place of inline value bytes.
const keyRecordHeaderSize = 1 + 2 + 4

// KeyRecord is the decoded form of one key's backward-growing record.
type KeyRecord struct {
	Type  ValueType
	Key   []byte
	Value []byte     // inline value (ValueNormal), or encoded nested table (ValueSetHead)
	Big   store.PageRef // first VALUE segment (ValueBig only)
	BigLen uint32
	BigCRC uint16     // CRC16 over the full reassembled value (ValueBig only)
}

// EncodedLen returns how many bytes this record occupies in the backward
// key area.
func (kr *KeyRecord) EncodedLen() int {
	n := keyRecordHeaderSize + len(kr.Key)
	switch kr.Type {
	case ValueBig:
		n += 6 + 2 // PageRef of first segment + CRC16
	default:
		n += len(kr.Value)
	}
	return n
}

// writeKeyRecord writes kr ending at byte offset end (exclusive) and
// returns the start offset.
func writeKeyRecord(buf []byte, end int, kr *KeyRecord) int {
	n := kr.EncodedLen()
	start := end - n
	p := start
	buf[p] = byte(kr.Type)
	p++
	binary.LittleEndian.PutUint16(buf[p:], uint16(len(kr.Key)))
	p += 2
	switch kr.Type {
	case ValueBig:
		binary.LittleEndian.PutUint32(buf[p:], kr.BigLen)
	default:
		binary.LittleEndian.PutUint32(buf[p:], uint32(len(kr.Value)))
	}
	p += 4
	copy(buf[p:], kr.Key)
	p += len(kr.Key)
	switch kr.Type {
	case ValueBig:
		binary.LittleEndian.PutUint32(buf[p:], uint32(kr.Big.Addr))
		binary.LittleEndian.PutUint16(buf[p+4:], kr.Big.Offset)
		binary.LittleEndian.PutUint16(buf[p+6:], kr.BigCRC)
	default:
		copy(buf[p:], kr.Value)
	}
	return start
}

func readKeyRecord(buf []byte, start int) KeyRecord {
	var kr KeyRecord
	p := start
	kr.Type = ValueType(buf[p])
	p++
	keyLen := binary.LittleEndian.Uint16(buf[p:])
	p += 2
	valLen := binary.LittleEndian.Uint32(buf[p:])
	p += 4
	kr.Key = append([]byte(nil), buf[p:p+int(keyLen)]...)
	p += int(keyLen)
	switch kr.Type {
	case ValueBig:
		kr.Big = store.PageRef{
			Addr:   store.Addr(binary.LittleEndian.Uint32(buf[p:])),
			Offset: binary.LittleEndian.Uint16(buf[p+4:]),
		}
		kr.BigCRC = binary.LittleEndian.Uint16(buf[p+6:])
		kr.BigLen = valLen
	default:
		kr.Value = append([]byte(nil), buf[p:p+int(valLen)]...)
	}
	return kr
}
