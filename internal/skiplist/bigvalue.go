package skiplist

import (
	"encoding/binary"
	"fmt"

	"github.com/pagekv/pagekv/internal/store"
)

// A value too large to fit inline in its Key record is split into a chain
// of segments across VALUE pages (spec §3.2/§4.4). The CRC16 is computed
// once over the whole reassembled value and stored in the owning Key
// record (KeyRecord.BigCRC) — distinct from a page's CRC32-C, which
// covers only one page and is checked at the store layer, not here.

const (
	segHeaderSize = 4 /*nextPage*/ + 2 /*nextOffset*/ + 4 /*segLen*/
)

var crc16Table = func() [256]uint16 {
	const poly = 0xA001
	var t [256]uint16
	for i := 0; i < 256; i++ {
		c := uint16(i)
		for b := 0; b < 8; b++ {
			if c&1 != 0 {
				c = (c >> 1) ^ poly
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc16(data []byte) uint16 {
	c := uint16(0xFFFF)
	for _, b := range data {
		c = (c >> 8) ^ crc16Table[byte(c)^b]
	}
	return c
}

// WriteBigValue writes value as a chain of segments across VALUE pages
// managed by the table's VALUE_USING index, returning the PageRef of the
// first segment and the CRC16 of the full value (spec §3.3/§4.4: "new(value)
// computes CRC16 over the full value" — stored by the caller into the
// owning Key record, not inside any one segment).
func WriteBigValue(pager Pager, using *store.UsingIndex, valuePageHead *store.Addr, value []byte) (store.PageRef, uint16, error) {
	pageSize := pager.PageSize()
	maxSeg := pageSize - elementDataOff - segHeaderSize
	crc := crc16(value)

	var first store.PageRef
	var prevAddr store.Addr
	var prevOff uint16
	havePrev := false

	for off := 0; off < len(value) || (off == 0 && len(value) == 0); {
		end := off + maxSeg
		if end > len(value) {
			end = len(value)
		}
		chunk := value[off:end]

		addr, buf, segOff, err := allocSegment(pager, using, valuePageHead, len(chunk))
		if err != nil {
			return store.NilRef, 0, err
		}
		writeSegment(buf, segOff, chunk, store.InvalidAddr, 0)
		if using != nil {
			using.Update(addr, uint32(FreeSpace(buf)))
		}

		ref := store.PageRef{Addr: addr, Offset: segOff}
		if !havePrev {
			first = ref
			havePrev = true
		} else {
			pbuf, err := pager.CopyOnWrite(prevAddr)
			if err != nil {
				return store.NilRef, 0, err
			}
			patchSegmentNext(pbuf, prevOff, addr, segOff)
		}
		prevAddr, prevOff = addr, segOff

		if end == off {
			break
		}
		off = end
	}

	return first, crc, nil
}

// allocSegment finds room for a new segment of the given length, or
// allocates a fresh VALUE page.
func allocSegment(pager Pager, using *store.UsingIndex, valuePageHead *store.Addr, chunkLen int) (store.Addr, []byte, uint16, error) {
	need := uint32(segHeaderSize + chunkLen)

	if using != nil {
		if addr, ok := using.FindFit(need); ok {
			buf, err := pager.CopyOnWrite(addr)
			if err != nil {
				return 0, nil, 0, err
			}
			if off, ok := reserveSegment(buf, chunkLen); ok {
				return addr, buf, off, nil
			}
		}
	}

	addr, buf, err := pager.CreatePage(store.PageTypeValue)
	if err != nil {
		return 0, nil, 0, err
	}
	// VALUE pages never use the forward element area; they reuse only the
	// tailOff convention to track their backward-growing segment arena.
	h := &store.PageHead{Type: store.PageTypeValue, Addr: addr}
	store.MarshalHead(h, buf)
	setTailOff(buf, len(buf))
	if *valuePageHead == store.InvalidAddr {
		*valuePageHead = addr
	}
	off, ok := reserveSegment(buf, chunkLen)
	if !ok {
		return 0, nil, 0, fmt.Errorf("skiplist: segment too large for an empty VALUE page")
	}
	return addr, buf, off, nil
}

// reserveSegment claims space at the page's tail for one segment, using
// the same backward-growth tail tracked by tailOff (a VALUE page never
// uses the forward element area, so the whole body after the elementCount
// and tailOff fields is available).
func reserveSegment(buf []byte, chunkLen int) (uint16, bool) {
	need := segHeaderSize + chunkLen
	end := tailOff(buf)
	start := end - need
	if start < elementDataOff {
		return 0, false
	}
	setTailOff(buf, start)
	return uint16(start), true
}

func writeSegment(buf []byte, off uint16, chunk []byte, nextAddr store.Addr, nextOff uint16) {
	p := int(off)
	binary.LittleEndian.PutUint32(buf[p:], uint32(nextAddr))
	binary.LittleEndian.PutUint16(buf[p+4:], nextOff)
	binary.LittleEndian.PutUint32(buf[p+6:], uint32(len(chunk)))
	copy(buf[p+segHeaderSize:], chunk)
}

func patchSegmentNext(buf []byte, off uint16, nextAddr store.Addr, nextOff uint16) {
	p := int(off)
	binary.LittleEndian.PutUint32(buf[p:], uint32(nextAddr))
	binary.LittleEndian.PutUint16(buf[p+4:], nextOff)
}

func readSegment(buf []byte, off uint16) (chunk []byte, next store.PageRef) {
	p := int(off)
	next = store.PageRef{
		Addr:   store.Addr(binary.LittleEndian.Uint32(buf[p:])),
		Offset: binary.LittleEndian.Uint16(buf[p+4:]),
	}
	segLen := binary.LittleEndian.Uint32(buf[p+6:])
	chunk = buf[p+segHeaderSize : p+segHeaderSize+int(segLen)]
	return chunk, next
}

// ReadBigValue follows a segment chain starting at first, concatenates
// every segment's payload, and re-verifies the result against wantCRC (the
// CRC16 computed over the full value at write time and stored in the
// owning Key record) — spec §3.3/§4.1: "get ... reassembles the buffer,
// re-verifies CRC, and fails if the CRC mismatches."
func ReadBigValue(pager Pager, first store.PageRef, wantCRC uint16) ([]byte, error) {
	var out []byte
	ref := first
	for !ref.IsNil() {
		buf, err := pager.FindPage(ref.Addr)
		if err != nil {
			return nil, err
		}
		chunk, next := readSegment(buf, ref.Offset)
		out = append(out, chunk...)
		ref = next
	}
	if crc16(out) != wantCRC {
		return nil, fmt.Errorf("skiplist: CRC16 mismatch reassembling big value at page %d", first.Addr)
	}
	return out, nil
}
