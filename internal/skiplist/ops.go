package skiplist

import (
	"bytes"
	"fmt"

	"github.com/pagekv/pagekv/internal/store"
)

// Pager is the subset of the cache's transaction API the skiplist needs:
// find a page read-only, copy it into the transaction's dirty set before
// mutating it, create a brand new page, or delete one. Implemented by
// cache.Tx (spec §5: find_page, copy_on_write, create_page, del_page).
type Pager interface {
	FindPage(addr store.Addr) ([]byte, error)
	CopyOnWrite(addr store.Addr) ([]byte, error)
	CreatePage(pt store.PageType) (store.Addr, []byte, error)
	DelPage(addr store.Addr) error
	PageSize() int
}

// Table wraps a store.TableInFile with the page source needed to operate
// on it. Manager hands these out; callers do not construct store.TableInFile
// by hand.
type Table struct {
	Desc       store.TableInFile
	Using      *store.UsingIndex // TABLE_USING index, loaded by the caller
	ValueUsing *store.UsingIndex // VALUE_USING index, for big-value segments
	pager      Pager
}

// NewTable wraps a table descriptor for skiplist operations. valueUsing may
// be nil for tables that never hold an oversized value; Insert allocates it
// lazily is not supported, so callers that expect big values must load it
// from TableInFile.ValueUsingPage the same way they load using.
func NewTable(desc store.TableInFile, using, valueUsing *store.UsingIndex, pager Pager) *Table {
	return &Table{Desc: desc, Using: using, ValueUsing: valueUsing, pager: pager}
}

// fitsInline reports whether kr could be written whole into a brand new,
// empty TABLE page. A record that can't is rewritten by the caller as a
// ValueBig record chained across VALUE pages instead (spec §3.3/§4.4).
func (t *Table) fitsInline(kr *KeyRecord) bool {
	maxOnEmptyPage := t.pager.PageSize() - elementDataOff - elementSize
	return kr.EncodedLen() <= maxOnEmptyPage
}

// keyCompare orders keys first by byte length, then lexicographically for
// keys of equal length (spec §4.1; the C reference's own comparator,
// `plg_TablePrevFindCmpFun`/`plg_TableTailFindCmpFun`, does the same).
func keyCompare(a, b []byte) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a, b)
}

func refPage(t *Table, ref store.PageRef) ([]byte, error) {
	if ref.IsNil() {
		return nil, nil
	}
	return t.pager.FindPage(ref.Addr)
}

// findPath walks the skiplist from the highest populated level down to
// level 0, collecting, at each level, the last element whose key is
// strictly less than key. update[l] is that element's PageRef (NilRef if
// key belongs at the head of level l).
func (t *Table) findPath(key []byte) (update [store.SkiplistMaxLevel]store.PageRef, found store.PageRef, err error) {
	for l := range update {
		update[l] = store.NilRef
	}

	cur := store.NilRef
	for l := store.SkiplistMaxLevel - 1; l >= 0; l-- {
		head := t.Desc.TableHead[l]
		next := head
		if !cur.IsNil() {
			buf, ferr := refPage(t, cur)
			if ferr != nil {
				return update, store.NilRef, ferr
			}
			e := readElementAt(buf, cur.Offset)
			next = e.Forward[l]
		}

		for !next.IsNil() {
			buf, ferr := refPage(t, next)
			if ferr != nil {
				return update, store.NilRef, ferr
			}
			e := readElementAt(buf, next.Offset)
			kbuf, kerr := refPage(t, e.KeyRef)
			if kerr != nil {
				return update, store.NilRef, kerr
			}
			kr := readKeyRecord(kbuf, int(e.KeyRef.Offset))
			if keyCompare(kr.Key, key) >= 0 {
				break
			}
			cur = next
			next = e.Forward[l]
		}
		update[l] = cur
	}

	// The element immediately after the level-0 predecessor, if any, is
	// the candidate match.
	var candidate store.PageRef
	if update[0].IsNil() {
		candidate = t.Desc.TableHead[0]
	} else {
		buf, ferr := refPage(t, update[0])
		if ferr != nil {
			return update, store.NilRef, ferr
		}
		candidate = readElementAt(buf, update[0].Offset).Forward[0]
	}
	if !candidate.IsNil() {
		buf, ferr := refPage(t, candidate)
		if ferr != nil {
			return update, store.NilRef, ferr
		}
		e := readElementAt(buf, candidate.Offset)
		kbuf, kerr := refPage(t, e.KeyRef)
		if kerr != nil {
			return update, store.NilRef, kerr
		}
		kr := readKeyRecord(kbuf, int(e.KeyRef.Offset))
		if bytes.Equal(kr.Key, key) {
			found = candidate
		}
	}
	return update, found, nil
}

// readElementAt decodes the element at a PageRef's byte offset (offsets
// are absolute, not slot indices, since a forward pointer captures the
// offset at insert time and slots are never renumbered).
func readElementAt(buf []byte, off uint16) Element { return readElementAtOff(buf, int(off)) }

func encodeElementAt(buf []byte, off int, e Element) { writeElementAtOff(buf, off, e) }

// Get looks up key and returns its decoded record, or ok=false if absent.
// A ValueBig record's Value field is filled in by walking and CRC16-
// verifying its VALUE-page segment chain (spec §3.3/§4.4); callers never
// see the raw PageRef/segment representation.
func (t *Table) Get(key []byte) (KeyRecord, bool, error) {
	_, found, err := t.findPath(key)
	if err != nil {
		return KeyRecord{}, false, err
	}
	if found.IsNil() {
		return KeyRecord{}, false, nil
	}
	buf, err := refPage(t, found)
	if err != nil {
		return KeyRecord{}, false, err
	}
	e := readElementAt(buf, found.Offset)
	kbuf, err := refPage(t, e.KeyRef)
	if err != nil {
		return KeyRecord{}, false, err
	}
	kr := readKeyRecord(kbuf, int(e.KeyRef.Offset))
	if kr.Type == ValueBig {
		value, rerr := ReadBigValue(t.pager, kr.Big, kr.BigCRC)
		if rerr != nil {
			return KeyRecord{}, false, rerr
		}
		kr.Value = value
	}
	return kr, true, nil
}

// Insert adds or replaces key's value. If the key already exists, its old
// key record is left in place (its bytes are not reclaimed) and a fresh
// one is appended; the element tower is rewritten only on first insert,
// since towers are heavier to relocate than a 6-byte KeyRef. A
// ValueNormal value too large to fit inline on an empty page is instead
// written as a chain of VALUE-page segments (spec §3.3/§4.4) and the key
// record stores a ValueBig descriptor (head segment, length, CRC16) in
// place of the inline bytes.
func (t *Table) Insert(key, value []byte, valueType ValueType) error {
	update, found, err := t.findPath(key)
	if err != nil {
		return err
	}

	kr := &KeyRecord{Type: valueType, Key: key, Value: value}
	if valueType == ValueNormal && !t.fitsInline(kr) {
		ref, crc, werr := WriteBigValue(t.pager, t.ValueUsing, &t.Desc.ValuePageHead, value)
		if werr != nil {
			return werr
		}
		kr = &KeyRecord{Type: ValueBig, Key: key, Big: ref, BigLen: uint32(len(value)), BigCRC: crc}
	}

	if !found.IsNil() {
		buf, err := t.pager.CopyOnWrite(found.Addr)
		if err != nil {
			return err
		}
		keyOff, ok := t.placeKeyRecord(found.Addr, buf, kr)
		if !ok {
			return fmt.Errorf("skiplist: no room to update key on page %d", found.Addr)
		}
		e := readElementAt(buf, found.Offset)
		e.KeyRef = store.PageRef{Addr: found.Addr, Offset: keyOff}
		encodeElementAt(buf, int(found.Offset), e)
		t.recordFreeSpace(found.Addr, buf)
		return nil
	}

	level := RandomLevel()
	addr, buf, keyOff, err := t.allocElementSpace(kr, level)
	if err != nil {
		return err
	}

	var e Element
	e.Level = level
	e.KeyRef = store.PageRef{Addr: addr, Offset: keyOff}
	slotOff, ok := appendElement(buf, e)
	if !ok {
		return fmt.Errorf("skiplist: no room for element tower on page %d", addr)
	}
	self := store.PageRef{Addr: addr, Offset: slotOff}

	for l := 0; l < int(level); l++ {
		pred := update[l]
		if pred.IsNil() {
			e.Forward[l] = t.Desc.TableHead[l]
			t.Desc.TableHead[l] = self
		} else {
			pbuf, err := t.pager.CopyOnWrite(pred.Addr)
			if err != nil {
				return err
			}
			pe := readElementAt(pbuf, pred.Offset)
			e.Forward[l] = pe.Forward[l]
			pe.Forward[l] = self
			encodeElementAt(pbuf, int(pred.Offset), pe)
		}
	}
	if level > 0 {
		if !update[0].IsNil() {
			e.Backward = update[0]
		}
	}
	encodeElementAt(buf, int(slotOff), e)
	t.recordFreeSpace(addr, buf)
	return nil
}

// placeKeyRecord writes kr into addr's page and reports false if that page
// has no room; no other page is tried.
func (t *Table) placeKeyRecord(addr store.Addr, buf []byte, kr *KeyRecord) (uint16, bool) {
	if off, ok := appendKeyRecord(buf, kr); ok {
		return off, true
	}
	return 0, false
}

// allocElementSpace finds or creates a TABLE page with room for both a
// new element tower and its key record, via the table's TABLE_USING
// best-fit index (spec §4.3).
func (t *Table) allocElementSpace(kr *KeyRecord, level uint8) (store.Addr, []byte, uint16, error) {
	need := uint32(elementSize + kr.EncodedLen())

	if t.Using != nil {
		if addr, ok := t.Using.FindFit(need); ok {
			buf, err := t.pager.CopyOnWrite(addr)
			if err != nil {
				return 0, nil, 0, err
			}
			if off, ok := appendKeyRecord(buf, kr); ok {
				t.recordFreeSpace(addr, buf)
				return addr, buf, off, nil
			}
		}
	}

	addr, buf, err := t.pager.CreatePage(store.PageTypeTable)
	if err != nil {
		return 0, nil, 0, err
	}
	InitTablePage(buf, addr)
	if t.Desc.TablePageHead == store.InvalidAddr {
		t.Desc.TablePageHead = addr
	}
	off, ok := appendKeyRecord(buf, kr)
	if !ok {
		return 0, nil, 0, fmt.Errorf("skiplist: key record too large for an empty page")
	}
	t.recordFreeSpace(addr, buf)
	return addr, buf, off, nil
}

func (t *Table) recordFreeSpace(addr store.Addr, buf []byte) {
	if t.Using != nil {
		t.Using.Update(addr, uint32(FreeSpace(buf)))
	}
}

// Delete removes key if present. It unlinks the tower from every level it
// participated in; the vacated element slot and key bytes stay on the page
// and are not reclaimed (this package has no compaction step).
func (t *Table) Delete(key []byte) (bool, error) {
	update, found, err := t.findPath(key)
	if err != nil {
		return false, err
	}
	if found.IsNil() {
		return false, nil
	}

	buf, err := refPage(t, found)
	if err != nil {
		return false, err
	}
	e := readElementAt(buf, found.Offset)

	for l := 0; l < int(e.Level); l++ {
		pred := update[l]
		if pred.IsNil() {
			t.Desc.TableHead[l] = e.Forward[l]
			continue
		}
		pbuf, err := t.pager.CopyOnWrite(pred.Addr)
		if err != nil {
			return false, err
		}
		pe := readElementAt(pbuf, pred.Offset)
		pe.Forward[l] = e.Forward[l]
		encodeElementAt(pbuf, int(pred.Offset), pe)
	}
	return true, nil
}

// Range calls fn for every key in [start, end) in ascending order, stopping
// early if fn returns false. A nil start/end means unbounded on that side.
func (t *Table) Range(start, end []byte, fn func(key, value []byte) bool) error {
	cur := t.Desc.TableHead[0]
	if start != nil {
		update, _, err := t.findPath(start)
		if err != nil {
			return err
		}
		if update[0].IsNil() {
			cur = t.Desc.TableHead[0]
		} else {
			buf, err := refPage(t, update[0])
			if err != nil {
				return err
			}
			cur = readElementAt(buf, update[0].Offset).Forward[0]
		}
	}

	for !cur.IsNil() {
		buf, err := refPage(t, cur)
		if err != nil {
			return err
		}
		e := readElementAt(buf, cur.Offset)
		kbuf, err := refPage(t, e.KeyRef)
		if err != nil {
			return err
		}
		kr := readKeyRecord(kbuf, int(e.KeyRef.Offset))
		if end != nil && keyCompare(kr.Key, end) >= 0 {
			return nil
		}
		if !fn(kr.Key, kr.Value) {
			return nil
		}
		cur = e.Forward[0]
	}
	return nil
}

// Match calls fn for every key matching a '*'/'?' glob pattern, in
// ascending key order. It is a full scan: the skiplist is ordered by key
// bytes, not by pattern, so there is no index shortcut here.
func (t *Table) Match(pattern []byte, fn func(key, value []byte) bool) error {
	return t.Range(nil, nil, func(key, value []byte) bool {
		if globMatch(pattern, key) {
			return fn(key, value)
		}
		return true
	})
}

func globMatch(pattern, s []byte) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		}
	}
	return len(s) == 0
}
