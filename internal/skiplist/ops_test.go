package skiplist

import (
	"path/filepath"
	"testing"

	"github.com/pagekv/pagekv/internal/cache"
	"github.com/pagekv/pagekv/internal/store"
)

func newTestTable(t *testing.T) (*Table, *cache.Tx, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skiplist.pagekv")
	bs, err := store.Open(path, store.DefaultPageSize, true)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	c := cache.Open(bs)
	tx := c.Begin()
	desc := store.NewTableInFile(store.TableKindString, false)
	using := store.NewUsingIndex(store.PageTypeTableUsing)
	valueUsing := store.NewUsingIndex(store.PageTypeValueUsing)
	tbl := NewTable(desc, using, valueUsing, tx)
	return tbl, tx, func() { bs.Close() }
}

func TestInsertAndGet(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	if err := tbl.Insert([]byte("alpha"), []byte("1"), ValueNormal); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Insert([]byte("beta"), []byte("2"), ValueNormal); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	kr, ok, err := tbl.Get([]byte("alpha"))
	if err != nil || !ok {
		t.Fatalf("Get(alpha): ok=%v err=%v", ok, err)
	}
	if string(kr.Value) != "1" {
		t.Fatalf("Get(alpha) value = %q, want %q", kr.Value, "1")
	}

	if _, ok, err := tbl.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("Get(missing): ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestInsertReplacesExistingValue(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	if err := tbl.Insert([]byte("k"), []byte("v1"), ValueNormal); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Insert([]byte("k"), []byte("v2"), ValueNormal); err != nil {
		t.Fatalf("Insert replace: %v", err)
	}
	kr, ok, err := tbl.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(kr.Value) != "v2" {
		t.Fatalf("Get = %q, want %q", kr.Value, "v2")
	}
}

func TestDelete(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	if err := tbl.Insert([]byte("gone"), []byte("x"), ValueNormal); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ok, err := tbl.Delete([]byte("gone"))
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if _, ok, err := tbl.Get([]byte("gone")); err != nil || ok {
		t.Fatalf("Get after delete: ok=%v err=%v", ok, err)
	}
	if ok, err := tbl.Delete([]byte("gone")); err != nil || ok {
		t.Fatalf("second Delete: ok=%v err=%v, want false", ok, err)
	}
}

func TestRangeAscendingOrder(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	keys := []string{"c", "a", "e", "b", "d"}
	for _, k := range keys {
		if err := tbl.Insert([]byte(k), []byte(k+"v"), ValueNormal); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	var got []string
	if err := tbl.Range(nil, nil, func(key, _ []byte) bool {
		got = append(got, string(key))
		return true
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("Range returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Range[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRangeBounded(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := tbl.Insert([]byte(k), nil, ValueNormal); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	var got []string
	if err := tbl.Range([]byte("b"), []byte("d"), func(key, _ []byte) bool {
		got = append(got, string(key))
		return true
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}
	want := []string{"b", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Range[b,d) = %v, want %v", got, want)
	}
}

func TestMatchGlob(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		if err := tbl.Insert([]byte(k), nil, ValueNormal); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	var got []string
	if err := tbl.Match([]byte("user:*"), func(key, _ []byte) bool {
		got = append(got, string(key))
		return true
	}); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Match(user:*) = %v, want 2 matches", got)
	}
}

func TestRangeOrdersByLengthThenLexicographically(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	// "b" < "aa" under length-first ordering (len 1 < len 2), even though
	// "aa" < "b" lexicographically.
	if err := tbl.Insert([]byte("b"), nil, ValueNormal); err != nil {
		t.Fatalf("Insert(b): %v", err)
	}
	if err := tbl.Insert([]byte("aa"), nil, ValueNormal); err != nil {
		t.Fatalf("Insert(aa): %v", err)
	}

	var got []string
	if err := tbl.Range(nil, nil, func(key, _ []byte) bool {
		got = append(got, string(key))
		return true
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}
	want := []string{"b", "aa"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Range = %v, want %v", got, want)
	}
}

func TestBigValueRoundTrip(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	big := make([]byte, store.DefaultPageSize*3)
	for i := range big {
		big[i] = byte(i)
	}

	if err := tbl.Insert([]byte("huge"), big, ValueNormal); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	kr, ok, err := tbl.Get([]byte("huge"))
	if err != nil || !ok {
		t.Fatalf("Get(huge): ok=%v err=%v", ok, err)
	}
	if kr.Type != ValueBig {
		t.Fatalf("KeyRecord.Type = %v, want ValueBig", kr.Type)
	}
	if string(kr.Value) != string(big) {
		t.Fatal("big value round trip did not reproduce the original bytes")
	}
}

func TestBigValueCRCMismatchFailsRead(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	big := make([]byte, store.DefaultPageSize*2)
	if err := tbl.Insert([]byte("huge"), big, ValueNormal); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, found, err := tbl.findPath([]byte("huge"))
	if err != nil || found.IsNil() {
		t.Fatalf("findPath(huge): found=%v err=%v", found, err)
	}
	buf, err := refPage(tbl, found)
	if err != nil {
		t.Fatalf("refPage: %v", err)
	}
	e := readElementAt(buf, found.Offset)
	kbuf, err := refPage(tbl, e.KeyRef)
	if err != nil {
		t.Fatalf("refPage(key): %v", err)
	}
	// Corrupt one byte of the first segment's payload in place.
	seg, err := refPage(tbl, readKeyRecord(kbuf, int(e.KeyRef.Offset)).Big)
	if err != nil {
		t.Fatalf("refPage(segment): %v", err)
	}
	seg[len(seg)-1] ^= 0xFF

	if _, _, err := tbl.Get([]byte("huge")); err == nil {
		t.Fatal("Get should fail after corrupting a big-value segment")
	}
}

func TestManyInsertsSpanningPages(t *testing.T) {
	tbl, _, closeFn := newTestTable(t)
	defer closeFn()

	const n = 500
	for i := 0; i < n; i++ {
		k := []byte{byte(i >> 8), byte(i)}
		if err := tbl.Insert(k, k, ValueNormal); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}

	count := 0
	if err := tbl.Range(nil, nil, func(_, _ []byte) bool { count++; return true }); err != nil {
		t.Fatalf("Range: %v", err)
	}
	if count != n {
		t.Fatalf("Range visited %d keys, want %d", count, n)
	}
}
