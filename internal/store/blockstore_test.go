package store

import (
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *BlockStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pagekv")
	bs, err := Open(path, DefaultPageSize, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { bs.Close() })
	return bs
}

func TestBlockStoreAllocWriteRead(t *testing.T) {
	bs := openTemp(t)

	addr, buf := bs.AllocPage()
	if addr == InvalidAddr {
		t.Fatal("AllocPage returned InvalidAddr")
	}
	h := &PageHead{Type: PageTypeTable, Addr: addr}
	MarshalHead(h, buf)
	copy(buf[PageHeaderSize:], []byte("hello"))
	if err := bs.WritePage(addr, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	got, err := bs.ReadPage(addr)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+5]) != "hello" {
		t.Fatalf("payload mismatch: %q", got[PageHeaderSize:PageHeaderSize+5])
	}
}

func TestBlockStoreFreedPageIsReused(t *testing.T) {
	bs := openTemp(t)

	addr1, _ := bs.AllocPage()
	bs.FreePage(addr1)
	addr2, _ := bs.AllocPage()
	if addr2 != addr1 {
		t.Fatalf("expected freed page %d to be reused, got %d", addr1, addr2)
	}
}

func TestBlockStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.pagekv")
	bs, err := Open(path, DefaultPageSize, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	addr, buf := bs.AllocPage()
	MarshalHead(&PageHead{Type: PageTypeTable, Addr: addr}, buf)
	copy(buf[PageHeaderSize:], []byte("durable"))
	if err := bs.WritePage(addr, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := bs.Directory().Put("t1", NewTableInFile(TableKindString, false)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, DefaultPageSize, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadPage(addr)
	if err != nil {
		t.Fatalf("ReadPage after reopen: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+7]) != "durable" {
		t.Fatalf("payload lost across reopen: %q", got[PageHeaderSize:PageHeaderSize+7])
	}
	if _, ok := reopened.Directory().Lookup("t1"); !ok {
		t.Fatal("table directory entry lost across reopen")
	}
}

func TestOpenRejectsPageSizeOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pagekv")
	if _, err := Open(path, 100, true); err == nil {
		t.Fatal("expected error for page size below MinPageSize")
	}
}
