package manager

import (
	"path/filepath"
	"testing"

	"github.com/pagekv/pagekv/internal/config"
	"github.com/pagekv/pagekv/internal/store"
)

func testOpener(t *testing.T) func(path string, pageSize int, create bool) (*store.BlockStore, error) {
	t.Helper()
	return store.Open
}

func TestFilePackerReusesLeastWeightFile(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MaxTableWeight = 100
	p := newFilePacker(cfg, testOpener(t))

	f1, err := p.assign("t1", 60, nil, false)
	if err != nil {
		t.Fatalf("assign t1: %v", err)
	}
	f2, err := p.assign("t2", 30, nil, false)
	if err != nil {
		t.Fatalf("assign t2: %v", err)
	}
	if f1 != f2 {
		t.Fatalf("t2 (weight 30) should fit in t1's file (weight 60, cap 100); got a different file")
	}
	if f1.weight != 90 {
		t.Fatalf("combined weight = %d, want 90", f1.weight)
	}
}

func TestFilePackerOpensNewFileWhenNoRoom(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MaxTableWeight = 100
	p := newFilePacker(cfg, testOpener(t))

	f1, err := p.assign("t1", 90, nil, false)
	if err != nil {
		t.Fatalf("assign t1: %v", err)
	}
	f2, err := p.assign("t2", 50, nil, false)
	if err != nil {
		t.Fatalf("assign t2: %v", err)
	}
	if f1 == f2 {
		t.Fatal("t2 should not fit alongside t1 under maxTableWeight, expected a new file")
	}
}

func TestFilePackerColocatesWithParent(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MaxTableWeight = 1000
	p := newFilePacker(cfg, testOpener(t))

	parent, err := p.assign("users", 10, nil, false)
	if err != nil {
		t.Fatalf("assign users: %v", err)
	}
	child, err := p.assign("sessions", 10, parent, false)
	if err != nil {
		t.Fatalf("assign sessions: %v", err)
	}
	if child != parent {
		t.Fatal("child table should colocate with its parent's file")
	}
}

func TestFilePackerNoSaveSeparatedFromDurable(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MaxTableWeight = 1000
	p := newFilePacker(cfg, testOpener(t))

	durable, err := p.assign("durable", 10, nil, false)
	if err != nil {
		t.Fatalf("assign durable: %v", err)
	}
	scratch, err := p.assign("scratch", 10, nil, true)
	if err != nil {
		t.Fatalf("assign scratch: %v", err)
	}
	if durable == scratch {
		t.Fatal("noSave table should never share a file with a durable one")
	}
	if !scratch.noSave {
		t.Fatal("scratch file should be marked noSave")
	}
	if filepath.Dir(scratch.path) == cfg.DataDir {
		// not a hard requirement, but the noSave path is documented as a
		// scratch temp file outside the data directory.
		t.Logf("noSave file landed in data dir: %s", scratch.path)
	}
}
