package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pagekv/pagekv/internal/cache"
	"github.com/pagekv/pagekv/internal/config"
	"github.com/pagekv/pagekv/internal/store"
)

// file is one open data file: its block store, transaction cache, and the
// running weight total of every table packed into it (spec §7.1).
type file struct {
	id     int
	path   string
	bs     *store.BlockStore
	cache  *cache.Cache
	weight uint32
	noSave bool
}

func (f *file) hasRoom(maxWeight uint32, add uint32) bool {
	return f.weight+add <= maxWeight
}

// filePacker assigns tables to files by weight/parent/noSave, the same
// algorithm as the reference implementation's plg_MngGetDiskHandle
// (original_source/pmanage.c:238-299): colocate with a declared parent
// first, else reuse the file with the least total weight that still has
// room, else open a new file. noSave tables pack only among themselves.
type filePacker struct {
	dataDir    string
	maxWeight  uint32
	pageSize   int
	files      []*file
	nextFileID int
	open       func(path string, pageSize int, create bool) (*store.BlockStore, error)
}

func newFilePacker(cfg config.Engine, open func(path string, pageSize int, create bool) (*store.BlockStore, error)) *filePacker {
	return &filePacker{
		dataDir:   cfg.DataDir,
		maxWeight: cfg.MaxTableWeight,
		pageSize:  cfg.PageSize,
		open:      open,
	}
}

// assign returns the file a table with the given weight/parent/noSave
// should be packed into, opening a new one if needed.
func (p *filePacker) assign(tableName string, weight uint32, parentFile *file, noSave bool) (*file, error) {
	if weight == 0 {
		weight = 1
	}

	if parentFile != nil && parentFile.noSave == noSave {
		parentFile.weight += weight
		return parentFile, nil
	}

	var best *file
	for _, f := range p.files {
		if f.noSave != noSave {
			continue
		}
		if !f.hasRoom(p.maxWeight, weight) {
			continue
		}
		if best == nil || f.weight < best.weight {
			best = f
		}
	}
	if best != nil {
		best.weight += weight
		return best, nil
	}

	f, err := p.openNew(noSave)
	if err != nil {
		return nil, err
	}
	f.weight = weight
	return f, nil
}

func (p *filePacker) openNew(noSave bool) (*file, error) {
	id := p.nextFileID
	p.nextFileID++

	var path string
	if noSave {
		// noSave tables still need a real backing file for BlockStore's
		// page I/O. Workers' automatic flushes may still write to it, but
		// Manager.DestroyHandle skips it and nothing ever reopens it, so
		// it never outlives the process in practice; a scratch temp file
		// keeps it out of the regular data directory.
		tmp, err := os.CreateTemp("", fmt.Sprintf("pagekv-nosave-%04d-*.dat", id))
		if err != nil {
			return nil, fmt.Errorf("manager: create noSave scratch file: %w", err)
		}
		path = tmp.Name()
		tmp.Close()
	} else {
		path = filepath.Join(p.dataDir, fmt.Sprintf("pagekv-%04d.dat", id))
	}

	bs, err := p.open(path, p.pageSize, true)
	if err != nil {
		return nil, fmt.Errorf("manager: open file %s: %w", path, err)
	}

	f := &file{id: id, path: path, bs: bs, cache: cache.Open(bs), noSave: noSave}
	p.files = append(p.files, f)
	return f, nil
}
