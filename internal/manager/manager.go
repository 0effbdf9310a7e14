// Package manager implements the Manager/partitioner of spec §7: packing
// tables into files by weight/parent/noSave, partitioning orders across
// workers so that orders sharing a table always land on the same worker,
// and routing RemoteCall to the right one.
package manager

import (
	"fmt"
	"time"

	"github.com/pagekv/pagekv/internal/cache"
	"github.com/pagekv/pagekv/internal/config"
	"github.com/pagekv/pagekv/internal/job"
	"github.com/pagekv/pagekv/internal/skiplist"
	"github.com/pagekv/pagekv/internal/store"
	"github.com/pagekv/pagekv/internal/util/log"
)

// tableKindOf maps a config TableSpec.Kind string to a store.TableKind.
func tableKindOf(kind string) store.TableKind {
	switch kind {
	case "double":
		return store.TableKindDouble
	case "string":
		return store.TableKindString
	case "set":
		return store.TableKindSet
	default:
		return store.TableKindByte
	}
}

// orderDecl is one RegisterOrder call: the handler plus the tables it
// declares access to, recorded before partitioning assigns workers.
type orderDecl struct {
	name    string
	handler job.Handler
	tables  []string
}

// Manager owns every open file, the table directory spanning them, the
// worker pool, and the order-to-worker partition.
type Manager struct {
	cfg    config.Engine
	packer *filePacker

	tableFile     map[string]*file
	tableDesc     map[string]store.TableInFile
	usingIdx      map[string]*store.UsingIndex // table name -> TABLE_USING index
	valueUsingIdx map[string]*store.UsingIndex // table name -> VALUE_USING index

	orders []orderDecl

	workers    []*job.Worker
	tableOwner map[string]int // table name -> worker index
	orderOwner map[string]int // order name -> worker index

	ticker *statTicker
}

// CreateHandle opens (or creates) every file needed by cfg.Tables and
// loads their table directories, but does not yet start any workers —
// call AllocJob/StartJob next, per spec §7's lifecycle.
func CreateHandle(cfg config.Engine) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           cfg,
		packer:        newFilePacker(cfg, store.Open),
		tableFile:     map[string]*file{},
		tableDesc:     map[string]store.TableInFile{},
		usingIdx:      map[string]*store.UsingIndex{},
		valueUsingIdx: map[string]*store.UsingIndex{},
	}

	byName := map[string]config.TableSpec{}
	for _, t := range cfg.Tables {
		byName[t.Name] = t
	}

	// Parents must be packed before their children so the packer can
	// colocate on a resolved *file rather than a name.
	visited := map[string]bool{}
	var place func(name string) error
	place = func(name string) error {
		if visited[name] {
			return nil
		}
		spec, ok := byName[name]
		if !ok {
			return fmt.Errorf("manager: table %q declares unknown parent", name)
		}
		var parentFile *file
		if spec.Parent != "" {
			if err := place(spec.Parent); err != nil {
				return err
			}
			parentFile = m.tableFile[spec.Parent]
		}
		noSave := spec.NoSave || cfg.AllNoSave
		f, err := m.packer.assign(name, spec.Weight, parentFile, noSave)
		if err != nil {
			return err
		}
		m.tableFile[name] = f

		if desc, ok := f.bs.Directory().Lookup(name); ok {
			m.tableDesc[name] = desc
		} else {
			desc := store.NewTableInFile(tableKindOf(spec.Kind), spec.Kind == "set")
			m.tableDesc[name] = desc
			_ = f.bs.Directory().Put(name, desc)
		}
		visited[name] = true
		return nil
	}

	for _, t := range cfg.Tables {
		if err := place(t.Name); err != nil {
			return nil, err
		}
	}

	log.Info("manager: opened", "files", len(m.packer.files), "tables", len(m.tableDesc))
	return m, nil
}

// RegisterOrder declares a handler and the tables it may touch. Tables
// left empty means the handler may touch any table in whatever partition
// it ends up assigned to; such an order is placed on a worker round-robin,
// without regard to which table partitions that worker already holds.
func (m *Manager) RegisterOrder(name string, h job.Handler, tables ...string) {
	m.orders = append(m.orders, orderDecl{name: name, handler: h, tables: tables})
}

// Table returns a skiplist.Table view bound to name, for use inside a
// handler's transaction.
func (m *Manager) Table(tx *cache.Tx, name string) (*skiplist.Table, error) {
	desc, ok := m.tableDesc[name]
	if !ok {
		return nil, fmt.Errorf("manager: unknown table %q", name)
	}
	using, ok := m.usingIdx[name]
	if !ok {
		using = store.NewUsingIndex(store.PageTypeTableUsing)
		if desc.TableUsingPage != store.InvalidAddr {
			f := m.tableFile[name]
			if err := using.LoadFromDisk(desc.TableUsingPage, f.bs.ReadPage); err != nil {
				return nil, err
			}
		}
		m.usingIdx[name] = using
	}
	valueUsing, ok := m.valueUsingIdx[name]
	if !ok {
		valueUsing = store.NewUsingIndex(store.PageTypeValueUsing)
		if desc.ValueUsingPage != store.InvalidAddr {
			f := m.tableFile[name]
			if err := valueUsing.LoadFromDisk(desc.ValueUsingPage, f.bs.ReadPage); err != nil {
				return nil, err
			}
		}
		m.valueUsingIdx[name] = valueUsing
	}
	return skiplist.NewTable(desc, using, valueUsing, tx), nil
}

// SaveTableDesc persists a table's descriptor back into its file's
// directory after a handler mutated it (new page list heads, etc.). A
// handler calls this itself before returning, inside the same
// transaction whose commit/rollback governs the rest of its writes.
func (m *Manager) SaveTableDesc(name string, desc store.TableInFile) error {
	m.tableDesc[name] = desc
	f, ok := m.tableFile[name]
	if !ok {
		return fmt.Errorf("manager: unknown table %q", name)
	}
	return f.bs.Directory().Put(name, desc)
}

// AllocJob partitions registered orders across n workers by shared-table
// reachability (spec §7.2) and constructs the worker pool. Tables never
// mentioned by any order get no owning worker.
func (m *Manager) AllocJob(n int) error {
	owner := partitionOrders(m.orders, n)
	m.tableOwner = owner.tableOwner
	m.orderOwner = owner.orderOwner

	m.workers = make([]*job.Worker, n)
	for i := 0; i < n; i++ {
		// Worker ids are 1-based; id 0 is reserved for "no affinity".
		w := job.NewWorker(i+1, m.cacheFor(i), m.cfg.MaxQueue)
		w.SetStat(m.cfg.StatEnabled, m.cfg.StatCheckTimeMilli)
		w.SetFlush(m.cfg.FlushCount, time.Duration(m.cfg.FlushIntervalSec)*time.Second)
		m.workers[i] = w
	}

	for _, decl := range m.orders {
		idx := m.orderOwner[decl.name]
		m.workers[idx].RegisterHandler(decl.name, decl.handler, decl.tables...)
	}
	return nil
}

// cacheFor returns a representative cache for worker i. Since table
// partitions are disjoint but files can still be shared across workers
// when an order touches tables packed into the same file, workers share
// *cache.Cache instances per file rather than each owning one outright;
// BlockStore/Cache are safe for concurrent use by construction (spec §6).
func (m *Manager) cacheFor(workerIdx int) *cache.Cache {
	for table, idx := range m.tableOwner {
		if idx == workerIdx {
			if f, ok := m.tableFile[table]; ok {
				return f.cache
			}
		}
	}
	if len(m.packer.files) > 0 {
		return m.packer.files[0].cache
	}
	return nil
}

// StartJob starts every worker's event loop (running each worker's init
// hook) and the periodic statistics ticker, which is always scheduled but
// only emits when StatEnabled is set.
func (m *Manager) StartJob() {
	for _, w := range m.workers {
		w.Start()
	}
	if m.cfg.StatEnabled || true {
		m.ticker = newStatTicker(m)
		m.ticker.Start()
	}
}

// RemoteCall dispatches order synchronously: it resolves the target
// worker (direct, if orderID carries a worker affinity; otherwise the
// order's declared partition owner) and blocks for the result.
func (m *Manager) RemoteCall(orderName string, value []byte, orderID job.OrderID) (job.Result, error) {
	var widx int
	if wid := orderID.WorkerID(); wid != 0 {
		found := false
		for i, w := range m.workers {
			if w.ID == wid {
				widx, found = i, true
				break
			}
		}
		if !found {
			log.Warn("manager: orderID names unknown worker, dropping affinity", "workerID", wid)
			orderID = 0
		}
	}
	if orderID.WorkerID() == 0 {
		idx, ok := m.orderOwner[orderName]
		if !ok {
			return job.Result{}, fmt.Errorf("manager: unknown order %q", orderName)
		}
		widx = idx
	}

	w := m.workers[widx]
	id := w.NextTicket()
	o, reply := job.NewCallOrder(orderName, value, id)
	if err := w.Enqueue(o); err != nil {
		return job.Result{}, err
	}
	return <-reply, nil
}

// StopJob drains and stops every worker.
func (m *Manager) StopJob() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	done := make(chan struct{}, len(m.workers))
	for _, w := range m.workers {
		w.Stop(2, done)
	}
	for range m.workers {
		<-done
	}
}

// DestroyHandle flushes and closes every durable file. noSave files are
// skipped: they are neither flushed nor closed here.
func (m *Manager) DestroyHandle() error {
	for _, f := range m.packer.files {
		if f.noSave {
			continue
		}
		if err := f.cache.Flush(); err != nil {
			return err
		}
		if err := f.bs.Close(); err != nil {
			return err
		}
	}
	return nil
}
