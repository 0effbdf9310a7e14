// Package pagekv is the embedded page-based key/value engine's public
// entry point: load a config, register order handlers, and run.
package pagekv

import (
	"fmt"

	"github.com/pagekv/pagekv/internal/cache"
	"github.com/pagekv/pagekv/internal/config"
	"github.com/pagekv/pagekv/internal/gateway"
	"github.com/pagekv/pagekv/internal/job"
	"github.com/pagekv/pagekv/internal/manager"
)

// Handler processes one order against a transaction-scoped table view.
// Re-exported so callers don't need to import internal/job directly.
type Handler = job.Handler

// Tx is the transaction handle a Handler receives.
type Tx = cache.Tx

// Order is the dispatched unit of work a Handler receives: its registered
// name, an opaque value payload, and the OrderID it was enqueued under.
type Order = job.Order

// Config is the engine's static configuration, loaded from YAML.
type Config = config.Engine

// LoadConfig reads an Engine configuration from a YAML file.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in defaults (8 KiB pages, maxTableWeight
// 1000, maxQueue 10000).
func DefaultConfig() Config { return config.Default() }

// Engine is one running instance: a fixed pool of workers dispatching
// registered orders against a set of tables packed across one or more
// data files.
type Engine struct {
	cfg Config
	mgr *manager.Manager
	started bool
}

// Open loads cfg's tables and prepares the engine to run. Call
// RegisterOrder for every handler before Start.
func Open(cfg Config) (*Engine, error) {
	mgr, err := manager.CreateHandle(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, mgr: mgr}, nil
}

// RegisterOrder declares a handler and the tables it touches. Must be
// called before Start.
func (e *Engine) RegisterOrder(name string, h Handler, tables ...string) error {
	if e.started {
		return fmt.Errorf("pagekv: cannot register order %q after Start", name)
	}
	e.mgr.RegisterOrder(name, h, tables...)
	return nil
}

// Start partitions orders across workers and begins processing.
func (e *Engine) Start() error {
	if e.started {
		return fmt.Errorf("pagekv: engine already started")
	}
	if err := e.mgr.AllocJob(e.cfg.Workers); err != nil {
		return err
	}
	e.mgr.StartJob()
	e.started = true
	return nil
}

// Call dispatches an order synchronously and waits for its result. An
// orderID of 0 means "no affinity" — the manager picks the partition's
// owning worker.
func (e *Engine) Call(order string, value []byte, orderID uint32) (committed bool, result []byte, err error) {
	res, err := e.mgr.RemoteCall(order, value, job.OrderID(orderID))
	if err != nil {
		return false, nil, err
	}
	return res.Committed, res.Value, res.Err
}

// Table returns a handler-facing view of a table bound to tx. Call this
// from inside a Handler, never outside one.
func (e *Engine) Table(tx *Tx, name string) (*TableView, error) {
	t, err := e.mgr.Table(tx, name)
	if err != nil {
		return nil, err
	}
	return &TableView{mgr: e.mgr, name: name, table: t}, nil
}

// Gateway builds a gRPC front end exposing Call over the network. It does
// not read the engine's Gateway config section: callers pick the address
// and decide when to Serve/Stop it; Engine does not start it automatically.
func (e *Engine) Gateway() *gateway.Gateway { return gateway.New(e.mgr) }

// Stop drains every worker and stops the periodic ticker.
func (e *Engine) Stop() {
	if e.started {
		e.mgr.StopJob()
	}
}

// Close flushes and closes every durable data file; noSave files are
// skipped. Call after Stop.
func (e *Engine) Close() error { return e.mgr.DestroyHandle() }
