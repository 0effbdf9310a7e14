package job

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pagekv/pagekv/internal/cache"
	"github.com/pagekv/pagekv/internal/metrics"
	"github.com/pagekv/pagekv/internal/util/log"
)

// Handler processes one order against a transaction. Returning false asks
// the worker to roll back; true commits. Per spec §6, handlers registered
// under the reserved names Init/Start/Finish are never reachable through
// RemoteCall — the worker invokes them itself at the matching lifecycle
// point.
type Handler func(tx *cache.Tx, order *Order) (bool, []byte)

// Reserved hook names. A handler registered under one of these is run by
// the worker's own lifecycle, never by RemoteCall.
const (
	HookInit   = "init"
	HookStart  = "start"
	HookFinish = "finish"
)

// exitState is the worker shutdown state machine from spec §6.
type exitState int

const (
	exitRunning             exitState = 0
	exitStopAfterDrain      exitState = 1
	exitStopAndNotify       exitState = 2
	exitStopAndPublish      exitState = 3
)

// Worker is one single-threaded cooperative event loop: it owns a
// disjoint partition of tables (enforced by the Manager, not by Worker
// itself) and processes orders strictly one at a time, with no locking
// needed against its own table set.
type Worker struct {
	ID      int
	cache   *cache.Cache
	queue   chan *Order
	maxQueue int

	handlers map[string]Handler
	allowedTables map[string]map[string]bool // order name -> table names it may touch

	tickets       *ticketCounter
	timers        *timerList
	stats         *statTracker
	continuations *continuationRegistry

	flushCount    int
	flushInterval time.Duration
	sinceFlush    int
	lastFlush     time.Time

	exit    exitState
	destroy chan struct{}
	done    chan struct{}
}

// NewWorker creates a worker with the given id and queue depth. Workers
// are started via Start once the Manager has finished registering
// handlers and table access declarations.
func NewWorker(id int, c *cache.Cache, maxQueue int) *Worker {
	return &Worker{
		ID:            id,
		cache:         c,
		queue:         make(chan *Order, maxQueue),
		maxQueue:      maxQueue,
		handlers:      map[string]Handler{},
		allowedTables: map[string]map[string]bool{},
		tickets:       newTicketCounter(id),
		timers:        newTimerList(),
		stats:         newStatTracker(),
		continuations: newContinuationRegistry(),
		flushCount:    1,
		flushInterval: 300 * time.Second,
		lastFlush:     time.Now(),
		destroy:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetFlush configures the commit-count and elapsed-time thresholds that
// trigger an automatic Cache.Flush after a committed order (spec §4.3's
// "finish" durability step; §6 defaults flushCount=1, flushInterval=300s).
func (w *Worker) SetFlush(count int, interval time.Duration) {
	if count < 1 {
		count = 1
	}
	w.flushCount = count
	w.flushInterval = interval
}

// RegisterHandler binds an order name to a handler and the set of table
// names it is permitted to touch. An empty tables set means the handler
// may touch any table in this worker's partition.
func (w *Worker) RegisterHandler(name string, h Handler, tables ...string) {
	w.handlers[name] = h
	if len(tables) > 0 {
		set := make(map[string]bool, len(tables))
		for _, t := range tables {
			set[t] = true
		}
		w.allowedTables[name] = set
	}
}

// SetStat enables or disables statistics collection.
func (w *Worker) SetStat(enabled bool, checkTimeMillis int64) {
	w.stats.SetEnabled(enabled, checkTimeMillis)
}

// NextTicket returns this worker's next OrderID for a newly enqueued
// order.
func (w *Worker) NextTicket() OrderID { return w.tickets.take() }

// TableIsInOrder reports whether a handler registered under orderName is
// permitted to touch table — the access-control gate spec §6 names. A
// handler with no declared table set may touch anything.
func (w *Worker) TableIsInOrder(orderName, table string) bool {
	set, declared := w.allowedTables[orderName]
	if !declared {
		return true
	}
	return set[table]
}

// CachePermitsWrite is the write-side half of the same gate: a handler
// may only stage writes through its own transaction, which Worker always
// hands it, so this simply confirms the transaction belongs to the
// worker's current dispatch — a defensive check against a handler that
// stashed a *cache.Tx from a previous call.
func (w *Worker) CachePermitsWrite(tx *cache.Tx, current *cache.Tx) bool {
	return tx == current
}

// Enqueue pushes an order onto this worker's queue, failing closed if the
// queue is at maxQueue rather than blocking the caller (spec §6:
// push-if-not-over, else fail).
func (w *Worker) Enqueue(o *Order) error {
	select {
	case w.queue <- o:
		w.stats.ObserveQueueLength(len(w.queue))
		metrics.QueueDepth.WithLabelValues(strconv.Itoa(w.ID)).Set(float64(len(w.queue)))
		return nil
	default:
		return fmt.Errorf("job: worker %d queue full (max %d)", w.ID, w.maxQueue)
	}
}

// AddTimer schedules order/value to be delivered to this worker after
// delay.
func (w *Worker) AddTimer(delay time.Duration, orderName string, value []byte) {
	w.timers.Add(time.Now(), delay, orderName, value, NewOrderID(w.ID, 0))
}

// Start launches the worker's event loop goroutine. It runs HookInit
// synchronously before returning, once, matching the createHandle ->
// allocJob -> startJob ordering of spec §7. HookStart/HookFinish are not
// run here — they run once per dispatched order, inside dispatch.
func (w *Worker) Start() {
	if h, ok := w.handlers[HookInit]; ok {
		w.runHook(h)
	}
	go w.loop()
}

func (w *Worker) runHook(h Handler) {
	tx := w.cache.Begin()
	committed, _ := h(tx, &Order{Name: "", ID: NewOrderID(w.ID, 0)})
	if committed {
		_ = tx.Commit()
	} else {
		_ = tx.Rollback()
	}
}

// Stop requests the worker drain its queue and exit. state is recorded on
// the worker but does not change how it stops: every state dispatches the
// orders still queued and then exits. notify (if non-nil) receives exactly
// one value once the worker has fully stopped, whatever the state.
func (w *Worker) Stop(state exitState, notify chan<- struct{}) {
	w.exit = state
	close(w.destroy)
	if notify != nil {
		go func() {
			<-w.done
			notify <- struct{}{}
		}()
	}
}

// Done returns a channel closed once the worker's event loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) loop() {
	defer close(w.done)
	for {
		wait := 50 * time.Millisecond
		if deadline, ok := w.timers.NextDeadline(); ok {
			if d := time.Until(deadline); d < wait {
				if d < 0 {
					d = 0
				}
				wait = d
			}
		}

		select {
		case o := <-w.queue:
			w.dispatch(o)
		case <-time.After(wait):
			w.fireDueTimers()
		case <-w.destroy:
			w.drain()
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case o := <-w.queue:
			w.dispatch(o)
		default:
			return
		}
	}
}

func (w *Worker) fireDueTimers() {
	for _, te := range w.timers.Due(time.Now()) {
		w.dispatch(&Order{Name: te.Order, Value: te.Value, ID: te.ID})
	}
}

// dispatch runs one popped order through spec §4.3's per-order event loop:
// "start" hook, the order's own handler, "finish" hook, then the
// donot_commit/donot_flush-gated commit and flush. start/finish run inside
// the same transaction as the order itself, so either can touch tables or
// call tx.SetDonotCommit/SetDonotFlush to influence the outcome.
func (w *Worker) dispatch(o *Order) {
	h, ok := w.handlers[o.Name]
	switch o.Name {
	case HookInit, HookStart, HookFinish:
		// hooks run only at their lifecycle points, never as an order
		ok = false
	}
	if !ok {
		log.Warn("job: no handler for order", "worker", w.ID, "order", o.Name)
		if o.replyCh != nil {
			o.replyCh <- Result{Err: fmt.Errorf("job: unknown order %q", o.Name)}
		}
		return
	}

	tx := w.cache.Begin()
	if sh, ok := w.handlers[HookStart]; ok {
		sh(tx, o)
	}

	committed, value := h(tx, o)
	if !committed {
		tx.SetDonotCommit()
	}

	if fh, ok := w.handlers[HookFinish]; ok {
		fh(tx, o)
	}

	committed = !tx.DonotCommit()
	donotFlush := tx.DonotFlush()
	err := tx.Commit()
	if err == nil && committed && !donotFlush {
		w.maybeFlush()
	}

	w.stats.Record(o.Name, len(o.Value))
	metrics.RecordOrder(o.Name, committed)
	metrics.QueueDepth.WithLabelValues(strconv.Itoa(w.ID)).Set(float64(len(w.queue)))

	if o.replyCh != nil {
		o.replyCh <- Result{Committed: committed, Value: value, Err: err}
	}
}

// maybeFlush counts this commit toward flushCount and, once the count or
// flushInterval threshold is reached, flushes the worker's cache to the
// block store and resets both counters (spec §4.3/§6).
func (w *Worker) maybeFlush() {
	w.sinceFlush++
	due := w.sinceFlush >= w.flushCount || time.Since(w.lastFlush) >= w.flushInterval
	if !due {
		return
	}
	if err := w.cache.Flush(); err != nil {
		log.Error("job: flush failed", err, "worker", w.ID)
		return
	}
	w.sinceFlush = 0
	w.lastFlush = time.Now()
}

// StatSnapshot returns and resets this worker's statistics counters.
func (w *Worker) StatSnapshot() StatSnapshot { return w.stats.Snapshot() }
