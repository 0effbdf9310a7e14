// Package job implements the per-worker cooperative event loop: a FIFO
// order queue, a one-shot timer list, and the composite order ID encoding
// spec §6 describes (10-bit worker id, 22-bit per-worker ticket).
package job

import (
	"fmt"

	"github.com/pagekv/pagekv/internal/util/log"
)

const (
	workerIDBits  = 10
	ticketBits    = 22
	maxWorkerID   = 1<<workerIDBits - 1 // 1023; worker IDs are 1..1023 (0 reserved for "no affinity")
	maxTicket     = 1 << ticketBits     // 4,194,304, tickets wrap back to 0
	ticketMask    = maxTicket - 1
)

// OrderID is the 32-bit composite identifier spec §6 assigns to every
// in-flight order: the high bits name the owning worker, the low bits are
// a per-worker monotonic ticket. OrderID 0 means "no affinity" — the
// order goes to its partition owner.
type OrderID uint32

// NewOrderID packs a worker id and ticket into one OrderID.
func NewOrderID(workerID int, ticket uint32) OrderID {
	return OrderID(uint32(workerID)<<ticketBits | (ticket & ticketMask))
}

// WorkerID extracts the owning worker's id, or 0 if this OrderID carries
// no affinity.
func (id OrderID) WorkerID() int { return int(uint32(id) >> ticketBits) }

// Ticket extracts the per-worker ticket.
func (id OrderID) Ticket() uint32 { return uint32(id) & ticketMask }

// ticketCounter hands out monotonically increasing, wrapping tickets for
// one worker.
type ticketCounter struct {
	workerID int
	next     uint32
}

func newTicketCounter(workerID int) *ticketCounter {
	if workerID < 1 || workerID > maxWorkerID {
		panic(fmt.Sprintf("job: worker id %d out of range [1,%d]", workerID, maxWorkerID))
	}
	return &ticketCounter{workerID: workerID, next: 1}
}

// take returns the next OrderID for this worker, wrapping the ticket back
// to 0 (with a logged warning — spec §8's "order-id exhaustion" case)
// rather than ever panicking a worker's event loop.
func (tc *ticketCounter) take() OrderID {
	id := NewOrderID(tc.workerID, tc.next)
	tc.next = (tc.next + 1) & ticketMask
	if tc.next == 0 {
		log.Warn("job: order ticket space exhausted, wrapping to 0", "worker", tc.workerID)
	}
	return id
}

// Order is one unit of work dispatched to a worker: the registered order
// name (selects the handler), an opaque value payload, and the OrderID
// assigned when it was enqueued.
type Order struct {
	Name    string
	Value   []byte
	ID      OrderID
	replyCh chan Result
}

// Result is what a handler dispatch produces: whether the transaction
// committed, and any return payload the handler wants to hand back to a
// synchronous RemoteCall caller.
type Result struct {
	Committed bool
	Value     []byte
	Err       error
}

// NewCallOrder builds an order for a synchronous RemoteCall: dispatch
// writes its Result to the returned channel exactly once.
func NewCallOrder(name string, value []byte, id OrderID) (*Order, <-chan Result) {
	ch := make(chan Result, 1)
	return &Order{Name: name, Value: value, ID: id, replyCh: ch}, ch
}
