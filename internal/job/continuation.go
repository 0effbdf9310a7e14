package job

import "sync"

// continuationRegistry binds an arbitrary value to an OrderID, the
// mechanism spec §4.3 names createOrderID/getOrderIDPtr/setOrderIDPtr/
// removeOrderID: a handler that kicks off async work under a fresh OrderID
// (a timer, a RemoteCall to another worker) stores whatever continuation
// state it needs to resume here, keyed by that OrderID, and looks it back
// up when the matching order lands.
type continuationRegistry struct {
	mu   sync.Mutex
	byID map[OrderID]interface{}
}

func newContinuationRegistry() *continuationRegistry {
	return &continuationRegistry{byID: map[OrderID]interface{}{}}
}

func (r *continuationRegistry) set(id OrderID, ptr interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = ptr
}

func (r *continuationRegistry) get(id OrderID) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	return v, ok
}

func (r *continuationRegistry) remove(id OrderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// CreateOrderID allocates a fresh ticket from this worker and binds userPtr
// to it in one step.
func (w *Worker) CreateOrderID(userPtr interface{}) OrderID {
	id := w.tickets.take()
	w.continuations.set(id, userPtr)
	return id
}

// GetOrderIDPtr returns the value bound to id, if any.
func (w *Worker) GetOrderIDPtr(id OrderID) (interface{}, bool) {
	return w.continuations.get(id)
}

// SetOrderIDPtr (re)binds a value to an already-issued id.
func (w *Worker) SetOrderIDPtr(id OrderID, userPtr interface{}) {
	w.continuations.set(id, userPtr)
}

// RemoveOrderID drops id's bound value, once its continuation has run.
func (w *Worker) RemoveOrderID(id OrderID) {
	w.continuations.remove(id)
}
