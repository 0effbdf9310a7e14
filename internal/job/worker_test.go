package job

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pagekv/pagekv/internal/cache"
	"github.com/pagekv/pagekv/internal/store"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.pagekv")
	bs, err := store.Open(path, store.DefaultPageSize, true)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { bs.Close() })
	return cache.Open(bs)
}

func TestWorkerDispatchesAndReplies(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 16)
	w.RegisterHandler("ping", func(tx *cache.Tx, o *Order) (bool, []byte) {
		return true, []byte("pong")
	})
	w.Start()
	defer func() {
		done := make(chan struct{}, 1)
		w.Stop(exitStopAfterDrain, done)
		<-done
	}()

	o, reply := NewCallOrder("ping", nil, w.NextTicket())
	if err := w.Enqueue(o); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case res := <-reply:
		if !res.Committed || string(res.Value) != "pong" {
			t.Fatalf("result = %+v, want committed pong", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestWorkerQueueFullFailsClosed(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 1)
	w.RegisterHandler("slow", func(tx *cache.Tx, o *Order) (bool, []byte) {
		time.Sleep(100 * time.Millisecond)
		return true, nil
	})
	w.Start()
	defer func() {
		done := make(chan struct{}, 1)
		w.Stop(exitStopAfterDrain, done)
		<-done
	}()

	o1, _ := NewCallOrder("slow", nil, w.NextTicket())
	if err := w.Enqueue(o1); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	o2, _ := NewCallOrder("slow", nil, w.NextTicket())
	if err := w.Enqueue(o2); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	o3, _ := NewCallOrder("slow", nil, w.NextTicket())
	if err := w.Enqueue(o3); err == nil {
		t.Fatal("expected third Enqueue to fail on a full queue")
	}
}

func TestTableIsInOrderAllowsUndeclaredAccess(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	w.RegisterHandler("open", func(tx *cache.Tx, o *Order) (bool, []byte) { return true, nil })
	if !w.TableIsInOrder("open", "anything") {
		t.Fatal("handler with no declared table set should permit any table")
	}
}

func TestTableIsInOrderEnforcesDeclaredSet(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	w.RegisterHandler("scoped", func(tx *cache.Tx, o *Order) (bool, []byte) { return true, nil }, "users")
	if !w.TableIsInOrder("scoped", "users") {
		t.Fatal("declared table should be permitted")
	}
	if w.TableIsInOrder("scoped", "accounts") {
		t.Fatal("undeclared table should be rejected once a set is declared")
	}
}

func TestStartFinishHooksRunPerOrder(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	var starts, finishes int
	w.RegisterHandler(HookStart, func(tx *cache.Tx, o *Order) (bool, []byte) {
		starts++
		return true, nil
	})
	w.RegisterHandler(HookFinish, func(tx *cache.Tx, o *Order) (bool, []byte) {
		finishes++
		return true, nil
	})
	w.RegisterHandler("noop", func(tx *cache.Tx, o *Order) (bool, []byte) { return true, nil })

	for i := 0; i < 3; i++ {
		o, reply := NewCallOrder("noop", nil, w.NextTicket())
		w.dispatch(o)
		<-reply
	}

	if starts != 3 || finishes != 3 {
		t.Fatalf("starts=%d finishes=%d, want 3 and 3 (once per dispatched order)", starts, finishes)
	}
}

func TestHandlerFalseRollsBackDespiteFinishHook(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	w.RegisterHandler(HookFinish, func(tx *cache.Tx, o *Order) (bool, []byte) {
		return true, nil // finish's own return must not resurrect a declined commit
	})
	w.RegisterHandler("reject", func(tx *cache.Tx, o *Order) (bool, []byte) { return false, nil })

	o, reply := NewCallOrder("reject", nil, w.NextTicket())
	w.dispatch(o)
	res := <-reply
	if res.Committed {
		t.Fatal("handler returning false should not commit even though finish ran")
	}
}

func TestFlushCountThresholdTriggersFlush(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	w.SetFlush(2, time.Hour)
	w.RegisterHandler("noop", func(tx *cache.Tx, o *Order) (bool, []byte) { return true, nil })

	for i := 0; i < 3; i++ {
		o, reply := NewCallOrder("noop", nil, w.NextTicket())
		w.dispatch(o)
		<-reply
	}

	if w.sinceFlush != 1 {
		t.Fatalf("sinceFlush = %d, want 1 (2 commits flushed, 1 pending)", w.sinceFlush)
	}
}

func TestSetDonotFlushSkipsAutoFlush(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	w.SetFlush(1, time.Hour)
	w.RegisterHandler("quiet", func(tx *cache.Tx, o *Order) (bool, []byte) {
		tx.SetDonotFlush()
		return true, nil
	})

	o, reply := NewCallOrder("quiet", nil, w.NextTicket())
	w.dispatch(o)
	<-reply

	if w.sinceFlush != 0 {
		t.Fatalf("sinceFlush = %d, want 0 (donot_flush should skip the threshold check entirely)", w.sinceFlush)
	}
}

func TestCreateOrderIDBindsAndRemovesContinuation(t *testing.T) {
	w := NewWorker(1, newTestCache(t), 4)
	id := w.CreateOrderID("continuation-state")

	v, ok := w.GetOrderIDPtr(id)
	if !ok || v != "continuation-state" {
		t.Fatalf("GetOrderIDPtr = %v, %v, want %q, true", v, ok, "continuation-state")
	}
	w.SetOrderIDPtr(id, "replaced")
	if v, _ := w.GetOrderIDPtr(id); v != "replaced" {
		t.Fatalf("GetOrderIDPtr after SetOrderIDPtr = %v, want replaced", v)
	}
	w.RemoveOrderID(id)
	if _, ok := w.GetOrderIDPtr(id); ok {
		t.Fatal("GetOrderIDPtr should report absent after RemoveOrderID")
	}
}
