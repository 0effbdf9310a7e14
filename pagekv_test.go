package pagekv

import (
	"testing"

	"github.com/pagekv/pagekv/internal/config"
)

func TestEngineSetGetThroughTableView(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Workers = 1
	cfg.Tables = []config.TableSpec{{Name: "kv", Kind: "string", Weight: 1}}

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := e.RegisterOrder("set", func(tx *Tx, o *Order) (bool, []byte) {
		view, err := e.Table(tx, "kv")
		if err != nil {
			return false, []byte(err.Error())
		}
		if err := view.Set(o.Value[:1], o.Value[1:]); err != nil {
			return false, []byte(err.Error())
		}
		return true, nil
	}, "kv"); err != nil {
		t.Fatalf("RegisterOrder(set): %v", err)
	}

	if err := e.RegisterOrder("get", func(tx *Tx, o *Order) (bool, []byte) {
		view, err := e.Table(tx, "kv")
		if err != nil {
			return false, nil
		}
		value, ok, err := view.Get(o.Value)
		if err != nil || !ok {
			return true, nil
		}
		return true, value
	}, "kv"); err != nil {
		t.Fatalf("RegisterOrder(get): %v", err)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	committed, _, err := e.Call("set", []byte("kvalue"), 0)
	if err != nil {
		t.Fatalf("Call(set): %v", err)
	}
	if !committed {
		t.Fatal("set did not commit")
	}

	committed, value, err := e.Call("get", []byte("k"), 0)
	if err != nil {
		t.Fatalf("Call(get): %v", err)
	}
	if !committed || string(value) != "value" {
		t.Fatalf("Call(get) = committed=%v value=%q, want true/\"value\"", committed, value)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRegisterOrderAfterStartFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Workers = 1

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		e.Stop()
		e.Close()
	}()

	if err := e.RegisterOrder("late", func(tx *Tx, o *Order) (bool, []byte) { return true, nil }); err == nil {
		t.Fatal("expected RegisterOrder to fail after Start")
	}
}

func TestDoubleStartFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Workers = 1

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer func() {
		e.Stop()
		e.Close()
	}()
	if err := e.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
