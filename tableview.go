package pagekv

import (
	"github.com/pagekv/pagekv/internal/manager"
	"github.com/pagekv/pagekv/internal/skiplist"
)

// TableView is the handler-facing wrapper around a skiplist.Table: every
// mutation also persists the table's descriptor back to its file's
// directory, so a page-list head gained by Insert (a table's first
// TablePageHead, say) survives into the same transaction's commit.
type TableView struct {
	mgr   *manager.Manager
	name  string
	table *skiplist.Table
}

// Get looks up key.
func (t *TableView) Get(key []byte) (value []byte, ok bool, err error) {
	kr, ok, err := t.table.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return kr.Value, true, nil
}

// Set inserts or replaces key's value.
func (t *TableView) Set(key, value []byte) error {
	if err := t.table.Insert(key, value, skiplist.ValueNormal); err != nil {
		return err
	}
	return t.save()
}

// Delete removes key. Returns whether it was present.
func (t *TableView) Delete(key []byte) (bool, error) {
	ok, err := t.table.Delete(key)
	if err != nil {
		return false, err
	}
	if err := t.save(); err != nil {
		return false, err
	}
	return ok, nil
}

// Range iterates [start, end) in ascending key order.
func (t *TableView) Range(start, end []byte, fn func(key, value []byte) bool) error {
	return t.table.Range(start, end, fn)
}

// Match iterates every key matching a glob pattern ('*', '?').
func (t *TableView) Match(pattern []byte, fn func(key, value []byte) bool) error {
	return t.table.Match(pattern, fn)
}

// AsSet views this table as a nested-set collection. Valid only when the
// table was declared with kind "set".
func (t *TableView) AsSet() *SetView {
	return &SetView{set: skiplist.AsSet(t.table), save: t.save}
}

func (t *TableView) save() error {
	return t.mgr.SaveTableDesc(t.name, t.table.Desc)
}

// SetView is the handler-facing wrapper around a nested set.
type SetView struct {
	set  *skiplist.Set
	save func() error
}

func (s *SetView) Add(member []byte) (bool, error) {
	added, err := s.set.Add(member)
	if err != nil {
		return false, err
	}
	return added, s.save()
}

func (s *SetView) Remove(member []byte) (bool, error) {
	removed, err := s.set.Remove(member)
	if err != nil {
		return false, err
	}
	return removed, s.save()
}

func (s *SetView) IsMember(member []byte) (bool, error) { return s.set.IsMember(member) }
func (s *SetView) Members() ([][]byte, error)            { return s.set.Members() }
func (s *SetView) Len() (int, error)                     { return s.set.Len() }

func (s *SetView) Pop() ([]byte, bool, error) {
	member, ok, err := s.set.Pop()
	if err != nil || !ok {
		return member, ok, err
	}
	return member, ok, s.save()
}

func (s *SetView) Rand(n int) ([][]byte, error)              { return s.set.Rand(n) }
func (s *SetView) RangeFrom(point []byte, limit int) ([][]byte, error) {
	return s.set.RangeFrom(point, limit)
}
