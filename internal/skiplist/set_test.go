package skiplist

import (
	"sort"
	"testing"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	tbl, _, closeFn := newTestTable(t)
	t.Cleanup(closeFn)
	tbl.Desc.IsSetHead = true
	return AsSet(tbl)
}

func sortedStrings(members [][]byte) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = string(m)
	}
	sort.Strings(out)
	return out
}

func seed(t *testing.T, s *Set, members ...string) {
	t.Helper()
	for _, m := range members {
		if _, err := s.Add([]byte(m)); err != nil {
			t.Fatalf("Add(%s): %v", m, err)
		}
	}
}

func TestSetAddRemoveIsMember(t *testing.T) {
	s := newTestSet(t)
	added, err := s.Add([]byte("a"))
	if err != nil || !added {
		t.Fatalf("Add: added=%v err=%v", added, err)
	}
	added, err = s.Add([]byte("a"))
	if err != nil || added {
		t.Fatalf("Add duplicate: added=%v err=%v, want false", added, err)
	}
	ok, err := s.IsMember([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("IsMember: ok=%v err=%v", ok, err)
	}
	removed, err := s.Remove([]byte("a"))
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	ok, err = s.IsMember([]byte("a"))
	if err != nil || ok {
		t.Fatalf("IsMember after remove: ok=%v err=%v, want false", ok, err)
	}
}

func TestUnionInterDiff(t *testing.T) {
	a := newTestSet(t)
	b := newTestSet(t)
	seed(t, a, "x", "y", "z")
	seed(t, b, "y", "z", "w")

	union, err := Union(a, b)
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if got := sortedStrings(union); len(got) != 4 {
		t.Fatalf("Union = %v, want 4 distinct members", got)
	}

	inter, err := Inter(a, b)
	if err != nil {
		t.Fatalf("Inter: %v", err)
	}
	if got := sortedStrings(inter); len(got) != 2 || got[0] != "y" || got[1] != "z" {
		t.Fatalf("Inter = %v, want [y z]", got)
	}

	diff, err := Diff(a, b)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := sortedStrings(diff); len(got) != 1 || got[0] != "x" {
		t.Fatalf("Diff = %v, want [x]", got)
	}
}

func TestUnionStoreOverwritesDestination(t *testing.T) {
	a := newTestSet(t)
	b := newTestSet(t)
	dst := newTestSet(t)
	seed(t, a, "x", "y")
	seed(t, b, "y", "z")
	seed(t, dst, "stale")

	stored, err := UnionStore(dst, a, b)
	if err != nil {
		t.Fatalf("UnionStore: %v", err)
	}
	if got := sortedStrings(stored); len(got) != 3 {
		t.Fatalf("UnionStore returned %v, want 3 members", got)
	}

	members, err := dst.Members()
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if got := sortedStrings(members); len(got) != 3 || got[0] == "stale" {
		t.Fatalf("dst.Members() = %v, stale member was not cleared", got)
	}
}

func TestInterStoreAndDiffStore(t *testing.T) {
	a := newTestSet(t)
	b := newTestSet(t)
	dst := newTestSet(t)
	seed(t, a, "x", "y", "z")
	seed(t, b, "y", "z", "w")

	if _, err := InterStore(dst, a, b); err != nil {
		t.Fatalf("InterStore: %v", err)
	}
	members, err := dst.Members()
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if got := sortedStrings(members); len(got) != 2 || got[0] != "y" || got[1] != "z" {
		t.Fatalf("InterStore result = %v, want [y z]", got)
	}

	if _, err := DiffStore(dst, a, b); err != nil {
		t.Fatalf("DiffStore: %v", err)
	}
	members, err = dst.Members()
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if got := sortedStrings(members); len(got) != 1 || got[0] != "x" {
		t.Fatalf("DiffStore result = %v, want [x]", got)
	}
}

func TestMoveTransfersMember(t *testing.T) {
	src := newTestSet(t)
	dst := newTestSet(t)
	seed(t, src, "m")

	if err := Move(src, dst, []byte("m")); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if ok, _ := src.IsMember([]byte("m")); ok {
		t.Fatal("member still present in source after Move")
	}
	if ok, _ := dst.IsMember([]byte("m")); !ok {
		t.Fatal("member not present in destination after Move")
	}
}
