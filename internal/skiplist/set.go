package skiplist

import (
	"fmt"
	"math/rand"

	"github.com/pagekv/pagekv/internal/store"
)

// A nested set is a table whose elements are all ValueSetHead keys: each
// key's "value" is the inline store.TableInFile of another table, itself
// reachable by the same Find/Insert/Delete/Range operations (spec §4.4).
// Set is the member-oriented API layered over that representation —
// Add/Remove/Members/IsMember/Pop/Rand/Union/Inter/Diff/Move — matching
// the member-collection operations the original spec names for C1.

// Set wraps a Table known to hold ValueSetHead members (Desc.IsSetHead).
type Set struct {
	*Table
}

// AsSet views t as a nested set. It does not validate Desc.IsSetHead;
// callers get that guarantee from the Manager at table-open time.
func AsSet(t *Table) *Set { return &Set{Table: t} }

// Add inserts member into the set if absent. Returns true if it was newly
// added.
func (s *Set) Add(member []byte) (bool, error) {
	_, ok, err := s.Get(member)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	// each member's value is an empty nested table descriptor
	blob := make([]byte, store.TableInFileSize)
	desc := store.NewTableInFile(store.TableKindSet, true)
	desc.Marshal(blob)
	if err := s.Insert(member, blob, ValueSetHead); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes member from the set. Returns true if it was present.
func (s *Set) Remove(member []byte) (bool, error) {
	return s.Delete(member)
}

// IsMember reports whether member is in the set.
func (s *Set) IsMember(member []byte) (bool, error) {
	_, ok, err := s.Get(member)
	return ok, err
}

// Members returns every member in ascending key order.
func (s *Set) Members() ([][]byte, error) {
	var out [][]byte
	err := s.Range(nil, nil, func(key, _ []byte) bool {
		out = append(out, append([]byte(nil), key...))
		return true
	})
	return out, err
}

// Len returns the number of members via a full scan; the skiplist does
// not keep a running count of live (non-tombstoned) keys.
func (s *Set) Len() (int, error) {
	n := 0
	err := s.Range(nil, nil, func(_, _ []byte) bool { n++; return true })
	return n, err
}

// Pop removes and returns one arbitrary member, or ok=false if the set is
// empty.
func (s *Set) Pop() (member []byte, ok bool, err error) {
	members, err := s.Members()
	if err != nil || len(members) == 0 {
		return nil, false, err
	}
	pick := members[rand.Intn(len(members))]
	if _, err := s.Delete(pick); err != nil {
		return nil, false, err
	}
	return pick, true, nil
}

// Rand returns up to n distinct members chosen at random without removing
// them. If n is negative, members may repeat and exactly -n are returned
// (redis SRANDMEMBER semantics).
func (s *Set) Rand(n int) ([][]byte, error) {
	members, err := s.Members()
	if err != nil || len(members) == 0 {
		return nil, err
	}
	if n < 0 {
		out := make([][]byte, -n)
		for i := range out {
			out[i] = members[rand.Intn(len(members))]
		}
		return out, nil
	}
	if n > len(members) {
		n = len(members)
	}
	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	return members[:n], nil
}

// RangeFrom returns up to limit members starting at or after point, in
// ascending order — the "point/limit" scan named in the spec for paging
// through a large set without loading it all at once.
func (s *Set) RangeFrom(point []byte, limit int) ([][]byte, error) {
	var out [][]byte
	err := s.Table.Range(point, nil, func(key, _ []byte) bool {
		out = append(out, append([]byte(nil), key...))
		return len(out) < limit
	})
	return out, err
}

// Union returns the sorted union of members across sets.
func Union(sets ...*Set) ([][]byte, error) {
	seen := map[string]struct{}{}
	var out [][]byte
	for _, s := range sets {
		members, err := s.Members()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if _, dup := seen[string(m)]; !dup {
				seen[string(m)] = struct{}{}
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Inter returns members present in every set.
func Inter(sets ...*Set) ([][]byte, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	counts := map[string]int{}
	var order []string
	for i, s := range sets {
		members, err := s.Members()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			k := string(m)
			if i == 0 {
				order = append(order, k)
			}
			counts[k]++
		}
	}
	var out [][]byte
	for _, k := range order {
		if counts[k] == len(sets) {
			out = append(out, []byte(k))
		}
	}
	return out, nil
}

// Diff returns members of the first set not present in any of the rest.
func Diff(first *Set, rest ...*Set) ([][]byte, error) {
	exclude := map[string]struct{}{}
	for _, s := range rest {
		members, err := s.Members()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			exclude[string(m)] = struct{}{}
		}
	}
	members, err := first.Members()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, m := range members {
		if _, excluded := exclude[string(m)]; !excluded {
			out = append(out, m)
		}
	}
	return out, nil
}

// storeInto replaces dst's members with exactly members, used by the three
// *Store variants below to write a computed result back into a destination
// set (spec §4.3: `sUnionStore`/`sInterStore`/`sDiffStore`).
func storeInto(dst *Set, members [][]byte) error {
	existing, err := dst.Members()
	if err != nil {
		return err
	}
	for _, m := range existing {
		if _, err := dst.Remove(m); err != nil {
			return err
		}
	}
	for _, m := range members {
		if _, err := dst.Add(m); err != nil {
			return err
		}
	}
	return nil
}

// UnionStore computes Union(sets...) and overwrites dst's members with the
// result, returning the stored members.
func UnionStore(dst *Set, sets ...*Set) ([][]byte, error) {
	members, err := Union(sets...)
	if err != nil {
		return nil, err
	}
	if err := storeInto(dst, members); err != nil {
		return nil, err
	}
	return members, nil
}

// InterStore computes Inter(sets...) and overwrites dst's members with the
// result, returning the stored members.
func InterStore(dst *Set, sets ...*Set) ([][]byte, error) {
	members, err := Inter(sets...)
	if err != nil {
		return nil, err
	}
	if err := storeInto(dst, members); err != nil {
		return nil, err
	}
	return members, nil
}

// DiffStore computes Diff(first, rest...) and overwrites dst's members with
// the result, returning the stored members.
func DiffStore(dst *Set, first *Set, rest ...*Set) ([][]byte, error) {
	members, err := Diff(first, rest...)
	if err != nil {
		return nil, err
	}
	if err := storeInto(dst, members); err != nil {
		return nil, err
	}
	return members, nil
}

// Move transfers member from src to dst. It is not atomic across the two
// tables at the skiplist layer — the calling job handler is expected to
// run both halves inside one transaction so a rollback undoes both.
func Move(src, dst *Set, member []byte) error {
	ok, err := src.IsMember(member)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("skiplist: member not present in source set")
	}
	if _, err := dst.Add(member); err != nil {
		return err
	}
	if _, err := src.Remove(member); err != nil {
		return err
	}
	return nil
}
