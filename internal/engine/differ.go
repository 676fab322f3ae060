package engine

import (
	"slices"

	"github.com/roach88/relfill/internal/ir"
)

// Diff is the set difference between a current and a desired association.
// Each list is sorted ascending.
type Diff struct {
	Add    []ir.Key
	Remove []ir.Key
	Keep   []ir.Key
}

// DiffKeys compares current against desired by identity key. Duplicates in
// either input count once.
func DiffKeys(current, desired []ir.Key) Diff {
	cur := keySet(current)
	want := keySet(desired)

	var d Diff
	for k := range want {
		if cur[k] {
			d.Keep = append(d.Keep, k)
		} else {
			d.Add = append(d.Add, k)
		}
	}
	for k := range cur {
		if !want[k] {
			d.Remove = append(d.Remove, k)
		}
	}
	slices.Sort(d.Add)
	slices.Sort(d.Remove)
	slices.Sort(d.Keep)
	return d
}

func keySet(keys []ir.Key) map[ir.Key]bool {
	set := make(map[ir.Key]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// coalesce returns the indexes of items to process, dropping every item
// whose identity repeats later in the list. The last occurrence of a key
// wins; items without a static identity are always kept. Order is preserved.
func coalesce(items ir.IRArray, keyOf func(ir.IRValue) (ir.Key, bool)) []int {
	last := make(map[ir.Key]int, len(items))
	for i, item := range items {
		if k, ok := keyOf(item); ok {
			last[k] = i
		}
	}
	out := make([]int, 0, len(items))
	for i, item := range items {
		if k, ok := keyOf(item); ok && last[k] != i {
			continue
		}
		out = append(out, i)
	}
	return out
}
