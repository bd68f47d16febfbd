package inventory

import "sort"

// anxTolerance is the timing jitter between repeated observations of the
// same physical burst. Values within this distance of a representative are
// rewritten to it.
const anxTolerance = 1

// CanonicalizeAnxTimes snaps near-duplicate AnxTime values to a single
// representative so that repeated observations of the same physical burst
// derive the same identifier.
//
// Policy: values are visited in ascending order; the first value of a run
// becomes the representative for every value within the tolerance of it.
// The merge is deliberately local, not transitive: with values t, t+1, t+2
// both t+1 and t+2 map to t only if they are each within the tolerance of
// t, so t+2 stays distinct. This matches the per-value local merge of the
// legacy inventory builder; the chained case is pinned by a test.
//
// The canonical mapping is computed fully before any rows are rewritten,
// so the result does not depend on row order and the operation is
// idempotent.
func CanonicalizeAnxTimes(table *Table) {
	// Distinct values, ascending, for a deterministic visit order.
	distinct := make(map[int]struct{})
	for i := range table.Rows {
		distinct[table.Rows[i].AnxTime] = struct{}{}
	}
	values := make([]int, 0, len(distinct))
	for v := range distinct {
		values = append(values, v)
	}
	sort.Ints(values)

	// Phase one: build the mapping. A value already claimed by an earlier
	// representative never becomes a representative itself.
	mapping := make(map[int]int, len(values))
	for _, v := range values {
		if _, claimed := mapping[v]; claimed {
			continue
		}
		mapping[v] = v
		for _, other := range values {
			if other == v {
				continue
			}
			if _, claimed := mapping[other]; claimed {
				continue
			}
			if abs(other-v) <= anxTolerance {
				mapping[other] = v
			}
		}
	}

	// Phase two: batch rewrite.
	for i := range table.Rows {
		table.Rows[i].AnxTime = mapping[table.Rows[i].AnxTime]
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
