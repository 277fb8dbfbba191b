package crank

import (
	"cmp"
	"slices"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// OrderDelegations returns the round-robin order in which a tracker created
// at ncnEpoch visits a vault's operator delegations.
//
// The walk starts at index ncnEpoch mod operatorCount and proceeds through
// ascending indices, wrapping around, until every supplied delegation has
// been emitted once. The live set may be a subset of [0, operatorCount).
//
// When no delegation has the start index, the walk starts at the smallest
// index above it, or wraps to the smallest index overall; fellBack reports
// that this happened so the caller can warn. Delegations sharing an index
// are ordered by address. An operatorCount of zero yields nil.
func OrderDelegations(
	ncnEpoch, operatorCount uint64, delegations []OperatorDelegation,
) (ordered []OperatorDelegation, fellBack bool) {
	if operatorCount == 0 || len(delegations) == 0 {
		return nil, false
	}

	sorted := slices.Clone(delegations)
	slices.SortFunc(sorted, func(a, b OperatorDelegation) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}

		return solana.Compare(a.Address, b.Address)
	})

	start := ncnEpoch % operatorCount

	pos, _ := slices.BinarySearchFunc(sorted, start, func(d OperatorDelegation, target uint64) int {
		return cmp.Compare(d.Index, target)
	})
	if pos == len(sorted) {
		pos = 0
	}

	ordered = make([]OperatorDelegation, 0, len(sorted))
	ordered = append(ordered, sorted[pos:]...)
	ordered = append(ordered, sorted[:pos]...)

	return ordered, sorted[pos].Index != start
}
