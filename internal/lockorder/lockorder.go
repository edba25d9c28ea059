// Package lockorder defines the canonical order in which booking
// transactions acquire row locks.
//
// Every code path that locks more than one ticket type row must lock them in
// the order returned by Canonical. Two transactions that lock overlapping
// row sets in the same total order cannot deadlock on each other. The event
// row, when needed, is always locked after the ticket type rows.
package lockorder

import (
	"slices"

	"github.com/samber/lo"
)

// Canonical returns the distinct ids sorted ascending. The input is not
// modified.
func Canonical(ids []int64) []int64 {
	out := lo.Uniq(ids)
	slices.Sort(out)
	return out
}

// IsCanonical reports whether ids are strictly ascending.
func IsCanonical(ids []int64) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return false
		}
	}
	return true
}
