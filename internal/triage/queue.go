package triage

import (
	"cmp"
	"slices"
)

// SortQueue orders results for the staff queue: most urgent first, then
// longest waiting, with the ID as a stable tiebreak.
func SortQueue(results []*Result) {
	slices.SortStableFunc(results, func(a, b *Result) int {
		if c := cmp.Compare(b.Urgency.Rank(), a.Urgency.Rank()); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
