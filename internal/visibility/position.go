// Package visibility decides which outcomes, decisions and artifact variants a
// viewer may see. Nothing here is cached: every read re-evaluates against the
// session's current position.
package visibility

import "sort"

// Position is a session's current step and phase, both 0-based positions into
// the order-sorted step and phase lists.
type Position struct {
	StepIndex  int
	PhaseIndex int
}

// IsUnlocked reports whether content tagged with step/phase is reachable at pos.
// Untagged content is always reachable. A nil phase tag only constrains the step.
func IsUnlocked(stepIndex, phaseIndex *int, pos Position) bool {
	if stepIndex == nil {
		return true
	}
	if *stepIndex < pos.StepIndex {
		return true
	}
	if *stepIndex == pos.StepIndex {
		return phaseIndex == nil || *phaseIndex <= pos.PhaseIndex
	}
	return false
}

// ResolveCurrent returns the element at position index after a stable sort by
// orderOf. The order values themselves never matter, only their relative
// order, so 0-based, 1-based and gapped numbering resolve identically.
func ResolveCurrent[T any](items []T, orderOf func(T) int, index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(items) {
		return zero, false
	}
	sorted := SortByOrder(items, orderOf)
	return sorted[index], true
}

// SortByOrder returns a stably sorted copy of items.
func SortByOrder[T any](items []T, orderOf func(T) int) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return orderOf(sorted[i]) < orderOf(sorted[j]) })
	return sorted
}
