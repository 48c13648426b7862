package engine

import (
	"sort"

	"copytrade_go/internal/domain"
)

// Merge reconciles the push buffer with the pull snapshot for one subject.
//
// Events are deduplicated by ID, keeping the buffer's copy when both sources
// carry the same ID, and the result is sorted by timestamp descending. Ties
// keep insertion order: buffer entries before snapshot entries, each in its
// original order. The inputs are never modified and every call returns a fresh
// slice, so Merge can be rerun after any input change.
func Merge(buffer, snapshot []domain.TradeEvent) []domain.TradeEvent {
	merged := make([]domain.TradeEvent, 0, len(buffer)+len(snapshot))
	seen := make(map[string]struct{}, len(buffer)+len(snapshot))

	for _, src := range [2][]domain.TradeEvent{buffer, snapshot} {
		for _, ev := range src {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TimestampMillis > merged[j].TimestampMillis
	})
	return merged
}
