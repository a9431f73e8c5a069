package version

import (
	"sort"

	"github.com/driftdb/driftdb/internal/model"
)

// Compare compares two vector clocks
func Compare(a, b model.VectorClock) model.Comparison {
	allBefore := true
	allAfter := true

	allNodes := make(map[string]bool)
	for _, e := range a.Entries {
		allNodes[e.NodeID] = true
	}
	for _, e := range b.Entries {
		allNodes[e.NodeID] = true
	}

	for nodeID := range allNodes {
		ca := a.Counter(nodeID)
		cb := b.Counter(nodeID)
		if ca < cb {
			allAfter = false
		} else if ca > cb {
			allBefore = false
		}
	}

	if allBefore && allAfter {
		return model.Equal
	}
	if allBefore {
		return model.Before
	}
	if allAfter {
		return model.After
	}
	return model.Concurrent
}

// Merge returns the pointwise maximum of the given clocks.
func Merge(clocks ...model.VectorClock) model.VectorClock {
	merged := make(map[string]model.VectorClockEntry)
	for _, clock := range clocks {
		for _, entry := range clock.Entries {
			existing, ok := merged[entry.NodeID]
			if !ok || entry.Counter > existing.Counter {
				merged[entry.NodeID] = entry
			}
		}
	}
	return fromMap(merged)
}

// Increment merges the client context clock and bumps the counter for the
// coordinating node, truncating to maxEntries afterwards. now is unix
// milliseconds and is recorded on the bumped entry for truncation ordering.
func Increment(context model.VectorClock, nodeID string, now int64, maxEntries int) model.VectorClock {
	entries := make(map[string]model.VectorClockEntry, len(context.Entries)+1)
	for _, e := range context.Entries {
		entries[e.NodeID] = e
	}
	e := entries[nodeID]
	entries[nodeID] = model.VectorClockEntry{NodeID: nodeID, Counter: e.Counter + 1, UpdatedAt: now}
	return Truncate(fromMap(entries), maxEntries)
}

// Truncate drops the oldest entries (by UpdatedAt, then NodeID) once the
// clock exceeds maxEntries. Dropped entries can make two causally related
// clocks compare as concurrent, never the reverse.
func Truncate(vc model.VectorClock, maxEntries int) model.VectorClock {
	if maxEntries <= 0 || len(vc.Entries) <= maxEntries {
		return vc
	}
	entries := make([]model.VectorClockEntry, len(vc.Entries))
	copy(entries, vc.Entries)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt != entries[j].UpdatedAt {
			return entries[i].UpdatedAt > entries[j].UpdatedAt
		}
		return entries[i].NodeID < entries[j].NodeID
	})
	return sorted(model.VectorClock{Entries: entries[:maxEntries]})
}

func fromMap(m map[string]model.VectorClockEntry) model.VectorClock {
	entries := make([]model.VectorClockEntry, 0, len(m))
	for _, e := range m {
		entries = append(entries, e)
	}
	return sorted(model.VectorClock{Entries: entries})
}

// sorted keeps entries in NodeID order so serialized clocks are stable.
func sorted(vc model.VectorClock) model.VectorClock {
	sort.Slice(vc.Entries, func(i, j int) bool {
		return vc.Entries[i].NodeID < vc.Entries[j].NodeID
	})
	return vc
}
