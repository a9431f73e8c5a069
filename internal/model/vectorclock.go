package model

// VectorClockEntry is a single per-node counter in a vector clock.
type VectorClockEntry struct {
	NodeID    string `json:"node_id"`
	Counter   int64  `json:"counter"`
	UpdatedAt int64  `json:"updated_at"` // unix milliseconds of the last increment, drives truncation
}

// VectorClock tracks causality across coordinators. Entries only grow by
// replica-local increments and are truncated once they exceed the
// configured bound.
type VectorClock struct {
	Entries []VectorClockEntry `json:"entries"`
}

// Counter returns the counter recorded for nodeID, zero if absent.
func (vc VectorClock) Counter(nodeID string) int64 {
	for _, e := range vc.Entries {
		if e.NodeID == nodeID {
			return e.Counter
		}
	}
	return 0
}

// Clone returns a deep copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	entries := make([]VectorClockEntry, len(vc.Entries))
	copy(entries, vc.Entries)
	return VectorClock{Entries: entries}
}

// Comparison is the result of comparing two vector clocks.
type Comparison int

const (
	// Equal means both clocks are identical.
	Equal Comparison = iota
	// Before means the first happens before the second.
	Before
	// After means the first happens after the second.
	After
	// Concurrent means neither dominates (siblings).
	Concurrent
)

func (c Comparison) String() string {
	switch c {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}
