package model

// ValueRecord is a single version of a key held by a replica.
type ValueRecord struct {
	Value     []byte      `json:"value,omitempty"`
	Clock     VectorClock `json:"clock"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds, LWW total order
	Origin    string      `json:"origin"`    // coordinator node that created this version, LWW tie-break
	Tombstone bool        `json:"tombstone,omitempty"`
}

// Equal reports whether two records carry the same version tag.
func (r ValueRecord) Equal(other ValueRecord) bool {
	if len(r.Clock.Entries) != len(other.Clock.Entries) {
		return false
	}
	for _, e := range r.Clock.Entries {
		if other.Clock.Counter(e.NodeID) != e.Counter {
			return false
		}
	}
	return r.Timestamp == other.Timestamp && r.Origin == other.Origin
}
