package model

// MemberStatus is the lifecycle state of a cluster member.
type MemberStatus string

const (
	// StatusActive indicates the member is healthy and serving.
	StatusActive MemberStatus = "active"
	// StatusSuspect indicates the phi detector crossed its threshold.
	StatusSuspect MemberStatus = "suspect"
	// StatusDown indicates a prolonged absence of heartbeat progress.
	StatusDown MemberStatus = "down"
	// StatusLeaving indicates the member announced a graceful departure.
	StatusLeaving MemberStatus = "leaving"
)

// Member is one entry in the gossip membership table.
type Member struct {
	NodeID      string       `json:"node_id"`
	Address     string       `json:"address"`
	Status      MemberStatus `json:"status"`
	Heartbeat   uint64       `json:"heartbeat"`
	Incarnation uint64       `json:"incarnation"`
}

// Newer reports whether m carries fresher information than other under the
// (incarnation, heartbeat) gossip ordering.
func (m Member) Newer(other Member) bool {
	if m.Incarnation != other.Incarnation {
		return m.Incarnation > other.Incarnation
	}
	return m.Heartbeat > other.Heartbeat
}
