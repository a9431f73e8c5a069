package model

import "time"

// Hint is a write accepted on behalf of an unreachable replica, kept on the
// coordinating node until it can be replayed to the original target.
type Hint struct {
	HintID       string      `json:"hint_id"`
	TargetNodeID string      `json:"target_node_id"`
	Key          []byte      `json:"key"`
	Record       ValueRecord `json:"record"`
	CreatedAt    time.Time   `json:"created_at"`
	ReplayCount  int         `json:"replay_count"`
}
