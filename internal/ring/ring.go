// Package ring maps keys to replica sets using consistent hashing with
// virtual nodes. The ring is per-node replicated state rebuilt from the
// gossip membership view; any two nodes with the same view compute the
// same preference lists.
package ring

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/driftdb/driftdb/internal/model"
	"github.com/zeebo/xxh3"
)

// TokenRange is an inclusive range [Start, End] of the 64-bit token space.
type TokenRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Span returns the number of tokens covered by the range.
func (r TokenRange) Span() uint64 {
	return r.End - r.Start
}

// Contains reports whether token falls inside the range.
func (r TokenRange) Contains(token uint64) bool {
	return token >= r.Start && token <= r.End
}

// Ring implements consistent hashing with virtual nodes.
type Ring struct {
	replication  int
	virtualNodes int

	mu      sync.RWMutex
	tokens  []uint64          // sorted vnode token positions
	owners  map[uint64]string // token -> physical node
	members map[string]bool   // physical nodes present in the ring
}

// New creates an empty ring with the given replication factor and
// virtual-node count per physical node.
func New(replication, virtualNodes int) *Ring {
	return &Ring{
		replication:  replication,
		virtualNodes: virtualNodes,
		owners:       make(map[uint64]string),
		members:      make(map[string]bool),
	}
}

// Token hashes a key into the ring space.
func Token(key []byte) uint64 {
	return xxh3.Hash(key)
}

// vnodeToken derives the deterministic token position of one virtual node,
// so any node can recompute the full ring from membership alone.
func vnodeToken(nodeID string, index int) uint64 {
	return xxh3.HashString(fmt.Sprintf("%s#%d", nodeID, index))
}

// OnMembershipChange rebuilds the token table from the membership view.
// Members in every state except leaving keep their ring positions: a down
// node stays an owner and the coordinator handles it via sloppy quorum.
func (r *Ring) OnMembershipChange(view []model.Member) {
	tokens := make([]uint64, 0, len(view)*r.virtualNodes)
	owners := make(map[uint64]string, len(view)*r.virtualNodes)
	members := make(map[string]bool, len(view))

	for _, m := range view {
		if m.Status == model.StatusLeaving {
			continue
		}
		members[m.NodeID] = true
		for i := 0; i < r.virtualNodes; i++ {
			token := vnodeToken(m.NodeID, i)
			tokens = append(tokens, token)
			owners[token] = m.NodeID
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	r.mu.Lock()
	r.tokens = tokens
	r.owners = owners
	r.members = members
	r.mu.Unlock()
}

// OwnersOf returns the preference list for a key: the first N distinct
// physical nodes walking clockwise from the key's token.
func (r *Ring) OwnersOf(key []byte) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownersFrom(r.search(Token(key)), r.replication, nil)
}

// Fallbacks returns up to count distinct healthy physical nodes beyond the
// preference list, used for sloppy-quorum writes. exclude holds nodes that
// must be skipped (the preference list plus already-chosen fallbacks).
func (r *Ring) Fallbacks(key []byte, exclude map[string]bool, count int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownersFrom(r.search(Token(key)), count, exclude)
}

// OwnersOfToken returns the preference list for a raw token position.
func (r *Ring) OwnersOfToken(token uint64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownersFrom(r.search(token), r.replication, nil)
}

// search finds the index of the first vnode at or after token, wrapping.
func (r *Ring) search(token uint64) int {
	idx := sort.Search(len(r.tokens), func(i int) bool {
		return r.tokens[i] >= token
	})
	if idx >= len(r.tokens) {
		idx = 0
	}
	return idx
}

// ownersFrom walks the ring clockwise collecting distinct physical nodes,
// skipping vnodes whose physical node is already collected or excluded.
func (r *Ring) ownersFrom(start, count int, exclude map[string]bool) []string {
	if len(r.tokens) == 0 || count <= 0 {
		return nil
	}
	nodes := make([]string, 0, count)
	seen := make(map[string]bool, count)
	for i := 0; i < len(r.tokens) && len(nodes) < count; i++ {
		owner := r.owners[r.tokens[(start+i)%len(r.tokens)]]
		if seen[owner] || exclude[owner] {
			continue
		}
		seen[owner] = true
		nodes = append(nodes, owner)
	}
	return nodes
}

// OwnedRanges returns the token ranges for which nodeID is one of the N
// owners, split into linear (non-wrapping) inclusive ranges. Used by the
// anti-entropy engine to scope Merkle trees.
func (r *Ring) OwnedRanges(nodeID string) []TokenRange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tokens) == 0 || !r.members[nodeID] {
		return nil
	}

	var ranges []TokenRange
	add := func(tr TokenRange) {
		// Merge adjacent segments to keep the range list short.
		if n := len(ranges); n > 0 && ranges[n-1].End != math.MaxUint64 && ranges[n-1].End+1 == tr.Start {
			ranges[n-1].End = tr.End
			return
		}
		ranges = append(ranges, tr)
	}

	for i, token := range r.tokens {
		owned := false
		for _, owner := range r.ownersFrom(i, r.replication, nil) {
			if owner == nodeID {
				owned = true
				break
			}
		}
		if !owned {
			continue
		}
		// The segment ending at tokens[i] starts just past the previous token.
		if i == 0 {
			prev := r.tokens[len(r.tokens)-1]
			if prev < math.MaxUint64 {
				add(TokenRange{Start: prev + 1, End: math.MaxUint64})
			}
			add(TokenRange{Start: 0, End: token})
		} else {
			add(TokenRange{Start: r.tokens[i-1] + 1, End: token})
		}
	}
	return ranges
}

// NodeCount returns the number of physical nodes in the ring.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Contains reports whether nodeID currently owns ring positions.
func (r *Ring) Contains(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[nodeID]
}
