package version

import (
	"sort"

	"github.com/driftdb/driftdb/internal/model"
)

// Policy selects how concurrent versions of a key are resolved.
type Policy string

const (
	// PolicyVectorClock surfaces concurrent versions as siblings for the
	// caller to reconcile on the next write.
	PolicyVectorClock Policy = "vector_clock"
	// PolicyLWW totally orders versions by (timestamp, origin) and keeps
	// exactly one winner. Depends on reasonably synchronized clocks.
	PolicyLWW Policy = "lww"
)

// Valid reports whether p is a known conflict policy.
func (p Policy) Valid() bool {
	return p == PolicyVectorClock || p == PolicyLWW
}

// Resolver reduces sets of record versions to the causal frontier.
type Resolver struct {
	policy Policy
}

// NewResolver creates a resolver for the configured conflict policy.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Policy returns the configured conflict policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Reduce collapses records to the set of versions no other version
// dominates. Under LWW the result is at most one record; under vector
// clocks it is the sibling frontier, ordered by (timestamp, origin) for
// stable output. Equal versions are deduplicated, so applying the same
// record twice is idempotent.
func (r *Resolver) Reduce(records []model.ValueRecord) []model.ValueRecord {
	if len(records) == 0 {
		return nil
	}
	if r.policy == PolicyLWW {
		winner := records[0]
		for _, rec := range records[1:] {
			if lwwLess(winner, rec) {
				winner = rec
			}
		}
		return []model.ValueRecord{winner}
	}

	frontier := make([]model.ValueRecord, 0, len(records))
	for _, rec := range records {
		dominated := false
		duplicate := false
		kept := frontier[:0]
		for _, f := range frontier {
			switch Compare(rec.Clock, f.Clock) {
			case model.Before:
				dominated = true
				kept = append(kept, f)
			case model.After:
				// f is dominated by rec, drop it
			case model.Equal:
				duplicate = true
				kept = append(kept, f)
			default:
				kept = append(kept, f)
			}
		}
		frontier = kept
		if !dominated && !duplicate {
			frontier = append(frontier, rec)
		}
	}

	sort.Slice(frontier, func(i, j int) bool {
		return lwwLess(frontier[i], frontier[j])
	})
	return frontier
}

// Dominant returns the single version to report for a read. Under vector
// clocks with more than one sibling it returns the LWW tie-break winner and
// concurrent=true; the caller is expected to surface the whole frontier.
func (r *Resolver) Dominant(records []model.ValueRecord) (model.ValueRecord, bool) {
	frontier := r.Reduce(records)
	if len(frontier) == 0 {
		return model.ValueRecord{}, false
	}
	return frontier[len(frontier)-1], len(frontier) > 1
}

// Stale reports whether the frontier held by a replica is missing any
// version of the merged frontier, meaning the replica needs read repair.
func (r *Resolver) Stale(held, merged []model.ValueRecord) bool {
	for _, want := range merged {
		found := false
		for _, have := range held {
			if want.Equal(have) {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// lwwLess orders records by (timestamp, origin); the greater record wins.
func lwwLess(a, b model.ValueRecord) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Origin < b.Origin
}
