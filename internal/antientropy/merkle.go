// Package antientropy converges replicas that have drifted apart:
// Merkle-tree range comparison, asynchronous read repair, and tombstone
// reaping. All of it runs off the foreground request path and talks to
// replicas only through the storage and transport contracts.
package antientropy

import (
	"bytes"
	"context"
	"crypto/sha256"

	"github.com/driftdb/driftdb/internal/ring"
	"github.com/driftdb/driftdb/internal/storage"
)

// MerkleNode is one node of a hash tree over a token range. Leaves carry
// the storage digest of their range; parents fold their children.
type MerkleNode struct {
	Range  ring.TokenRange
	Digest []byte
	Left   *MerkleNode
	Right  *MerkleNode
}

// Leaf reports whether the node has no children.
func (n *MerkleNode) Leaf() bool {
	return n.Left == nil && n.Right == nil
}

// MerkleTree is a hash tree over one owned token range, used only for
// comparison with a peer, never as the value store.
type MerkleTree struct {
	Root *MerkleNode
}

// BuildTree constructs a Merkle tree of the given depth over r, pulling
// leaf digests from engine. Depth d yields up to 2^d leaves; ranges too
// narrow to split stop early.
func BuildTree(ctx context.Context, engine storage.Engine, r ring.TokenRange, depth int) (*MerkleTree, error) {
	root, err := buildNode(ctx, engine, r, depth)
	if err != nil {
		return nil, err
	}
	return &MerkleTree{Root: root}, nil
}

func buildNode(ctx context.Context, engine storage.Engine, r ring.TokenRange, depth int) (*MerkleNode, error) {
	if depth == 0 || r.Start == r.End {
		digest, err := engine.Digest(ctx, r.Start, r.End)
		if err != nil {
			return nil, err
		}
		return &MerkleNode{Range: r, Digest: digest}, nil
	}

	left, right := splitRange(r)
	leftNode, err := buildNode(ctx, engine, left, depth-1)
	if err != nil {
		return nil, err
	}
	rightNode, err := buildNode(ctx, engine, right, depth-1)
	if err != nil {
		return nil, err
	}
	return &MerkleNode{
		Range:  r,
		Digest: foldDigests(leftNode.Digest, rightNode.Digest),
		Left:   leftNode,
		Right:  rightNode,
	}, nil
}

// splitRange halves an inclusive token range.
func splitRange(r ring.TokenRange) (ring.TokenRange, ring.TokenRange) {
	mid := r.Start + (r.End-r.Start)/2
	return ring.TokenRange{Start: r.Start, End: mid},
		ring.TokenRange{Start: mid + 1, End: r.End}
}

func foldDigests(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// DigestFunc returns a peer's digest for one token range.
type DigestFunc func(ctx context.Context, r ring.TokenRange) ([]byte, error)

// DiffRanges walks the local tree against a peer's digests and returns
// the leaf ranges whose contents differ. Matching subtree digests prune
// the walk, so the comparison cost is O(log range) plus the divergence.
func DiffRanges(ctx context.Context, local *MerkleTree, peerDigest DigestFunc) ([]ring.TokenRange, error) {
	var diffs []ring.TokenRange
	err := diffNode(ctx, local.Root, peerDigest, &diffs)
	if err != nil {
		return nil, err
	}
	return diffs, nil
}

func diffNode(ctx context.Context, node *MerkleNode, peerDigest DigestFunc, diffs *[]ring.TokenRange) error {
	remote, err := peerDigest(ctx, node.Range)
	if err != nil {
		return err
	}
	if bytes.Equal(node.Digest, remote) {
		return nil
	}
	if node.Leaf() {
		*diffs = append(*diffs, node.Range)
		return nil
	}
	if err := diffNode(ctx, node.Left, peerDigest, diffs); err != nil {
		return err
	}
	return diffNode(ctx, node.Right, peerDigest, diffs)
}
