// Package merkle builds and verifies hash trees over labeled artifact hashes.
//
// Leaves are sorted by label (then hash) before any hashing, so the root of a
// leaf set does not depend on the order the caller supplied it in. A level
// with an odd node count duplicates its last node before pairing, and a
// parent hash is H(left.hash + right.hash) over the hex strings.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// EmptyTreeLabel labels the sentinel leaf of an empty tree.
const EmptyTreeLabel = "EMPTY_TREE"

// ErrMalformedLeaf is returned when a leaf lacks a hash or a label.
var ErrMalformedLeaf = errors.New("merkle: malformed leaf")

// Leaf is one labeled hash. The label is the artifact path and the sort key.
type Leaf struct {
	Hash  string `json:"hash"`
	Label string `json:"label"`
}

// Node is an interior or leaf node. Leaf nodes carry the label.
type Node struct {
	Hash  string `json:"hash"`
	Label string `json:"label,omitempty"`
	Left  *Node  `json:"left,omitempty"`
	Right *Node  `json:"right,omitempty"`
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return n.Left == nil && n.Right == nil }

// Tree is an immutable Merkle tree. RootHash is the only value a verifier
// should trust.
type Tree struct {
	RootHash string
	Root     *Node
	Leaves   []Leaf
	Depth    int
}

// LeafCount returns the number of leaves, including the sentinel of an empty tree.
func (t *Tree) LeafCount() int { return len(t.Leaves) }

// IsEmptySentinel reports whether t is the canonical empty tree.
func (t *Tree) IsEmptySentinel() bool {
	return len(t.Leaves) == 1 && t.Leaves[0] == sentinelLeaf()
}

// H is the tree hash function: lowercase hex SHA-256 of s.
func H(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EmptyRoot is the root hash of a tree built from no leaves.
func EmptyRoot() string { return H(EmptyTreeLabel) }

func sentinelLeaf() Leaf {
	return Leaf{Hash: EmptyRoot(), Label: EmptyTreeLabel}
}

// Build constructs a tree from leaves. The input slice is not modified.
func Build(leaves []Leaf) (*Tree, error) {
	for i, l := range leaves {
		if l.Hash == "" || l.Label == "" {
			return nil, fmt.Errorf("%w: index %d (label=%q)", ErrMalformedLeaf, i, l.Label)
		}
	}

	sorted := SortLeaves(leaves)
	if len(sorted) == 0 {
		s := sentinelLeaf()
		return &Tree{
			RootHash: s.Hash,
			Root:     &Node{Hash: s.Hash, Label: s.Label},
			Leaves:   []Leaf{s},
		}, nil
	}

	level := make([]*Node, len(sorted))
	for i, l := range sorted {
		level[i] = &Node{Hash: l.Hash, Label: l.Label}
	}

	depth := 0
	for len(level) > 1 {
		level = buildNextLevel(level)
		depth++
	}

	return &Tree{
		RootHash: level[0].Hash,
		Root:     level[0],
		Leaves:   sorted,
		Depth:    depth,
	}, nil
}

// SortLeaves returns a sorted copy of leaves: by label, ties broken by hash.
func SortLeaves(leaves []Leaf) []Leaf {
	sorted := make([]Leaf, len(leaves))
	copy(sorted, leaves)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Label != sorted[j].Label {
			return sorted[i].Label < sorted[j].Label
		}
		return sorted[i].Hash < sorted[j].Hash
	})
	return sorted
}

// Verify rebuilds the tree from leaves and compares its root to claimedRoot.
func Verify(leaves []Leaf, claimedRoot string) bool {
	tree, err := Build(leaves)
	if err != nil {
		return false
	}
	return tree.RootHash == claimedRoot
}

func buildNextLevel(nodes []*Node) []*Node {
	if len(nodes)%2 != 0 {
		nodes = append(nodes, nodes[len(nodes)-1]) // duplicate last
	}

	next := make([]*Node, len(nodes)/2)
	for i := 0; i < len(nodes); i += 2 {
		left, right := nodes[i], nodes[i+1]
		next[i/2] = &Node{
			Hash:  buildNodeHash(left.Hash, right.Hash),
			Left:  left,
			Right: right,
		}
	}
	return next
}

func buildNodeHash(left, right string) string {
	return H(left + right)
}
