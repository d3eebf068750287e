package merkle

import (
	"fmt"
	"strings"
)

// InclusionProof shows that one leaf belongs to a tree with MerkleRoot.
type InclusionProof struct {
	LeafLabel  string      `json:"leaf_label"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	ProofPath  []ProofStep `json:"proof_path"`
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// Proof returns the inclusion proof for the leaf with the given label.
func (t *Tree) Proof(label string) (*InclusionProof, error) {
	idx := -1
	for i, l := range t.Leaves {
		if l.Label == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("merkle: no leaf labeled %q", label)
	}

	proof := &InclusionProof{
		LeafLabel:  label,
		LeafHash:   t.Leaves[idx].Hash,
		MerkleRoot: t.RootHash,
	}

	level := make([]string, len(t.Leaves))
	for i, l := range t.Leaves {
		level[i] = l.Hash
	}
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		if idx%2 == 0 {
			proof.ProofPath = append(proof.ProofPath, ProofStep{Side: "R", SiblingHash: level[idx+1]})
		} else {
			proof.ProofPath = append(proof.ProofPath, ProofStep{Side: "L", SiblingHash: level[idx-1]})
		}

		next := make([]string, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = buildNodeHash(level[i], level[i+1])
		}
		level = next
		idx /= 2
	}
	return proof, nil
}

// VerifyInclusion checks a proof against a trusted root. An empty
// expectedRoot falls back to the root recorded in the proof.
func VerifyInclusion(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && !strings.EqualFold(proof.MerkleRoot, expectedRoot) {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.ProofPath {
		switch step.Side {
		case "L":
			current = buildNodeHash(step.SiblingHash, current)
		case "R":
			current = buildNodeHash(current, step.SiblingHash)
		default:
			return false
		}
	}
	return strings.EqualFold(current, proof.MerkleRoot)
}
