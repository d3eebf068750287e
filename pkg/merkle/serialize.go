package merkle

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the on-disk form of a tree (merkle_tree.json).
type Document struct {
	RootHash  string `json:"root_hash"`
	LeafCount int    `json:"leaf_count"`
	Leaves    []Leaf `json:"leaves"`
	Tree      *Node  `json:"tree"`
}

// Serialize encodes t deterministically. Repeated calls on the same tree
// return identical bytes.
func Serialize(t *Tree) ([]byte, error) {
	if t == nil || t.Root == nil {
		return nil, fmt.Errorf("merkle: cannot serialize nil tree")
	}
	doc := Document{
		RootHash:  t.RootHash,
		LeafCount: len(t.Leaves),
		Leaves:    t.Leaves,
		Tree:      t.Root,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("merkle: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a tree document. It rejects structurally malformed
// input (missing root, leaf without hash or label, node without hash,
// half-populated interior node) but does not recompute any hash: a
// tampered document decodes fine and fails verification later.
func Deserialize(data []byte) (*Tree, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("merkle: decode: %w", err)
	}
	if doc.RootHash == "" {
		return nil, fmt.Errorf("merkle: document has no root_hash")
	}
	if doc.Tree == nil {
		return nil, fmt.Errorf("merkle: document has no tree")
	}
	for i, l := range doc.Leaves {
		if l.Hash == "" || l.Label == "" {
			return nil, fmt.Errorf("%w: index %d", ErrMalformedLeaf, i)
		}
	}
	depth, err := checkShape(doc.Tree)
	if err != nil {
		return nil, err
	}

	leaves := doc.Leaves
	if leaves == nil {
		leaves = []Leaf{}
	}
	return &Tree{
		RootHash: doc.RootHash,
		Root:     doc.Tree,
		Leaves:   leaves,
		Depth:    depth,
	}, nil
}

// DocumentLeafCount exposes the recorded leaf_count of a serialized tree,
// which may disagree with len(leaves) in a tampered file.
func DocumentLeafCount(data []byte) (int, error) {
	var doc struct {
		LeafCount int `json:"leaf_count"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("merkle: decode: %w", err)
	}
	return doc.LeafCount, nil
}

func checkShape(n *Node) (int, error) {
	if n.Hash == "" {
		return 0, fmt.Errorf("merkle: node without hash")
	}
	if n.IsLeaf() {
		return 0, nil
	}
	if n.Left == nil || n.Right == nil {
		return 0, fmt.Errorf("merkle: interior node %s has one child", n.Hash)
	}
	ld, err := checkShape(n.Left)
	if err != nil {
		return 0, err
	}
	rd, err := checkShape(n.Right)
	if err != nil {
		return 0, err
	}
	return 1 + max(ld, rd), nil
}
