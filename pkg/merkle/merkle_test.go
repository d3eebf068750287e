package merkle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func leaf(label string) Leaf {
	return Leaf{Hash: H("content-of-" + label), Label: label}
}

func TestBuild_ThreeLeavesDuplicatesLast(t *testing.T) {
	a, b, c := leaf("a"), leaf("b"), leaf("c")

	tree, err := Build([]Leaf{c, a, b})
	require.NoError(t, err)

	//       root
	//      /    \
	//    ab      cc
	//   /  \    /  \
	//  a    b  c    c (dup)
	want := H(H(a.Hash+b.Hash) + H(c.Hash+c.Hash))
	require.Equal(t, want, tree.RootHash)
	require.Equal(t, 2, tree.Depth)
	require.Equal(t, []Leaf{a, b, c}, tree.Leaves)
	require.Equal(t, tree.Root.Right.Left.Hash, tree.Root.Right.Right.Hash)
}

func TestBuild_FourLeavesScenario(t *testing.T) {
	a, b, c, d := leaf("a"), leaf("b"), leaf("c"), leaf("d")

	tree, err := Build([]Leaf{d, b, a, c})
	require.NoError(t, err)
	require.Equal(t, H(H(a.Hash+b.Hash)+H(c.Hash+d.Hash)), tree.RootHash)
	require.Equal(t, 4, tree.LeafCount())
}

func TestBuild_EmptyTree(t *testing.T) {
	tree, err := Build(nil)
	require.NoError(t, err)
	require.Equal(t, H("EMPTY_TREE"), tree.RootHash)
	require.Equal(t, EmptyRoot(), tree.RootHash)
	require.Len(t, tree.Leaves, 1)
	require.True(t, tree.IsEmptySentinel())
	require.Equal(t, 0, tree.Depth)
}

func TestBuild_SingleLeaf(t *testing.T) {
	a := leaf("a")
	tree, err := Build([]Leaf{a})
	require.NoError(t, err)
	require.Equal(t, a.Hash, tree.RootHash)
	require.False(t, tree.IsEmptySentinel())
}

func TestBuild_RejectsMalformedLeaf(t *testing.T) {
	_, err := Build([]Leaf{leaf("a"), {Label: "b"}})
	require.ErrorIs(t, err, ErrMalformedLeaf)

	_, err = Build([]Leaf{{Hash: H("x")}})
	require.ErrorIs(t, err, ErrMalformedLeaf)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	in := []Leaf{leaf("z"), leaf("a"), leaf("m")}
	snapshot := append([]Leaf(nil), in...)

	_, err := Build(in)
	require.NoError(t, err)
	require.Equal(t, snapshot, in)
}

func TestBuild_TieBrokenByHash(t *testing.T) {
	x := Leaf{Hash: H("1"), Label: "same"}
	y := Leaf{Hash: H("2"), Label: "same"}

	t1, err := Build([]Leaf{x, y})
	require.NoError(t, err)
	t2, err := Build([]Leaf{y, x})
	require.NoError(t, err)
	require.Equal(t, t1.RootHash, t2.RootHash)
}

func TestBuild_AllPermutationsAgree(t *testing.T) {
	base := []Leaf{leaf("a"), leaf("b"), leaf("c"), leaf("d"), leaf("e")}
	ref, err := Build(base)
	require.NoError(t, err)

	permute(base, 0, func(p []Leaf) {
		tree, err := Build(p)
		require.NoError(t, err)
		require.Equal(t, ref.RootHash, tree.RootHash)
	})
}

func permute(s []Leaf, k int, visit func([]Leaf)) {
	if k == len(s) {
		visit(append([]Leaf(nil), s...))
		return
	}
	for i := k; i < len(s); i++ {
		s[k], s[i] = s[i], s[k]
		permute(s, k+1, visit)
		s[k], s[i] = s[i], s[k]
	}
}

func TestVerify(t *testing.T) {
	leaves := []Leaf{leaf("a"), leaf("b"), leaf("c")}
	tree, err := Build(leaves)
	require.NoError(t, err)

	require.True(t, Verify(leaves, tree.RootHash))
	require.False(t, Verify(leaves, H("tampered")))
	require.False(t, Verify(leaves, strings.ToUpper(tree.RootHash)))
	require.False(t, Verify([]Leaf{{Label: "a"}}, tree.RootHash))

	tampered := append([]Leaf(nil), leaves...)
	tampered[1].Hash = H("other")
	require.False(t, Verify(tampered, tree.RootHash))
}

func TestSerialize_RoundTripAndDeterminism(t *testing.T) {
	tree, err := Build([]Leaf{leaf("c"), leaf("a"), leaf("b")})
	require.NoError(t, err)

	first, err := Serialize(tree)
	require.NoError(t, err)
	second, err := Serialize(tree)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))

	decoded, err := Deserialize(first)
	require.NoError(t, err)
	require.Equal(t, tree.RootHash, decoded.RootHash)
	require.Equal(t, tree.Leaves, decoded.Leaves)
	require.Equal(t, tree.Depth, decoded.Depth)
	require.Equal(t, tree.Root, decoded.Root)

	again, err := Serialize(decoded)
	require.NoError(t, err)
	require.Equal(t, string(first), string(again))

	count, err := DocumentLeafCount(first)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestSerialize_EmptyTreeRoundTrip(t *testing.T) {
	tree, err := Build(nil)
	require.NoError(t, err)
	data, err := Serialize(tree)
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	require.True(t, decoded.IsEmptySentinel())
	require.Equal(t, EmptyRoot(), decoded.RootHash)
}

func TestDeserialize_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no root":       `{"leaf_count":0,"leaves":[],"tree":{"hash":"x"}}`,
		"no tree":       `{"root_hash":"x","leaf_count":0,"leaves":[]}`,
		"bad leaf":      `{"root_hash":"x","leaf_count":1,"leaves":[{"hash":"","label":"a"}],"tree":{"hash":"x"}}`,
		"one child":     `{"root_hash":"x","leaf_count":1,"leaves":[],"tree":{"hash":"x","left":{"hash":"y"}}}`,
		"unknown field": `{"root_hash":"x","leaf_count":0,"leaves":[],"tree":{"hash":"x"},"extra":1}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Deserialize([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestDeserialize_KeepsTamperedRootAsData(t *testing.T) {
	tree, err := Build([]Leaf{leaf("a"), leaf("b")})
	require.NoError(t, err)
	data, err := Serialize(tree)
	require.NoError(t, err)

	tampered := strings.Replace(string(data), tree.RootHash, H("forged"), 1)
	decoded, err := Deserialize([]byte(tampered))
	require.NoError(t, err)
	require.False(t, Verify(decoded.Leaves, decoded.RootHash))
}

func TestInclusionProof(t *testing.T) {
	leaves := []Leaf{leaf("a"), leaf("b"), leaf("c")}
	tree, err := Build(leaves)
	require.NoError(t, err)

	for _, l := range tree.Leaves {
		proof, err := tree.Proof(l.Label)
		require.NoError(t, err)
		require.True(t, VerifyInclusion(*proof, tree.RootHash), "leaf %s", l.Label)
	}

	proof, err := tree.Proof("c")
	require.NoError(t, err)
	// c pairs with its own duplicate, then with H(a+b) on the left.
	require.Equal(t, []ProofStep{
		{Side: "R", SiblingHash: leaves[2].Hash},
		{Side: "L", SiblingHash: H(leaves[0].Hash + leaves[1].Hash)},
	}, proof.ProofPath)

	bad := *proof
	bad.LeafHash = leaves[0].Hash
	require.False(t, VerifyInclusion(bad, tree.RootHash))
	require.False(t, VerifyInclusion(*proof, H("other root")))

	_, err = tree.Proof("missing")
	require.Error(t, err)
}
