package merkle

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func leavesFrom(labels []string) []Leaf {
	out := make([]Leaf, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		out = append(out, Leaf{Hash: H(l), Label: l})
	}
	return out
}

// Property: Build(shuffle(leaves)).RootHash == Build(leaves).RootHash
func TestMerkleOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("root does not depend on leaf order", prop.ForAll(
		func(labels []string, seed int64) bool {
			leaves := leavesFrom(labels)
			ref, err := Build(leaves)
			if err != nil {
				return false
			}

			shuffled := append([]Leaf(nil), leaves...)
			rng := rand.New(rand.NewSource(seed))
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			got, err := Build(shuffled)
			if err != nil {
				return false
			}
			return got.RootHash == ref.RootHash
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property: Serialize(Build(x)) is stable and round-trips.
func TestMerkleSerializationDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("serialization is deterministic", prop.ForAll(
		func(labels []string) bool {
			tree, err := Build(leavesFrom(labels))
			if err != nil {
				return false
			}
			a, err := Serialize(tree)
			if err != nil {
				return false
			}
			b, err := Serialize(tree)
			if err != nil {
				return false
			}
			decoded, err := Deserialize(a)
			if err != nil {
				return false
			}
			return string(a) == string(b) && decoded.RootHash == tree.RootHash
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("every leaf has a valid inclusion proof", prop.ForAll(
		func(labels []string) bool {
			tree, err := Build(leavesFrom(labels))
			if err != nil {
				return false
			}
			for _, l := range tree.Leaves {
				proof, err := tree.Proof(l.Label)
				if err != nil || !VerifyInclusion(*proof, tree.RootHash) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
