package gates

import (
	"context"

	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
)

// G2MerkleValid rebuilds both Merkle trees from their manifests and checks
// root and leaf count.
type G2MerkleValid struct{}

func (g *G2MerkleValid) ID() conform.GateID { return conform.G2 }
func (g *G2MerkleValid) Name() string       { return "Merkle Root and Leaf Count" }

func (g *G2MerkleValid) Run(_ context.Context, gc *conform.GateContext) (conform.GateResult, error) {
	base, cand, err := packs(gc)
	if err != nil {
		return conform.GateResult{}, err
	}

	c := newCollector()
	for _, side := range []struct {
		name string
		data *proofpack.Data
	}{{"baseline", base}, {"candidate", cand}} {
		if r := proofpack.ValidateMerkleRoot(side.data); !r.Valid {
			c.fail(side.name, conform.ReasonMerkleRootMismatch, r.Reasons)
		}
		if r := proofpack.ValidateLeafCount(side.data); !r.Valid {
			c.fail(side.name, conform.ReasonLeafCountMismatch, r.Reasons)
		}
		c.count(side.name+"_leaves", side.data.Tree.LeafCount())
	}

	if c.failed() {
		return c.result(g.ID(), "merkle mismatch in "+c.sides()), nil
	}
	res := conform.Pass(g.ID(), "candidate root "+cand.Tree.RootHash)
	res.Metrics.Counts = c.counts
	res.Details = map[string]any{"baseline_root": base.Tree.RootHash, "candidate_root": cand.Tree.RootHash}
	return res, nil
}
