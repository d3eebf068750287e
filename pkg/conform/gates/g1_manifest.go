package gates

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
)

// G1ManifestValid recomputes the manifest hash and every artifact hash of
// both ProofPacks.
type G1ManifestValid struct{}

func (g *G1ManifestValid) ID() conform.GateID { return conform.G1 }
func (g *G1ManifestValid) Name() string       { return "Manifest and Artifact Hashes" }

func (g *G1ManifestValid) Run(_ context.Context, gc *conform.GateContext) (conform.GateResult, error) {
	base, cand, err := packs(gc)
	if err != nil {
		return conform.GateResult{}, err
	}

	c := newCollector()
	for _, side := range []struct {
		name string
		data *proofpack.Data
	}{{"baseline", base}, {"candidate", cand}} {
		if r := proofpack.ValidateManifestHash(side.data); !r.Valid {
			c.fail(side.name, conform.ReasonManifestHashMismatch, r.Reasons)
		}
		r := proofpack.ValidateArtifactHashes(side.data)
		if !r.Valid {
			c.fail(side.name, conform.ReasonArtifactHashMismatch, r.Reasons)
		}
		c.count(side.name+"_artifacts", len(r.Artifacts))
	}

	if c.failed() {
		return c.result(g.ID(), "hash mismatch in "+c.sides()), nil
	}
	res := conform.Pass(g.ID(), fmt.Sprintf("%d baseline and %d candidate artifacts verified",
		len(base.Manifest.Entries), len(cand.Manifest.Entries)))
	res.Metrics.Counts = c.counts
	return res, nil
}
