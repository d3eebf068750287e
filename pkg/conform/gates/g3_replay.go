package gates

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
	"github.com/Mindburn-Labs/trustchain/pkg/replay"
)

// maxListedDifferences bounds the paths copied into the gate details.
const maxListedDifferences = 20

// G3ReplayIdentical checks that both runs used the same seed and produced
// byte-identical artifacts after line-ending normalization.
type G3ReplayIdentical struct {
	Cache replay.HashCache
}

func (g *G3ReplayIdentical) ID() conform.GateID { return conform.G3 }
func (g *G3ReplayIdentical) Name() string       { return "Replay Identical" }

func (g *G3ReplayIdentical) Run(ctx context.Context, gc *conform.GateContext) (conform.GateResult, error) {
	base, cand, err := packs(gc)
	if err != nil {
		return conform.GateResult{}, err
	}

	seed := gc.Seed
	if seed == "" {
		seed = base.Report.Seed
	}
	if base.Report.Seed != seed || cand.Report.Seed != seed {
		res := conform.Fail(g.ID(),
			fmt.Sprintf("seed mismatch: expected %q, baseline %q, candidate %q", seed, base.Report.Seed, cand.Report.Seed),
			conform.ReasonSeedMismatch)
		return res, nil
	}

	opts := []replay.Option{replay.WithSeed(seed)}
	if g.Cache != nil {
		opts = append(opts, replay.WithCache(g.Cache))
	}
	result, err := replay.NewComparator(opts...).Compare(ctx,
		filepath.Join(base.Dir, proofpack.ArtifactsDir),
		filepath.Join(cand.Dir, proofpack.ArtifactsDir))
	if err != nil {
		return conform.GateResult{}, err
	}

	counts := map[string]int{"files_baseline": result.FilesA, "files_candidate": result.FilesB, "differences": len(result.Differences)}
	if !result.Identical {
		listed := result.Differences
		if len(listed) > maxListedDifferences {
			listed = listed[:maxListedDifferences]
		}
		res := conform.Fail(g.ID(), fmt.Sprintf("%d file(s) differ", len(result.Differences)), conform.ReasonReplayHashDivergence)
		res.Metrics.Counts = counts
		res.Details = map[string]any{"differences": listed}
		return res, nil
	}
	res := conform.Pass(g.ID(), fmt.Sprintf("%d file(s) identical with seed %q", result.FilesA, seed))
	res.Metrics.Counts = counts
	return res, nil
}
