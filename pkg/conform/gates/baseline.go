package gates

import (
	"fmt"
	"os"

	"github.com/Mindburn-Labs/trustchain/pkg/baseline"
	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
)

// resolvedBaseline is the baseline a context points at. Entry is nil when
// the context names a baseline directory without a registry version.
type resolvedBaseline struct {
	Dir   string
	Entry *baseline.Entry
}

// resolveBaseline is a pure read of the registry. Every gate calls it
// instead of sharing state through the context.
func resolveBaseline(gc *conform.GateContext) (resolvedBaseline, error) {
	if gc.BaselineVersion != "" {
		e, err := baseline.Open(gc.BaselinesDir).Resolve(gc.BaselineVersion)
		if err != nil {
			return resolvedBaseline{}, err
		}
		dir := e.RunDir
		if gc.BaselineDir != "" {
			dir = gc.BaselineDir
		}
		return resolvedBaseline{Dir: dir, Entry: &e}, nil
	}
	if gc.BaselineDir != "" {
		return resolvedBaseline{Dir: gc.BaselineDir}, nil
	}
	return resolvedBaseline{}, fault.Wrap(fmt.Errorf("%w: no baseline version or directory given", baseline.ErrNotFound),
		fault.KindBaselineNotFound, "BASELINE_NOT_FOUND")
}

// packs reads the baseline and candidate ProofPacks.
func packs(gc *conform.GateContext) (base, cand *proofpack.Data, err error) {
	rb, err := resolveBaseline(gc)
	if err != nil {
		return nil, nil, err
	}
	if base, err = proofpack.Read(rb.Dir); err != nil {
		return nil, nil, fmt.Errorf("baseline: %w", err)
	}
	if cand, err = proofpack.Read(gc.CandidateDir); err != nil {
		return nil, nil, fmt.Errorf("candidate: %w", err)
	}
	return base, cand, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
